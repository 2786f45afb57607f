// Package replyto stamps the node's reply-to address onto outgoing requests and holds
// requests back until that address is known.
package replyto

import (
	"sync"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
)

// Coordinator owns the instance-wide reply-to address. It is safe for concurrent use.
type Coordinator struct {
	mu       sync.Mutex
	replyTo  string
	buffered []*message.Message
	resubmit func(*message.Message)
	logger   *zap.Logger
}

// New creates a coordinator. resubmit is called, in arrival order, for every buffered
// message once a reply-to address is set.
func New(replyTo string, resubmit func(*message.Message), logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		replyTo:  replyTo,
		resubmit: resubmit,
		logger:   logger.Named("replyto"),
	}
}

// ReplyToAddress returns the current reply-to address, or "" if none is known yet
func (c *Coordinator) ReplyToAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replyTo
}

// SetReplyToAddress stores replyTo and flushes every buffered message.
func (c *Coordinator) SetReplyToAddress(replyTo string) {
	c.mu.Lock()
	c.replyTo = replyTo
	flush := c.buffered
	c.buffered = nil
	c.mu.Unlock()

	if len(flush) > 0 {
		c.logger.Debug("flushing messages held for reply-to address", zap.Int("count", len(flush)))
	}
	for _, msg := range flush {
		c.resubmit(msg)
	}
}

// Attach returns msg ready for transmission. Requests leaving the node without a reply
// channel get the reply-to address stamped on a copy. When no reply-to address is
// known the request is buffered and ok is false.
func (c *Coordinator) Attach(msg *message.Message) (stamped *message.Message, ok bool) {
	if msg.Local() || !msg.Type().CarriesReplyChannel() || msg.ReplyTo() != "" {
		return msg, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.replyTo == "" {
		c.buffered = append(c.buffered, msg)
		c.logger.Warn("reply-to address not known yet, holding message",
			zap.String("message_id", msg.ID()),
			zap.String("to", msg.To()))
		return nil, false
	}
	return msg.WithReplyTo(c.replyTo), true
}

// Buffered returns the number of held messages
func (c *Coordinator) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffered)
}
