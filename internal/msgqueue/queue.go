// Package msgqueue holds messages addressed to participants that have not registered yet.
package msgqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

var (
	// ErrShutDown is returned when enqueueing after Shutdown
	ErrShutDown = errors.New("message queue is shut down")
	// ErrNilMessage is returned when a nil message is provided
	ErrNilMessage = errors.New("message cannot be nil")
)

const (
	// DefaultMaxPerParticipant caps the messages held for one participant
	DefaultMaxPerParticipant = 1000
	// DefaultPurgeInterval is how often expired messages are dropped
	DefaultPurgeInterval = time.Minute
)

// Config configures an InMemoryQueue
type Config struct {
	// MaxPerParticipant evicts the oldest message when exceeded
	MaxPerParticipant int

	Clock  clock.Clock
	Logger *zap.Logger
}

// InMemoryQueue keeps one FIFO per participant id. It is safe for concurrent use.
type InMemoryQueue struct {
	mu            sync.Mutex
	byParticipant map[string][]*message.Message
	total         int
	max           int
	closed        bool

	clock  clock.Clock
	logger *zap.Logger
}

// New creates an empty queue
func New(cfg Config) *InMemoryQueue {
	if cfg.MaxPerParticipant <= 0 {
		cfg.MaxPerParticipant = DefaultMaxPerParticipant
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &InMemoryQueue{
		byParticipant: make(map[string][]*message.Message),
		max:           cfg.MaxPerParticipant,
		clock:         cfg.Clock,
		logger:        cfg.Logger.Named("msgqueue"),
	}
}

// Enqueue appends msg to the queue of msg.To().
func (q *InMemoryQueue) Enqueue(msg *message.Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrShutDown
	}

	queued := append(q.byParticipant[msg.To()], msg)
	if len(queued) > q.max {
		evicted := queued[0]
		queued = queued[1:]
		q.total--
		q.logger.Warn("queue full, evicting oldest message",
			zap.String("participant_id", msg.To()),
			zap.String("evicted_message_id", evicted.ID()))
	}
	q.byParticipant[msg.To()] = queued
	q.total++
	return nil
}

// DrainFor removes and returns the messages of participantID in enqueue order.
// Expired messages are discarded.
func (q *InMemoryQueue) DrainFor(participantID string) []*message.Message {
	q.mu.Lock()
	queued := q.byParticipant[participantID]
	delete(q.byParticipant, participantID)
	q.total -= len(queued)
	q.mu.Unlock()

	now := q.clock.Now()
	result := make([]*message.Message, 0, len(queued))
	for _, msg := range queued {
		if msg.Expired(now) {
			continue
		}
		result = append(result, msg)
	}
	return result
}

// PurgeExpired drops expired messages and returns how many were dropped.
func (q *InMemoryQueue) PurgeExpired() int {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	purged := 0
	for participantID, queued := range q.byParticipant {
		kept := queued[:0]
		for _, msg := range queued {
			if msg.Expired(now) {
				purged++
				continue
			}
			kept = append(kept, msg)
		}
		if len(kept) == 0 {
			delete(q.byParticipant, participantID)
		} else {
			q.byParticipant[participantID] = kept
		}
	}
	q.total -= purged
	return purged
}

// RunPurger calls PurgeExpired every interval until ctx is done or the queue shuts down.
func (q *InMemoryQueue) RunPurger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	ticker := q.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if q.isClosed() {
				return
			}
			if n := q.PurgeExpired(); n > 0 {
				q.logger.Debug("purged expired messages", zap.Int("count", n))
			}
		}
	}
}

// Len returns the number of held messages
func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// Participants returns the ids that have messages waiting
func (q *InMemoryQueue) Participants() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]string, 0, len(q.byParticipant))
	for id := range q.byParticipant {
		result = append(result, id)
	}
	return result
}

// Shutdown discards every message and refuses further ones. It is idempotent.
func (q *InMemoryQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.byParticipant = make(map[string][]*message.Message)
	q.total = 0
	q.closed = true
}

func (q *InMemoryQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

var _ routing.MessageQueue = (*InMemoryQueue)(nil)
