package router

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

// Route delivers msg, queues it for a participant that is not known yet, holds it until
// a reply-to address is known, or drops it. Failures are logged and reported through
// the returned Outcome; Route never panics.
func (r *Router) Route(ctx context.Context, msg *message.Message) (outcome routing.Outcome) {
	if msg == nil {
		return routing.OutcomeDropped
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("recovered from panic while routing",
				zap.String("message_id", msg.ID()),
				zap.Any("panic", rec))
			outcome = routing.OutcomeDropped
		}
		if r.metrics != nil {
			r.metrics.MessageRouted(outcome.String())
		}
	}()

	if r.State() == routing.ShutDown {
		r.logger.Debug("message router is already shut down, dropping message", messageFields(msg)...)
		return routing.OutcomeShutDown
	}

	if msg.Expired(r.clock.Now()) {
		r.logger.Warn("message expired, dropping", append(messageFields(msg),
			zap.Time("expiry", msg.Expiry()))...)
		return routing.OutcomeExpired
	}

	r.registerGlobalRoutingEntry(ctx, msg)

	if msg.Type() == message.TypeMulticast {
		return r.routeMulticast(ctx, msg)
	}
	return r.routeUnicast(ctx, msg)
}

// registerGlobalRoutingEntry learns the reply address of requests that arrived over a
// global transport, so replies find their way back.
func (r *Router) registerGlobalRoutingEntry(ctx context.Context, msg *message.Message) {
	if !msg.ReceivedFromGlobal() || !msg.Type().CarriesReplyChannel() || msg.ReplyTo() == "" {
		return
	}

	addr, err := address.Unmarshal(msg.ReplyTo())
	if err != nil {
		r.logger.Warn("could not decode reply-to address of global message",
			append(messageFields(msg), zap.Error(err))...)
		return
	}

	c := r.AddNextHop(ctx, msg.From(), addr, true)
	logFailure := func(err error) {
		if err != nil {
			r.logger.Warn("could not register reply address of sender",
				append(messageFields(msg), zap.Error(err))...)
		}
	}
	if c.Settled() {
		logFailure(c.Err())
		return
	}
	go func() {
		<-c.Done()
		logFailure(c.Err())
	}()
}

func (r *Router) routeUnicast(ctx context.Context, msg *message.Message) routing.Outcome {
	addr, err := r.ResolveNextHop(ctx, msg.To())
	if err == nil {
		return r.deliver(ctx, addr, msg)
	}

	switch routing.KindOf(err) {
	case routing.KindAlreadyShutDown:
		return routing.OutcomeShutDown
	case routing.KindNotReachable:
		r.logger.Warn("recipient not reachable, dropping message", append(messageFields(msg), zap.Error(err))...)
		return routing.OutcomeDropped
	}

	if msg.Type().IsResponse() {
		r.logger.Warn("no route for response, dropping message", messageFields(msg)...)
		return routing.OutcomeDropped
	}

	if err := r.queue.Enqueue(msg); err != nil {
		r.logger.Warn("could not queue message for unknown participant",
			append(messageFields(msg), zap.Error(err))...)
		return routing.OutcomeDropped
	}
	r.logger.Debug("participant not known yet, queued message", messageFields(msg)...)
	r.observe()
	return routing.OutcomeQueued
}

// deliver stamps the reply-to address and transmits msg to addr.
func (r *Router) deliver(ctx context.Context, addr address.Address, msg *message.Message) routing.Outcome {
	stamped, ok := r.replyTo.Attach(msg)
	if !ok {
		return routing.OutcomeDeferred
	}
	if err := r.transmit(ctx, addr, stamped); err != nil {
		r.logger.Info("message not delivered",
			append(messageFields(msg), zap.Stringer("address", addr), zap.Error(err))...)
		return routing.OutcomeDropped
	}
	return routing.OutcomeDelivered
}

func (r *Router) transmit(ctx context.Context, addr address.Address, msg *message.Message) error {
	t, ok := r.transports.Create(addr)
	if !ok {
		return fmt.Errorf("no message receiver found for %s", addr)
	}
	if err := t.Transmit(ctx, msg); err != nil {
		if r.metrics != nil {
			r.metrics.TransmitFailed()
		}
		return fmt.Errorf("transmit to %s: %w", addr, err)
	}
	return nil
}

// routeMulticast sends one copy of msg to every distinct address interested in it.
func (r *Router) routeMulticast(ctx context.Context, msg *message.Message) routing.Outcome {
	var targets []address.Address
	if !msg.ReceivedFromGlobal() && r.calculator != nil {
		if addr, ok := r.calculator.Calculate(msg); ok {
			targets = append(targets, addr)
		}
	}
	for _, d := range r.multicast.MatchReceivers(msg.To(), r.book.Lookup) {
		if !address.Contains(targets, d.Address) {
			targets = append(targets, d.Address)
		}
	}

	if len(targets) == 0 {
		r.logger.Debug("no receivers for multicast", messageFields(msg)...)
		return routing.OutcomeDropped
	}

	var (
		mu        sync.Mutex
		errs      error
		delivered int
	)
	g := new(errgroup.Group)
	g.SetLimit(r.fanout)
	for _, addr := range targets {
		g.Go(func() error {
			err := r.transmit(ctx, addr, msg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, err)
			} else {
				delivered++
			}
			return nil
		})
	}
	_ = g.Wait()

	if errs != nil {
		r.logger.Info("multicast partially delivered",
			append(messageFields(msg),
				zap.Int("delivered", delivered),
				zap.Int("failed", len(multierr.Errors(errs))),
				zap.Error(errs))...)
	}
	if delivered == 0 {
		return routing.OutcomeDropped
	}
	return routing.OutcomeDelivered
}

// resubmit routes a message that was held for a reply-to address
func (r *Router) resubmit(msg *message.Message) {
	r.Route(context.Background(), msg)
}

func messageFields(msg *message.Message) []zap.Field {
	return []zap.Field{
		zap.String("message_id", msg.ID()),
		zap.String("type", msg.Type().String()),
		zap.String("from", msg.From()),
		zap.String("to", msg.To()),
	}
}
