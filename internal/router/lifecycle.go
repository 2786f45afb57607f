package router

import (
	"context"
	"errors"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrouter/internal/pending"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

var errEmptyReplyToAddress = errors.New("empty address")

// SetRoutingProxy attaches the parent router. The steps run in order:
//  1. the proxy's own participant id is registered at the parent as not globally visible
//  2. the reply-to address is fetched from the parent and installed
//  3. operations queued while unattached are replayed in submission order
//
// The router becomes Attached only after the queue is empty. On error it stays
// Unattached and SetRoutingProxy may be retried with another proxy. A nil proxy is ignored.
func (r *Router) SetRoutingProxy(ctx context.Context, proxy routing.RoutingProxy) error {
	if proxy == nil {
		return nil
	}

	r.attachMu.Lock()
	defer r.attachMu.Unlock()

	switch r.State() {
	case routing.ShutDown:
		return r.shutDownError("set routing proxy")
	case routing.Detached:
		return oops.In("router").Errorf("cannot attach a parent router: no parent address configured")
	}

	proxyParticipantID := proxy.ProxyParticipantID()
	if proxyParticipantID != "" {
		err := r.execute(ctx, proxy, &pending.Operation{
			Kind:              pending.KindAddNextHop,
			ParticipantID:     proxyParticipantID,
			IsGloballyVisible: false,
		})
		if err != nil {
			if r.State() == routing.ShutDown {
				r.logger.Debug("ignoring proxy registration failure after shutdown", zap.Error(err))
				return nil
			}
			return oops.In("router").With("participant_id", proxyParticipantID).
				Wrapf(err, "failed to register proxy participant at parent router")
		}
	}

	replyTo, err := r.fetchReplyToAddress(ctx, proxy)
	if err != nil {
		return oops.In("router").Wrapf(err, "failed to get replyToAddress from parent router")
	}
	r.SetReplyToAddress(replyTo)

	if err := r.drain(ctx, proxy, proxyParticipantID); err != nil {
		return err
	}

	r.logger.Info("attached to parent router",
		zap.Stringer("parent_address", r.parentAddress),
		zap.String("proxy_participant_id", proxyParticipantID))
	return nil
}

func (r *Router) fetchReplyToAddress(ctx context.Context, proxy routing.RoutingProxy) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.parentTimeout)
	defer cancel()

	replyTo, err := proxy.ReplyToAddress(ctx)
	if err != nil {
		return "", err
	}
	if replyTo == "" {
		return "", errEmptyReplyToAddress
	}
	return replyTo, nil
}

// drain replays the pending queue against proxy and flips the state to Attached once
// nothing is left. Operations enqueued meanwhile are replayed too.
func (r *Router) drain(ctx context.Context, proxy routing.RoutingProxy, proxyParticipantID string) error {
	r.mu.Lock()
	if r.state == routing.ShutDown {
		r.mu.Unlock()
		return r.shutDownError("set routing proxy")
	}
	if !r.pending.BeginDrain() {
		// already attached; swap the proxy
		r.proxy = proxy
		r.state = routing.Attached
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	replayed := 0
	for {
		r.mu.Lock()
		if r.state == routing.ShutDown {
			r.mu.Unlock()
			return r.shutDownError("set routing proxy")
		}
		op, ok := r.pending.Pop()
		if !ok {
			r.pending.MarkDrained()
			r.proxy = proxy
			r.state = routing.Attached
			r.mu.Unlock()
			break
		}
		r.mu.Unlock()

		replayed++
		if op.Kind == pending.KindAddNextHop && proxyParticipantID != "" && op.ParticipantID == proxyParticipantID {
			op.Completion.Resolve()
			continue
		}
		op.Completion.Settle(r.execute(ctx, proxy, op))
	}

	if replayed > 0 {
		r.logger.Debug("replayed queued parent operations", zap.Int("count", replayed))
	}
	r.observe()
	return nil
}

// Shutdown stops the router for good. Queued parent operations are rejected and every
// later call fails with routing.ErrAlreadyShutDown. It is idempotent.
func (r *Router) Shutdown() {
	r.opMu.Lock()
	r.mu.Lock()
	if r.state == routing.ShutDown {
		r.mu.Unlock()
		r.opMu.Unlock()
		return
	}
	r.state = routing.ShutDown
	r.mu.Unlock()
	r.opMu.Unlock()

	err := oops.In("router").Wrapf(routing.ErrAlreadyShutDown, "message router has been shut down")
	rejected := r.pending.Reject(err)
	r.forwarder.stop(err)
	r.queue.Shutdown()
	r.observe()

	r.logger.Info("message router shut down", zap.Int("rejected_operations", rejected))
}
