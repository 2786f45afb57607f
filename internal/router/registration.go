package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrouter/internal/pending"
	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

// AddNextHop registers addr as the next hop of participantID and forwards the
// registration to the parent router when there is one. Messages queued for
// participantID are routed before AddNextHop returns.
func (r *Router) AddNextHop(ctx context.Context, participantID string, addr address.Address, isGloballyVisible bool) *routing.Completion {
	r.opMu.RLock()
	if r.State() == routing.ShutDown {
		r.opMu.RUnlock()
		return routing.Rejected(r.shutDownError("add next hop"))
	}

	r.book.Store(ctx, participantID, addr, true)
	r.observe()

	c := r.dispatch(ctx, &pending.Operation{
		Kind:              pending.KindAddNextHop,
		ParticipantID:     participantID,
		Address:           addr,
		IsGloballyVisible: isGloballyVisible,
	})
	// released before replay: Route may register senders through AddNextHop
	r.opMu.RUnlock()

	r.participantRegistered(ctx, participantID)
	return c
}

// RemoveNextHop forgets participantID locally and at the parent router.
func (r *Router) RemoveNextHop(ctx context.Context, participantID string) *routing.Completion {
	r.opMu.RLock()
	defer r.opMu.RUnlock()

	if r.State() == routing.ShutDown {
		return routing.Rejected(r.shutDownError("remove next hop"))
	}

	r.book.Remove(ctx, participantID)
	r.observe()

	return r.dispatch(ctx, &pending.Operation{
		Kind:          pending.KindRemoveNextHop,
		ParticipantID: participantID,
	})
}

// AddMulticastReceiver registers the subscriber locally. The parent router is told
// only when the provider is known and reachable outside this process.
func (r *Router) AddMulticastReceiver(ctx context.Context, receiver routing.MulticastReceiver) *routing.Completion {
	r.opMu.RLock()
	defer r.opMu.RUnlock()

	if r.State() == routing.ShutDown {
		return routing.Rejected(r.shutDownError("add multicast receiver"))
	}

	providerAddr, known := r.book.Lookup(receiver.ProviderParticipantID)
	if err := r.multicast.AddReceiver(receiver.MulticastID, receiver.SubscriberParticipantID, providerAddr); err != nil {
		return routing.Rejected(err)
	}

	if !r.forwardsMulticast(providerAddr, known) {
		return routing.Resolved()
	}
	return r.dispatch(ctx, &pending.Operation{
		Kind:     pending.KindAddMulticastReceiver,
		Receiver: receiver,
	})
}

// RemoveMulticastReceiver mirrors AddMulticastReceiver.
func (r *Router) RemoveMulticastReceiver(ctx context.Context, receiver routing.MulticastReceiver) *routing.Completion {
	r.opMu.RLock()
	defer r.opMu.RUnlock()

	if r.State() == routing.ShutDown {
		return routing.Rejected(r.shutDownError("remove multicast receiver"))
	}

	providerAddr, known := r.book.Lookup(receiver.ProviderParticipantID)
	r.multicast.RemoveReceiver(receiver.MulticastID, receiver.SubscriberParticipantID, providerAddr)

	if !r.forwardsMulticast(providerAddr, known) {
		return routing.Resolved()
	}
	return r.dispatch(ctx, &pending.Operation{
		Kind:     pending.KindRemoveMulticastReceiver,
		Receiver: receiver,
	})
}

func (r *Router) forwardsMulticast(providerAddr address.Address, known bool) bool {
	return r.parentAddress != nil && known && !address.IsInProcess(providerAddr)
}

// SetToKnown binds participantID to the parent router when it has no next hop yet.
func (r *Router) SetToKnown(participantID string) {
	r.opMu.RLock()
	defer r.opMu.RUnlock()

	if r.State() == routing.ShutDown || r.parentAddress == nil {
		return
	}
	if _, ok := r.book.Lookup(participantID); ok {
		return
	}
	r.book.Store(context.Background(), participantID, r.parentAddress, false)
	r.observe()
}

// participantRegistered routes the messages that waited for participantID, oldest first.
func (r *Router) participantRegistered(ctx context.Context, participantID string) {
	queued := r.queue.DrainFor(participantID)
	if len(queued) == 0 {
		return
	}

	r.logger.Debug("replaying messages for registered participant",
		zap.String("participant_id", participantID),
		zap.Int("count", len(queued)))

	for _, msg := range queued {
		r.Route(ctx, msg)
	}
	r.observe()
}
