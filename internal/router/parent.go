package router

import (
	"context"

	"github.com/samber/oops"

	"github.com/rmacdonaldsmith/meshrouter/internal/pending"
	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

// parentRegistrationAddress returns the address under which the parent router registers
// participants of this node. Every variant must be listed here.
func parentRegistrationAddress(incoming address.Address) (address.Address, error) {
	switch a := incoming.(type) {
	case address.WebSocketClientAddress:
		return a, nil
	case address.WebSocketAddress:
		return a, nil
	case address.BrowserAddress:
		return a, nil
	case address.ChannelAddress:
		return a, nil
	case address.InProcessAddress:
		return nil, oops.In("router").With("address_type", a.Kind().String()).
			Wrapf(routing.ErrInvalidAddressType, "in-process address cannot be registered at the parent router")
	case nil:
		return nil, oops.In("router").Wrapf(routing.ErrInvalidAddressType, "no incoming address configured")
	default:
		return nil, oops.In("router").With("address_type", incoming.Kind().String()).
			Wrapf(routing.ErrInvalidAddressType, "unsupported incoming address")
	}
}

// execute performs op against the parent router.
func (r *Router) execute(ctx context.Context, proxy routing.RoutingProxy, op *pending.Operation) error {
	ctx, cancel := context.WithTimeout(ctx, r.parentTimeout)
	defer cancel()

	errb := oops.In("router").With("operation", op.Kind.String())

	var err error
	switch op.Kind {
	case pending.KindAddNextHop:
		var incoming address.Address
		incoming, err = parentRegistrationAddress(r.incomingAddress)
		if err != nil {
			return err
		}
		err = proxy.AddNextHop(ctx, op.ParticipantID, incoming, op.IsGloballyVisible)
		errb = errb.With("participant_id", op.ParticipantID)
	case pending.KindRemoveNextHop:
		err = proxy.RemoveNextHop(ctx, op.ParticipantID)
		errb = errb.With("participant_id", op.ParticipantID)
	case pending.KindAddMulticastReceiver:
		err = proxy.AddMulticastReceiver(ctx, op.Receiver)
		errb = errb.With("multicast_id", op.Receiver.MulticastID)
	case pending.KindRemoveMulticastReceiver:
		err = proxy.RemoveMulticastReceiver(ctx, op.Receiver)
		errb = errb.With("multicast_id", op.Receiver.MulticastID)
	default:
		return errb.Errorf("unknown operation kind %d", op.Kind)
	}

	if err != nil {
		return errb.Wrapf(err, "parent router %s failed", op.Kind)
	}
	return nil
}

// dispatch forwards op to the parent according to the current state: immediately when
// attached, deferred when unattached, not at all when detached.
func (r *Router) dispatch(ctx context.Context, op *pending.Operation) *routing.Completion {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case routing.ShutDown:
		return routing.Rejected(r.shutDownError(op.Kind.String()))
	case routing.Detached:
		return routing.Resolved()
	case routing.Unattached:
		c, err := r.pending.Enqueue(op)
		if err != nil {
			return routing.Rejected(r.shutDownError(op.Kind.String()))
		}
		if r.metrics != nil {
			r.metrics.SetPendingOperations(r.pending.Len())
		}
		return c
	default:
		op.Completion = routing.NewCompletion()
		if !r.forwarder.submit(forwardJob{ctx: context.WithoutCancel(ctx), proxy: r.proxy, op: op}) {
			op.Completion.Reject(r.shutDownError(op.Kind.String()))
		}
		return op.Completion
	}
}
