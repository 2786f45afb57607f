package router

import (
	"context"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

// ResolveNextHop returns the address messages for participantID are sent to. It tries
// the routing table, then the persistent store, then (when attached) the parent router.
func (r *Router) ResolveNextHop(ctx context.Context, participantID string) (address.Address, error) {
	r.mu.Lock()
	state, proxy := r.state, r.proxy
	r.mu.Unlock()

	if state == routing.ShutDown {
		return nil, r.shutDownError("resolve next hop")
	}

	if addr, ok := r.book.Lookup(participantID); ok {
		return addr, nil
	}

	if addr, ok := r.book.LoadFromPersistentStore(ctx, participantID); ok {
		r.observe()
		return addr, nil
	}

	errb := oops.In("router").With("participant_id", participantID)

	if state != routing.Attached {
		return nil, errb.Wrapf(routing.ErrUnknownRecipient, "no route to participant %s", participantID)
	}

	ctx, cancel := context.WithTimeout(ctx, r.parentTimeout)
	defer cancel()

	resolved, err := proxy.ResolveNextHop(ctx, participantID)
	if err != nil {
		r.logger.Debug("parent router failed to resolve participant",
			zap.String("participant_id", participantID),
			zap.Error(err))
		return nil, errb.Wrapf(routing.ErrNotReachable, "parent router failed to resolve %s: %v", participantID, err)
	}
	if !resolved {
		return nil, errb.Wrapf(routing.ErrNotReachable, "parent router cannot reach %s", participantID)
	}

	r.opMu.RLock()
	defer r.opMu.RUnlock()
	if r.State() == routing.ShutDown {
		return nil, r.shutDownError("resolve next hop")
	}
	r.book.Store(ctx, participantID, r.parentAddress, false)
	r.observe()
	return r.parentAddress, nil
}
