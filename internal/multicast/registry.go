// Package multicast keeps track of which subscribers receive which multicasts.
package multicast

import (
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

// Delivery is one resolved multicast target
type Delivery struct {
	ParticipantID string
	Address       address.Address
}

// Pattern is a snapshot of one registered multicast id and its receivers
type Pattern struct {
	MulticastID string
	Receivers   []string
}

type entry struct {
	multicastID string
	matcher     *regexp.Regexp
	receivers   []string
}

// Registry maps multicast ids to ordered receiver lists. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	entries   []*entry
	byID      map[string]*entry
	compiler  *patternCompiler
	skeletons routing.SkeletonRegistry
	logger    *zap.Logger
}

// NewRegistry creates an empty registry. skeletons may be nil.
func NewRegistry(skeletons routing.SkeletonRegistry, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byID:      make(map[string]*entry),
		compiler:  newPatternCompiler(defaultPatternCacheSize),
		skeletons: skeletons,
		logger:    logger.Named("multicast"),
	}
}

// AddReceiver appends subscriberID to the receivers of multicastID. The first receiver
// of a multicast id makes the skeleton owning providerAddr start delivering it.
func (r *Registry) AddReceiver(multicastID, subscriberID string, providerAddr address.Address) error {
	matcher, err := r.compiler.Compile(multicastID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	e, ok := r.byID[multicastID]
	if !ok {
		e = &entry{multicastID: multicastID, matcher: matcher}
		r.byID[multicastID] = e
		r.entries = append(r.entries, e)
	}
	e.receivers = append(e.receivers, subscriberID)
	r.mu.Unlock()

	if !ok {
		if sub := r.subscriberFor(providerAddr); sub != nil {
			sub.RegisterMulticastSubscription(multicastID)
		}
	}
	return nil
}

// RemoveReceiver removes the first occurrence of subscriberID from multicastID. When no
// receiver is left the multicast id is dropped and its skeleton stops delivering it.
func (r *Registry) RemoveReceiver(multicastID, subscriberID string, providerAddr address.Address) {
	r.mu.Lock()
	e, ok := r.byID[multicastID]
	if !ok {
		r.mu.Unlock()
		return
	}
	for i, id := range e.receivers {
		if id == subscriberID {
			e.receivers = append(e.receivers[:i], e.receivers[i+1:]...)
			break
		}
	}
	emptied := len(e.receivers) == 0
	if emptied {
		delete(r.byID, multicastID)
		for i, candidate := range r.entries {
			if candidate == e {
				r.entries = append(r.entries[:i], r.entries[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if emptied {
		if sub := r.subscriberFor(providerAddr); sub != nil {
			sub.UnregisterMulticastSubscription(multicastID)
		}
	}
}

// MatchReceivers tests target against every registered multicast id in registration
// order and resolves the matched receivers with lookup. Receivers without an address
// are skipped; receivers resolving to an address already in the result are dropped.
func (r *Registry) MatchReceivers(target string, lookup func(participantID string) (address.Address, bool)) []Delivery {
	r.mu.RLock()
	var matched []string
	for _, e := range r.entries {
		if e.matcher.MatchString(target) {
			matched = append(matched, e.receivers...)
		}
	}
	r.mu.RUnlock()

	var result []Delivery
	var seen []address.Address
	for _, participantID := range matched {
		addr, ok := lookup(participantID)
		if !ok {
			r.logger.Debug("multicast receiver has no address",
				zap.String("participant_id", participantID),
				zap.String("multicast_id", target))
			continue
		}
		if address.Contains(seen, addr) {
			continue
		}
		seen = append(seen, addr)
		result = append(result, Delivery{ParticipantID: participantID, Address: addr})
	}
	return result
}

// HasAnyReceivers reports whether any multicast id has receivers
func (r *Registry) HasAnyReceivers() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries) > 0
}

// Patterns returns a snapshot in registration order
func (r *Registry) Patterns() []Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Pattern, 0, len(r.entries))
	for _, e := range r.entries {
		receivers := make([]string, len(e.receivers))
		copy(receivers, e.receivers)
		result = append(result, Pattern{MulticastID: e.multicastID, Receivers: receivers})
	}
	return result
}

func (r *Registry) subscriberFor(providerAddr address.Address) routing.MulticastSubscriber {
	if r.skeletons == nil || providerAddr == nil {
		return nil
	}
	skeleton, ok := r.skeletons.SkeletonFor(providerAddr)
	if !ok {
		return nil
	}
	sub, _ := skeleton.(routing.MulticastSubscriber)
	return sub
}
