// Package transport provides the message transports of a meshrouter node: in-process
// dispatchers, websocket connections in both directions, and the factory the router
// uses to pick one per address.
package transport

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

// ErrSkeletonClosed is returned when transmitting to an unregistered dispatcher
var ErrSkeletonClosed = errors.New("in-process skeleton is closed")

// Dispatcher receives messages delivered to an in-process address
type Dispatcher func(ctx context.Context, msg *message.Message) error

// Skeleton is the receiving side of an in-process address. It counts the multicast
// subscriptions the router has told it about.
type Skeleton struct {
	name     string
	dispatch Dispatcher

	mu            sync.RWMutex
	closed        bool
	subscriptions map[string]int
}

// Name returns the in-process address name
func (s *Skeleton) Name() string { return s.name }

// Address returns the address that routes to this skeleton
func (s *Skeleton) Address() address.Address {
	return address.InProcessAddress{Name: s.name}
}

// Transmit hands msg to the dispatcher
func (s *Skeleton) Transmit(ctx context.Context, msg *message.Message) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrSkeletonClosed
	}
	return s.dispatch(ctx, msg)
}

func (s *Skeleton) RegisterMulticastSubscription(multicastID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[multicastID]++
}

func (s *Skeleton) UnregisterMulticastSubscription(multicastID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriptions[multicastID] <= 1 {
		delete(s.subscriptions, multicastID)
		return
	}
	s.subscriptions[multicastID]--
}

// Subscriptions returns the multicast ids with at least one receiver behind this skeleton
func (s *Skeleton) Subscriptions() []string {
	s.mu.RLock()
	result := make([]string, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		result = append(result, id)
	}
	s.mu.RUnlock()
	sort.Strings(result)
	return result
}

var (
	_ routing.Transport           = (*Skeleton)(nil)
	_ routing.MulticastSubscriber = (*Skeleton)(nil)
)

// InProcessRegistry holds the skeletons of this process by name.
type InProcessRegistry struct {
	mu        sync.RWMutex
	skeletons map[string]*Skeleton
}

// NewInProcessRegistry creates an empty registry
func NewInProcessRegistry() *InProcessRegistry {
	return &InProcessRegistry{skeletons: make(map[string]*Skeleton)}
}

// Register installs dispatch under name, replacing any previous skeleton.
func (r *InProcessRegistry) Register(name string, dispatch Dispatcher) *Skeleton {
	s := &Skeleton{
		name:          name,
		dispatch:      dispatch,
		subscriptions: make(map[string]int),
	}

	r.mu.Lock()
	if old, ok := r.skeletons[name]; ok {
		old.close()
	}
	r.skeletons[name] = s
	r.mu.Unlock()
	return s
}

// Unregister removes the skeleton registered under name
func (r *InProcessRegistry) Unregister(name string) {
	r.mu.Lock()
	s, ok := r.skeletons[name]
	delete(r.skeletons, name)
	r.mu.Unlock()
	if ok {
		s.close()
	}
}

// Lookup returns the skeleton registered under name
func (r *InProcessRegistry) Lookup(name string) (*Skeleton, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skeletons[name]
	return s, ok
}

// SkeletonFor returns the skeleton behind an in-process address. Other address
// variants have no local skeleton.
func (r *InProcessRegistry) SkeletonFor(addr address.Address) (any, bool) {
	a, ok := addr.(address.InProcessAddress)
	if !ok {
		return nil, false
	}
	s, ok := r.Lookup(a.Name)
	if !ok {
		return nil, false
	}
	return s, true
}

var _ routing.SkeletonRegistry = (*InProcessRegistry)(nil)

func (s *Skeleton) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
