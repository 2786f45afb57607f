// Package router implements the message router: next-hop resolution, unicast and
// multicast dispatch, and the lifecycle of the parent-router link.
package router

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrouter/internal/addressbook"
	"github.com/rmacdonaldsmith/meshrouter/internal/metrics"
	"github.com/rmacdonaldsmith/meshrouter/internal/multicast"
	"github.com/rmacdonaldsmith/meshrouter/internal/pending"
	"github.com/rmacdonaldsmith/meshrouter/internal/replyto"
	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

const (
	DefaultMulticastFanout   = 16
	DefaultParentCallTimeout = 30 * time.Second
)

// Options configures a Router
type Options struct {
	// InstanceID prefixes persistent store keys
	InstanceID string

	// IncomingAddress is how the parent router reaches this node. Required when
	// ParentAddress is set.
	IncomingAddress address.Address

	// ParentAddress is the address of the parent router. nil makes this node the root.
	ParentAddress address.Address

	// ReplyToAddress is the initial reply-to address; a parent provides one on attach
	ReplyToAddress string

	Store      routing.PersistentStore
	Queue      routing.MessageQueue
	Transports routing.TransportFactory
	Calculator routing.MulticastAddressCalculator
	Skeletons  routing.SkeletonRegistry

	Logger  *zap.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics

	// MulticastFanout bounds concurrent transmissions of one multicast
	MulticastFanout int

	// ParentCallTimeout bounds each forwarded parent call
	ParentCallTimeout time.Duration
}

// Router is the message router. It is safe for concurrent use.
type Router struct {
	// mu guards state and proxy. It is never held across a proxy, store or transport call.
	mu    sync.Mutex
	state routing.State
	proxy routing.RoutingProxy

	// attachMu serialises SetRoutingProxy calls
	attachMu sync.Mutex

	// opMu is read-held by registration operations from their shutdown check until their
	// local change is dispatched. Shutdown write-holds it to flip the state.
	opMu sync.RWMutex

	book      *addressbook.AddressBook
	multicast *multicast.Registry
	pending   *pending.Queue
	replyTo   *replyto.Coordinator
	forwarder *forwarder

	queue           routing.MessageQueue
	transports      routing.TransportFactory
	calculator      routing.MulticastAddressCalculator
	parentAddress   address.Address
	incomingAddress address.Address

	clock         clock.Clock
	logger        *zap.Logger
	metrics       *metrics.Metrics
	fanout        int
	parentTimeout time.Duration
}

// New creates a router. It starts Detached when no parent address is configured and
// Unattached otherwise.
func New(opts Options) (*Router, error) {
	errb := oops.In("router")
	if opts.Transports == nil {
		return nil, errb.Errorf("transport factory is required")
	}
	if opts.Queue == nil {
		return nil, errb.Errorf("message queue is required")
	}
	if opts.ParentAddress != nil && opts.IncomingAddress == nil {
		return nil, errb.Errorf("incoming address is required when a parent address is set")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	fanout := opts.MulticastFanout
	if fanout <= 0 {
		fanout = DefaultMulticastFanout
	}
	timeout := opts.ParentCallTimeout
	if timeout <= 0 {
		timeout = DefaultParentCallTimeout
	}

	r := &Router{
		state:           routing.Detached,
		book:            addressbook.New(opts.InstanceID, opts.Store, logger),
		multicast:       multicast.NewRegistry(opts.Skeletons, logger),
		pending:         pending.NewQueue(),
		queue:           opts.Queue,
		transports:      opts.Transports,
		calculator:      opts.Calculator,
		parentAddress:   opts.ParentAddress,
		incomingAddress: opts.IncomingAddress,
		clock:           clk,
		logger:          logger.Named("router"),
		metrics:         opts.Metrics,
		fanout:          fanout,
		parentTimeout:   timeout,
	}
	if opts.ParentAddress != nil {
		r.state = routing.Unattached
	}
	r.replyTo = replyto.New(opts.ReplyToAddress, r.resubmit, logger)
	r.forwarder = newForwarder(r.execute)

	return r, nil
}

// State returns the lifecycle state
func (r *Router) State() routing.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// HasMulticastReceivers reports whether any multicast receiver is registered
func (r *Router) HasMulticastReceivers() bool {
	return r.multicast.HasAnyReceivers()
}

// SetReplyToAddress sets the reply-to address and flushes messages held for it
func (r *Router) SetReplyToAddress(replyTo string) {
	r.replyTo.SetReplyToAddress(replyTo)
}

// ReplyToAddress returns the current reply-to address
func (r *Router) ReplyToAddress() string {
	return r.replyTo.ReplyToAddress()
}

// ParentAddress returns the configured parent address, or nil
func (r *Router) ParentAddress() address.Address {
	return r.parentAddress
}

// Routes returns a snapshot of the routing table
func (r *Router) Routes() []addressbook.Entry {
	return r.book.Entries()
}

// Lookup returns the in-memory next hop of participantID without consulting other tiers
func (r *Router) Lookup(participantID string) (address.Address, bool) {
	return r.book.Lookup(participantID)
}

// MulticastPatterns returns a snapshot of registered multicast receivers
func (r *Router) MulticastPatterns() []multicast.Pattern {
	return r.multicast.Patterns()
}

// PendingOperations returns the number of parent operations waiting for the parent link
func (r *Router) PendingOperations() int {
	return r.pending.Len()
}

func (r *Router) observe() {
	if r.metrics == nil {
		return
	}
	r.metrics.SetRoutingEntries(r.book.Len())
	r.metrics.SetPendingOperations(r.pending.Len())
	if q, ok := r.queue.(interface{ Len() int }); ok {
		r.metrics.SetQueuedMessages(q.Len())
	}
}

func (r *Router) shutDownError(op string) error {
	return oops.In("router").With("operation", op).Wrapf(routing.ErrAlreadyShutDown, "%s rejected", op)
}

var _ routing.MessageRouter = (*Router)(nil)
