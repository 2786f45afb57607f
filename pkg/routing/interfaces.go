package routing

import (
	"context"

	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
)

// State is the lifecycle state of a router
type State int

const (
	// Detached means no parent is configured; this node is the topology root
	Detached State = iota
	// Unattached means a parent is configured but no live proxy exists yet
	Unattached
	// Attached means a live parent-router proxy is present
	Attached
	// ShutDown is terminal
	ShutDown
)

func (s State) String() string {
	switch s {
	case Detached:
		return "Detached"
	case Unattached:
		return "Unattached"
	case Attached:
		return "Attached"
	case ShutDown:
		return "ShutDown"
	default:
		return "Unknown"
	}
}

// Outcome reports what Route did with a message
type Outcome int

const (
	// OutcomeDelivered means the message was handed to at least one transport
	OutcomeDelivered Outcome = iota
	// OutcomeDeferred means the message waits for a reply-to address
	OutcomeDeferred
	// OutcomeQueued means the message waits for its recipient to register
	OutcomeQueued
	// OutcomeDropped means the message was discarded
	OutcomeDropped
	// OutcomeExpired means the message was past its expiry
	OutcomeExpired
	// OutcomeShutDown means the router no longer routes
	OutcomeShutDown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeQueued:
		return "queued"
	case OutcomeDropped:
		return "dropped"
	case OutcomeExpired:
		return "expired"
	case OutcomeShutDown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// MulticastReceiver identifies a subscriber's interest in a provider's multicast
type MulticastReceiver struct {
	MulticastID             string
	SubscriberParticipantID string
	ProviderParticipantID   string
}

// Transport transmits messages to one address
type Transport interface {
	Transmit(ctx context.Context, msg *message.Message) error
}

// TransportFactory creates transports for addresses.
// ok is false when there is currently no receiver for addr.
type TransportFactory interface {
	Create(addr address.Address) (t Transport, ok bool)
}

// PersistentStore is a string key-value store that survives restarts
type PersistentStore interface {
	// Get returns the value under key; ok is false if the key does not exist
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	Set(ctx context.Context, key, value string) error

	Remove(ctx context.Context, key string) error
}

// MessageQueue holds messages addressed to participants that are not known yet.
type MessageQueue interface {
	// Enqueue stores msg under msg.To()
	Enqueue(msg *message.Message) error

	// DrainFor removes and returns all messages for participantID, oldest first
	DrainFor(participantID string) []*message.Message

	// Shutdown discards queued messages and rejects further enqueues
	Shutdown()
}

// RoutingProxy is the remote interface of a parent router.
// All calls may block on the network and may fail.
type RoutingProxy interface {
	// ProxyParticipantID is the participant id of the proxy itself, or "" if it has none
	ProxyParticipantID() string

	AddNextHop(ctx context.Context, participantID string, addr address.Address, isGloballyVisible bool) error

	RemoveNextHop(ctx context.Context, participantID string) error

	// ResolveNextHop asks the parent whether it can reach participantID
	ResolveNextHop(ctx context.Context, participantID string) (resolved bool, err error)

	AddMulticastReceiver(ctx context.Context, receiver MulticastReceiver) error

	RemoveMulticastReceiver(ctx context.Context, receiver MulticastReceiver) error

	// ReplyToAddress returns the serialized address the parent advertises for replies
	ReplyToAddress(ctx context.Context) (string, error)
}

// MulticastAddressCalculator computes where a locally originated multicast goes
type MulticastAddressCalculator interface {
	Calculate(msg *message.Message) (address.Address, bool)
}

// MulticastSubscriber is implemented by skeletons that must learn which multicasts
// have local receivers.
type MulticastSubscriber interface {
	RegisterMulticastSubscription(multicastID string)
	UnregisterMulticastSubscription(multicastID string)
}

// SkeletonRegistry returns the receiving side (skeleton) of the transport owning addr.
// The skeleton may or may not implement MulticastSubscriber.
type SkeletonRegistry interface {
	SkeletonFor(addr address.Address) (skeleton any, ok bool)
}

// MessageRouter is the full set of router operations.
type MessageRouter interface {
	// Route delivers, queues, defers, or drops msg. It never panics.
	Route(ctx context.Context, msg *message.Message) Outcome

	ResolveNextHop(ctx context.Context, participantID string) (address.Address, error)

	AddNextHop(ctx context.Context, participantID string, addr address.Address, isGloballyVisible bool) *Completion

	RemoveNextHop(ctx context.Context, participantID string) *Completion

	AddMulticastReceiver(ctx context.Context, receiver MulticastReceiver) *Completion

	RemoveMulticastReceiver(ctx context.Context, receiver MulticastReceiver) *Completion

	SetToKnown(participantID string)

	HasMulticastReceivers() bool

	SetReplyToAddress(replyTo string)

	SetRoutingProxy(ctx context.Context, proxy RoutingProxy) error

	State() State

	Shutdown()
}
