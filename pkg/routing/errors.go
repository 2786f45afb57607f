package routing

import (
	"errors"
)

// ErrorKind is the closed set of router failure kinds
type ErrorKind int

const (
	// KindNone is reported for nil errors and errors the router did not produce
	KindNone ErrorKind = iota
	// KindExpired means a message was past its expiry
	KindExpired
	// KindUnknownRecipient means no route exists for a participant
	KindUnknownRecipient
	// KindNotReachable means the parent router could not resolve a participant
	KindNotReachable
	// KindInvalidAddressType means an address variant cannot be registered at the parent
	KindInvalidAddressType
	// KindAlreadyShutDown means the router was shut down
	KindAlreadyShutDown
)

func (k ErrorKind) String() string {
	switch k {
	case KindExpired:
		return "Expired"
	case KindUnknownRecipient:
		return "UnknownRecipient"
	case KindNotReachable:
		return "NotReachable"
	case KindInvalidAddressType:
		return "InvalidAddressType"
	case KindAlreadyShutDown:
		return "AlreadyShutDown"
	default:
		return "None"
	}
}

// Sentinel errors, one per kind. Router errors wrap these.
var (
	ErrExpired            = errors.New("message expired")
	ErrUnknownRecipient   = errors.New("unknown recipient")
	ErrNotReachable       = errors.New("participant not reachable")
	ErrInvalidAddressType = errors.New("invalid address type")
	ErrAlreadyShutDown    = errors.New("message router is already shut down")
)

var sentinels = []struct {
	err  error
	kind ErrorKind
}{
	{ErrExpired, KindExpired},
	{ErrUnknownRecipient, KindUnknownRecipient},
	{ErrNotReachable, KindNotReachable},
	{ErrInvalidAddressType, KindInvalidAddressType},
	{ErrAlreadyShutDown, KindAlreadyShutDown},
}

// KindOf returns the kind of err, or KindNone.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindNone
}

// Sentinel returns the sentinel error of kind k, or nil for KindNone.
func (k ErrorKind) Sentinel() error {
	for _, s := range sentinels {
		if s.kind == k {
			return s.err
		}
	}
	return nil
}
