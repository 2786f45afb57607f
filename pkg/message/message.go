// Package message defines the envelope routed by the message router.
//
// A Message is immutable once created. The router consumes each message exactly once
// (delivered, queued for a participant that is not yet known, or dropped) and never
// changes it, except for stamping a reply-to address, which produces a copy.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Type is the kind of a routed message
type Type int

const (
	TypeRequest Type = iota
	TypeReply
	TypeSubscriptionRequest
	TypeSubscriptionReply
	TypeBroadcastSubscriptionRequest
	TypeMulticastSubscriptionRequest
	TypeMulticast
	TypePublication
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeReply:
		return "reply"
	case TypeSubscriptionRequest:
		return "subscriptionRequest"
	case TypeSubscriptionReply:
		return "subscriptionReply"
	case TypeBroadcastSubscriptionRequest:
		return "broadcastSubscriptionRequest"
	case TypeMulticastSubscriptionRequest:
		return "multicastSubscriptionRequest"
	case TypeMulticast:
		return "multicast"
	case TypePublication:
		return "publication"
	default:
		return "unknown"
	}
}

// ParseType converts the String form of a Type back into a Type.
func ParseType(s string) (Type, bool) {
	for t := TypeRequest; t <= TypePublication; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// CarriesReplyChannel reports whether messages of this type embed the address
// replies must be sent to.
func (t Type) CarriesReplyChannel() bool {
	switch t {
	case TypeRequest, TypeSubscriptionRequest, TypeBroadcastSubscriptionRequest, TypeMulticastSubscriptionRequest:
		return true
	default:
		return false
	}
}

// IsResponse reports whether the message answers a request. Responses whose
// recipient is unknown cannot be retried by anyone and are dropped.
func (t Type) IsResponse() bool {
	switch t {
	case TypeReply, TypeSubscriptionReply, TypePublication:
		return true
	default:
		return false
	}
}

// Message is a routed envelope. Use New or FromEnvelope to create one.
type Message struct {
	id                 string
	from               string
	to                 string
	typ                Type
	expiry             time.Time
	receivedFromGlobal bool
	local              bool
	replyTo            string
	payload            []byte
	headers            map[string]string
}

// Params holds the fields of a new message
type Params struct {
	// ID defaults to a random UUID
	ID string

	From string
	To   string
	Type Type

	// Expiry is the absolute time after which the message must not be delivered
	Expiry time.Time

	// ReceivedFromGlobal marks messages that arrived over a global transport
	ReceivedFromGlobal bool

	// Local marks messages exchanged between participants of the same process
	Local bool

	// ReplyTo is the serialized address replies should be sent to
	ReplyTo string

	Payload []byte
	Headers map[string]string
}

// New creates a message from p. Payload and headers are copied.
func New(p Params) *Message {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	var payload []byte
	if p.Payload != nil {
		payload = make([]byte, len(p.Payload))
		copy(payload, p.Payload)
	}

	headers := make(map[string]string, len(p.Headers))
	for k, v := range p.Headers {
		headers[k] = v
	}

	return &Message{
		id:                 id,
		from:               p.From,
		to:                 p.To,
		typ:                p.Type,
		expiry:             p.Expiry,
		receivedFromGlobal: p.ReceivedFromGlobal,
		local:              p.Local,
		replyTo:            p.ReplyTo,
		payload:            payload,
		headers:            headers,
	}
}

// ID returns the message id
func (m *Message) ID() string { return m.id }

// From returns the sender participant id
func (m *Message) From() string { return m.from }

// To returns the recipient participant id, or the multicast id for multicasts
func (m *Message) To() string { return m.to }

// Type returns the message type
func (m *Message) Type() Type { return m.typ }

// Expiry returns the absolute expiry time
func (m *Message) Expiry() time.Time { return m.expiry }

// ReceivedFromGlobal reports whether the message arrived over a global transport
func (m *Message) ReceivedFromGlobal() bool { return m.receivedFromGlobal }

// Local reports whether sender and recipient live in the same process
func (m *Message) Local() bool { return m.local }

// ReplyTo returns the serialized reply-to address, or "" if none is set
func (m *Message) ReplyTo() string { return m.replyTo }

// Expired reports whether the message is past its expiry at now.
func (m *Message) Expired(now time.Time) bool {
	return now.After(m.expiry)
}

// Payload returns a copy of the payload
func (m *Message) Payload() []byte {
	if m.payload == nil {
		return nil
	}
	result := make([]byte, len(m.payload))
	copy(result, m.payload)
	return result
}

// Headers returns a copy of the custom headers
func (m *Message) Headers() map[string]string {
	result := make(map[string]string, len(m.headers))
	for k, v := range m.headers {
		result[k] = v
	}
	return result
}

// WithReplyTo returns a copy of the message carrying replyTo.
func (m *Message) WithReplyTo(replyTo string) *Message {
	clone := *m
	clone.replyTo = replyTo
	return &clone
}
