package message

import "time"

// Envelope is the exported, serializable snapshot of a Message.
// Transports encode envelopes; the router only ever sees *Message.
type Envelope struct {
	ID                 string            `cbor:"1,keyasint" json:"id"`
	From               string            `cbor:"2,keyasint" json:"from"`
	To                 string            `cbor:"3,keyasint" json:"to"`
	Type               string            `cbor:"4,keyasint" json:"type"`
	ExpiryUnixMilli    int64             `cbor:"5,keyasint" json:"expiryDate"`
	ReceivedFromGlobal bool              `cbor:"6,keyasint,omitempty" json:"receivedFromGlobal,omitempty"`
	Local              bool              `cbor:"7,keyasint,omitempty" json:"local,omitempty"`
	ReplyTo            string            `cbor:"8,keyasint,omitempty" json:"replyChannelId,omitempty"`
	Payload            []byte            `cbor:"9,keyasint,omitempty" json:"payload,omitempty"`
	Headers            map[string]string `cbor:"10,keyasint,omitempty" json:"headers,omitempty"`
}

// ToEnvelope snapshots m.
func (m *Message) ToEnvelope() Envelope {
	return Envelope{
		ID:                 m.id,
		From:               m.from,
		To:                 m.to,
		Type:               m.typ.String(),
		ExpiryUnixMilli:    m.expiry.UnixMilli(),
		ReceivedFromGlobal: m.receivedFromGlobal,
		Local:              m.local,
		ReplyTo:            m.replyTo,
		Payload:            m.Payload(),
		Headers:            m.Headers(),
	}
}

// FromEnvelope rebuilds a message. Unknown types decode as requests with ok=false.
func FromEnvelope(e Envelope) (*Message, bool) {
	typ, ok := ParseType(e.Type)
	return New(Params{
		ID:                 e.ID,
		From:               e.From,
		To:                 e.To,
		Type:               typ,
		Expiry:             time.UnixMilli(e.ExpiryUnixMilli),
		ReceivedFromGlobal: e.ReceivedFromGlobal,
		Local:              e.Local,
		ReplyTo:            e.ReplyTo,
		Payload:            e.Payload,
		Headers:            e.Headers,
	}), ok
}
