package transport

import (
	cbor "github.com/fxamacker/cbor/v2"
	"github.com/samber/oops"

	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
)

// frame is one websocket binary message. The first frame a client sends carries Hello,
// every later frame carries Envelope.
type frame struct {
	Hello    string            `cbor:"1,keyasint,omitempty"`
	Envelope *message.Envelope `cbor:"2,keyasint,omitempty"`
}

type frameCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newFrameCodec() frameCodec {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return frameCodec{enc: em, dec: dm}
}

var codec = newFrameCodec()

func encodeHello(clientID string) ([]byte, error) {
	return codec.enc.Marshal(frame{Hello: clientID})
}

func encodeMessage(msg *message.Message) ([]byte, error) {
	env := msg.ToEnvelope()
	data, err := codec.enc.Marshal(frame{Envelope: &env})
	if err != nil {
		return nil, oops.In("transport").With("message_id", msg.ID()).Wrapf(err, "encode frame")
	}
	return data, nil
}

func decodeFrame(data []byte) (frame, error) {
	var f frame
	if err := codec.dec.Unmarshal(data, &f); err != nil {
		return frame{}, oops.In("transport").Wrapf(err, "decode frame")
	}
	return f, nil
}
