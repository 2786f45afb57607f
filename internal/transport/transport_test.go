package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

type recordingInbound struct {
	received chan *message.Message
}

func newRecordingInbound() *recordingInbound {
	return &recordingInbound{received: make(chan *message.Message, 16)}
}

func (r *recordingInbound) Route(_ context.Context, msg *message.Message) routing.Outcome {
	r.received <- msg
	return routing.OutcomeDelivered
}

func (r *recordingInbound) next(t *testing.T) *message.Message {
	t.Helper()
	select {
	case msg := <-r.received:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func testMessage(id string, typ message.Type) *message.Message {
	return message.New(message.Params{
		ID:      id,
		From:    "sender",
		To:      "receiver",
		Type:    typ,
		Expiry:  time.Now().Add(time.Minute),
		Payload: []byte("hello"),
	})
}

func TestInProcessRegistry(t *testing.T) {
	reg := NewInProcessRegistry()
	var got []string
	skel := reg.Register("app", func(_ context.Context, msg *message.Message) error {
		got = append(got, msg.ID())
		return nil
	})
	assert.Equal(t, address.InProcessAddress{Name: "app"}, skel.Address())

	f := &Factory{InProcess: reg}
	tr, ok := f.Create(address.InProcessAddress{Name: "app"})
	require.True(t, ok)
	require.NoError(t, tr.Transmit(context.Background(), testMessage("m1", message.TypeRequest)))
	assert.Equal(t, []string{"m1"}, got)

	found, ok := reg.SkeletonFor(address.InProcessAddress{Name: "app"})
	require.True(t, ok)
	sub, ok := found.(routing.MulticastSubscriber)
	require.True(t, ok)
	sub.RegisterMulticastSubscription("prov/evt")
	sub.RegisterMulticastSubscription("prov/evt")
	sub.UnregisterMulticastSubscription("prov/evt")
	assert.Equal(t, []string{"prov/evt"}, skel.Subscriptions())
	sub.UnregisterMulticastSubscription("prov/evt")
	assert.Empty(t, skel.Subscriptions())

	_, ok = reg.SkeletonFor(address.WebSocketClientAddress{ID: "app"})
	assert.False(t, ok)

	reg.Unregister("app")
	_, ok = f.Create(address.InProcessAddress{Name: "app"})
	assert.False(t, ok)
	assert.ErrorIs(t, skel.Transmit(context.Background(), testMessage("m2", message.TypeRequest)), ErrSkeletonClosed)
}

func TestFactory_UnsupportedAddresses(t *testing.T) {
	f := &Factory{}
	for _, addr := range []address.Address{
		address.BrowserAddress{WindowID: "w"},
		address.ChannelAddress{MessagingEndpointURL: "https://x", ChannelID: "c"},
		address.InProcessAddress{Name: "n"},
		address.WebSocketAddress{Protocol: "ws", Host: "h", Port: 1},
		address.WebSocketClientAddress{ID: "c"},
	} {
		_, ok := f.Create(addr)
		assert.False(t, ok, addr.String())
	}
}

func TestMulticastCalculator(t *testing.T) {
	parent := address.WebSocketAddress{Protocol: "ws", Host: "hub", Port: 4242, Path: "/ws"}
	calc := NewMulticastCalculator(parent)

	addr, ok := calc.Calculate(testMessage("m", message.TypeMulticast))
	require.True(t, ok)
	assert.Equal(t, parent, addr)

	_, ok = calc.Calculate(testMessage("m", message.TypeRequest))
	assert.False(t, ok)

	_, ok = NewMulticastCalculator(nil).Calculate(testMessage("m", message.TypeMulticast))
	assert.False(t, ok)
}

func TestFrameCodec(t *testing.T) {
	data, err := encodeMessage(testMessage("m1", message.TypeReply))
	require.NoError(t, err)

	f, err := decodeFrame(data)
	require.NoError(t, err)
	require.NotNil(t, f.Envelope)
	assert.Equal(t, "m1", f.Envelope.ID)
	assert.Empty(t, f.Hello)

	data, err = encodeHello("leaf-1")
	require.NoError(t, err)
	f, err = decodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, "leaf-1", f.Hello)
	assert.Nil(t, f.Envelope)

	_, err = decodeFrame([]byte{0xff, 0x00})
	assert.Error(t, err)
}

func TestWebSocket_RoundTrip(t *testing.T) {
	hubInbound := newRecordingInbound()
	server := NewWebSocketServer(hubInbound, nil)
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)
	t.Cleanup(func() { _ = server.Close() })

	serverAddr, err := address.Parse("ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws")
	require.NoError(t, err)

	leafInbound := newRecordingInbound()
	client := NewWebSocketClient("leaf-1", leafInbound, nil)
	t.Cleanup(func() { _ = client.Close() })

	f := &Factory{Client: client, Server: server}

	up, ok := f.Create(serverAddr)
	require.True(t, ok)
	sent := testMessage("up-1", message.TypeRequest)
	require.NoError(t, up.Transmit(context.Background(), sent))

	got := hubInbound.next(t)
	assert.Equal(t, "up-1", got.ID())
	assert.Equal(t, []byte("hello"), got.Payload())
	assert.False(t, got.ReceivedFromGlobal())
	assert.Equal(t, []string{"leaf-1"}, server.Clients())

	down, ok := f.Create(address.WebSocketClientAddress{ID: "leaf-1"})
	require.True(t, ok)
	require.NoError(t, down.Transmit(context.Background(), testMessage("down-1", message.TypeMulticast)))
	require.NoError(t, down.Transmit(context.Background(), testMessage("down-2", message.TypeReply)))

	multicast := leafInbound.next(t)
	assert.Equal(t, "down-1", multicast.ID())
	assert.True(t, multicast.ReceivedFromGlobal())

	reply := leafInbound.next(t)
	assert.Equal(t, "down-2", reply.ID())
	assert.False(t, reply.ReceivedFromGlobal())

	_, ok = f.Create(address.WebSocketClientAddress{ID: "someone-else"})
	assert.False(t, ok)
}

func TestWebSocket_DisconnectRemovesClient(t *testing.T) {
	server := NewWebSocketServer(newRecordingInbound(), nil)
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)
	t.Cleanup(func() { _ = server.Close() })

	addr, err := address.Parse("ws" + strings.TrimPrefix(httpServer.URL, "http"))
	require.NoError(t, err)
	wsAddr := addr.(address.WebSocketAddress)

	client := NewWebSocketClient("leaf-2", nil, nil)
	require.NoError(t, client.Connect(context.Background(), wsAddr))
	require.Eventually(t, func() bool {
		return len(server.Clients()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		return len(server.Clients()) == 0
	}, 5*time.Second, 10*time.Millisecond)

	err = client.Transport(wsAddr).Transmit(context.Background(), testMessage("late", message.TypeRequest))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestWebSocketServer_RejectsAfterClose(t *testing.T) {
	server := NewWebSocketServer(newRecordingInbound(), nil)
	require.NoError(t, server.Close())

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, 503, rec.Code)
}
