package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		in   string
		want Address
	}{
		{"ws://hub.local:4242/routing", WebSocketAddress{Protocol: "ws", Host: "hub.local", Port: 4242, Path: "/routing"}},
		{"wss://hub.local/routing", WebSocketAddress{Protocol: "wss", Host: "hub.local", Port: 443, Path: "/routing"}},
		{"wsclient:leaf-7", WebSocketClientAddress{ID: "leaf-7"}},
		{"inprocess:skeleton", InProcessAddress{Name: "skeleton"}},
		{"browser:window-3", BrowserAddress{WindowID: "window-3"}},
		{"channel:https://bounce.example/channels#ch-1", ChannelAddress{MessagingEndpointURL: "https://bounce.example/channels", ChannelID: "ch-1"}},
		{`{"_typeName":"WebSocketClientAddress","id":"c1"}`, WebSocketClientAddress{ID: "c1"}},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in)
			require.NoError(t, err)
			assert.True(t, Equal(tc.want, got), "got %v", got)
		})
	}
}

func TestParse_StringRoundTrip(t *testing.T) {
	for _, a := range []Address{
		WebSocketAddress{Protocol: "ws", Host: "h", Port: 1, Path: "/p"},
		WebSocketClientAddress{ID: "c"},
		InProcessAddress{Name: "n"},
		BrowserAddress{WindowID: "w"},
	} {
		got, err := Parse(a.String())
		require.NoError(t, err)
		assert.True(t, Equal(a, got), a.String())
	}
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{"", "carrier:pigeon", "nocolon", "wsclient:", "ws://:80/x", "ws://h:notaport/"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrEmptyAddress)
	_, err = Parse("carrier:pigeon")
	assert.ErrorIs(t, err, ErrUnknownType)
}
