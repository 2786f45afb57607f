// Package address defines the transport addresses a message router can forward to.
//
// An Address is a closed set of variants:
//   - InProcessAddress: a dispatcher living in the same process
//   - WebSocketClientAddress: a leaf connected to this node's websocket server
//   - WebSocketAddress: a websocket server this node dials (typically a parent router)
//   - BrowserAddress: an application running in another browser tab
//   - ChannelAddress: an HTTP long-poll channel
//
// The set is sealed: only this package can add a variant, so every switch over Kind
// in the rest of the module is exhaustive by construction.
//
// Addresses serialize to a canonical JSON string (see Marshal) that is used for
// persistence and for carrying reply-to addresses inside messages.
package address

import "fmt"

// Kind identifies an address variant
type Kind int

const (
	// KindInProcess is an address of a dispatcher in the same process
	KindInProcess Kind = iota
	// KindWebSocketClient is an address of a client connected to our websocket server
	KindWebSocketClient
	// KindWebSocket is an address of a websocket server
	KindWebSocket
	// KindBrowser is an address of a browser tab
	KindBrowser
	// KindChannel is an address of an HTTP channel
	KindChannel
)

func (k Kind) String() string {
	switch k {
	case KindInProcess:
		return "InProcessAddress"
	case KindWebSocketClient:
		return "WebSocketClientAddress"
	case KindWebSocket:
		return "WebSocketAddress"
	case KindBrowser:
		return "BrowserAddress"
	case KindChannel:
		return "ChannelAddress"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Address is the next-hop a message is transmitted to.
type Address interface {
	// Kind returns the variant of this address
	Kind() Kind

	// String returns a human readable form for logging
	String() string

	sealed()
}

// InProcessAddress points at a dispatcher registered in the local process under Name.
// It is never persisted and never advertised to other routers.
type InProcessAddress struct {
	Name string
}

// WebSocketClientAddress identifies a client connected to this node's websocket server.
type WebSocketClientAddress struct {
	ID string
}

// WebSocketAddress is a websocket server endpoint.
type WebSocketAddress struct {
	Protocol string
	Host     string
	Port     int
	Path     string
}

// BrowserAddress identifies another browser window.
type BrowserAddress struct {
	WindowID string
}

// ChannelAddress is an HTTP messaging channel.
type ChannelAddress struct {
	MessagingEndpointURL string
	ChannelID            string
}

func (InProcessAddress) Kind() Kind       { return KindInProcess }
func (WebSocketClientAddress) Kind() Kind { return KindWebSocketClient }
func (WebSocketAddress) Kind() Kind       { return KindWebSocket }
func (BrowserAddress) Kind() Kind         { return KindBrowser }
func (ChannelAddress) Kind() Kind         { return KindChannel }

func (InProcessAddress) sealed()       {}
func (WebSocketClientAddress) sealed() {}
func (WebSocketAddress) sealed()       {}
func (BrowserAddress) sealed()         {}
func (ChannelAddress) sealed()         {}

func (a InProcessAddress) String() string { return "inprocess:" + a.Name }

func (a WebSocketClientAddress) String() string { return "wsclient:" + a.ID }

// String returns the dialable URL of the websocket server.
func (a WebSocketAddress) String() string {
	return a.URL()
}

// URL returns the websocket URL, e.g. ws://localhost:4242/routing
func (a WebSocketAddress) URL() string {
	protocol := a.Protocol
	if protocol == "" {
		protocol = "ws"
	}
	return fmt.Sprintf("%s://%s:%d%s", protocol, a.Host, a.Port, a.Path)
}

func (a BrowserAddress) String() string { return "browser:" + a.WindowID }

func (a ChannelAddress) String() string {
	return "channel:" + a.MessagingEndpointURL + "#" + a.ChannelID
}

// Equal reports whether a and b are the same variant with the same identifying fields.
// Two nil addresses are equal.
func Equal(a, b Address) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	// all variants are comparable value types
	return a == b
}

// Contains reports whether addr is already present in list.
func Contains(list []Address, addr Address) bool {
	for _, candidate := range list {
		if Equal(candidate, addr) {
			return true
		}
	}
	return false
}

// IsInProcess reports whether addr is the in-process variant.
func IsInProcess(addr Address) bool {
	return addr != nil && addr.Kind() == KindInProcess
}
