package transport

import (
	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

// Factory picks the transport for an address. Nil members disable their address
// variants. Browser and channel addresses have no transport in this process.
type Factory struct {
	InProcess *InProcessRegistry
	Client    *WebSocketClient
	Server    *WebSocketServer
}

// Create returns a transport for addr, or false when nothing can receive for it now.
func (f *Factory) Create(addr address.Address) (routing.Transport, bool) {
	switch a := addr.(type) {
	case address.InProcessAddress:
		if f.InProcess == nil {
			return nil, false
		}
		s, ok := f.InProcess.Lookup(a.Name)
		if !ok {
			return nil, false
		}
		return s, true
	case address.WebSocketAddress:
		if f.Client == nil {
			return nil, false
		}
		return f.Client.Transport(a), true
	case address.WebSocketClientAddress:
		if f.Server == nil {
			return nil, false
		}
		return f.Server.Transport(a.ID)
	default:
		return nil, false
	}
}

var _ routing.TransportFactory = (*Factory)(nil)

// MulticastCalculator sends locally originated multicasts to a global address, usually
// the parent router, so receivers elsewhere in the topology get them.
type MulticastCalculator struct {
	global address.Address
}

// NewMulticastCalculator returns a calculator for global. A nil global never matches.
func NewMulticastCalculator(global address.Address) *MulticastCalculator {
	return &MulticastCalculator{global: global}
}

func (c *MulticastCalculator) Calculate(msg *message.Message) (address.Address, bool) {
	if c.global == nil || msg.Type() != message.TypeMulticast {
		return nil, false
	}
	return c.global, true
}

var _ routing.MulticastAddressCalculator = (*MulticastCalculator)(nil)
