package address

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// Parse reads an address from its String form or from its canonical JSON form.
// It is meant for configuration files and command line flags.
//
//	ws://hub.local:4242/routing
//	wsclient:leaf-7
//	inprocess:skeleton
//	browser:window-3
//	channel:https://bounce.example/channels#ch-1
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	errb := oops.In("address").With("input", s)

	switch {
	case s == "":
		return nil, ErrEmptyAddress
	case strings.HasPrefix(s, "{"):
		return Unmarshal(s)
	case strings.HasPrefix(s, "ws://"), strings.HasPrefix(s, "wss://"):
		u, err := url.Parse(s)
		if err != nil {
			return nil, errb.Wrapf(err, "invalid websocket url")
		}
		port := 80
		if u.Scheme == "wss" {
			port = 443
		}
		if p := u.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return nil, errb.Wrapf(err, "invalid port")
			}
		}
		if u.Hostname() == "" {
			return nil, errb.Errorf("websocket url has no host")
		}
		return WebSocketAddress{Protocol: u.Scheme, Host: u.Hostname(), Port: port, Path: u.Path}, nil
	}

	scheme, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return nil, errb.Wrapf(ErrUnknownType, "cannot parse address %q", s)
	}
	switch scheme {
	case "wsclient":
		return WebSocketClientAddress{ID: rest}, nil
	case "inprocess":
		return InProcessAddress{Name: rest}, nil
	case "browser":
		return BrowserAddress{WindowID: rest}, nil
	case "channel":
		endpoint, channelID, _ := strings.Cut(rest, "#")
		return ChannelAddress{MessagingEndpointURL: endpoint, ChannelID: channelID}, nil
	default:
		return nil, errb.Wrapf(ErrUnknownType, "unknown address scheme %q", scheme)
	}
}
