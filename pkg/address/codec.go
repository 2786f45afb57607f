package address

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/samber/oops"
)

// EmptyObject is the serialized form of an address that carries no routable information.
// Such an address is never persisted.
const EmptyObject = "{}"

var (
	// ErrEmptyAddress is returned when decoding an empty or "{}" address
	ErrEmptyAddress = errors.New("address is empty")
	// ErrUnknownType is returned when decoding an address with an unknown _typeName
	ErrUnknownType = errors.New("unknown address type")
)

// wireAddress is the canonical JSON shape shared by all variants.
// Field order is fixed by the struct, which keeps Marshal output stable.
type wireAddress struct {
	TypeName             string `json:"_typeName"`
	ID                   string `json:"id,omitempty"`
	Protocol             string `json:"protocol,omitempty"`
	Host                 string `json:"host,omitempty"`
	Port                 int    `json:"port,omitempty"`
	Path                 string `json:"path,omitempty"`
	WindowID             string `json:"windowId,omitempty"`
	MessagingEndpointURL string `json:"messagingEndpointUrl,omitempty"`
	ChannelID            string `json:"channelId,omitempty"`
}

// Marshal returns the canonical string form of addr.
// In-process addresses and nil serialize to EmptyObject.
func Marshal(addr Address) (string, error) {
	var w wireAddress

	switch a := addr.(type) {
	case nil:
		return EmptyObject, nil
	case InProcessAddress:
		return EmptyObject, nil
	case WebSocketClientAddress:
		w = wireAddress{TypeName: KindWebSocketClient.String(), ID: a.ID}
	case WebSocketAddress:
		w = wireAddress{
			TypeName: KindWebSocket.String(),
			Protocol: a.Protocol,
			Host:     a.Host,
			Port:     a.Port,
			Path:     a.Path,
		}
	case BrowserAddress:
		w = wireAddress{TypeName: KindBrowser.String(), WindowID: a.WindowID}
	case ChannelAddress:
		w = wireAddress{
			TypeName:             KindChannel.String(),
			MessagingEndpointURL: a.MessagingEndpointURL,
			ChannelID:            a.ChannelID,
		}
	default:
		return "", oops.In("address").Errorf("cannot marshal address of type %T", addr)
	}

	b, err := json.Marshal(w)
	if err != nil {
		return "", oops.In("address").Wrapf(err, "failed to marshal %s", addr.Kind())
	}
	return string(b), nil
}

// MustMarshal is Marshal for addresses known to be valid, e.g. in tests and constants.
func MustMarshal(addr Address) string {
	s, err := Marshal(addr)
	if err != nil {
		panic(err)
	}
	return s
}

// Unmarshal parses the canonical string form produced by Marshal.
func Unmarshal(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == EmptyObject {
		return nil, ErrEmptyAddress
	}

	var w wireAddress
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return nil, oops.In("address").Wrapf(err, "malformed address")
	}

	switch w.TypeName {
	case KindWebSocketClient.String():
		return WebSocketClientAddress{ID: w.ID}, nil
	case KindWebSocket.String():
		return WebSocketAddress{Protocol: w.Protocol, Host: w.Host, Port: w.Port, Path: w.Path}, nil
	case KindBrowser.String():
		return BrowserAddress{WindowID: w.WindowID}, nil
	case KindChannel.String():
		return ChannelAddress{MessagingEndpointURL: w.MessagingEndpointURL, ChannelID: w.ChannelID}, nil
	case "":
		return nil, ErrEmptyAddress
	default:
		return nil, oops.In("address").With("type_name", w.TypeName).Wrapf(ErrUnknownType, "cannot decode %q", w.TypeName)
	}
}

// Persistable reports whether addr may be written to a persistent store:
// it must not be in-process and must not serialize to EmptyObject.
func Persistable(addr Address) bool {
	if addr == nil || IsInProcess(addr) {
		return false
	}
	s, err := Marshal(addr)
	return err == nil && s != EmptyObject
}
