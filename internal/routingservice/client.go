package routingservice

import (
	"context"
	"strings"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/meshrouter/internal/auth"
	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

// ClientOptions configures a Client
type ClientOptions struct {
	// ParticipantID is registered at the parent when the client is attached
	ParticipantID string

	// Auth signs router tokens; nil sends none
	Auth *auth.JWTAuth

	// Subject names this router in its tokens
	Subject string

	// DialOptions are appended to the defaults
	DialOptions []grpc.DialOption
}

// Client is a routing.RoutingProxy talking to a parent router over gRPC.
type Client struct {
	target        string
	participantID string
	conn          *grpc.ClientConn
}

// Dial creates a client for the routing service at target. The connection is
// established lazily on the first call.
func Dial(target string, opts ClientOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if opts.Auth != nil {
		subject := opts.Subject
		if subject == "" {
			subject = opts.ParticipantID
		}
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(newTokenCredentials(opts.Auth, subject)))
	}
	dialOpts = append(dialOpts, opts.DialOptions...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, oops.In("routingservice").With("target", target).Wrapf(err, "create client")
	}
	return &Client{target: target, participantID: opts.ParticipantID, conn: conn}, nil
}

// Target returns the dialled address
func (c *Client) Target() string { return c.target }

func (c *Client) ProxyParticipantID() string { return c.participantID }

func (c *Client) AddNextHop(ctx context.Context, participantID string, addr address.Address, isGloballyVisible bool) error {
	serialized, err := address.Marshal(addr)
	if err != nil {
		return oops.In("routingservice").With("participant_id", participantID).Wrapf(err, "serialize address")
	}
	_, err = c.invoke(ctx, MethodAddNextHop, map[string]*structpb.Value{
		fieldParticipantID:     structpb.NewStringValue(participantID),
		fieldAddress:           structpb.NewStringValue(serialized),
		fieldIsGloballyVisible: structpb.NewBoolValue(isGloballyVisible),
	})
	return err
}

func (c *Client) RemoveNextHop(ctx context.Context, participantID string) error {
	_, err := c.invoke(ctx, MethodRemoveNextHop, map[string]*structpb.Value{
		fieldParticipantID: structpb.NewStringValue(participantID),
	})
	return err
}

func (c *Client) ResolveNextHop(ctx context.Context, participantID string) (bool, error) {
	resp, err := c.invoke(ctx, MethodResolveNextHop, map[string]*structpb.Value{
		fieldParticipantID: structpb.NewStringValue(participantID),
	})
	if err != nil {
		return false, err
	}
	return boolField(resp, fieldResolved), nil
}

func (c *Client) AddMulticastReceiver(ctx context.Context, receiver routing.MulticastReceiver) error {
	_, err := c.invoke(ctx, MethodAddMulticastReceiver, receiverFields(receiver))
	return err
}

func (c *Client) RemoveMulticastReceiver(ctx context.Context, receiver routing.MulticastReceiver) error {
	_, err := c.invoke(ctx, MethodRemoveMulticastReceiver, receiverFields(receiver))
	return err
}

func (c *Client) ReplyToAddress(ctx context.Context) (string, error) {
	resp, err := c.invoke(ctx, MethodGetReplyToAddress, nil)
	if err != nil {
		return "", err
	}
	return stringField(resp, fieldReplyToAddress), nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

var _ routing.RoutingProxy = (*Client)(nil)

func (c *Client) invoke(ctx context.Context, method string, fields map[string]*structpb.Value) (*structpb.Struct, error) {
	if fields == nil {
		fields = map[string]*structpb.Value{}
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethodName(method), newStruct(fields), resp); err != nil {
		return nil, fromStatus(method, err)
	}
	return resp, nil
}

func receiverFields(r routing.MulticastReceiver) map[string]*structpb.Value {
	return map[string]*structpb.Value{
		fieldMulticastID:             structpb.NewStringValue(r.MulticastID),
		fieldSubscriberParticipantID: structpb.NewStringValue(r.SubscriberParticipantID),
		fieldProviderParticipantID:   structpb.NewStringValue(r.ProviderParticipantID),
	}
}

// fromStatus turns a gRPC status back into the router error kind it came from.
func fromStatus(method string, err error) error {
	errb := oops.In("routingservice").With("method", method)
	st, ok := status.FromError(err)
	if !ok {
		return errb.Wrapf(err, "%s failed", method)
	}
	switch st.Code() {
	case codes.NotFound:
		return errb.Wrapf(routing.ErrNotReachable, "%s: %s", method, st.Message())
	case codes.Unavailable:
		if strings.Contains(st.Message(), routing.ErrAlreadyShutDown.Error()) {
			return errb.Wrapf(routing.ErrAlreadyShutDown, "%s: %s", method, st.Message())
		}
	case codes.InvalidArgument:
		if strings.Contains(st.Message(), routing.ErrInvalidAddressType.Error()) {
			return errb.Wrapf(routing.ErrInvalidAddressType, "%s: %s", method, st.Message())
		}
	}
	return errb.Wrapf(err, "%s failed", method)
}
