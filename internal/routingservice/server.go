package routingservice

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/meshrouter/internal/auth"
	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

// Backend is the router a Server exposes
type Backend interface {
	AddNextHop(ctx context.Context, participantID string, addr address.Address, isGloballyVisible bool) *routing.Completion
	RemoveNextHop(ctx context.Context, participantID string) *routing.Completion
	ResolveNextHop(ctx context.Context, participantID string) (address.Address, error)
	AddMulticastReceiver(ctx context.Context, receiver routing.MulticastReceiver) *routing.Completion
	RemoveMulticastReceiver(ctx context.Context, receiver routing.MulticastReceiver) *routing.Completion
	ReplyToAddress() string
}

// ServerOptions configures a Server
type ServerOptions struct {
	// Auth validates router tokens; nil accepts every caller
	Auth   *auth.JWTAuth
	Logger *zap.Logger
}

// Server serves meshrouter.v1.Routing for one backend.
type Server struct {
	backend Backend
	logger  *zap.Logger
	grpc    *grpc.Server

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewServer creates a server for backend.
func NewServer(backend Backend, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("routingservice")

	var serverOpts []grpc.ServerOption
	if opts.Auth != nil {
		serverOpts = append(serverOpts, grpc.UnaryInterceptor(AuthInterceptor(opts.Auth)))
	}

	s := &Server{
		backend: backend,
		logger:  logger,
		grpc:    grpc.NewServer(serverOpts...),
	}
	s.grpc.RegisterService(&serviceDesc, &handler{backend: backend, logger: logger})
	return s
}

// Listen binds addr and serves in the background.
func (s *Server) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.Serve(lis); err != nil {
			s.logger.Error("routing service stopped", zap.Error(err))
		}
	}()
	return nil
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = lis.Close()
		return grpc.ErrServerStopped
	}
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("routing service listening", zap.String("address", lis.Addr().String()))
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Addr returns the listening address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the server gracefully. It is safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.grpc.GracefulStop()
}

type handler struct {
	backend Backend
	logger  *zap.Logger
}

func (h *handler) AddNextHop(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	participantID := stringField(req, fieldParticipantID)
	if participantID == "" {
		return nil, status.Error(codes.InvalidArgument, "participantId is required")
	}
	addr, err := address.Unmarshal(stringField(req, fieldAddress))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid address: %v", err)
	}

	h.logger.Debug("child router adds next hop",
		zap.String("participant_id", participantID),
		zap.Stringer("address", addr))
	err = h.backend.AddNextHop(ctx, participantID, addr, boolField(req, fieldIsGloballyVisible)).Wait(ctx)
	return empty(), toStatus(err)
}

func (h *handler) RemoveNextHop(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	participantID := stringField(req, fieldParticipantID)
	if participantID == "" {
		return nil, status.Error(codes.InvalidArgument, "participantId is required")
	}
	err := h.backend.RemoveNextHop(ctx, participantID).Wait(ctx)
	return empty(), toStatus(err)
}

// ResolveNextHop reports an unknown or unreachable participant as resolved=false.
func (h *handler) ResolveNextHop(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	participantID := stringField(req, fieldParticipantID)
	if participantID == "" {
		return nil, status.Error(codes.InvalidArgument, "participantId is required")
	}

	_, err := h.backend.ResolveNextHop(ctx, participantID)
	switch routing.KindOf(err) {
	case routing.KindNone:
		if err != nil {
			return nil, toStatus(err)
		}
	case routing.KindUnknownRecipient, routing.KindNotReachable:
		return newStruct(map[string]*structpb.Value{fieldResolved: structpb.NewBoolValue(false)}), nil
	default:
		return nil, toStatus(err)
	}
	return newStruct(map[string]*structpb.Value{fieldResolved: structpb.NewBoolValue(true)}), nil
}

func (h *handler) AddMulticastReceiver(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	receiver, err := receiverFrom(req)
	if err != nil {
		return nil, err
	}
	return empty(), toStatus(h.backend.AddMulticastReceiver(ctx, receiver).Wait(ctx))
}

func (h *handler) RemoveMulticastReceiver(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	receiver, err := receiverFrom(req)
	if err != nil {
		return nil, err
	}
	return empty(), toStatus(h.backend.RemoveMulticastReceiver(ctx, receiver).Wait(ctx))
}

func (h *handler) GetReplyToAddress(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	replyTo := h.backend.ReplyToAddress()
	if replyTo == "" {
		return nil, status.Error(codes.FailedPrecondition, "reply-to address not known yet")
	}
	return newStruct(map[string]*structpb.Value{fieldReplyToAddress: structpb.NewStringValue(replyTo)}), nil
}

var _ routingHandler = (*handler)(nil)

func receiverFrom(req *structpb.Struct) (routing.MulticastReceiver, error) {
	receiver := routing.MulticastReceiver{
		MulticastID:             stringField(req, fieldMulticastID),
		SubscriberParticipantID: stringField(req, fieldSubscriberParticipantID),
		ProviderParticipantID:   stringField(req, fieldProviderParticipantID),
	}
	if receiver.MulticastID == "" || receiver.SubscriberParticipantID == "" || receiver.ProviderParticipantID == "" {
		return receiver, status.Error(codes.InvalidArgument, "multicastId, subscriberParticipantId and providerParticipantId are required")
	}
	return receiver, nil
}

func empty() *structpb.Struct {
	return newStruct(map[string]*structpb.Value{})
}

// toStatus maps router errors onto gRPC status codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch routing.KindOf(err) {
	case routing.KindNotReachable, routing.KindUnknownRecipient:
		return status.Error(codes.NotFound, err.Error())
	case routing.KindAlreadyShutDown:
		return status.Error(codes.Unavailable, err.Error())
	case routing.KindInvalidAddressType:
		return status.Error(codes.InvalidArgument, err.Error())
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
