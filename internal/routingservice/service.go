// Package routingservice exposes a router to child routers over gRPC and provides the
// client side, a routing.RoutingProxy that child routers attach to.
//
// Requests and responses are google.protobuf.Struct values so no generated code is
// needed; the service descriptor is declared in this file.
package routingservice

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "meshrouter.v1.Routing"

// Method names
const (
	MethodAddNextHop              = "AddNextHop"
	MethodRemoveNextHop           = "RemoveNextHop"
	MethodResolveNextHop          = "ResolveNextHop"
	MethodAddMulticastReceiver    = "AddMulticastReceiver"
	MethodRemoveMulticastReceiver = "RemoveMulticastReceiver"
	MethodGetReplyToAddress       = "GetReplyToAddress"
)

// Request and response field names
const (
	fieldParticipantID           = "participantId"
	fieldAddress                 = "address"
	fieldIsGloballyVisible       = "isGloballyVisible"
	fieldMulticastID             = "multicastId"
	fieldSubscriberParticipantID = "subscriberParticipantId"
	fieldProviderParticipantID   = "providerParticipantId"
	fieldResolved                = "resolved"
	fieldReplyToAddress          = "replyToAddress"
)

// routingHandler is implemented by the server side of the service
type routingHandler interface {
	AddNextHop(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RemoveNextHop(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ResolveNextHop(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	AddMulticastReceiver(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RemoveMulticastReceiver(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetReplyToAddress(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(h routingHandler, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	fullMethod := fullMethodName(method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			h := srv.(routingHandler)
			if interceptor == nil {
				return call(h, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(h, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// serviceDesc describes meshrouter.v1.Routing
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*routingHandler)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodAddNextHop, routingHandler.AddNextHop),
		unary(MethodRemoveNextHop, routingHandler.RemoveNextHop),
		unary(MethodResolveNextHop, routingHandler.ResolveNextHop),
		unary(MethodAddMulticastReceiver, routingHandler.AddMulticastReceiver),
		unary(MethodRemoveMulticastReceiver, routingHandler.RemoveMulticastReceiver),
		unary(MethodGetReplyToAddress, routingHandler.GetReplyToAddress),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meshrouter/v1/routing.proto",
}

func fullMethodName(method string) string {
	return "/" + ServiceName + "/" + method
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func newStruct(fields map[string]*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: fields}
}
