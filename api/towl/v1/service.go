package towlv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "towl.v1.Towl"

// Full method names.
const (
	MethodAdd    = "/" + ServiceName + "/Add"
	MethodList   = "/" + ServiceName + "/List"
	MethodGet    = "/" + ServiceName + "/Get"
	MethodConfig = "/" + ServiceName + "/Config"
	MethodRetain = "/" + ServiceName + "/Retain"
	MethodStatus = "/" + ServiceName + "/Status"
)

// TowlServer is implemented by the collector.
type TowlServer interface {
	Add(context.Context, *AddRequest) (*AddResponse, error)
	List(context.Context, *ListRequest) (*ListResponse, error)
	Get(*GetRequest, Towl_GetServer) error
	Config(context.Context, *ConfigRequest) (*ConfigResponse, error)
	Retain(context.Context, *RetainRequest) (*RetainResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
}

// UnimplementedTowlServer can be embedded to satisfy TowlServer.
type UnimplementedTowlServer struct{}

func (UnimplementedTowlServer) Add(context.Context, *AddRequest) (*AddResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Add not implemented")
}
func (UnimplementedTowlServer) List(context.Context, *ListRequest) (*ListResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method List not implemented")
}
func (UnimplementedTowlServer) Get(*GetRequest, Towl_GetServer) error {
	return status.Error(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedTowlServer) Config(context.Context, *ConfigRequest) (*ConfigResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Config not implemented")
}
func (UnimplementedTowlServer) Retain(context.Context, *RetainRequest) (*RetainResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Retain not implemented")
}
func (UnimplementedTowlServer) Status(context.Context, *StatusRequest) (*StatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Status not implemented")
}

// Towl_GetServer is the server side of the Get stream.
type Towl_GetServer interface {
	Send(*LogEntry) error
	grpc.ServerStream
}

type towlGetServer struct {
	grpc.ServerStream
}

func (x *towlGetServer) Send(m *LogEntry) error { return x.ServerStream.SendMsg(m) }

// RegisterTowlServer registers srv on s.
func RegisterTowlServer(s grpc.ServiceRegistrar, srv TowlServer) {
	s.RegisterService(&Towl_ServiceDesc, srv)
}

func unary[Req any](name string, call func(TowlServer, context.Context, *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TowlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TowlServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func getHandler(srv any, stream grpc.ServerStream) error {
	m := new(GetRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(TowlServer).Get(m, &towlGetServer{stream})
}

// Towl_ServiceDesc describes towl.v1.Towl for grpc.Server.RegisterService.
var Towl_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TowlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Add", func(s TowlServer, ctx context.Context, r *AddRequest) (any, error) { return s.Add(ctx, r) }),
		unary("List", func(s TowlServer, ctx context.Context, r *ListRequest) (any, error) { return s.List(ctx, r) }),
		unary("Config", func(s TowlServer, ctx context.Context, r *ConfigRequest) (any, error) { return s.Config(ctx, r) }),
		unary("Retain", func(s TowlServer, ctx context.Context, r *RetainRequest) (any, error) { return s.Retain(ctx, r) }),
		unary("Status", func(s TowlServer, ctx context.Context, r *StatusRequest) (any, error) { return s.Status(ctx, r) }),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Get", Handler: getHandler, ServerStreams: true},
	},
	Metadata: "towl/v1/towl.proto",
}
