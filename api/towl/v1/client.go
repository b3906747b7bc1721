package towlv1

import (
	"context"

	"google.golang.org/grpc"
)

// TowlClient is the client API of towl.v1.Towl.
type TowlClient interface {
	Add(ctx context.Context, in *AddRequest, opts ...grpc.CallOption) (*AddResponse, error)
	List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error)
	Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (Towl_GetClient, error)
	Config(ctx context.Context, in *ConfigRequest, opts ...grpc.CallOption) (*ConfigResponse, error)
	Retain(ctx context.Context, in *RetainRequest, opts ...grpc.CallOption) (*RetainResponse, error)
	Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error)
}

type towlClient struct {
	cc grpc.ClientConnInterface
}

// NewTowlClient returns a client that always uses the JSON codec.
func NewTowlClient(cc grpc.ClientConnInterface) TowlClient {
	return &towlClient{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *towlClient) Add(ctx context.Context, in *AddRequest, opts ...grpc.CallOption) (*AddResponse, error) {
	out := new(AddResponse)
	if err := c.cc.Invoke(ctx, MethodAdd, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *towlClient) List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error) {
	out := new(ListResponse)
	if err := c.cc.Invoke(ctx, MethodList, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *towlClient) Config(ctx context.Context, in *ConfigRequest, opts ...grpc.CallOption) (*ConfigResponse, error) {
	out := new(ConfigResponse)
	if err := c.cc.Invoke(ctx, MethodConfig, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *towlClient) Retain(ctx context.Context, in *RetainRequest, opts ...grpc.CallOption) (*RetainResponse, error) {
	out := new(RetainResponse)
	if err := c.cc.Invoke(ctx, MethodRetain, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *towlClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.cc.Invoke(ctx, MethodStatus, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Towl_GetClient receives the entries of a Get. Recv returns io.EOF when the
// server ends the stream.
type Towl_GetClient interface {
	Recv() (*LogEntry, error)
	grpc.ClientStream
}

type towlGetClient struct {
	grpc.ClientStream
}

func (x *towlGetClient) Recv() (*LogEntry, error) {
	m := new(LogEntry)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *towlClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (Towl_GetClient, error) {
	stream, err := c.cc.NewStream(ctx, &Towl_ServiceDesc.Streams[0], MethodGet, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &towlGetClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
