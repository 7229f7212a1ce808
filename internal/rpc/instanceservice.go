package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// InstanceServiceName is the scheduler-hosted service the API controller
// talks to.
const InstanceServiceName = "skiff.scheduler.InstanceService"

// InstanceServiceServer is implemented by the scheduler.
type InstanceServiceServer interface {
	// Create places the instance on a node and streams its lifecycle
	// updates back for as long as the instance lives.
	Create(in *Instance, stream InstanceService_CreateServer) error
	Stop(ctx context.Context, in *InstanceLookup) (*Empty, error)
	Destroy(ctx context.Context, in *InstanceLookup) (*Empty, error)
	// Get returns the registry's current view of the instance.
	Get(ctx context.Context, in *InstanceLookup) (*Instance, error)
}

type InstanceService_CreateServer interface {
	Send(*InstanceStatus) error
	grpc.ServerStream
}

type instanceCreateServer struct {
	grpc.ServerStream
}

func (s *instanceCreateServer) Send(m *InstanceStatus) error { return s.ServerStream.SendMsg(m) }

func instanceCreateHandler(srv any, stream grpc.ServerStream) error {
	in := new(Instance)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(InstanceServiceServer).Create(in, &instanceCreateServer{stream})
}

func instanceStopHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InstanceLookup)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InstanceServiceServer).Stop(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + InstanceServiceName + "/Stop"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(InstanceServiceServer).Stop(ctx, req.(*InstanceLookup))
	})
}

func instanceDestroyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InstanceLookup)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InstanceServiceServer).Destroy(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + InstanceServiceName + "/Destroy"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(InstanceServiceServer).Destroy(ctx, req.(*InstanceLookup))
	})
}

func instanceGetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InstanceLookup)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InstanceServiceServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + InstanceServiceName + "/Get"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(InstanceServiceServer).Get(ctx, req.(*InstanceLookup))
	})
}

var InstanceServiceDesc = grpc.ServiceDesc{
	ServiceName: InstanceServiceName,
	HandlerType: (*InstanceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stop", Handler: instanceStopHandler},
		{MethodName: "Destroy", Handler: instanceDestroyHandler},
		{MethodName: "Get", Handler: instanceGetHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Create", Handler: instanceCreateHandler, ServerStreams: true},
	},
}

func RegisterInstanceServiceServer(s grpc.ServiceRegistrar, srv InstanceServiceServer) {
	s.RegisterService(&InstanceServiceDesc, srv)
}

// InstanceServiceClient is used by the API controller.
type InstanceServiceClient interface {
	Create(ctx context.Context, in *Instance, opts ...grpc.CallOption) (InstanceService_CreateClient, error)
	Stop(ctx context.Context, in *InstanceLookup, opts ...grpc.CallOption) (*Empty, error)
	Destroy(ctx context.Context, in *InstanceLookup, opts ...grpc.CallOption) (*Empty, error)
	Get(ctx context.Context, in *InstanceLookup, opts ...grpc.CallOption) (*Instance, error)
}

type InstanceService_CreateClient interface {
	Recv() (*InstanceStatus, error)
	grpc.ClientStream
}

type instanceServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewInstanceServiceClient(cc grpc.ClientConnInterface) InstanceServiceClient {
	return &instanceServiceClient{cc: cc}
}

func (c *instanceServiceClient) Create(ctx context.Context, in *Instance, opts ...grpc.CallOption) (InstanceService_CreateClient, error) {
	stream, err := c.cc.NewStream(ctx, &InstanceServiceDesc.Streams[0], "/"+InstanceServiceName+"/Create", opts...)
	if err != nil {
		return nil, err
	}
	x := &instanceCreateClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type instanceCreateClient struct {
	grpc.ClientStream
}

func (c *instanceCreateClient) Recv() (*InstanceStatus, error) {
	m := new(InstanceStatus)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *instanceServiceClient) Stop(ctx context.Context, in *InstanceLookup, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/"+InstanceServiceName+"/Stop", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *instanceServiceClient) Destroy(ctx context.Context, in *InstanceLookup, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/"+InstanceServiceName+"/Destroy", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *instanceServiceClient) Get(ctx context.Context, in *InstanceLookup, opts ...grpc.CallOption) (*Instance, error) {
	out := new(Instance)
	if err := c.cc.Invoke(ctx, "/"+InstanceServiceName+"/Get", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
