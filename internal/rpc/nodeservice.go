package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// NodeServiceName is the scheduler-hosted service node agents talk to.
const NodeServiceName = "skiff.scheduler.NodeService"

// NodeServiceServer is implemented by the scheduler.
type NodeServiceServer interface {
	// Register presents the node's credential and returns its assigned
	// identity.
	Register(ctx context.Context, req *NodeRegisterRequest) (*NodeRegisterResponse, error)
	// Unregister removes the node from the cluster.
	Unregister(ctx context.Context, req *NodeUnregisterRequest) (*NodeUnregisterResponse, error)
	// Status consumes the node's long-lived client stream of resource
	// reports.
	Status(stream NodeService_StatusServer) error
}

type NodeService_StatusServer interface {
	SendAndClose(*Empty) error
	Recv() (*NodeStatus, error)
	grpc.ServerStream
}

type nodeStatusServer struct {
	grpc.ServerStream
}

func (s *nodeStatusServer) SendAndClose(m *Empty) error { return s.ServerStream.SendMsg(m) }

func (s *nodeStatusServer) Recv() (*NodeStatus, error) {
	m := new(NodeStatus)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func nodeRegisterHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(NodeRegisterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServiceServer).Register(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + NodeServiceName + "/Register"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(NodeServiceServer).Register(ctx, req.(*NodeRegisterRequest))
	})
}

func nodeUnregisterHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(NodeUnregisterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServiceServer).Unregister(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + NodeServiceName + "/Unregister"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(NodeServiceServer).Unregister(ctx, req.(*NodeUnregisterRequest))
	})
}

func nodeStatusHandler(srv any, stream grpc.ServerStream) error {
	return srv.(NodeServiceServer).Status(&nodeStatusServer{stream})
}

var NodeServiceDesc = grpc.ServiceDesc{
	ServiceName: NodeServiceName,
	HandlerType: (*NodeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: nodeRegisterHandler},
		{MethodName: "Unregister", Handler: nodeUnregisterHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Status", Handler: nodeStatusHandler, ClientStreams: true},
	},
}

func RegisterNodeServiceServer(s grpc.ServiceRegistrar, srv NodeServiceServer) {
	s.RegisterService(&NodeServiceDesc, srv)
}

// NodeServiceClient is used by node agents.
type NodeServiceClient interface {
	Register(ctx context.Context, in *NodeRegisterRequest, opts ...grpc.CallOption) (*NodeRegisterResponse, error)
	Unregister(ctx context.Context, in *NodeUnregisterRequest, opts ...grpc.CallOption) (*NodeUnregisterResponse, error)
	Status(ctx context.Context, opts ...grpc.CallOption) (NodeService_StatusClient, error)
}

type NodeService_StatusClient interface {
	Send(*NodeStatus) error
	CloseAndRecv() (*Empty, error)
	grpc.ClientStream
}

type nodeServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewNodeServiceClient(cc grpc.ClientConnInterface) NodeServiceClient {
	return &nodeServiceClient{cc: cc}
}

func (c *nodeServiceClient) Register(ctx context.Context, in *NodeRegisterRequest, opts ...grpc.CallOption) (*NodeRegisterResponse, error) {
	out := new(NodeRegisterResponse)
	if err := c.cc.Invoke(ctx, "/"+NodeServiceName+"/Register", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeServiceClient) Unregister(ctx context.Context, in *NodeUnregisterRequest, opts ...grpc.CallOption) (*NodeUnregisterResponse, error) {
	out := new(NodeUnregisterResponse)
	if err := c.cc.Invoke(ctx, "/"+NodeServiceName+"/Unregister", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeServiceClient) Status(ctx context.Context, opts ...grpc.CallOption) (NodeService_StatusClient, error) {
	stream, err := c.cc.NewStream(ctx, &NodeServiceDesc.Streams[0], "/"+NodeServiceName+"/Status", opts...)
	if err != nil {
		return nil, err
	}
	return &nodeStatusClient{stream}, nil
}

type nodeStatusClient struct {
	grpc.ClientStream
}

func (c *nodeStatusClient) Send(m *NodeStatus) error { return c.ClientStream.SendMsg(m) }

func (c *nodeStatusClient) CloseAndRecv() (*Empty, error) {
	if err := c.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(Empty)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
