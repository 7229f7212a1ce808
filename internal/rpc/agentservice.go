package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// AgentServiceName is the instance-control service every node agent hosts.
// The scheduler is its only caller.
const AgentServiceName = "skiff.agent.InstanceService"

// AgentServiceServer is implemented by node agents.
type AgentServiceServer interface {
	// Create starts local execution of the instance and streams its
	// lifecycle updates until it reaches a terminal state.
	Create(in *Instance, stream AgentService_CreateServer) error
	// Signal delivers a control signal to a locally running instance.
	Signal(ctx context.Context, in *SignalInstruction) (*Empty, error)
}

type AgentService_CreateServer interface {
	Send(*InstanceStatus) error
	grpc.ServerStream
}

type agentCreateServer struct {
	grpc.ServerStream
}

func (s *agentCreateServer) Send(m *InstanceStatus) error { return s.ServerStream.SendMsg(m) }

func agentCreateHandler(srv any, stream grpc.ServerStream) error {
	in := new(Instance)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AgentServiceServer).Create(in, &agentCreateServer{stream})
}

func agentSignalHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SignalInstruction)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).Signal(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AgentServiceName + "/Signal"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServiceServer).Signal(ctx, req.(*SignalInstruction))
	})
}

var AgentServiceDesc = grpc.ServiceDesc{
	ServiceName: AgentServiceName,
	HandlerType: (*AgentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Signal", Handler: agentSignalHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Create", Handler: agentCreateHandler, ServerStreams: true},
	},
}

func RegisterAgentServiceServer(s grpc.ServiceRegistrar, srv AgentServiceServer) {
	s.RegisterService(&AgentServiceDesc, srv)
}

// AgentServiceClient is used by the scheduler to drive instances on a node.
type AgentServiceClient interface {
	Create(ctx context.Context, in *Instance, opts ...grpc.CallOption) (AgentService_CreateClient, error)
	Signal(ctx context.Context, in *SignalInstruction, opts ...grpc.CallOption) (*Empty, error)
}

type AgentService_CreateClient interface {
	Recv() (*InstanceStatus, error)
	grpc.ClientStream
}

type agentServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAgentServiceClient(cc grpc.ClientConnInterface) AgentServiceClient {
	return &agentServiceClient{cc: cc}
}

func (c *agentServiceClient) Create(ctx context.Context, in *Instance, opts ...grpc.CallOption) (AgentService_CreateClient, error) {
	stream, err := c.cc.NewStream(ctx, &AgentServiceDesc.Streams[0], "/"+AgentServiceName+"/Create", opts...)
	if err != nil {
		return nil, err
	}
	x := &agentCreateClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type agentCreateClient struct {
	grpc.ClientStream
}

func (c *agentCreateClient) Recv() (*InstanceStatus, error) {
	m := new(InstanceStatus)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *agentServiceClient) Signal(ctx context.Context, in *SignalInstruction, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/"+AgentServiceName+"/Signal", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
