// Package scheduler hosts the scheduler's gRPC services. Handlers translate
// each RPC into a typed event with a paired reply channel and hand it to the
// dispatcher; they never touch the registries directly.
package scheduler

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/skiffworks/skiff/internal/controlplane/event"
	"github.com/skiffworks/skiff/internal/controlplane/orchestrator"
	"github.com/skiffworks/skiff/internal/rpc"
)

// Server implements the scheduler-hosted NodeService and InstanceService.
type Server struct {
	logger *logrus.Entry
	events chan<- event.Event
	orch   *orchestrator.Orchestrator
}

func NewServer(logger *logrus.Entry, events chan<- event.Event, orch *orchestrator.Orchestrator) *Server {
	return &Server{logger: logger, events: events, orch: orch}
}

// Serve listens on addr and serves both services until the listener fails.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	grpcServer := grpc.NewServer()
	rpc.RegisterNodeServiceServer(grpcServer, s)
	rpc.RegisterInstanceServiceServer(grpcServer, s)
	s.logger.WithField("addr", addr).Info("scheduler gRPC services listening")
	return grpcServer.Serve(lis)
}

// Register handles a node's registration request.
func (s *Server) Register(ctx context.Context, req *rpc.NodeRegisterRequest) (*rpc.NodeRegisterResponse, error) {
	source := ""
	if p, ok := peer.FromContext(ctx); ok {
		source = p.Addr.String()
	}
	reply := make(chan event.RegisterReply, 1)
	s.events <- event.NodeRegister{Request: req, SourceAddr: source, Reply: reply}
	select {
	case r := <-reply:
		if r.Err != nil {
			return nil, callerStatus(r.Err)
		}
		return r.Response, nil
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

// Unregister removes a node from the cluster.
func (s *Server) Unregister(ctx context.Context, req *rpc.NodeUnregisterRequest) (*rpc.NodeUnregisterResponse, error) {
	reply := make(chan error, 1)
	s.events <- event.NodeUnregister{Request: req, Reply: reply}
	select {
	case err := <-reply:
		if err != nil {
			return nil, callerStatus(err)
		}
		return &rpc.NodeUnregisterResponse{}, nil
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

// Status consumes a node's heartbeat stream, feeding one event per report.
func (s *Server) Status(stream rpc.NodeService_StatusServer) error {
	ctx := stream.Context()
	for {
		st, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&rpc.Empty{})
		}
		if err != nil {
			return err
		}
		reply := make(chan error, 1)
		s.events <- event.NodeStatusUpdate{Status: st, Reply: reply}
		select {
		case err := <-reply:
			if err != nil {
				return callerStatus(err)
			}
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		}
	}
}

// Create places and starts a new instance and relays its status stream.
func (s *Server) Create(in *rpc.Instance, stream rpc.InstanceService_CreateServer) error {
	ctx := stream.Context()
	reply := make(chan event.CreateReply, event.CreateStreamBuffer)
	s.events <- event.InstanceCreate{Ctx: ctx, Instance: in, Reply: reply}
	for r := range reply {
		if r.Err != nil {
			return callerStatus(r.Err)
		}
		if err := stream.Send(r.Status); err != nil {
			return err
		}
	}
	return nil
}

// Stop halts an instance but keeps it in the registry.
func (s *Server) Stop(ctx context.Context, in *rpc.InstanceLookup) (*rpc.Empty, error) {
	return s.oneshot(ctx, event.InstanceStop{ID: in.ID, Reply: make(chan error, 1)})
}

// Destroy halts an instance and evicts it from the registry.
func (s *Server) Destroy(ctx context.Context, in *rpc.InstanceLookup) (*rpc.Empty, error) {
	return s.oneshot(ctx, event.InstanceDestroy{ID: in.ID, Reply: make(chan error, 1)})
}

func (s *Server) oneshot(ctx context.Context, ev event.Event) (*rpc.Empty, error) {
	var reply chan error
	switch ev := ev.(type) {
	case event.InstanceStop:
		reply = ev.Reply
	case event.InstanceDestroy:
		reply = ev.Reply
	}
	s.events <- ev
	select {
	case err := <-reply:
		if err != nil {
			return nil, callerStatus(err)
		}
		return &rpc.Empty{}, nil
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

// Get reads the registry's current view of an instance. Reads bypass the
// dispatcher: they trigger no state change.
func (s *Server) Get(ctx context.Context, in *rpc.InstanceLookup) (*rpc.Instance, error) {
	inst, err := s.orch.GetInstance(in.ID)
	if err != nil {
		return nil, callerStatus(err)
	}
	return inst, nil
}

// callerStatus maps orchestrator errors onto gRPC status codes without
// leaking internal detail for unexpected failures.
func callerStatus(err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrInstanceNotFound), errors.Is(err, orchestrator.ErrNodeNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, orchestrator.ErrNoCapacity):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, orchestrator.ErrUnknownNode):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, orchestrator.ErrInvalidCredential):
		return status.Error(codes.Unauthenticated, "invalid credential")
	default:
		return status.Error(codes.Internal, "internal scheduler error")
	}
}
