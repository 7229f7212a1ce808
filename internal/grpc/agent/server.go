// Package agent holds the node agent's gRPC surfaces: the instance-control
// server the scheduler calls into, and the client that registers with and
// streams status to the scheduler.
package agent

import (
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/skiffworks/skiff/internal/agent/executor"
	"github.com/skiffworks/skiff/internal/rpc"
)

// statusSinkBuffer bounds the per-create status queue between the execution
// manager and the response stream.
const statusSinkBuffer = 1024

// Server implements the agent-hosted InstanceService over the local workload
// execution manager.
type Server struct {
	logger  *logrus.Entry
	manager *executor.Manager
}

func NewServer(logger *logrus.Entry, manager *executor.Manager) *Server {
	return &Server{logger: logger, manager: manager}
}

// Serve listens on addr and serves the instance service until the listener
// fails or srv is stopped.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	grpcServer := grpc.NewServer()
	rpc.RegisterAgentServiceServer(grpcServer, s)
	s.logger.WithField("addr", addr).Info("agent instance service listening")
	return grpcServer.Serve(lis)
}

// Create starts the instance locally and relays its status reports until it
// reaches a terminal state or the scheduler drops the stream. Execution
// continues if the stream drops; only the relay stops.
func (s *Server) Create(in *rpc.Instance, stream rpc.AgentService_CreateServer) error {
	ctx := stream.Context()
	sink := make(chan *rpc.InstanceStatus, statusSinkBuffer)
	if err := s.manager.Create(ctx, in, sink); err != nil {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st := <-sink:
			if err := stream.Send(st); err != nil {
				return err
			}
			if st.Status.Terminal() {
				return nil
			}
		}
	}
}

// Signal delivers a control signal to a locally running instance.
func (s *Server) Signal(ctx context.Context, in *rpc.SignalInstruction) (*rpc.Empty, error) {
	if err := s.manager.Signal(ctx, in); err != nil {
		if errors.Is(err, executor.ErrUnknownInstance) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, "cannot signal workload")
	}
	return &rpc.Empty{}, nil
}
