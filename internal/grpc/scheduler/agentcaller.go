package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/skiffworks/skiff/internal/controlplane/orchestrator"
	"github.com/skiffworks/skiff/internal/rpc"
)

// Dialer implements orchestrator.AgentCaller over cached gRPC connections to
// node agents.
type Dialer struct {
	logger *logrus.Entry

	// CallTimeout bounds unary agent calls (signal). Zero means no
	// deadline beyond the caller's context.
	CallTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewDialer(logger *logrus.Entry) *Dialer {
	return &Dialer{
		logger:      logger,
		CallTimeout: 10 * time.Second,
		conns:       make(map[string]*grpc.ClientConn),
	}
}

func (d *Dialer) conn(ctx context.Context, addr string) (*grpc.ClientConn, error) {
	d.mu.Lock()
	if conn, ok := d.conns[addr]; ok {
		d.mu.Unlock()
		return conn, nil
	}
	d.mu.Unlock()

	conn, err := rpc.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	if existing, ok := d.conns[addr]; ok {
		d.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	d.conns[addr] = conn
	d.mu.Unlock()
	return conn, nil
}

func (d *Dialer) drop(addr string) {
	d.mu.Lock()
	if conn, ok := d.conns[addr]; ok {
		delete(d.conns, addr)
		_ = conn.Close()
	}
	d.mu.Unlock()
}

// CreateInstance opens the agent's create stream for the instance.
func (d *Dialer) CreateInstance(ctx context.Context, nodeAddr string, inst *rpc.Instance) (orchestrator.InstanceStatusStream, error) {
	conn, err := d.conn(ctx, nodeAddr)
	if err != nil {
		return nil, err
	}
	stream, err := rpc.NewAgentServiceClient(conn).Create(ctx, inst)
	if err != nil {
		d.drop(nodeAddr)
		return nil, err
	}
	return stream, nil
}

// SignalInstance delivers a control signal to the agent at nodeAddr.
func (d *Dialer) SignalInstance(ctx context.Context, nodeAddr string, sig *rpc.SignalInstruction) error {
	conn, err := d.conn(ctx, nodeAddr)
	if err != nil {
		return err
	}
	if d.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.CallTimeout)
		defer cancel()
	}
	if _, err := rpc.NewAgentServiceClient(conn).Signal(ctx, sig); err != nil {
		d.drop(nodeAddr)
		return err
	}
	return nil
}

// Close releases all cached agent connections.
func (d *Dialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for addr, conn := range d.conns {
		_ = conn.Close()
		delete(d.conns, addr)
	}
}
