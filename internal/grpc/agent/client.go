package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/skiffworks/skiff/internal/agent/collector"
	"github.com/skiffworks/skiff/internal/retry"
	"github.com/skiffworks/skiff/internal/rpc"
)

// Client is the agent's scheduler-facing side: it connects, registers, and
// then streams one NodeStatus report per heartbeat interval, strictly in
// that order. Each startup phase retries on the configured policy; exhausting
// it is fatal (Run returns an error and the process is expected to exit).
//
// A stream failure after establishment is also fatal: the agent does not
// reconnect, it restarts under its supervisor and registers a fresh session.
type Client struct {
	Logger        *logrus.Entry
	SchedulerAddr string
	Certificate   string
	Sampler       collector.Sampler
	Interval      time.Duration
	Policy        retry.Policy

	// NodeID is the scheduler-assigned identity, set once registration
	// succeeds.
	NodeID string
}

// Run drives the client through Disconnected -> Connected -> Registered ->
// Streaming, then heartbeats until ctx is done or the stream fails.
func (c *Client) Run(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect to scheduler: %w", err)
	}
	defer conn.Close()
	client := rpc.NewNodeServiceClient(conn)

	if err := c.register(ctx, client); err != nil {
		return fmt.Errorf("register with scheduler: %w", err)
	}

	stream, err := c.openStream(ctx, client)
	if err != nil {
		return fmt.Errorf("open status stream: %w", err)
	}
	return c.heartbeat(ctx, stream)
}

func (c *Client) connect(ctx context.Context) (*grpc.ClientConn, error) {
	var conn *grpc.ClientConn
	err := c.Policy.Do(ctx, func() error {
		var err error
		conn, err = rpc.Dial(ctx, c.SchedulerAddr)
		if err != nil {
			c.Logger.WithError(err).Debug("scheduler connection failed, retrying")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	c.Logger.WithField("scheduler", c.SchedulerAddr).Info("connected to scheduler")
	return conn, nil
}

func (c *Client) register(ctx context.Context, client rpc.NodeServiceClient) error {
	req := &rpc.NodeRegisterRequest{Certificate: c.Certificate}
	var resp *rpc.NodeRegisterResponse
	err := c.Policy.Do(ctx, func() error {
		var err error
		resp, err = client.Register(ctx, req)
		if err != nil {
			c.Logger.WithError(err).Debug("registration failed, retrying")
		}
		return err
	})
	if err != nil {
		return err
	}
	c.NodeID = resp.ID
	c.Logger.WithFields(logrus.Fields{"node": c.NodeID, "ip": resp.IP}).Info("registered with scheduler")
	return nil
}

func (c *Client) openStream(ctx context.Context, client rpc.NodeServiceClient) (rpc.NodeService_StatusClient, error) {
	var stream rpc.NodeService_StatusClient
	err := c.Policy.Do(ctx, func() error {
		var err error
		stream, err = client.Status(ctx)
		if err != nil {
			c.Logger.WithError(err).Debug("status stream failed, retrying")
		}
		return err
	})
	return stream, err
}

// heartbeat sends one report per tick. Declared totals are computed once at
// stream start; usage is freshly sampled every tick.
func (c *Client) heartbeat(ctx context.Context, stream rpc.NodeService_StatusClient) error {
	limit, err := c.Sampler.Totals(ctx)
	if err != nil {
		return fmt.Errorf("sample node capacity: %w", err)
	}

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_, _ = stream.CloseAndRecv()
			return ctx.Err()
		case <-ticker.C:
			usage, err := c.Sampler.Usage(ctx)
			if err != nil {
				return fmt.Errorf("sample node usage: %w", err)
			}
			lim := limit
			st := &rpc.NodeStatus{
				ID:     c.NodeID,
				Status: rpc.StatusRunning,
				Resource: &rpc.Resource{
					Limit: &lim,
					Usage: &usage,
				},
			}
			if err := stream.Send(st); err != nil {
				return fmt.Errorf("send node status: %w", err)
			}
			c.Logger.Debug("node status sent to scheduler")
		}
	}
}
