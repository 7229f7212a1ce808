// Package runtime wires the node agent together: resource accounting, the
// workload execution manager, the instance service, and the scheduler
// client.
package runtime

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/skiffworks/skiff/internal/agent/collector"
	"github.com/skiffworks/skiff/internal/agent/executor"
	"github.com/skiffworks/skiff/internal/config"
	agentgrpc "github.com/skiffworks/skiff/internal/grpc/agent"
	"github.com/skiffworks/skiff/internal/retry"
)

// Agent is one node agent process.
type Agent struct {
	logger *logrus.Entry
	cfg    *config.Agent

	// SessionID is generated fresh at startup; it is never persisted
	// across restarts.
	SessionID string
}

func New(logger *logrus.Entry, cfg *config.Agent) *Agent {
	return &Agent{
		logger:    logger,
		cfg:       cfg,
		SessionID: uuid.NewString(),
	}
}

// Run starts the instance service and the scheduler client and blocks until
// either fails or ctx is done. Client startup failures (connect, register,
// stream-establish exhaustion) propagate out and are fatal for the process.
func (a *Agent) Run(ctx context.Context) error {
	sampler := collector.NewHostSampler(a.cfg.DiskPath)
	dockerRT, err := executor.NewDockerRuntime()
	if err != nil {
		return err
	}
	manager := executor.NewManager(a.logger.WithField("component", "executor"), dockerRT)
	server := agentgrpc.NewServer(a.logger.WithField("component", "instance-service"), manager)

	certificate := a.cfg.Certificate
	if certificate == "" {
		// Opaque-credential mode: present the session id.
		certificate = a.SessionID
	}
	client := &agentgrpc.Client{
		Logger:        a.logger.WithField("component", "scheduler-client"),
		SchedulerAddr: a.cfg.Client.Addr(),
		Certificate:   certificate,
		Sampler:       sampler,
		Interval:      a.cfg.HeartbeatInterval.Std(),
		Policy: retry.Policy{
			Delay:       a.cfg.RetryDelay.Std(),
			MaxAttempts: a.cfg.RetryAttempts,
		},
	}

	errCh := make(chan error, 2)
	go func() { errCh <- server.Serve(a.cfg.Server.Addr()) }()
	go func() { errCh <- client.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
