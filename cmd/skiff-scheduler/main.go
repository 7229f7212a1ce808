package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skiffworks/skiff/internal/config"
	"github.com/skiffworks/skiff/internal/controlplane/event"
	"github.com/skiffworks/skiff/internal/controlplane/orchestrator"
	"github.com/skiffworks/skiff/internal/ctxlog"
	schedgrpc "github.com/skiffworks/skiff/internal/grpc/scheduler"
	httpserver "github.com/skiffworks/skiff/internal/http"
)

const eventBuffer = 128

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/skiff/scheduler.yaml", "path to scheduler config file")
	flag.Parse()

	cfg, err := config.LoadScheduler(*configPath)
	if err != nil {
		return err
	}
	logger := ctxlog.New(os.Stderr, cfg.Log.Format, cfg.Log.Level).WithField("service", "skiff-scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dialer := schedgrpc.NewDialer(logger)
	defer dialer.Close()

	orch := orchestrator.New(logger, dialer, orchestrator.Options{
		AgentPort:        cfg.AgentPort,
		EnrollSecret:     []byte(cfg.EnrollSecret),
		HeartbeatTimeout: cfg.HeartbeatTimeout.Std(),
	}, reg)

	events := make(chan event.Event, eventBuffer)
	dispatcher := event.NewDispatcher(logger, orch, events, reg)
	go dispatcher.Run(ctx)

	if timeout := cfg.HeartbeatTimeout.Std(); timeout > 0 {
		interval := timeout / 2
		if interval < time.Second {
			interval = time.Second
		}
		go orch.MonitorNodes(ctx, interval)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.WithField("addr", cfg.Ops.Addr()).Info("ops server listening")
		errCh <- http.ListenAndServe(cfg.Ops.Addr(), httpserver.NewOpsServer(reg))
	}()
	go func() {
		logger.WithField("addr", cfg.GRPC.Addr()).Info("scheduler listening")
		errCh <- schedgrpc.NewServer(logger, events, orch).Serve(cfg.GRPC.Addr())
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}
