package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/skiffworks/skiff/internal/agent/runtime"
	"github.com/skiffworks/skiff/internal/config"
	"github.com/skiffworks/skiff/internal/ctxlog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/skiff/agent.yaml", "path to agent config file")
	flag.Parse()

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		return err
	}
	logger := ctxlog.New(os.Stderr, cfg.Log.Format, cfg.Log.Level).WithField("service", "skiff-agent")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent := runtime.New(logger, cfg)
	logger.WithField("session", agent.SessionID).Info("agent starting")
	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		// The process exits on any fatal error; the supervisor is
		// responsible for restarting it.
		return fmt.Errorf("agent terminated: %w", err)
	}
	logger.Info("shutting down")
	return nil
}
