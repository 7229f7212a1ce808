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

	"github.com/skiffworks/skiff/internal/config"
	"github.com/skiffworks/skiff/internal/ctxlog"
	httpserver "github.com/skiffworks/skiff/internal/http"
	v1 "github.com/skiffworks/skiff/internal/http/v1"
	"github.com/skiffworks/skiff/internal/rpc"
	"github.com/skiffworks/skiff/internal/workloads"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/skiff/controller.yaml", "path to controller config file")
	flag.Parse()

	cfg, err := config.LoadController(*configPath)
	if err != nil {
		return err
	}
	logger := ctxlog.New(os.Stderr, cfg.Log.Format, cfg.Log.Level).WithField("service", "skiff-controller")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store workloads.Store
	if len(cfg.EtcdEndpoints) > 0 {
		etcd, err := workloads.NewEtcdStore(cfg.EtcdEndpoints)
		if err != nil {
			return fmt.Errorf("connect etcd: %w", err)
		}
		defer etcd.Close()
		store = etcd
	} else {
		logger.Warn("no etcd endpoints configured, workload definitions are in-memory only")
		store = workloads.NewMemStore()
	}

	conn, err := rpc.Dial(ctx, cfg.Scheduler.Addr())
	if err != nil {
		return fmt.Errorf("connect scheduler at %s: %w", cfg.Scheduler.Addr(), err)
	}
	defer conn.Close()

	handlers := &v1.Handlers{
		Logger:       logger,
		Store:        store,
		Instances:    rpc.NewInstanceServiceClient(conn),
		EnrollSecret: []byte(cfg.EnrollSecret),
	}

	srv := &http.Server{
		Addr:    cfg.Listen.Addr(),
		Handler: httpserver.NewServer(handlers),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("api server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
