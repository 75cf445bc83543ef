package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aegis/internal/platform/config"
	"aegis/internal/platform/logger"
	"aegis/internal/platform/redis"
	"aegis/internal/platform/supervisor"
)

// main loads configuration, wires the application and runs it under a
// supervisor until SIGINT or SIGTERM. Business logic lives in internal
// service packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info("initializing aegis",
		"addr", cfg.Server.Addr,
		"environment", cfg.Server.Environment,
		"redis", cfg.Redis.URL != "",
		"database", cfg.Database.URL != "",
		"kafka", cfg.Kafka.Brokers != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.Router(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	tree := supervisor.New(log, supervisor.Config{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddWorker(app.rateLimitCleanup)
	tree.AddWorker(app.escalationCleanup)
	tree.AddWorker(app.sessionCleanup)
	if app.redis != nil {
		tree.AddWorker(redis.NewStatsRecorder(app.redis, 15*time.Second))
	}
	tree.AddAPI(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout, log))

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		log.Warn("services did not stop in time", "count", len(report))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	log.Info("aegis stopped")
	return nil
}

// closer runs cleanup in reverse registration order, logging failures.
type closer struct {
	fns    []func() error
	names  []string
	logger *slog.Logger
}

func (c *closer) add(name string, fn func() error) {
	c.names = append(c.names, name)
	c.fns = append(c.fns, fn)
}

func (c *closer) close() {
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil {
			c.logger.Error("shutdown step failed", "component", c.names[i], "error", err)
		}
	}
}
