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

	"github.com/blackmichael/bluesky-federation/internal/app"
	"github.com/blackmichael/bluesky-federation/internal/config"
	"github.com/blackmichael/bluesky-federation/internal/federation"
	"github.com/blackmichael/bluesky-federation/internal/httpserver"
	"github.com/blackmichael/bluesky-federation/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "bluesky-federation", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := httpserver.NewServer(cfg.Port, httpserver.Deps{
		Syncer:        a.Poller,
		Agent:         a.Agent,
		Cursors:       a.Store,
		Notifications: a.Store,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	// Poll the firehose on a fixed interval
	g.Go(func() error {
		federation.NewScheduler(a.Poller, cfg.PollInterval, logger).Run(gctx)
		return nil
	})

	// Drop actor cache entries too old to serve as a fallback
	g.Go(func() error {
		a.Cache.StartPruneJob(gctx, time.Hour, cfg.ActorCacheRetention)
		return nil
	})

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down http server", "error", err)
		}
		return nil
	})

	logger.Info("server started", "port", cfg.Port, "poll_interval", cfg.PollInterval)

	return g.Wait()
}
