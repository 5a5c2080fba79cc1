// Package app wires the federation components together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blackmichael/bluesky-federation/internal/actorcache"
	"github.com/blackmichael/bluesky-federation/internal/bluesky"
	"github.com/blackmichael/bluesky-federation/internal/config"
	"github.com/blackmichael/bluesky-federation/internal/federation"
	"github.com/blackmichael/bluesky-federation/internal/firehose"
	"github.com/blackmichael/bluesky-federation/internal/notify"
	"github.com/blackmichael/bluesky-federation/internal/outbound"
	"github.com/blackmichael/bluesky-federation/internal/store"
	"github.com/blackmichael/bluesky-federation/internal/telemetry"
)

// App holds the wired components shared by the server and the CLI.
type App struct {
	Store   *store.Store
	Cache   *actorcache.Cache
	Emitter *notify.Emitter
	Poller  *federation.Poller
	Agent   *outbound.Agent

	closers []func() error
}

// New opens the store and builds every component. The caller must call
// Close when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	st, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &App{Store: st}
	a.closers = append(a.closers, st.Close)
	logger.Info("connected to database", "driver", cfg.DatabaseDriver)

	observer := telemetry.Multi{telemetry.LogObserver{Logger: logger}, telemetry.TraceObserver{}}
	client := bluesky.NewClient(cfg.PDSURL, cfg.AppViewURL)

	backend, err := a.cacheBackend(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Cache = actorcache.New(backend, client, actorcache.Options{
		TTL:           cfg.ActorCacheTTL,
		LookupTimeout: cfg.ActorLookupTimeout,
		Observer:      observer,
	}, logger)

	sinks := []notify.Sink{notify.StoreSink{Repo: st}}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaNotificationTopic)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create kafka sink: %w", err)
		}
		a.closers = append(a.closers, kafkaSink.Close)
		sinks = append(sinks, kafkaSink)
		logger.Info("publishing notifications to kafka", "topic", cfg.KafkaNotificationTopic)
	}
	a.Emitter = notify.NewEmitter(st, a.Cache, logger, sinks...)

	mirror := federation.NewMirror(st, st, a.Emitter, logger)
	ingestor := firehose.NewIngestor(firehose.Config{
		URL:         cfg.FirehoseURL,
		Window:      cfg.BatchWindow,
		IdleTimeout: cfg.BatchIdleTimeout,
		MaxEvents:   cfg.BatchMaxEvents,
	}, logger)
	a.Poller = federation.NewPoller(st, ingestor, firehose.NewFilter(st),
		federation.NewRouter(mirror, logger), observer, logger)

	a.Agent = outbound.NewAgent(client, st, st, st, mirror, observer, logger)
	return a, nil
}

func (a *App) cacheBackend(ctx context.Context, cfg *config.Config) (actorcache.Backend, error) {
	switch cfg.ActorCacheBackend {
	case "memory":
		return actorcache.NewMemoryBackend(), nil
	case "redis":
		client, err := actorcache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return actorcache.NewRedisBackend(client, cfg.ActorCacheRetention), nil
	default:
		return a.Store, nil
	}
}

// Close releases every resource opened by New, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
