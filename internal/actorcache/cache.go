// Package actorcache resolves actor DIDs to display metadata, caching the
// AppView lookups with a fixed time-to-live.
package actorcache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/bluesky"
	"github.com/blackmichael/bluesky-federation/internal/domain"
	"github.com/blackmichael/bluesky-federation/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a fetched entry is served without a new lookup.
	DefaultTTL = 24 * time.Hour

	// DefaultLookupTimeout bounds a single remote profile lookup.
	DefaultLookupTimeout = 2 * time.Second
)

// Backend stores cache entries. GetActor returns domain.ErrNotFound on a
// miss. *store.Store, MemoryBackend and RedisBackend implement it.
type Backend interface {
	GetActor(ctx context.Context, did string) (*domain.ActorInfo, error)
	PutActor(ctx context.Context, actor *domain.ActorInfo) error
	DeleteStaleActors(ctx context.Context, cutoff time.Time) (int64, error)
}

// Fetcher performs the remote profile lookup.
type Fetcher interface {
	GetProfile(ctx context.Context, actor string) (*bluesky.ProfileView, error)
}

// Options configures a Cache. Zero values select the defaults.
type Options struct {
	TTL           time.Duration
	LookupTimeout time.Duration
	Clock         func() time.Time
	Observer      telemetry.Observer
}

// Cache is a read-through actor metadata cache. It is safe for concurrent
// use; concurrent misses for the same DID share one remote lookup.
type Cache struct {
	backend       Backend
	fetcher       Fetcher
	ttl           time.Duration
	lookupTimeout time.Duration
	now           func() time.Time
	observer      telemetry.Observer
	logger        *slog.Logger
	group         singleflight.Group
}

// New creates a cache over backend that fills misses from fetcher.
func New(backend Backend, fetcher Fetcher, opts Options, logger *slog.Logger) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Cache{
		backend:       backend,
		fetcher:       fetcher,
		ttl:           opts.TTL,
		lookupTimeout: opts.LookupTimeout,
		now:           opts.Clock,
		observer:      opts.Observer,
		logger:        logger,
	}
}

// Resolve returns metadata for did. A fresh entry is returned as is. A
// missing or expired one triggers a remote lookup; if that fails the stale
// entry is returned when there is one, otherwise nil. The lookup is cut off
// after the configured lookup timeout. Errors never escape.
func (c *Cache) Resolve(ctx context.Context, did string) *domain.ActorInfo {
	cached, err := c.backend.GetActor(ctx, did)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("actor cache read failed", "did", did, "error", err)
		}
		cached = nil
	}
	if cached != nil && c.now().Sub(cached.CachedAt) < c.ttl {
		return cached
	}

	telemetry.Emit(ctx, c.observer, telemetry.EventActorCacheMiss, attribute.String("did", did))

	v, err, _ := c.group.Do(did, func() (any, error) {
		return c.fetch(ctx, did)
	})
	if fresh, ok := v.(*domain.ActorInfo); ok && fresh != nil {
		return fresh
	}

	c.logger.Warn("actor lookup failed", "did", did, "error", err, "stale", cached != nil)
	if cached != nil {
		telemetry.Emit(ctx, c.observer, telemetry.EventActorCacheStale, attribute.String("did", did))
	}
	return cached
}

func (c *Cache) fetch(ctx context.Context, did string) (*domain.ActorInfo, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()
	profile, err := c.fetcher.GetProfile(lookupCtx, did)
	if err != nil {
		return nil, err
	}

	info := &domain.ActorInfo{
		DID:         did,
		Handle:      profile.Handle,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.Avatar,
		CachedAt:    c.now(),
	}
	if err := c.backend.PutActor(ctx, info); err != nil {
		c.logger.Warn("actor cache write failed", "did", did, "error", err)
	}
	return info, nil
}

// StartPruneJob runs a background loop that removes entries older than
// maxAge. It runs immediately on start and then repeats at the given
// interval. It blocks until ctx is cancelled.
func (c *Cache) StartPruneJob(ctx context.Context, interval, maxAge time.Duration) {
	c.prune(ctx, maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.prune(ctx, maxAge)
		}
	}
}

func (c *Cache) prune(ctx context.Context, maxAge time.Duration) {
	deleted, err := c.backend.DeleteStaleActors(ctx, c.now().Add(-maxAge))
	if err != nil {
		c.logger.Error("actor cache prune failed", "error", err)
	} else if deleted > 0 {
		c.logger.Info("actor cache prune complete", "deleted", deleted)
	}
}
