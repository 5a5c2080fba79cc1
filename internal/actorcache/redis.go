package actorcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "federation:actor:"

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisBackend stores entries as JSON values. Redis expires each key after
// the retention period, which must outlive the cache TTL for stale entries
// to be available when a lookup fails.
type RedisBackend struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisBackend creates a Redis-backed store.
func NewRedisBackend(client *redis.Client, retention time.Duration) *RedisBackend {
	return &RedisBackend{client: client, retention: retention}
}

type redisEntry struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatar,omitempty"`
	CachedAt    int64  `json:"cachedAt"`
}

func (r *RedisBackend) GetActor(ctx context.Context, did string) (*domain.ActorInfo, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+did).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get actor %s: %w", did, err)
	}
	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode actor %s: %w", did, err)
	}
	return &domain.ActorInfo{
		DID:         e.DID,
		Handle:      e.Handle,
		DisplayName: e.DisplayName,
		AvatarURL:   e.AvatarURL,
		CachedAt:    time.UnixMilli(e.CachedAt).UTC(),
	}, nil
}

func (r *RedisBackend) PutActor(ctx context.Context, actor *domain.ActorInfo) error {
	raw, err := json.Marshal(redisEntry{
		DID:         actor.DID,
		Handle:      actor.Handle,
		DisplayName: actor.DisplayName,
		AvatarURL:   actor.AvatarURL,
		CachedAt:    actor.CachedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode actor %s: %w", actor.DID, err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+actor.DID, raw, r.retention).Err(); err != nil {
		return fmt.Errorf("put actor %s: %w", actor.DID, err)
	}
	return nil
}

// DeleteStaleActors is a no-op; Redis expires keys on its own.
func (r *RedisBackend) DeleteStaleActors(context.Context, time.Time) (int64, error) {
	return 0, nil
}
