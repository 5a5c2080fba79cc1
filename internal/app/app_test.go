package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/blackmichael/bluesky-federation/internal/config"
	"github.com/blackmichael/bluesky-federation/internal/federation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWiresSQLiteApp(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "app.db"))
	t.Setenv("ACTOR_CACHE_BACKEND", "memory")
	cfg, err := config.Load()
	require.NoError(t, err)

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Poller)
	assert.NotNil(t, a.Agent)
	assert.NotNil(t, a.Cache)

	c, err := a.Store.GetCursor(context.Background(), federation.CursorService)
	require.NoError(t, err)
	assert.Zero(t, c.Position)
}

func TestNewFailsOnRedisOutage(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "app.db"))
	t.Setenv("ACTOR_CACHE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "127.0.0.1:1")
	cfg, err := config.Load()
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "connect redis")
}
