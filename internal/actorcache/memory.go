package actorcache

import (
	"context"
	"sync"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/domain"
)

// MemoryBackend keeps entries in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]domain.ActorInfo
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]domain.ActorInfo)}
}

func (m *MemoryBackend) GetActor(_ context.Context, did string) (*domain.ActorInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.entries[did]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &info, nil
}

func (m *MemoryBackend) PutActor(_ context.Context, actor *domain.ActorInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[actor.DID] = *actor
	return nil
}

func (m *MemoryBackend) DeleteStaleActors(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for did, info := range m.entries {
		if info.CachedAt.Before(cutoff) {
			delete(m.entries, did)
			deleted++
		}
	}
	return deleted, nil
}
