package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/domain"
)

type actorRow struct {
	DID         string `db:"did"`
	Handle      string `db:"handle"`
	DisplayName string `db:"display_name"`
	AvatarURL   string `db:"avatar_url"`
	CachedAt    int64  `db:"cached_at"`
}

// GetActor returns the cached actor metadata for did, or ErrNotFound.
func (s *Store) GetActor(ctx context.Context, did string) (*domain.ActorInfo, error) {
	var row actorRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT did, handle, display_name, avatar_url, cached_at
		FROM actor_cache WHERE did = ?`), did)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get actor %s: %w", did, err)
	}
	return &domain.ActorInfo{
		DID:         row.DID,
		Handle:      row.Handle,
		DisplayName: row.DisplayName,
		AvatarURL:   row.AvatarURL,
		CachedAt:    fromMillis(row.CachedAt),
	}, nil
}

// PutActor upserts cached actor metadata. Last write wins.
func (s *Store) PutActor(ctx context.Context, actor *domain.ActorInfo) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO actor_cache (did, handle, display_name, avatar_url, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (did) DO UPDATE SET
			handle = excluded.handle,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			cached_at = excluded.cached_at`),
		actor.DID, actor.Handle, actor.DisplayName, actor.AvatarURL, toMillis(actor.CachedAt),
	)
	if err != nil {
		return fmt.Errorf("put actor %s: %w", actor.DID, err)
	}
	return nil
}

// DeleteStaleActors removes cache entries fetched before the cutoff and
// returns the number of rows deleted.
func (s *Store) DeleteStaleActors(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM actor_cache WHERE cached_at < ?`), toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete stale actors: %w", err)
	}
	return res.RowsAffected()
}
