package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/blackmichael/bluesky-federation/internal/domain"
)

type sessionRow struct {
	UserID      string `db:"user_id"`
	DID         string `db:"did"`
	Handle      string `db:"handle"`
	AccessJWT   string `db:"access_jwt"`
	RefreshJWT  string `db:"refresh_jwt"`
	RefreshedAt int64  `db:"refreshed_at"`
}

// GetSession returns the stored PDS session of a local user.
func (s *Store) GetSession(ctx context.Context, userID string) (*domain.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT user_id, did, handle, access_jwt, refresh_jwt, refreshed_at
		FROM outbound_sessions WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", userID, err)
	}
	return &domain.Session{
		UserID:      row.UserID,
		DID:         row.DID,
		Handle:      row.Handle,
		AccessJWT:   row.AccessJWT,
		RefreshJWT:  row.RefreshJWT,
		RefreshedAt: fromMillis(row.RefreshedAt),
	}, nil
}

// SaveSession upserts the PDS session of a local user.
func (s *Store) SaveSession(ctx context.Context, session *domain.Session) error {
	if session.RefreshedAt.IsZero() {
		session.RefreshedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO outbound_sessions (user_id, did, handle, access_jwt, refresh_jwt, refreshed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			did = excluded.did,
			handle = excluded.handle,
			access_jwt = excluded.access_jwt,
			refresh_jwt = excluded.refresh_jwt,
			refreshed_at = excluded.refreshed_at`),
		session.UserID, session.DID, session.Handle,
		session.AccessJWT, session.RefreshJWT, toMillis(session.RefreshedAt),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.UserID, err)
	}
	return nil
}
