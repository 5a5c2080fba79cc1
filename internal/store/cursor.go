package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/domain"
)

type cursorRow struct {
	Service         string `db:"service"`
	Position        int64  `db:"cursor_value"`
	LastRunAt       int64  `db:"last_run_at"`
	LastError       string `db:"last_error"`
	EventsProcessed int64  `db:"events_processed"`
}

// GetCursor retrieves the saved stream cursor for a service.
func (s *Store) GetCursor(ctx context.Context, service string) (domain.Cursor, error) {
	var row cursorRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT service, cursor_value, last_run_at, last_error, events_processed
		FROM cursors WHERE service = ?`), service)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cursor{Service: service}, nil
	}
	if err != nil {
		return domain.Cursor{}, fmt.Errorf("get cursor %s: %w", service, err)
	}
	return domain.Cursor{
		Service:         row.Service,
		Position:        row.Position,
		LastRunAt:       fromMillis(row.LastRunAt),
		LastError:       row.LastError,
		EventsProcessed: row.EventsProcessed,
	}, nil
}

// CommitCursor upserts the stream cursor for a service. A position lower
// than the stored one is ignored so the cursor never moves backwards.
func (s *Store) CommitCursor(ctx context.Context, service string, position int64, processed int, runErr error) error {
	lastError := ""
	if runErr != nil {
		lastError = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO cursors (service, cursor_value, last_run_at, last_error, events_processed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (service) DO UPDATE SET
			cursor_value = CASE
				WHEN excluded.cursor_value > cursors.cursor_value THEN excluded.cursor_value
				ELSE cursors.cursor_value
			END,
			last_run_at = excluded.last_run_at,
			last_error = excluded.last_error,
			events_processed = cursors.events_processed + excluded.events_processed`),
		service, position, toMillis(s.now()), lastError, processed,
	)
	if err != nil {
		return fmt.Errorf("commit cursor %s: %w", service, err)
	}
	return nil
}

// ClaimCursor takes the cycle lease for owner. The conditional upsert only
// touches the row when the lease is free, expired or already owner's, so
// concurrent claimers from separate processes cannot both win.
func (s *Store) ClaimCursor(ctx context.Context, service, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO cursors (service, lease_owner, lease_until)
		VALUES (?, ?, ?)
		ON CONFLICT (service) DO UPDATE SET
			lease_owner = excluded.lease_owner,
			lease_until = excluded.lease_until
		WHERE cursors.lease_until <= ? OR cursors.lease_owner = excluded.lease_owner`),
		service, owner, toMillis(now.Add(ttl)), toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("claim cursor %s: %w", service, err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim cursor %s: %w", service, err)
	}
	return claimed > 0, nil
}

// ReleaseCursor clears the lease held by owner.
func (s *Store) ReleaseCursor(ctx context.Context, service, owner string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE cursors SET lease_owner = '', lease_until = 0
		WHERE service = ? AND lease_owner = ?`), service, owner)
	if err != nil {
		return fmt.Errorf("release cursor %s: %w", service, err)
	}
	return nil
}
