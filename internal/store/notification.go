package store

import (
	"context"
	"fmt"

	"github.com/blackmichael/bluesky-federation/internal/domain"
	"github.com/google/uuid"
)

type notificationRow struct {
	ID               string `db:"id"`
	RecipientID      string `db:"recipient_id"`
	ActorDID         string `db:"actor_did"`
	ActorHandle      string `db:"actor_handle"`
	ActorDisplayName string `db:"actor_display_name"`
	ActorAvatarURL   string `db:"actor_avatar_url"`
	Reason           string `db:"reason"`
	SubjectURI       string `db:"subject_uri"`
	IsExternal       bool   `db:"is_external"`
	CreatedAt        int64  `db:"created_at"`
}

// CreateNotification inserts a notification. An empty ID is filled in.
func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO notifications (
			id, recipient_id, actor_did, actor_handle, actor_display_name,
			actor_avatar_url, reason, subject_uri, is_external, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.RecipientID, n.ActorDID, n.ActorHandle, n.ActorDisplayName,
		n.ActorAvatarURL, string(n.Reason), n.SubjectURI, n.IsExternal, toMillis(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListNotifications returns the newest notifications of a recipient.
func (s *Store) ListNotifications(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, recipient_id, actor_did, actor_handle, actor_display_name,
			actor_avatar_url, reason, subject_uri, is_external, created_at
		FROM notifications
		WHERE recipient_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications for %s: %w", recipientID, err)
	}

	out := make([]domain.Notification, len(rows))
	for i, r := range rows {
		out[i] = domain.Notification{
			ID:               r.ID,
			RecipientID:      r.RecipientID,
			ActorDID:         r.ActorDID,
			ActorHandle:      r.ActorHandle,
			ActorDisplayName: r.ActorDisplayName,
			ActorAvatarURL:   r.ActorAvatarURL,
			Reason:           domain.NotificationReason(r.Reason),
			SubjectURI:       r.SubjectURI,
			IsExternal:       r.IsExternal,
			CreatedAt:        fromMillis(r.CreatedAt),
		}
	}
	return out, nil
}

var (
	_ domain.CursorRepository       = (*Store)(nil)
	_ domain.ContentRepository      = (*Store)(nil)
	_ domain.InteractionRepository  = (*Store)(nil)
	_ domain.SessionRepository      = (*Store)(nil)
	_ domain.NotificationRepository = (*Store)(nil)
)
