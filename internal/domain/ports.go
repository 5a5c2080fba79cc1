package domain

import (
	"context"
	"time"
)

// CursorRepository defines persistence operations for event stream cursors.
type CursorRepository interface {
	// GetCursor retrieves the cursor for the given stream service. Returns a
	// zero-position cursor if none has been saved.
	GetCursor(ctx context.Context, service string) (Cursor, error)

	// CommitCursor records the outcome of a polling cycle. The stored
	// position only moves forward; runErr (nil on success) is kept as the
	// cursor's last error and processed is added to the running total.
	CommitCursor(ctx context.Context, service string, position int64, processed int, runErr error) error

	// ClaimCursor takes the cycle lease on the cursor for owner until ttl
	// has elapsed. It reports false when another owner holds a lease that
	// has not expired. Claiming a lease owner already holds extends it.
	ClaimCursor(ctx context.Context, service, owner string, ttl time.Duration) (bool, error)

	// ReleaseCursor drops the lease if owner still holds it.
	ReleaseCursor(ctx context.Context, service, owner string) error
}

// ContentRepository defines lookups and bindings for locally hosted content.
type ContentRepository interface {
	// GetPostByURI returns the local post bound to the AT-URI, or ErrNotFound.
	GetPostByURI(ctx context.Context, uri string) (*Post, error)

	// CreatePost binds a newly published record as a local post. Returns
	// ErrAlreadyExists if the URI is already bound.
	CreatePost(ctx context.Context, post *Post) error

	// GetProfile returns the profile of a local user, or ErrNotFound.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// GetProfileByDID returns the local profile bound to the DID, or ErrNotFound.
	GetProfileByDID(ctx context.Context, did string) (*Profile, error)

	// BindProfile binds a local user to a DID. Binding the same pair again
	// is a no-op; binding either side to something else returns
	// ErrBindingConflict.
	BindProfile(ctx context.Context, profile *Profile) error

	// LocalDIDs returns the set of DIDs bound to local profiles.
	LocalDIDs(ctx context.Context) (map[string]struct{}, error)
}

// InteractionRepository defines the idempotent mirror of federated
// interactions. Counter changes happen inside these calls so that a counter
// is never adjusted without its interaction row.
type InteractionRepository interface {
	// GetInteraction returns the interaction stored under the idempotency
	// key, or ErrNotFound.
	GetInteraction(ctx context.Context, recordURI string) (*Interaction, error)

	// FindInteraction returns the interaction an actor created against a
	// subject, or ErrNotFound.
	FindInteraction(ctx context.Context, actorDID string, typ InteractionType, subjectURI string) (*Interaction, error)

	// ApplyInteraction inserts the interaction and, when it targets local
	// content, increments the matching counter. Returns false without
	// changing anything if the key already exists.
	ApplyInteraction(ctx context.Context, in *Interaction) (bool, error)

	// RetractInteraction deletes the interaction and decrements its counter,
	// clamped at zero. Returns ErrNotFound if the key does not exist.
	RetractInteraction(ctx context.Context, recordURI string) (*Interaction, error)
}

// SessionRepository persists outbound PDS sessions.
type SessionRepository interface {
	// GetSession returns the session of a local user, or ErrNoSession.
	GetSession(ctx context.Context, userID string) (*Session, error)

	// SaveSession upserts the session of a local user.
	SaveSession(ctx context.Context, session *Session) error
}

// NotificationRepository persists user-facing notifications.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]Notification, error)
}
