// Package notify turns applied interactions into user-facing notifications
// and hands them to the configured sinks.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/domain"
)

// Input describes an interaction worth telling a local user about.
type Input struct {
	RecipientID string
	ActorDID    string
	Reason      domain.NotificationReason
	SubjectURI  string
}

// Sink receives built notifications.
type Sink interface {
	Deliver(ctx context.Context, n *domain.Notification) error
}

// Resolver looks up display metadata for external actors.
type Resolver interface {
	Resolve(ctx context.Context, did string) *domain.ActorInfo
}

// Profiles tells local actors apart from external ones.
type Profiles interface {
	GetProfileByDID(ctx context.Context, did string) (*domain.Profile, error)
}

// Emitter builds notifications and fans them out to sinks. Delivery is fire
// and forget: failures are logged and never reach the caller.
type Emitter struct {
	profiles Profiles
	resolver Resolver
	sinks    []Sink
	logger   *slog.Logger
	now      func() time.Time
}

// NewEmitter creates a new notification emitter.
func NewEmitter(profiles Profiles, resolver Resolver, logger *slog.Logger, sinks ...Sink) *Emitter {
	return &Emitter{
		profiles: profiles,
		resolver: resolver,
		sinks:    sinks,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Emit builds a notification for in and delivers it to every sink.
func (e *Emitter) Emit(ctx context.Context, in Input) {
	if in.RecipientID == "" {
		return
	}

	n := &domain.Notification{
		RecipientID: in.RecipientID,
		ActorDID:    in.ActorDID,
		Reason:      in.Reason,
		SubjectURI:  in.SubjectURI,
		IsExternal:  true,
		CreatedAt:   e.now(),
	}

	profile, err := e.profiles.GetProfileByDID(ctx, in.ActorDID)
	switch {
	case err == nil:
		if profile.ID == in.RecipientID {
			return
		}
		n.IsExternal = false
		n.ActorHandle = profile.Handle
	case errors.Is(err, domain.ErrNotFound):
		if e.resolver != nil {
			if actor := e.resolver.Resolve(ctx, in.ActorDID); actor != nil {
				n.ActorHandle = actor.Handle
				n.ActorDisplayName = actor.DisplayName
				n.ActorAvatarURL = actor.AvatarURL
			}
		}
	default:
		e.logger.Warn("failed to look up notification actor", "actor", in.ActorDID, "error", err)
	}

	for _, sink := range e.sinks {
		if err := sink.Deliver(ctx, n); err != nil {
			e.logger.Error("failed to deliver notification",
				"recipient", n.RecipientID,
				"reason", n.Reason,
				"subject", n.SubjectURI,
				"error", err,
			)
		}
	}
}

// StoreSink persists notifications through a repository.
type StoreSink struct {
	Repo domain.NotificationRepository
}

func (s StoreSink) Deliver(ctx context.Context, n *domain.Notification) error {
	return s.Repo.CreateNotification(ctx, n)
}
