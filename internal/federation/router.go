package federation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/bluesky"
	"github.com/blackmichael/bluesky-federation/internal/domain"
	"github.com/blackmichael/bluesky-federation/internal/firehose"
)

// Router dispatches relevant events to the mirror by collection and
// operation.
type Router struct {
	mirror *Mirror
	logger *slog.Logger
}

// NewRouter creates a new event router.
func NewRouter(mirror *Mirror, logger *slog.Logger) *Router {
	return &Router{mirror: mirror, logger: logger}
}

// Route applies one event. Updates and unsupported collections are dropped.
func (r *Router) Route(ctx context.Context, e *firehose.Event) (Outcome, error) {
	c := e.Commit
	if c == nil {
		return OutcomeDropped, nil
	}

	switch c.Operation {
	case firehose.OpCreate:
		return r.routeCreate(ctx, e)
	case firehose.OpDelete:
		return r.routeDelete(ctx, e)
	default:
		return OutcomeDropped, nil
	}
}

func (r *Router) routeCreate(ctx context.Context, e *firehose.Event) (Outcome, error) {
	uri := e.URI()

	switch rec := e.Commit.Record.(type) {
	case *bluesky.LikeRecord:
		return r.mirror.Apply(ctx, r.interaction(e, domain.InteractionLike, uri, rec.Subject.URI))

	case *bluesky.RepostRecord:
		return r.mirror.Apply(ctx, r.interaction(e, domain.InteractionRepost, uri, rec.Subject.URI))

	case *bluesky.FollowRecord:
		return r.mirror.Apply(ctx, r.interaction(e, domain.InteractionFollow, uri, rec.Subject))

	case *bluesky.PostRecord:
		return r.routePost(ctx, e, rec)

	default:
		return OutcomeDropped, nil
	}
}

// routePost mirrors the reply and the quote carried by one post record.
// Both halves are attempted; the more significant outcome is returned.
func (r *Router) routePost(ctx context.Context, e *firehose.Event, rec *bluesky.PostRecord) (Outcome, error) {
	uri := e.URI()
	outcome := OutcomeDropped

	if rec.Reply != nil {
		in := r.interaction(e, domain.InteractionReply, uri, rec.Reply.Parent.URI)
		in.Metadata["root_uri"] = rec.Reply.Root.URI
		o, err := r.mirror.Apply(ctx, in)
		if err != nil {
			return outcome, fmt.Errorf("mirror reply %s: %w", uri, err)
		}
		outcome = max(outcome, o)
	}

	if q := rec.Quote(); q != nil {
		o, err := r.mirror.Apply(ctx, r.interaction(e, domain.InteractionQuote, domain.QuoteKey(uri), q.URI))
		if err != nil {
			return outcome, fmt.Errorf("mirror quote %s: %w", uri, err)
		}
		outcome = max(outcome, o)
	}

	return outcome, nil
}

func (r *Router) routeDelete(ctx context.Context, e *firehose.Event) (Outcome, error) {
	uri := e.URI()

	switch e.Commit.Collection {
	case bluesky.CollectionLike, bluesky.CollectionRepost, bluesky.CollectionFollow:
		return r.mirror.Retract(ctx, uri)

	case bluesky.CollectionPost:
		reply, err := r.mirror.Retract(ctx, uri)
		if err != nil {
			return reply, err
		}
		quote, err := r.mirror.Retract(ctx, domain.QuoteKey(uri))
		if err != nil {
			return reply, err
		}
		return max(reply, quote), nil

	default:
		return OutcomeDropped, nil
	}
}

func (r *Router) interaction(e *firehose.Event, typ domain.InteractionType, key, subject string) *domain.Interaction {
	meta := map[string]string{}
	if e.Commit.CID != "" {
		meta["cid"] = e.Commit.CID
	}
	return &domain.Interaction{
		Type:       typ,
		RecordURI:  key,
		ActorDID:   e.DID,
		SubjectURI: subject,
		Metadata:   meta,
		CreatedAt:  time.UnixMicro(e.TimeUS).UTC(),
	}
}
