package firehose

import (
	"context"
	"errors"
	"fmt"

	"github.com/blackmichael/bluesky-federation/internal/bluesky"
	"github.com/blackmichael/bluesky-federation/internal/domain"
)

// Namespace answers which identities and mirror records are local.
type Namespace interface {
	LocalDIDs(ctx context.Context) (map[string]struct{}, error)
	GetInteraction(ctx context.Context, recordURI string) (*domain.Interaction, error)
}

// Filter decides which events touch locally hosted content.
type Filter struct {
	ns Namespace
}

// NewFilter creates a filter over the given namespace.
func NewFilter(ns Namespace) *Filter {
	return &Filter{ns: ns}
}

// View is a snapshot of the local namespace taken at the start of a cycle.
type View struct {
	ns    Namespace
	local map[string]struct{}
}

// Snapshot loads the set of local DIDs.
func (f *Filter) Snapshot(ctx context.Context) (*View, error) {
	local, err := f.ns.LocalDIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load local namespace: %w", err)
	}
	return &View{ns: f.ns, local: local}, nil
}

// IsLocal reports whether did belongs to a local profile.
func (v *View) IsLocal(did string) bool {
	_, ok := v.local[did]
	return ok
}

func (v *View) pointsInside(uri string) bool {
	return v.IsLocal(bluesky.AuthorityOf(uri))
}

// Relevant reports whether the event may affect local state:
//   - like and repost creates whose subject is local;
//   - post creates replying to or quoting a local post;
//   - follow creates whose subject DID is a local profile;
//   - deletes whose record is already mirrored.
//
// Updates, non-commit events and other collections are never relevant.
func (v *View) Relevant(ctx context.Context, e *Event) (bool, error) {
	c := e.Commit
	if c == nil {
		return false, nil
	}

	switch c.Operation {
	case OpCreate:
		switch r := c.Record.(type) {
		case *bluesky.LikeRecord:
			return v.pointsInside(r.Subject.URI), nil
		case *bluesky.RepostRecord:
			return v.pointsInside(r.Subject.URI), nil
		case *bluesky.FollowRecord:
			return v.IsLocal(r.Subject), nil
		case *bluesky.PostRecord:
			if r.Reply != nil && (v.pointsInside(r.Reply.Parent.URI) || v.pointsInside(r.Reply.Root.URI)) {
				return true, nil
			}
			if q := r.Quote(); q != nil && v.pointsInside(q.URI) {
				return true, nil
			}
			return false, nil
		default:
			return false, nil
		}

	case OpDelete:
		switch c.Collection {
		case bluesky.CollectionLike, bluesky.CollectionRepost, bluesky.CollectionFollow:
			return v.mirrored(ctx, e.URI())
		case bluesky.CollectionPost:
			ok, err := v.mirrored(ctx, e.URI())
			if err != nil || ok {
				return ok, err
			}
			return v.mirrored(ctx, domain.QuoteKey(e.URI()))
		default:
			return false, nil
		}

	default:
		return false, nil
	}
}

func (v *View) mirrored(ctx context.Context, key string) (bool, error) {
	_, err := v.ns.GetInteraction(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check mirror %s: %w", key, err)
	}
	return true, nil
}
