package outbound

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blackmichael/bluesky-federation/internal/bluesky"
	"github.com/blackmichael/bluesky-federation/internal/domain"
)

// Action is a user action written through to the PDS.
type Action string

const (
	ActionLike     Action = "like"
	ActionUnlike   Action = "unlike"
	ActionRepost   Action = "repost"
	ActionUnrepost Action = "unrepost"
	ActionFollow   Action = "follow"
	ActionUnfollow Action = "unfollow"
	ActionReply    Action = "reply"
	ActionPost     Action = "post"
)

var (
	// ErrInvalidAction is returned for an unknown action name.
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidTarget is returned when the target lacks a field the action
	// needs.
	ErrInvalidTarget = errors.New("invalid action target")
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(s))
	switch a {
	case ActionLike, ActionUnlike, ActionRepost, ActionUnrepost,
		ActionFollow, ActionUnfollow, ActionReply, ActionPost:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// Target identifies what an action is aimed at. Post actions use URI and
// CID; replies may add the thread root (defaulting to the parent); follows
// use DID; reply and post use Text.
type Target struct {
	URI     string `json:"uri"`
	CID     string `json:"cid"`
	RootURI string `json:"root_uri"`
	RootCID string `json:"root_cid"`
	DID     string `json:"did"`
	Text    string `json:"text"`
}

// interactionType returns the mirrored interaction an action creates or
// undoes. Top-level posts have none.
func (a Action) interactionType() (domain.InteractionType, bool) {
	switch a {
	case ActionLike, ActionUnlike:
		return domain.InteractionLike, true
	case ActionRepost, ActionUnrepost:
		return domain.InteractionRepost, true
	case ActionFollow, ActionUnfollow:
		return domain.InteractionFollow, true
	case ActionReply:
		return domain.InteractionReply, true
	}
	return "", false
}

func (a Action) isUndo() bool {
	return a == ActionUnlike || a == ActionUnrepost || a == ActionUnfollow
}

// subject returns the URI or DID the action targets.
func (a Action) subject(t Target) string {
	if a == ActionFollow || a == ActionUnfollow {
		return t.DID
	}
	return t.URI
}

func (a Action) validate(t Target) error {
	switch a {
	case ActionFollow, ActionUnfollow:
		if !strings.HasPrefix(t.DID, "did:") {
			return fmt.Errorf("%w: %s needs a did", ErrInvalidTarget, a)
		}
	case ActionPost:
		if strings.TrimSpace(t.Text) == "" {
			return fmt.Errorf("%w: post needs text", ErrInvalidTarget)
		}
	default:
		if _, err := bluesky.ParseATURI(t.URI); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
		if (a == ActionLike || a == ActionRepost || a == ActionReply) && t.CID == "" {
			return fmt.Errorf("%w: %s needs a cid", ErrInvalidTarget, a)
		}
		if a == ActionReply && strings.TrimSpace(t.Text) == "" {
			return fmt.Errorf("%w: reply needs text", ErrInvalidTarget)
		}
	}
	return nil
}

// record builds the record a creating action writes.
func (a Action) record(t Target, createdAt string) bluesky.Record {
	switch a {
	case ActionLike:
		return &bluesky.LikeRecord{Subject: bluesky.StrongRef{URI: t.URI, CID: t.CID}, CreatedAt: createdAt}
	case ActionRepost:
		return &bluesky.RepostRecord{Subject: bluesky.StrongRef{URI: t.URI, CID: t.CID}, CreatedAt: createdAt}
	case ActionFollow:
		return &bluesky.FollowRecord{Subject: t.DID, CreatedAt: createdAt}
	case ActionReply:
		root := bluesky.StrongRef{URI: t.RootURI, CID: t.RootCID}
		if root.URI == "" {
			root = bluesky.StrongRef{URI: t.URI, CID: t.CID}
		}
		return &bluesky.PostRecord{
			Text:      t.Text,
			CreatedAt: createdAt,
			Reply: &bluesky.ReplyRef{
				Root:   root,
				Parent: bluesky.StrongRef{URI: t.URI, CID: t.CID},
			},
		}
	default:
		return &bluesky.PostRecord{Text: t.Text, CreatedAt: createdAt}
	}
}
