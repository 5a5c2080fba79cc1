// Package federation mirrors network activity that touches local content and
// runs the polling cycle that feeds it.
package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blackmichael/bluesky-federation/internal/domain"
	"github.com/blackmichael/bluesky-federation/internal/notify"
)

// Outcome is what handling one interaction did to local state.
type Outcome int

// Outcomes are ordered so that max picks the most significant one.
const (
	OutcomeDropped Outcome = iota
	OutcomeDuplicate
	OutcomeApplied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "dropped"
	}
}

// Notifier receives notifications for applied interactions.
type Notifier interface {
	Emit(ctx context.Context, in notify.Input)
}

// Mirror writes interactions into the local store exactly once per record
// key, pairing every row with its counter change.
type Mirror struct {
	content      domain.ContentRepository
	interactions domain.InteractionRepository
	notifier     Notifier
	logger       *slog.Logger
}

// NewMirror creates a new mirror writer.
func NewMirror(content domain.ContentRepository, interactions domain.InteractionRepository, notifier Notifier, logger *slog.Logger) *Mirror {
	return &Mirror{
		content:      content,
		interactions: interactions,
		notifier:     notifier,
		logger:       logger,
	}
}

// Apply mirrors an interaction observed on the network. Interactions whose
// subject is not hosted locally are dropped.
func (m *Mirror) Apply(ctx context.Context, in *domain.Interaction) (Outcome, error) {
	return m.apply(ctx, in, true)
}

// Record mirrors an interaction a local user just wrote to their PDS. It is
// stored even when the subject is not local so the user can undo it later;
// such rows carry no counter.
func (m *Mirror) Record(ctx context.Context, in *domain.Interaction) (Outcome, error) {
	return m.apply(ctx, in, false)
}

func (m *Mirror) apply(ctx context.Context, in *domain.Interaction, requireLocal bool) (Outcome, error) {
	owner, err := m.resolveSubject(ctx, in)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return OutcomeDropped, err
		}
		if requireLocal {
			m.logger.Debug("dropping interaction with unknown subject",
				"type", in.Type, "key", in.RecordURI, "subject", in.SubjectURI)
			return OutcomeDropped, nil
		}
	}

	_, err = m.interactions.GetInteraction(ctx, in.RecordURI)
	if err == nil {
		return OutcomeDuplicate, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return OutcomeDropped, fmt.Errorf("check interaction %s: %w", in.RecordURI, err)
	}

	applied, err := m.interactions.ApplyInteraction(ctx, in)
	if err != nil {
		return OutcomeDropped, fmt.Errorf("apply %s interaction: %w", in.Type, err)
	}
	if !applied {
		return OutcomeDuplicate, nil
	}

	if in.Local() && m.notifier != nil {
		m.notifier.Emit(ctx, notify.Input{
			RecipientID: owner,
			ActorDID:    in.ActorDID,
			Reason:      domain.NotificationReason(in.Type),
			SubjectURI:  in.SubjectURI,
		})
	}
	return OutcomeApplied, nil
}

// resolveSubject fills in the local subject id and returns the id of the
// user who owns it.
func (m *Mirror) resolveSubject(ctx context.Context, in *domain.Interaction) (string, error) {
	in.SubjectKind = in.Type.SubjectKind()

	if in.SubjectKind == domain.SubjectProfile {
		profile, err := m.content.GetProfileByDID(ctx, in.SubjectURI)
		if err != nil {
			return "", err
		}
		in.SubjectID = profile.ID
		return profile.ID, nil
	}

	post, err := m.content.GetPostByURI(ctx, in.SubjectURI)
	if err != nil {
		return "", err
	}
	in.SubjectID = post.ID
	return post.AuthorID, nil
}

// Retract removes the interaction stored under key. A key that was never
// mirrored is dropped.
func (m *Mirror) Retract(ctx context.Context, key string) (Outcome, error) {
	_, err := m.interactions.RetractInteraction(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return OutcomeDropped, nil
	}
	if err != nil {
		return OutcomeDropped, fmt.Errorf("retract interaction: %w", err)
	}
	return OutcomeApplied, nil
}
