// Package outbound writes local user actions through to the user's PDS and
// then mirrors them locally.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/bluesky"
	"github.com/blackmichael/bluesky-federation/internal/domain"
	"github.com/blackmichael/bluesky-federation/internal/federation"
	"github.com/blackmichael/bluesky-federation/internal/telemetry"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// expirySkew refreshes tokens slightly before they expire.
const expirySkew = 30 * time.Second

var tracer = otel.Tracer("github.com/blackmichael/bluesky-federation/internal/outbound")

// PDS is the subset of the XRPC client the agent uses.
type PDS interface {
	CreateSession(ctx context.Context, identifier, password string) (*bluesky.Session, error)
	RefreshSession(ctx context.Context, refreshJwt string) (*bluesky.Session, error)
	CreateRecord(ctx context.Context, accessJwt, repo string, record bluesky.Record) (*bluesky.RecordRef, error)
	DeleteRecord(ctx context.Context, accessJwt, repo, collection, rkey string) error
}

// Agent performs user actions against the PDS first and mirrors them
// locally only after the PDS accepted them.
type Agent struct {
	pds          PDS
	sessions     domain.SessionRepository
	content      domain.ContentRepository
	interactions domain.InteractionRepository
	mirror       *federation.Mirror
	observer     telemetry.Observer
	logger       *slog.Logger
	now          func() time.Time
}

// NewAgent creates a new outbound agent.
func NewAgent(
	pds PDS,
	sessions domain.SessionRepository,
	content domain.ContentRepository,
	interactions domain.InteractionRepository,
	mirror *federation.Mirror,
	observer telemetry.Observer,
	logger *slog.Logger,
) *Agent {
	return &Agent{
		pds:          pds,
		sessions:     sessions,
		content:      content,
		interactions: interactions,
		mirror:       mirror,
		observer:     observer,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Login authenticates a local user against their PDS, binds the user's
// profile to the returned DID and stores the session.
func (a *Agent) Login(ctx context.Context, userID, identifier, password string) (*domain.Session, error) {
	resp, err := a.pds.CreateSession(ctx, identifier, password)
	if err != nil {
		if bluesky.IsAuthError(err) {
			return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
		}
		return nil, err
	}

	if err := a.content.BindProfile(ctx, &domain.Profile{ID: userID, DID: resp.DID, Handle: resp.Handle}); err != nil {
		return nil, fmt.Errorf("bind profile: %w", err)
	}

	sess := &domain.Session{
		UserID:      userID,
		DID:         resp.DID,
		Handle:      resp.Handle,
		AccessJWT:   resp.AccessJwt,
		RefreshJWT:  resp.RefreshJwt,
		RefreshedAt: a.now(),
	}
	if err := a.sessions.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	a.logger.Info("user logged in to PDS", "user", userID, "did", sess.DID, "handle", sess.Handle)
	return sess, nil
}

// Perform writes action to the user's PDS and, once accepted, mirrors it
// locally. Any PDS failure is returned with nothing changed locally.
func (a *Agent) Perform(ctx context.Context, action Action, userID string, target Target) (ref *bluesky.RecordRef, err error) {
	ctx, span := tracer.Start(ctx, "outbound."+string(action))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("user", userID))

	if _, err := ParseAction(string(action)); err != nil {
		return nil, err
	}
	if err := action.validate(target); err != nil {
		return nil, err
	}

	sess, err := a.session(ctx, userID)
	if err != nil {
		return nil, err
	}

	if action.isUndo() {
		ref, err = a.undo(ctx, action, sess, target)
	} else {
		ref, err = a.create(ctx, action, sess, target)
	}
	if err != nil {
		return nil, err
	}

	telemetry.Emit(ctx, a.observer, telemetry.EventOutboundAction,
		attribute.String("action", string(action)),
		attribute.String("uri", ref.URI),
	)
	a.logger.Info("outbound action complete", "action", action, "user", userID, "uri", ref.URI)
	return ref, nil
}

func (a *Agent) create(ctx context.Context, action Action, sess *userSession, target Target) (*bluesky.RecordRef, error) {
	record := action.record(target, a.now().Format(time.RFC3339))

	var ref *bluesky.RecordRef
	err := a.withSession(ctx, sess, func(token string) error {
		var err error
		ref, err = a.pds.CreateRecord(ctx, token, sess.DID, record)
		return err
	})
	if err != nil {
		return nil, err
	}

	// The record exists on the network from here on. Local failures are
	// logged rather than returned; the inbound echo repairs local content.
	if action == ActionReply || action == ActionPost {
		err := a.content.CreatePost(ctx, &domain.Post{AuthorID: sess.UserID, URI: ref.URI, CID: ref.CID})
		if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			a.logger.Error("failed to bind published post", "uri", ref.URI, "error", err)
		}
	}

	if typ, ok := action.interactionType(); ok {
		_, err := a.mirror.Record(ctx, &domain.Interaction{
			Type:       typ,
			RecordURI:  ref.URI,
			ActorDID:   sess.DID,
			SubjectURI: action.subject(target),
			Metadata:   map[string]string{"cid": ref.CID},
			CreatedAt:  a.now(),
		})
		if err != nil {
			a.logger.Error("failed to mirror outbound action", "action", action, "uri", ref.URI, "error", err)
		}
	}
	return ref, nil
}

func (a *Agent) undo(ctx context.Context, action Action, sess *userSession, target Target) (*bluesky.RecordRef, error) {
	typ, _ := action.interactionType()
	subject := action.subject(target)

	in, err := a.interactions.FindInteraction(ctx, sess.DID, typ, subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("no %s by %s on %s: %w", typ, sess.DID, subject, domain.ErrNotFound)
		}
		return nil, err
	}

	uri, err := bluesky.ParseATURI(in.RecordURI)
	if err != nil {
		return nil, fmt.Errorf("mirrored %s has bad record uri: %w", typ, err)
	}

	err = a.withSession(ctx, sess, func(token string) error {
		return a.pds.DeleteRecord(ctx, token, sess.DID, uri.Collection, uri.RKey)
	})
	if err != nil {
		return nil, err
	}

	if _, err := a.mirror.Retract(ctx, in.RecordURI); err != nil {
		a.logger.Error("failed to retract outbound action", "action", action, "uri", in.RecordURI, "error", err)
	}
	return &bluesky.RecordRef{URI: in.RecordURI}, nil
}

// userSession is the session an action runs with. refreshed is set once it
// has been refreshed during the action, so it is never refreshed twice.
type userSession struct {
	*domain.Session
	refreshed bool
}

// session loads the user's session, refreshing it first when the access
// token has expired.
func (a *Agent) session(ctx context.Context, userID string) (*userSession, error) {
	sess, err := a.sessions.GetSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !tokenExpired(sess.AccessJWT, a.now()) {
		return &userSession{Session: sess}, nil
	}
	fresh, err := a.refresh(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &userSession{Session: fresh, refreshed: true}, nil
}

// withSession runs call with the access token. If the PDS rejects a token
// that has not been refreshed yet, the session is refreshed once and call
// retried once.
func (a *Agent) withSession(ctx context.Context, sess *userSession, call func(token string) error) error {
	err := call(sess.AccessJWT)
	if !bluesky.IsAuthError(err) {
		return err
	}
	if sess.refreshed {
		return fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}

	fresh, err := a.refresh(ctx, sess.Session)
	if err != nil {
		return err
	}
	sess.Session = fresh
	sess.refreshed = true

	err = call(sess.AccessJWT)
	if bluesky.IsAuthError(err) {
		return fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	return err
}

func (a *Agent) refresh(ctx context.Context, sess *domain.Session) (*domain.Session, error) {
	resp, err := a.pds.RefreshSession(ctx, sess.RefreshJWT)
	if err != nil {
		a.logger.Warn("session refresh failed", "user", sess.UserID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}

	fresh := &domain.Session{
		UserID:      sess.UserID,
		DID:         sess.DID,
		Handle:      resp.Handle,
		AccessJWT:   resp.AccessJwt,
		RefreshJWT:  resp.RefreshJwt,
		RefreshedAt: a.now(),
	}
	if fresh.Handle == "" {
		fresh.Handle = sess.Handle
	}
	if err := a.sessions.SaveSession(ctx, fresh); err != nil {
		return nil, err
	}

	telemetry.Emit(ctx, a.observer, telemetry.EventSessionRefresh, attribute.String("user", sess.UserID))
	return fresh, nil
}

// tokenExpired reports whether a JWT access token is past its exp claim.
// Tokens that cannot be parsed are left for the PDS to judge.
func tokenExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Add(-expirySkew))
}
