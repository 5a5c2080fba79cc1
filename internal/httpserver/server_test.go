package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/bluesky"
	"github.com/blackmichael/bluesky-federation/internal/domain"
	"github.com/blackmichael/bluesky-federation/internal/federation"
	"github.com/blackmichael/bluesky-federation/internal/outbound"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	report federation.CycleReport
	err    error
	last   bool
}

func (f *fakeSyncer) RunOnce(context.Context) (federation.CycleReport, error) {
	return f.report, f.err
}

func (f *fakeSyncer) LastReport() (federation.CycleReport, bool) {
	return f.report, f.last
}

type fakeAgent struct {
	err        error
	gotAction  outbound.Action
	gotUser    string
	gotTarget  outbound.Target
	loginCalls int
}

func (f *fakeAgent) Login(_ context.Context, userID, identifier, _ string) (*domain.Session, error) {
	f.loginCalls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Session{UserID: userID, DID: "did:plc:alice", Handle: identifier}, nil
}

func (f *fakeAgent) Perform(_ context.Context, action outbound.Action, userID string, target outbound.Target) (*bluesky.RecordRef, error) {
	f.gotAction, f.gotUser, f.gotTarget = action, userID, target
	if f.err != nil {
		return nil, f.err
	}
	return &bluesky.RecordRef{URI: "at://did:plc:alice/app.bsky.feed.like/1", CID: "bafy"}, nil
}

type fakeCursors struct{}

func (fakeCursors) GetCursor(_ context.Context, service string) (domain.Cursor, error) {
	return domain.Cursor{Service: service, Position: 1725911162329308, EventsProcessed: 7, LastError: "dial tcp: timeout"}, nil
}

func (fakeCursors) CommitCursor(context.Context, string, int64, int, error) error { return nil }

func (fakeCursors) ClaimCursor(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}

func (fakeCursors) ReleaseCursor(context.Context, string, string) error { return nil }

type fakeNotifications struct {
	gotLimit int
}

func (f *fakeNotifications) CreateNotification(context.Context, *domain.Notification) error {
	return nil
}

func (f *fakeNotifications) ListNotifications(_ context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	f.gotLimit = limit
	return []domain.Notification{{ID: "n1", RecipientID: recipientID, ActorDID: "did:plc:bob", Reason: domain.ReasonLike, CreatedAt: time.Now()}}, nil
}

func newTestServer(syncer *fakeSyncer, agent *fakeAgent, notes *fakeNotifications) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(0, Deps{Syncer: syncer, Agent: agent, Cursors: fakeCursors{}, Notifications: notes}, logger).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestHealth(t *testing.T) {
	rec, body := do(t, newTestServer(&fakeSyncer{}, &fakeAgent{}, &fakeNotifications{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestStatus(t *testing.T) {
	syncer := &fakeSyncer{last: true, report: federation.CycleReport{EventsApplied: 3, CursorPosition: 99}}
	rec, body := do(t, newTestServer(syncer, &fakeAgent{}, &fakeNotifications{}), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	cursor := body["cursor"].(map[string]any)
	assert.Equal(t, "jetstream", cursor["service"])
	assert.Equal(t, "dial tcp: timeout", cursor["last_error"])

	cycle := body["last_cycle"].(map[string]any)
	assert.Equal(t, float64(3), cycle["events_applied"])
}

func TestSyncRun(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"ok", nil, http.StatusOK},
		{"in progress", domain.ErrCycleInProgress, http.StatusConflict},
		{"failed", errors.New("fetch events: dial tcp: refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, newTestServer(&fakeSyncer{err: tt.err}, &fakeAgent{}, &fakeNotifications{}), http.MethodPost, "/v1/sync/run", "")
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestLogin(t *testing.T) {
	agent := &fakeAgent{}
	h := newTestServer(&fakeSyncer{}, agent, &fakeNotifications{})

	rec, body := do(t, h, http.MethodPost, "/v1/users/alice/session", `{"identifier":"alice.test","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "did:plc:alice", body["did"])

	rec, _ = do(t, h, http.MethodPost, "/v1/users/alice/session", `{"identifier":"alice.test"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, agent.loginCalls)
}

func TestAction(t *testing.T) {
	agent := &fakeAgent{}
	h := newTestServer(&fakeSyncer{}, agent, &fakeNotifications{})

	rec, body := do(t, h, http.MethodPost, "/v1/users/alice/actions/like", `{"uri":"at://did:plc:dave/app.bsky.feed.post/1","cid":"bafy"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.like/1", body["uri"])
	assert.Equal(t, outbound.ActionLike, agent.gotAction)
	assert.Equal(t, "alice", agent.gotUser)
	assert.Equal(t, "bafy", agent.gotTarget.CID)
}

func TestActionErrors(t *testing.T) {
	tests := []struct {
		name   string
		action string
		err    error
		status int
	}{
		{"unknown action", "block", nil, http.StatusBadRequest},
		{"bad target", "like", fmt.Errorf("%w: needs a cid", outbound.ErrInvalidTarget), http.StatusBadRequest},
		{"no session", "like", domain.ErrNoSession, http.StatusUnauthorized},
		{"unauthorized", "like", fmt.Errorf("%w: expired", domain.ErrUnauthorized), http.StatusUnauthorized},
		{"undo target missing", "unlike", fmt.Errorf("no like: %w", domain.ErrNotFound), http.StatusNotFound},
		{"pds failure", "repost", fmt.Errorf("create record: %w", &bluesky.APIError{StatusCode: 500, Message: "boom"}), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeSyncer{}, &fakeAgent{err: tt.err}, &fakeNotifications{})
			rec, _ := do(t, h, http.MethodPost, "/v1/users/alice/actions/"+tt.action, `{"uri":"at://did:plc:dave/app.bsky.feed.post/1"}`)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestNotifications(t *testing.T) {
	notes := &fakeNotifications{}
	h := newTestServer(&fakeSyncer{}, &fakeAgent{}, notes)

	rec, body := do(t, h, http.MethodGet, "/v1/users/alice/notifications?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, notes.gotLimit)
	assert.Len(t, body["notifications"], 1)

	do(t, h, http.MethodGet, "/v1/users/alice/notifications", "")
	assert.Equal(t, 50, notes.gotLimit)

	rec, _ = do(t, h, http.MethodGet, "/v1/users/alice/notifications?limit=150", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 150, notes.gotLimit)

	rec, _ = do(t, h, http.MethodGet, "/v1/users/alice/notifications?limit=200", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 200, notes.gotLimit)

	for _, bad := range []string{"0", "201", "lots"} {
		rec, _ = do(t, h, http.MethodGet, "/v1/users/alice/notifications?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
	}
}
