package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRecordSendsTokenAndTypedRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/com.atproto.repo.createRecord", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))

		var body struct {
			Repo       string         `json:"repo"`
			Collection string         `json:"collection"`
			Record     map[string]any `json:"record"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "did:plc:alice", body.Repo)
		assert.Equal(t, CollectionLike, body.Collection)
		assert.Equal(t, CollectionLike, body.Record["$type"])

		json.NewEncoder(w).Encode(map[string]string{
			"uri": "at://did:plc:alice/app.bsky.feed.like/3klike",
			"cid": "bafylike",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	ref, err := c.CreateRecord(context.Background(), "access-1", "did:plc:alice", &LikeRecord{
		Subject: StrongRef{URI: "at://did:plc:bob/app.bsky.feed.post/1", CID: "bafypost"},
	})
	require.NoError(t, err)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.like/3klike", ref.URI)
	assert.Equal(t, "bafylike", ref.CID)
}

func TestAPIErrorsAreTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "ExpiredToken", "message": "Token has expired"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	err := c.DeleteRecord(context.Background(), "stale", "did:plc:alice", CollectionLike, "3klike")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "ExpiredToken", apiErr.Code)
	assert.True(t, IsAuthError(err))
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(&APIError{StatusCode: http.StatusUnauthorized}))
	assert.False(t, IsAuthError(&APIError{StatusCode: http.StatusBadRequest, Code: "InvalidRequest"}))
	assert.False(t, IsAuthError(&APIError{StatusCode: http.StatusBadGateway}))
	assert.False(t, IsAuthError(errors.New("send request: connection refused")))
}

func TestRefreshSessionUsesRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/com.atproto.server.refreshSession", r.URL.Path)
		assert.Equal(t, "Bearer refresh-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(Session{AccessJwt: "access-2", RefreshJwt: "refresh-2", DID: "did:plc:alice", Handle: "alice.test"})
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, "").RefreshSession(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", s.AccessJwt)
	assert.Equal(t, "refresh-2", s.RefreshJwt)
}

func TestGetProfileQueriesAppView(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/app.bsky.actor.getProfile", r.URL.Path)
		assert.Equal(t, "did:plc:bob", r.URL.Query().Get("actor"))
		json.NewEncoder(w).Encode(ProfileView{DID: "did:plc:bob", Handle: "bob.test", DisplayName: "Bob", Avatar: "https://cdn/bob.jpg"})
	}))
	defer srv.Close()

	p, err := NewClient("", srv.URL).GetProfile(context.Background(), "did:plc:bob")
	require.NoError(t, err)
	assert.Equal(t, "bob.test", p.Handle)
	assert.Equal(t, "Bob", p.DisplayName)
}
