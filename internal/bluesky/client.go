package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultPDS     = "https://bsky.social"
	defaultAppView = "https://public.api.bsky.app"
)

// Client is a minimal BlueSky/AT Protocol API client. It is stateless with
// respect to sessions: callers pass the access token for each write so one
// client can act for many users.
type Client struct {
	pds        string
	appView    string
	httpClient *http.Client
}

// NewClient creates a new BlueSky API client. Empty URLs default to
// https://bsky.social for the PDS and https://public.api.bsky.app for
// AppView reads.
func NewClient(pds, appView string) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	if appView == "" {
		appView = defaultAppView
	}
	return &Client{
		pds:     pds,
		appView: appView,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx XRPC response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsAuthError reports whether err is the PDS rejecting the caller's token.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusUnauthorized {
		return true
	}
	switch apiErr.Code {
	case "ExpiredToken", "InvalidToken", "AuthenticationRequired":
		return true
	}
	return false
}

// Session holds the tokens returned by createSession and refreshSession.
type Session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`
}

// CreateSession authenticates with the PDS. Use an App Password, not your
// account password.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) (*Session, error) {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp Session
	if err := c.do(ctx, http.MethodPost, c.pds, "/xrpc/com.atproto.server.createSession", "", body, &resp); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &resp, nil
}

// RefreshSession exchanges a refresh token for a new token pair.
func (c *Client) RefreshSession(ctx context.Context, refreshJwt string) (*Session, error) {
	var resp Session
	if err := c.do(ctx, http.MethodPost, c.pds, "/xrpc/com.atproto.server.refreshSession", refreshJwt, nil, &resp); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return &resp, nil
}

// RecordRef identifies a record written to a repository.
type RecordRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// CreateRecord writes a record to repo via com.atproto.repo.createRecord. The
// PDS assigns the record key.
func (c *Client) CreateRecord(ctx context.Context, accessJwt, repo string, record Record) (*RecordRef, error) {
	raw, err := EncodeRecord(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	body := createRecordRequest{
		Repo:       repo,
		Collection: record.Collection(),
		Record:     raw,
	}

	var resp RecordRef
	if err := c.do(ctx, http.MethodPost, c.pds, "/xrpc/com.atproto.repo.createRecord", accessJwt, body, &resp); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	if resp.URI == "" {
		return nil, fmt.Errorf("create record: response has no uri")
	}
	return &resp, nil
}

// DeleteRecord deletes a record via com.atproto.repo.deleteRecord.
func (c *Client) DeleteRecord(ctx context.Context, accessJwt, repo, collection, rkey string) error {
	body := deleteRecordRequest{
		Repo:       repo,
		Collection: collection,
		RKey:       rkey,
	}

	if err := c.do(ctx, http.MethodPost, c.pds, "/xrpc/com.atproto.repo.deleteRecord", accessJwt, body, nil); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// ProfileView is the subset of app.bsky.actor.getProfile used here.
type ProfileView struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

// GetProfile fetches an actor's public profile from the AppView.
func (c *Client) GetProfile(ctx context.Context, actor string) (*ProfileView, error) {
	path := "/xrpc/app.bsky.actor.getProfile?actor=" + url.QueryEscape(actor)

	var resp ProfileView
	if err := c.do(ctx, http.MethodGet, c.appView, path, "", nil, &resp); err != nil {
		return nil, fmt.Errorf("get profile %s: %w", actor, err)
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, base, path, token string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var xrpcErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &xrpcErr) == nil && xrpcErr.Error != "" {
			apiErr.Code = xrpcErr.Error
			apiErr.Message = xrpcErr.Message
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

type createRecordRequest struct {
	Repo       string          `json:"repo"`
	Collection string          `json:"collection"`
	Record     json.RawMessage `json:"record"`
}

type deleteRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
}
