package firehose

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// jetstreamServer serves messages over a WebSocket and then either idles or
// closes the connection.
func jetstreamServer(t *testing.T, messages []string, closeAfter bool, gotQuery chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotQuery != nil {
			gotQuery <- r.URL.RawQuery
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		if closeAfter {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return
		}
		// Idle until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/subscribe"
}

const (
	likeMsg     = `{"did":"did:plc:bob","time_us":100,"kind":"commit","commit":{"operation":"create","collection":"app.bsky.feed.like","rkey":"1","record":{"subject":{"uri":"at://did:plc:alice/app.bsky.feed.post/1","cid":"c"}}}}`
	deleteMsg   = `{"did":"did:plc:bob","time_us":200,"kind":"commit","commit":{"operation":"delete","collection":"app.bsky.feed.like","rkey":"1"}}`
	identityMsg = `{"did":"did:plc:bob","time_us":300,"kind":"identity"}`
)

func TestFetchEndsOnIdleTimeout(t *testing.T) {
	queries := make(chan string, 1)
	srv := jetstreamServer(t, []string{likeMsg, `{"garbage`, deleteMsg, identityMsg}, false, queries)
	defer srv.Close()

	ing := NewIngestor(Config{URL: wsURL(srv), IdleTimeout: 200 * time.Millisecond, Window: 5 * time.Second}, discardLogger())
	batch, err := ing.Fetch(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, 4, batch.Received)
	assert.Equal(t, 1, batch.Malformed)
	require.Len(t, batch.Events, 3)
	assert.Equal(t, int64(300), batch.LastPosition())

	q := <-queries
	assert.Contains(t, q, "cursor=42")
	assert.Contains(t, q, "wantedCollections=app.bsky.feed.like")
	assert.Contains(t, q, "wantedCollections=app.bsky.graph.follow")
}

func TestFetchEndsOnServerClose(t *testing.T) {
	srv := jetstreamServer(t, []string{likeMsg}, true, nil)
	defer srv.Close()

	ing := NewIngestor(Config{URL: wsURL(srv), IdleTimeout: 5 * time.Second, Window: 10 * time.Second}, discardLogger())
	batch, err := ing.Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, batch.Events, 1)
}

func TestFetchStopsAtMaxEvents(t *testing.T) {
	srv := jetstreamServer(t, []string{likeMsg, deleteMsg, identityMsg}, false, nil)
	defer srv.Close()

	ing := NewIngestor(Config{URL: wsURL(srv), MaxEvents: 2, IdleTimeout: time.Second}, discardLogger())
	batch, err := ing.Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Received)
	assert.Equal(t, int64(200), batch.LastPosition())
}

func TestFetchOmitsZeroCursor(t *testing.T) {
	queries := make(chan string, 1)
	srv := jetstreamServer(t, nil, true, queries)
	defer srv.Close()

	ing := NewIngestor(Config{URL: wsURL(srv)}, discardLogger())
	_, err := ing.Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.NotContains(t, <-queries, "cursor=")
}

func TestFetchDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ing := NewIngestor(Config{URL: wsURL(srv)}, discardLogger())
	_, err := ing.Fetch(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial firehose")
}
