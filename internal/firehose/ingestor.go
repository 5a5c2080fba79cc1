package firehose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/bluesky"
	"github.com/gorilla/websocket"
)

// wantedCollections is the set of AT Proto collection NSIDs requested from
// Jetstream. Posts are needed for replies and quotes.
var wantedCollections = []string{
	bluesky.CollectionLike,
	bluesky.CollectionRepost,
	bluesky.CollectionPost,
	bluesky.CollectionFollow,
}

// Config bounds a single polling batch.
type Config struct {
	// URL is the Jetstream subscribe endpoint.
	URL string

	// Window is the longest a batch may stay connected.
	Window time.Duration

	// IdleTimeout ends the batch when no message arrives for this long.
	IdleTimeout time.Duration

	// MaxEvents ends the batch once this many messages were read.
	MaxEvents int
}

// Batch is the finite result of one Fetch.
type Batch struct {
	// Events are the decoded messages in stream order.
	Events []*Event

	// Received counts every message read, including malformed ones.
	Received int

	// Malformed counts messages that could not be decoded.
	Malformed int
}

// LastPosition returns the time_us of the last decoded event, or 0.
func (b *Batch) LastPosition() int64 {
	if len(b.Events) == 0 {
		return 0
	}
	return b.Events[len(b.Events)-1].TimeUS
}

// Ingestor pulls bounded batches of events from Jetstream.
type Ingestor struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewIngestor creates a new Jetstream ingestor.
func NewIngestor(cfg Config, logger *slog.Logger) *Ingestor {
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Second
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 5000
	}
	return &Ingestor{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (i *Ingestor) buildURL(cursor int64) (string, error) {
	u, err := url.Parse(i.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse firehose url: %w", err)
	}
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch connects to Jetstream at cursor and reads until the stream goes
// idle, the batch window elapses, MaxEvents is reached or the server closes
// the connection. None of those is an error. A transport failure part way
// through returns the events read so far together with the error.
func (i *Ingestor) Fetch(ctx context.Context, cursor int64) (*Batch, error) {
	wsURL, err := i.buildURL(cursor)
	if err != nil {
		return nil, err
	}

	i.logger.Debug("connecting to firehose", "url", wsURL)

	conn, _, err := i.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	// ReadMessage does not observe ctx; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	batch := &Batch{}
	deadline := time.Now().Add(i.cfg.Window)

	for batch.Received < i.cfg.MaxEvents {
		readDeadline := time.Now().Add(i.cfg.IdleTimeout)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		if err := conn.SetReadDeadline(readDeadline); err != nil {
			return batch, fmt.Errorf("set read deadline: %w", err)
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return batch, ctx.Err()
			}
			if isEndOfBatch(err) {
				break
			}
			return batch, fmt.Errorf("read message: %w", err)
		}

		batch.Received++
		event, err := ParseEvent(message)
		if err != nil {
			batch.Malformed++
			i.logger.Warn("skipping malformed event", "error", err)
			continue
		}
		batch.Events = append(batch.Events, event)
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	return batch, nil
}

// isEndOfBatch reports whether a read error marks the normal end of a
// polling batch rather than a failure.
func isEndOfBatch(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
