package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/domain"
	"github.com/blackmichael/bluesky-federation/internal/firehose"
	"github.com/blackmichael/bluesky-federation/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CursorService is the cursor row used for the Jetstream position.
const CursorService = "jetstream"

// DefaultLeaseTTL bounds how long a crashed process can keep other pollers
// off the cursor.
const DefaultLeaseTTL = 5 * time.Minute

var tracer = otel.Tracer("github.com/blackmichael/bluesky-federation/internal/federation")

// Fetcher returns one bounded batch of events starting at cursor.
type Fetcher interface {
	Fetch(ctx context.Context, cursor int64) (*firehose.Batch, error)
}

// CycleReport summarises one polling cycle.
type CycleReport struct {
	StartedAt       time.Time     `json:"started_at"`
	EventsReceived  int           `json:"events_received"`
	EventsRelevant  int           `json:"events_relevant"`
	EventsProcessed int           `json:"events_processed"`
	EventsApplied   int           `json:"events_applied"`
	Malformed       int           `json:"malformed"`
	CursorPosition  int64         `json:"cursor_position"`
	Duration        time.Duration `json:"duration"`
	Err             error         `json:"-"`
}

// Poller runs polling cycles: load the cursor, fetch a batch, route the
// relevant events in order and commit the cursor. At most one cycle runs at
// a time per cursor, across processes sharing the store: each cycle holds a
// lease on the cursor row for its duration.
type Poller struct {
	cursors  domain.CursorRepository
	fetcher  Fetcher
	filter   *firehose.Filter
	router   *Router
	observer telemetry.Observer
	logger   *slog.Logger

	owner    string
	leaseTTL time.Duration
	running  sync.Mutex

	mu   sync.RWMutex
	last *CycleReport
}

// NewPoller creates a new poller.
func NewPoller(
	cursors domain.CursorRepository,
	fetcher Fetcher,
	filter *firehose.Filter,
	router *Router,
	observer telemetry.Observer,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		cursors:  cursors,
		fetcher:  fetcher,
		filter:   filter,
		router:   router,
		observer: observer,
		logger:   logger,
		owner:    uuid.NewString(),
		leaseTTL: DefaultLeaseTTL,
	}
}

// LastReport returns the report of the most recent cycle.
func (p *Poller) LastReport() (CycleReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return CycleReport{}, false
	}
	return *p.last, true
}

// RunOnce runs a single polling cycle. It returns ErrCycleInProgress if
// another cycle is running, in this process or in another one holding the
// cursor lease. The cursor is committed after every cycle that
// got as far as loading it: it advances to the last event that was handled
// and records the error, if any, that stopped the cycle.
func (p *Poller) RunOnce(ctx context.Context) (CycleReport, error) {
	if !p.running.TryLock() {
		telemetry.Emit(ctx, p.observer, telemetry.EventCycleSkipped)
		return CycleReport{}, domain.ErrCycleInProgress
	}
	defer p.running.Unlock()

	claimed, err := p.cursors.ClaimCursor(ctx, CursorService, p.owner, p.leaseTTL)
	if err != nil {
		return CycleReport{}, fmt.Errorf("claim cursor: %w", err)
	}
	if !claimed {
		telemetry.Emit(ctx, p.observer, telemetry.EventCycleSkipped)
		return CycleReport{}, domain.ErrCycleInProgress
	}
	defer p.release(ctx)

	ctx, span := tracer.Start(ctx, "federation.cycle")
	defer span.End()

	report := CycleReport{StartedAt: time.Now().UTC()}
	err = p.runCycle(ctx, &report)
	report.Duration = time.Since(report.StartedAt)
	report.Err = err

	span.SetAttributes(
		attribute.Int("events.received", report.EventsReceived),
		attribute.Int("events.relevant", report.EventsRelevant),
		attribute.Int("events.applied", report.EventsApplied),
		attribute.Int64("cursor", report.CursorPosition),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("polling cycle failed",
			"cursor", report.CursorPosition,
			"events_received", report.EventsReceived,
			"events_processed", report.EventsProcessed,
			"error", err,
		)
	} else {
		p.logger.Info("polling cycle complete",
			"cursor", report.CursorPosition,
			"events_received", report.EventsReceived,
			"events_relevant", report.EventsRelevant,
			"events_applied", report.EventsApplied,
			"malformed", report.Malformed,
			"duration", report.Duration,
		)
	}
	telemetry.Emit(ctx, p.observer, telemetry.EventCycleCompleted,
		attribute.Int("events.received", report.EventsReceived),
		attribute.Int("events.applied", report.EventsApplied),
		attribute.Int64("cursor", report.CursorPosition),
		attribute.Bool("failed", err != nil),
	)

	p.mu.Lock()
	p.last = &report
	p.mu.Unlock()

	return report, err
}

func (p *Poller) release(ctx context.Context) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.cursors.ReleaseCursor(releaseCtx, CursorService, p.owner); err != nil {
		p.logger.Warn("failed to release cursor lease", "owner", p.owner, "error", err)
	}
}

func (p *Poller) runCycle(ctx context.Context, report *CycleReport) error {
	cursor, err := p.cursors.GetCursor(ctx, CursorService)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	report.CursorPosition = cursor.Position

	position, processed, runErr := p.process(ctx, cursor.Position, report)
	report.CursorPosition = max(cursor.Position, position)
	report.EventsProcessed = processed

	// The commit runs even when ctx is done so the progress made so far and
	// the failure are not lost.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.cursors.CommitCursor(commitCtx, CursorService, position, processed, runErr); err != nil {
		return errors.Join(runErr, fmt.Errorf("commit cursor: %w", err))
	}
	return runErr
}

// process fetches and routes one batch. It returns the position of the last
// handled event, the number of events routed to a handler and the error
// that stopped processing.
func (p *Poller) process(ctx context.Context, from int64, report *CycleReport) (int64, int, error) {
	position := from

	view, err := p.filter.Snapshot(ctx)
	if err != nil {
		return position, 0, err
	}

	batch, fetchErr := p.fetcher.Fetch(ctx, from)
	if batch == nil {
		return position, 0, fmt.Errorf("fetch events: %w", fetchErr)
	}
	report.EventsReceived = batch.Received
	report.Malformed = batch.Malformed

	processed := 0
	for _, e := range batch.Events {
		relevant, err := view.Relevant(ctx, e)
		if err != nil {
			return position, processed, fmt.Errorf("classify event %d: %w", e.TimeUS, err)
		}

		if relevant {
			report.EventsRelevant++
			outcome, err := p.router.Route(ctx, e)
			if err != nil {
				return position, processed, fmt.Errorf("route event %d (%s): %w", e.TimeUS, e.URI(), err)
			}
			processed++
			if outcome == OutcomeApplied {
				report.EventsApplied++
			}
			p.observe(ctx, e, outcome)
		}

		position = e.TimeUS
	}

	if fetchErr != nil {
		return position, processed, fmt.Errorf("fetch events: %w", fetchErr)
	}
	return position, processed, nil
}

func (p *Poller) observe(ctx context.Context, e *firehose.Event, outcome Outcome) {
	name := telemetry.EventDropped
	switch {
	case outcome == OutcomeDuplicate:
		name = telemetry.EventDuplicate
	case outcome == OutcomeApplied && e.Commit.Operation == firehose.OpDelete:
		name = telemetry.EventRetracted
	case outcome == OutcomeApplied:
		name = telemetry.EventInteraction
	}
	telemetry.Emit(ctx, p.observer, name,
		attribute.String("uri", e.URI()),
		attribute.String("collection", e.Commit.Collection),
		attribute.Int64("position", e.TimeUS),
	)
}
