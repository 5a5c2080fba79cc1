package federation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/domain"
)

// DefaultPollInterval is the time between two polling cycles.
const DefaultPollInterval = 30 * time.Second

// Scheduler triggers polling cycles on a fixed interval.
type Scheduler struct {
	poller   *Poller
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler for poller.
func NewScheduler(poller *Poller, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{poller: poller, interval: interval, logger: logger}
}

// Run runs a cycle immediately on start and then repeats at the configured
// interval. Cycle failures are logged and retried on the next tick. It
// blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.poller.RunOnce(ctx)
	if errors.Is(err, domain.ErrCycleInProgress) {
		s.logger.Debug("skipping tick, previous cycle still running")
	}
}
