package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teemow/calmcp/internal/logging"
)

// DefaultSweepInterval is how often expired entries are removed.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically deletes expired entries.
type Sweeper struct {
	guard  *Guard
	cron   *cron.Cron
	logger *slog.Logger

	// OnSweep, if set, is called with the number of removed entries.
	OnSweep func(ctx context.Context, removed int)
}

// NewSweeper schedules g.Sweep every interval. Call Start to begin.
func NewSweeper(g *Guard, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := logging.NewCronLogger(logger)
	s := &Sweeper{
		guard:  g,
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger)), cron.WithLogger(cronLogger)),
		logger: logger,
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.run); err != nil {
		return nil, fmt.Errorf("failed to schedule idempotency sweep: %w", err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to
// be done.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.guard.Sweep(ctx)
	if err != nil {
		s.logger.Warn("idempotency sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("removed expired idempotency entries", "count", n)
	}
	if s.OnSweep != nil {
		s.OnSweep(ctx, n)
	}
}
