/*
scheduler.go - Periodic accrual refresh

PURPOSE:
  Keeps stored accrued hours current without a request having to touch
  every employee. On each tick it runs Engine.RefreshAllAccruals for the
  engine's current date across all tenants.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on Start
  - Refresh is forward-only: rows already calculated for today are skipped,
    so overlapping or repeated runs change nothing
  - Stop cancels an in-flight run and waits for the goroutine

CONFIGURATION:
  - Interval: How often to refresh (default: 1 hour)
  - Enabled:  Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewAccrualScheduler(engine, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RecalculateAccruals endpoint (one employee, on demand)
  - timeoff/engine.go: RefreshAllAccruals
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/leave-engine/logger"
	"github.com/warp/leave-engine/timeoff"
)

// AccrualScheduler refreshes accruals for all employees on an interval.
type AccrualScheduler struct {
	Engine   *timeoff.Engine
	Log      *logger.Logger
	Interval time.Duration
	Enabled  bool

	ticker  *time.Ticker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	last    *timeoff.RefreshReport
	lastErr error
}

// NewAccrualScheduler creates a new scheduler.
func NewAccrualScheduler(eng *timeoff.Engine, log *logger.Logger) *AccrualScheduler {
	return &AccrualScheduler{
		Engine:   eng,
		Log:      log.WithComponent("scheduler"),
		Interval: time.Hour,
		Enabled:  true,
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (s *AccrualScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info().Msg("accrual scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run(ctx, s.ticker)

	s.Log.Info().Dur("interval", s.Interval).Msg("accrual scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run to return.
func (s *AccrualScheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	s.cancel()
	s.ticker = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.Log.Info().Msg("accrual scheduler stopped")
}

func (s *AccrualScheduler) run(ctx context.Context, ticker *time.Ticker) {
	defer s.wg.Done()

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow refreshes every employee once, as of the engine's today.
func (s *AccrualScheduler) RunNow(ctx context.Context) (timeoff.RefreshReport, error) {
	started := time.Now()
	report, err := s.Engine.RefreshAllAccruals(ctx, s.Engine.Today())

	s.mu.Lock()
	s.last = &report
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.Log.Error().Err(err).Msg("accrual refresh aborted")
		return report, err
	}
	ev := s.Log.Info()
	if report.Failed > 0 {
		ev = s.Log.Warn()
	}
	ev.Str("as_of", report.AsOf.Key()).
		Int("tenants", report.Tenants).
		Int("employees", report.Employees).
		Int("updated", report.Updated).
		Int("failed", report.Failed).
		Dur("took", time.Since(started)).
		Msg("accrual refresh completed")
	return report, nil
}

// LastRun returns the most recent report, or nil before the first run.
func (s *AccrualScheduler) LastRun() (*timeoff.RefreshReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}
