package service

import (
	"context"
	"sync"
	"time"

	"github.com/pharmstock/pharmstock-backend/pkg/config"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// Scheduler runs the daily jobs: the expiry sweep and the snapshot capture.
// The jobs themselves are plain service calls with no scheduling concerns,
// so operators can also trigger them through the manual endpoints.
type Scheduler struct {
	quarantine *QuarantineService
	analytics  *AnalyticsService
	interval   time.Duration
	logger     *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a new scheduler
func NewScheduler(quarantine *QuarantineService, analytics *AnalyticsService, cfg *config.SchedulerConfig, log *logger.Logger) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		quarantine: quarantine,
		analytics:  analytics,
		interval:   interval,
		logger:     log.WithComponent("scheduler"),
	}
}

// Start launches the scheduler loop. It runs the jobs once immediately so a
// freshly started service catches up on a missed day, then on every tick.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runJobs(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJobs(ctx)
		}
	}
}

// runJobs captures the snapshot before the sweep runs: the snapshot reads
// ACTIVE batches, and the day's expired count would read zero if the sweep
// had already moved them to EXPIRED. Failures are logged only; the snapshot
// is idempotent and retries on the next tick.
func (s *Scheduler) runJobs(ctx context.Context) {
	if _, err := s.analytics.CaptureSnapshot(ctx, time.Now().UTC()); err != nil {
		s.logger.WithError(err).Error().Msg("scheduled snapshot capture failed")
	}

	if _, err := s.quarantine.AutoQuarantineExpiredBatches(ctx); err != nil {
		s.logger.WithError(err).Error().Msg("scheduled expiry sweep failed")
	}
}
