// Package worker drives the pipeline from timers and stream messages.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"jobsync_worker/core/domain"
	"jobsync_worker/pkg/logger"
)

// Runner is the pipeline entrypoint.
type Runner interface {
	Run(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error)
}

// =============================================================================
// Scheduler - periodic run over every account
// =============================================================================

const (
	DefaultScheduleInterval = 15 * time.Minute
	DefaultStartupDelay     = 30 * time.Second
	DefaultRunTimeout       = 10 * time.Minute
)

type Scheduler struct {
	runner       Runner
	interval     time.Duration
	startupDelay time.Duration
	runTimeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. Zero durations select the defaults.
func NewScheduler(runner Runner, interval, runTimeout time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultScheduleInterval
	}
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:       runner,
		interval:     interval,
		startupDelay: DefaultStartupDelay,
		runTimeout:   runTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetStartupDelay sets the wait before the first run (for testing).
func (s *Scheduler) SetStartupDelay(d time.Duration) {
	s.startupDelay = d
}

func (s *Scheduler) Start() {
	logger.Info("[Scheduler] Starting with interval %s", s.interval)
	s.wg.Add(1)
	go s.run()
}

// Stop cancels the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	logger.Info("[Scheduler] Stopping...")
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	select {
	case <-s.ctx.Done():
		return
	case <-time.After(s.startupDelay):
	}
	s.tick()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[Scheduler] Stopped")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
	defer cancel()

	result, err := s.runner.Run(ctx, domain.RunRequest{Trigger: "schedule"})
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		logger.Info("[Scheduler] Previous run still in progress, skipping")
	case err != nil:
		logger.WithError(err).Error("[Scheduler] Run failed")
	default:
		logger.WithField("run_id", result.RunID).Info("[Scheduler] Run finished: %d processed, %d errors",
			result.ProcessedCount, len(result.PerAccountErrors))
	}
}
