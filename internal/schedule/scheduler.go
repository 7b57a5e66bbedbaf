// Package schedule runs sweeps on a fixed interval using robfig/cron.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepFunc runs one sweep. It must return once ctx is cancelled.
type SweepFunc func(ctx context.Context) error

// Scheduler runs a sweep immediately on Start and then once per interval.
// A run that would overlap an active one is skipped.
type Scheduler struct {
	cron     *cron.Cron
	run      SweepFunc
	interval time.Duration
	log      *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex

	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a Scheduler. Intervals below one second are rounded up.
func New(interval time.Duration, run SweepFunc, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{log: log.Sugar()}
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		run:      run,
		interval: interval,
		log:      log,
	}
}

// Start schedules the sweep and triggers the first run right away.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if s.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() { s.Trigger() }))
	s.cron.Start()
	s.started = true

	s.log.Info("scheduler started", zap.Duration("interval", s.interval))
	s.triggerLocked()
	return nil
}

// Trigger starts a sweep in the background. It reports false when the
// scheduler is stopped or a sweep is already running.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggerLocked()
}

func (s *Scheduler) triggerLocked() bool {
	if !s.started || s.ctx.Err() != nil {
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.log.Info("sweep still running, skipping")
		return false
	}

	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		if err := s.run(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("scheduled sweep failed", zap.Error(err))
		}
	}()
	return true
}

// Running reports whether a sweep started by the scheduler is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Stop cancels the active sweep and waits for it to return or for ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not started")
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for sweep to stop: %w", ctx.Err())
	}
}

// cronLogger adapts zap to cron.Logger. Cron's own info messages are noisy
// and go to debug.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
