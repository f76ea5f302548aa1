/*
scheduler.go - Background reconciliation scheduler

PURPOSE:
  Keeps the local ledger converging with the server without a user pulling
  to refresh: reconciles on a fixed interval and whenever connectivity comes
  back.

DESIGN:
  - One background goroutine; passes never overlap
  - Ticker and connectivity triggers feed the same loop
  - A token bucket (x/time/rate) throttles passes so a flapping connection
    cannot hammer the remote service
  - Triggers coalesce: while one is queued, further ones are dropped
  - Failures are logged and counted; the next tick tries again

CONFIGURATION:
  - Interval: time between periodic passes (0 disables the ticker)
  - MinGap:   minimum spacing between passes (0 disables throttling)
  - Burst:    passes allowed back to back before MinGap applies

USAGE:
  s := NewScheduler(engine, SchedulerConfig{Interval: 30 * time.Second})
  s.Start(ctx)
  defer s.Stop()
  s.Trigger() // connectivity restored

SEE ALSO:
  - handlers.go: /api/connectivity and /api/scheduler
  - points/reconcile.go: The pass itself
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Reconciler is the part of the engine the scheduler drives.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

type SchedulerConfig struct {
	Interval time.Duration
	MinGap   time.Duration
	Burst    int
	Logger   *slog.Logger
}

// Scheduler runs reconciliation in the background.
type Scheduler struct {
	target   Reconciler
	interval time.Duration
	limiter  *rate.Limiter
	log      *slog.Logger

	trigger chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
	lastErr error

	runs      atomic.Int64
	failures  atomic.Int64
	throttled atomic.Int64
}

func NewScheduler(target Reconciler, cfg SchedulerConfig) *Scheduler {
	limit := rate.Inf
	if cfg.MinGap > 0 {
		limit = rate.Every(cfg.MinGap)
	}
	burst := max(cfg.Burst, 1)
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		target:   target,
		interval: cfg.Interval,
		limiter:  rate.NewLimiter(limit, burst),
		log:      log.With("component", "scheduler"),
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the loop and runs a first pass immediately. Calling Start
// on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	s.log.Info("started", "interval", s.interval)
}

// Stop ends the loop and waits for an in-flight pass to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("stopped")
}

// Trigger asks for a pass soon. It returns false when one is already queued.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// Run immediately on start
	s.runOnce(ctx, "start")

	for {
		select {
		case <-tick:
			s.runOnce(ctx, "interval")
		case <-s.trigger:
			s.runOnce(ctx, "trigger")
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) {
	if !s.limiter.Allow() {
		s.throttled.Add(1)
		s.log.Debug("pass throttled", "reason", reason)
		return
	}

	start := time.Now()
	err := s.target.Reconcile(ctx)
	s.runs.Add(1)

	s.mu.Lock()
	s.lastRun = start
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.failures.Add(1)
		s.log.Warn("reconciliation failed", "reason", reason, "error", err)
		return
	}
	s.log.Debug("reconciliation finished", "reason", reason, "duration", time.Since(start))
}

// Status reports counters and the last outcome.
func (s *Scheduler) Status() SchedulerStatusDTO {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStatusDTO{
		Running:   s.cancel != nil,
		Interval:  s.interval.String(),
		Runs:      s.runs.Load(),
		Failures:  s.failures.Load(),
		Throttled: s.throttled.Load(),
		LastRun:   s.lastRun,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
