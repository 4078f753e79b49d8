// Package scheduler runs replication cycles on a fixed period.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/withObsrvr/erp-mirror/internal/replication"
)

// DefaultInterval is the period between cycle starts.
const DefaultInterval = 300 * time.Second

// Runner executes one replication cycle.
type Runner interface {
	RunCycle(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

// RunCycle implements Runner.
func (f RunnerFunc) RunCycle(ctx context.Context) error { return f(ctx) }

// Config configures the scheduler.
type Config struct {
	Interval   time.Duration
	RunOnStart bool
}

// Scheduler owns the cycle loop. Cycles never overlap: a tick that arrives
// while a cycle is running is dropped.
type Scheduler struct {
	runner Runner
	config Config
	logger *slog.Logger

	cycleMu  sync.Mutex // held for the duration of a cycle
	stopCh   chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	cycles int
	failed int
}

// New creates a scheduler for runner.
func New(runner Runner, config Config) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return &Scheduler{
		runner: runner,
		config: config,
		logger: slog.With("component", "scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Serve implements suture.Service. It returns when ctx is cancelled or Stop
// is called; a failed cycle never ends the loop.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"interval", s.config.Interval,
		"run_on_start", s.config.RunOnStart,
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-s.stopCh:
			s.logger.Info("scheduler stopped")
			return suture.ErrDoNotRestart
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop ends the loop after the in-flight cycle, if any, returns.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce runs a single cycle, waiting for any in-flight cycle first.
// A panic inside the cycle is returned as an error wrapping
// replication.ErrCycleFatal.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.run(ctx)
}

// Stats returns the number of cycles run and how many of them failed.
func (s *Scheduler) Stats() (cycles, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles, s.failed
}

// String implements fmt.Stringer for suture logs.
func (s *Scheduler) String() string {
	return "replication-scheduler"
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.cycleMu.TryLock() {
		s.logger.Warn("previous cycle still running, skipping tick")
		return
	}
	defer s.cycleMu.Unlock()

	if err := s.run(ctx); err != nil {
		s.logger.Error("cycle failed, waiting for next tick", "error", err)
	}
}

func (s *Scheduler) run(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", replication.ErrCycleFatal, r)
			s.logger.Error("cycle panicked", "panic", r, "stack", string(debug.Stack()))
		}

		s.mu.Lock()
		s.cycles++
		if err != nil {
			s.failed++
		}
		s.mu.Unlock()

		s.logger.Debug("cycle finished", "duration", time.Since(start), "error", err)
	}()

	err = s.runner.RunCycle(ctx)
	if err != nil && !errors.Is(err, replication.ErrCycleFatal) {
		err = fmt.Errorf("%w: %w", replication.ErrCycleFatal, err)
	}
	return err
}
