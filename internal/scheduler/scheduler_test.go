package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"github.com/withObsrvr/erp-mirror/internal/replication"
)

// countingRunner records calls and the maximum number of concurrent cycles.
type countingRunner struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	fn       func(call int32) error
}

func (r *countingRunner) RunCycle(ctx context.Context) error {
	n := r.calls.Add(1)
	cur := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		prev := r.maxSeen.Load()
		if cur <= prev || r.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.fn != nil {
		return r.fn(n)
	}
	return nil
}

func TestServeRunsOnStartAndOnEveryTick(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, Config{Interval: 10 * time.Millisecond, RunOnStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeWithoutRunOnStartWaitsForTick(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, Config{Interval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = s.Serve(ctx)

	assert.Zero(t, runner.calls.Load())
}

func TestServeSurvivesFailuresAndPanics(t *testing.T) {
	runner := &countingRunner{fn: func(call int32) error {
		switch call {
		case 1:
			return errors.New("mirror rejected api key")
		case 2:
			panic("nil map write")
		default:
			return nil
		}
	}}
	s := New(runner, Config{Interval: 5 * time.Millisecond, RunOnStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Serve(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	cycles, failed := s.Stats()
	assert.GreaterOrEqual(t, cycles, 3)
	assert.Equal(t, 2, failed)
}

func TestCyclesNeverOverlap(t *testing.T) {
	runner := &countingRunner{delay: 30 * time.Millisecond}
	s := New(runner, Config{Interval: 2 * time.Millisecond, RunOnStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Serve(ctx) }()

	// Concurrent manual runs wait for the loop's cycle.
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { errs <- s.RunOnce(ctx) }()
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, <-errs)
	}

	assert.Equal(t, int32(1), runner.maxSeen.Load())
}

func TestStopEndsServeWithoutRestart(t *testing.T) {
	s := New(&countingRunner{}, Config{Interval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	s.Stop()
	s.Stop() // idempotent

	select {
	case err := <-done:
		assert.ErrorIs(t, err, suture.ErrDoNotRestart)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestRunOnceWrapsErrors(t *testing.T) {
	plain := errors.New("boom")
	s := New(RunnerFunc(func(context.Context) error { return plain }), Config{})
	err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, replication.ErrCycleFatal)
	assert.ErrorIs(t, err, plain)

	s = New(RunnerFunc(func(context.Context) error { panic("kaboom") }), Config{})
	err = s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, replication.ErrCycleFatal)
	assert.Contains(t, err.Error(), "kaboom")

	s = New(RunnerFunc(func(context.Context) error { return nil }), Config{})
	assert.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, DefaultInterval, s.config.Interval)
	assert.Equal(t, "replication-scheduler", s.String())
}
