package api_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/api"
	"github.com/warp/points-ledger/pkg/logger"
)

type fakeReconciler struct {
	calls atomic.Int32
	err   error
	gate  chan struct{} // when set, every pass waits for it
}

func (f *fakeReconciler) Reconcile(ctx context.Context) error {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func startScheduler(t *testing.T, target api.Reconciler, cfg api.SchedulerConfig) *api.Scheduler {
	t.Helper()
	cfg.Logger = logger.NewTest()
	s := api.NewScheduler(target, cfg)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestScheduler_RunsOnStartAndOnTrigger(t *testing.T) {
	// GIVEN: A scheduler with no ticker
	target := &fakeReconciler{}
	s := startScheduler(t, target, api.SchedulerConfig{})

	// THEN: A first pass runs right away
	require.Eventually(t, func() bool { return target.calls.Load() == 1 }, waitFor, tick)

	// WHEN: Connectivity comes back
	s.Trigger()

	// THEN: Another pass runs
	require.Eventually(t, func() bool { return target.calls.Load() == 2 }, waitFor, tick)
	assert.Equal(t, int64(2), s.Status().Runs)
}

func TestScheduler_Interval(t *testing.T) {
	target := &fakeReconciler{}
	startScheduler(t, target, api.SchedulerConfig{Interval: 10 * time.Millisecond})

	require.Eventually(t, func() bool { return target.calls.Load() >= 3 }, waitFor, tick)
}

func TestScheduler_ThrottlesBursts(t *testing.T) {
	// GIVEN: At most one pass per hour
	target := &fakeReconciler{}
	s := startScheduler(t, target, api.SchedulerConfig{MinGap: time.Hour, Burst: 1})
	require.Eventually(t, func() bool { return target.calls.Load() == 1 }, waitFor, tick)

	// WHEN: Connectivity flaps
	s.Trigger()

	// THEN: The extra pass is dropped
	require.Eventually(t, func() bool { return s.Status().Throttled == 1 }, waitFor, tick)
	assert.Equal(t, int32(1), target.calls.Load())
}

func TestScheduler_TriggersCoalesce(t *testing.T) {
	// GIVEN: A first pass stuck on the network
	target := &fakeReconciler{gate: make(chan struct{})}
	s := startScheduler(t, target, api.SchedulerConfig{})
	require.Eventually(t, func() bool { return target.calls.Load() == 1 }, waitFor, tick)

	// WHEN: Triggering twice while it runs
	first := s.Trigger()
	second := s.Trigger()

	// THEN: Only one more pass is queued
	assert.True(t, first)
	assert.False(t, second)

	close(target.gate)
	require.Eventually(t, func() bool { return s.Status().Runs == 2 }, waitFor, tick)
	assert.Equal(t, int32(2), target.calls.Load())
}

func TestScheduler_RecordsFailures(t *testing.T) {
	target := &fakeReconciler{err: errors.New("remote unreachable")}
	s := startScheduler(t, target, api.SchedulerConfig{})

	require.Eventually(t, func() bool { return s.Status().Failures == 1 }, waitFor, tick)
	st := s.Status()
	assert.Equal(t, "remote unreachable", st.LastError)
	assert.False(t, st.LastRun.IsZero())
	assert.True(t, st.Running)
}

func TestScheduler_StartTwiceStopTwice(t *testing.T) {
	target := &fakeReconciler{}
	s := api.NewScheduler(target, api.SchedulerConfig{Logger: logger.NewTest()})

	s.Start(context.Background())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Status().Runs == 1 }, waitFor, tick)

	s.Stop()
	s.Stop()

	assert.False(t, s.Status().Running)
	assert.Equal(t, int32(1), target.calls.Load())
}
