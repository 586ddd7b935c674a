package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnceExecutesExactlyOneTick(t *testing.T) {
	var calls int32
	tick := func(ctx context.Context, nowTs int64) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	s := New(tick, 1, true, NewOperatorState())
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int32(1), calls)

	snap := s.Snapshot()
	assert.Equal(t, int64(1), snap.TotalTicks)
	assert.Equal(t, int64(1), snap.SuccessfulTicks)
	assert.Equal(t, int64(0), snap.FailedTicks)
}

func TestFailedTickIncrementsFailedCounterNotCrash(t *testing.T) {
	tick := func(ctx context.Context, nowTs int64) error {
		return errors.New("scan empty")
	}
	s := New(tick, 1, true, NewOperatorState())
	require.NoError(t, s.Run(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, int64(1), snap.FailedTicks)
	assert.Equal(t, int64(0), snap.SuccessfulTicks)
	assert.Equal(t, "scan empty", snap.LastErrorMessage)
}

func TestPausedOperatorSkipsTick(t *testing.T) {
	var calls int32
	tick := func(ctx context.Context, nowTs int64) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	op := NewOperatorState()
	op.SetPaused(true)
	s := New(tick, 1, true, op)
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int32(0), calls)
}

func TestSingleFlightSkipsOverlappingTick(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	tick := func(ctx context.Context, nowTs int64) error {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return nil
	}
	s := New(tick, 1, true, NewOperatorState())

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	<-started

	// Attempting a second concurrent tick while the first is in flight
	// must be skipped rather than run concurrently.
	s.runTick(context.Background())
	close(release)
	<-done

	assert.Equal(t, int32(1), calls)
}

func TestConsumePendingActionIsReadThenNull(t *testing.T) {
	op := NewOperatorState()
	poolID := "A"
	op.Enqueue("rotate", &poolID)

	action, pid := op.ConsumePendingAction()
	require.NotNil(t, action)
	assert.Equal(t, "rotate", *action)
	require.NotNil(t, pid)
	assert.Equal(t, "A", *pid)

	action2, pid2 := op.ConsumePendingAction()
	assert.Nil(t, action2)
	assert.Nil(t, pid2)

	snap := op.Snapshot()
	require.NotNil(t, snap.LastAppliedAction)
	assert.Equal(t, "rotate", *snap.LastAppliedAction)
}

func TestRecurringTicksRunOnInterval(t *testing.T) {
	var calls int32
	tick := func(ctx context.Context, nowTs int64) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	s := New(tick, 0, false, NewOperatorState())
	s.scanInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(90 * time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}
