// Package scheduler drives the periodic tick (§4.10): scan, decide,
// execute, persist, announce. It owns the runtime status counters the
// Status Server reports and enforces single-flight tick execution.
package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Status is a point-in-time snapshot of the scheduler's runtime counters.
// The Scheduler is the only mutator; every reader (Status Server included)
// gets a copy via Snapshot.
type Status struct {
	StartedAt            int64
	TotalTicks           int64
	LastTickStartedAt    int64
	LastTickFinishedAt   int64
	SuccessfulTicks      int64
	FailedTicks          int64
	LastSuccessfulTickAt int64
	LastErrorAt          int64
	LastErrorMessage     string
	InFlight             bool
}

// TickFunc performs one tick given the current wall-clock second.
type TickFunc func(ctx context.Context, nowTs int64) error

// Scheduler wraps robfig/cron with a single-flight guard so concurrent
// tick invocations are impossible, per §5's "single-threaded cooperative
// at the tick boundary" invariant.
type Scheduler struct {
	tick         TickFunc
	scanInterval time.Duration
	runOnce      bool
	cronRunner   *cron.Cron
	inFlight     atomic.Bool
	operator     *OperatorState

	mu     sync.Mutex
	status Status
}

// New constructs a Scheduler. scanIntervalSeconds is ignored when runOnce
// is true.
func New(tick TickFunc, scanIntervalSeconds int64, runOnce bool, operator *OperatorState) *Scheduler {
	return &Scheduler{
		tick:         tick,
		scanInterval: time.Duration(scanIntervalSeconds) * time.Second,
		runOnce:      runOnce,
		operator:     operator,
	}
}

// Run executes tick() once immediately, then — unless runOnce — schedules
// subsequent ticks every scanInterval via cron's "@every" spec. Run blocks
// until ctx is cancelled when runOnce is false; it returns immediately
// after the first tick when runOnce is true.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.status.StartedAt = time.Now().Unix()
	s.mu.Unlock()

	s.runTick(ctx)
	if s.runOnce {
		return nil
	}

	s.cronRunner = cron.New()
	spec := "@every " + s.scanInterval.String()
	if _, err := s.cronRunner.AddFunc(spec, func() { s.runTick(ctx) }); err != nil {
		return err
	}
	s.cronRunner.Start()
	<-ctx.Done()
	stopCtx := s.cronRunner.Stop()
	<-stopCtx.Done()
	return nil
}

// runTick enforces the single-flight guard, consults the operator's
// pause flag, and records the runtime counters around the call to tick().
func (s *Scheduler) runTick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		log.Println("scheduler: tick already in flight, skipping")
		return
	}
	defer s.inFlight.Store(false)

	if s.operator != nil && s.operator.IsPaused() {
		log.Println("scheduler: paused, skipping tick")
		return
	}

	nowTs := time.Now().Unix()
	s.mu.Lock()
	s.status.TotalTicks++
	s.status.LastTickStartedAt = nowTs
	s.status.InFlight = true
	s.mu.Unlock()

	err := s.tick(ctx, nowTs)

	finishedAt := time.Now().Unix()
	s.mu.Lock()
	s.status.LastTickFinishedAt = finishedAt
	s.status.InFlight = false
	if err != nil {
		s.status.FailedTicks++
		s.status.LastErrorAt = finishedAt
		s.status.LastErrorMessage = err.Error()
	} else {
		s.status.SuccessfulTicks++
		s.status.LastSuccessfulTickAt = finishedAt
	}
	s.mu.Unlock()

	if err != nil {
		log.Printf("scheduler: tick failed: %v", err)
	}
}

// Snapshot returns a copy of the current runtime counters.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OperatorState holds the pending operator command queue (§4.9). Commands
// are applied at the start of the next tick; ConsumePendingAction is the
// only mutation path and is atomic (read-then-null).
type OperatorState struct {
	mu                sync.Mutex
	paused            bool
	pendingAction     *string
	pendingPoolID     *string
	lastAppliedAction *string
	updatedAt         int64
}

// OperatorSnapshot is a plain copy of OperatorState for readers (the
// Status Server) that must not share its mutex.
type OperatorSnapshot struct {
	Paused            bool
	PendingAction     *string
	PendingPoolID     *string
	LastAppliedAction *string
	UpdatedAt         int64
}

// NewOperatorState returns an empty, unpaused operator state.
func NewOperatorState() *OperatorState {
	return &OperatorState{}
}

// IsPaused reports the current pause flag.
func (o *OperatorState) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// SetPaused sets the pause flag.
func (o *OperatorState) SetPaused(paused bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = paused
	o.updatedAt = time.Now().Unix()
}

// Enqueue sets a pending action, replacing any not yet consumed.
func (o *OperatorState) Enqueue(action string, poolID *string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a := action
	o.pendingAction = &a
	o.pendingPoolID = poolID
	o.updatedAt = time.Now().Unix()
}

// ConsumePendingAction atomically reads and clears the pending action,
// moving it to lastAppliedAction, per §4.9's "read-then-null" contract.
func (o *OperatorState) ConsumePendingAction() (action *string, poolID *string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	action, poolID = o.pendingAction, o.pendingPoolID
	if action != nil {
		o.lastAppliedAction = action
	}
	o.pendingAction = nil
	o.pendingPoolID = nil
	return action, poolID
}

// Snapshot returns a copy of the operator state for the Status Server.
func (o *OperatorState) Snapshot() OperatorSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OperatorSnapshot{
		Paused:            o.paused,
		PendingAction:     o.pendingAction,
		PendingPoolID:     o.pendingPoolID,
		LastAppliedAction: o.lastAppliedAction,
		UpdatedAt:         o.updatedAt,
	}
}
