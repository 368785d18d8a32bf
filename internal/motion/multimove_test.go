package motion_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/undulator/internal/motion"
	"github.com/banshee-data/undulator/internal/sim"
)

type failureLog struct {
	mu     sync.Mutex
	source []string
	errs   []error
}

func (f *failureLog) MoveFailed(source string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = append(f.source, source)
	f.errs = append(f.errs, err)
}

func (f *failureLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

type rig struct {
	locks   *motion.LockTable
	a, b    *sim.Axis
	virtual *motion.VirtualAxis
	failed  *failureLog
}

func newRig(t *testing.T, hold bool) *rig {
	t.Helper()
	r := &rig{locks: motion.NewLockTable(), failed: &failureLog{}}
	r.a = newAxis(t, r.locks, "gap")
	r.b = newAxis(t, r.locks, "phase")
	r.a.SetHold(hold)
	r.b.SetHold(hold)
	r.virtual = motion.NewVirtualAxis("energy", "eV", r.locks, r.a, r.b)
	return r
}

func (r *rig) move(legs ...motion.Leg) *motion.MultipleMove {
	return motion.NewMultipleMove(r.virtual, r.a, r.b, legs, r.failed)
}

// bothMoving waits until the held axes have started the leg in flight.
func (r *rig) bothMoving(t *testing.T) motion.CommandID {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.a.ActiveCommand() != 0 && r.b.ActiveCommand() != 0
	}, 2*time.Second, time.Millisecond)
	id := r.a.ActiveCommand()
	require.Equal(t, id, r.b.ActiveCommand(), "both axes share one command id per leg")
	return id
}

func TestMultipleMove_Success(t *testing.T) {
	t.Parallel()
	r := newRig(t, false)
	events := &recorder{}
	r.virtual.AddObserver(events)

	mm := r.move(motion.Leg{A: 10, B: 1}, motion.Leg{A: 20, B: 2}, motion.Leg{A: 30, B: -3}).WithTarget(150)
	require.NoError(t, mm.Execute(context.Background()))
	require.NoError(t, wait(t, mm))

	assert.Equal(t, 30.0, r.a.Position().Value)
	assert.Equal(t, -3.0, r.b.Position().Value)
	assert.Equal(t, 150.0, r.virtual.Position().Value)
	assert.Equal(t, 3, r.a.Starts())
	assert.Equal(t, 3, r.b.Starts())
	assert.Empty(t, r.locks.Locked())
	assert.Zero(t, r.a.Len())
	assert.Zero(t, r.b.Len())
	assert.Zero(t, r.failed.count())
	assert.False(t, mm.Executing())
	assert.False(t, r.virtual.IsMoving())

	got := events.statuses()
	require.NotEmpty(t, got)
	assert.Equal(t, motion.StatusBusy, got[0])
	assert.Equal(t, motion.StatusReady, got[len(got)-1])
}

func TestMultipleMove_VirtualAlreadyLocked(t *testing.T) {
	t.Parallel()
	r := newRig(t, false)
	other := motion.NewToken()
	require.True(t, r.virtual.Lock(other))

	mm := r.move(motion.Leg{A: 1, B: 1})
	err := mm.Execute(context.Background())
	require.ErrorIs(t, err, motion.ErrValidation)
	assert.Equal(t, motion.StatusAlreadyLocked, motion.StatusOf(err))
	assert.Equal(t, other, r.locks.Holder("energy"))
	assert.Zero(t, r.a.Starts())
	assert.Zero(t, r.b.Starts())
}

func TestMultipleMove_NoLegs(t *testing.T) {
	t.Parallel()
	r := newRig(t, false)

	err := r.move().Execute(context.Background())
	require.ErrorIs(t, err, motion.ErrValidation)
	assert.Empty(t, r.locks.Locked())
}

func TestMultipleMove_CheckFailureOnLaterLeg(t *testing.T) {
	t.Parallel()
	r := newRig(t, false)

	mm := r.move(motion.Leg{A: 5, B: 5}, motion.Leg{A: 6, B: 150}, motion.Leg{A: 7, B: 7})
	require.NoError(t, mm.Execute(context.Background()))

	err := wait(t, mm)
	require.ErrorIs(t, err, motion.ErrValidation)
	assert.Equal(t, motion.StatusSoftLimitUpper, motion.StatusOf(err))

	assert.Equal(t, 1, r.a.Starts(), "A must not start the rejected leg")
	assert.Equal(t, 1, r.b.Starts())
	assert.Equal(t, 5.0, r.a.Position().Value)
	assert.Empty(t, r.locks.Locked(), "gap, phase and energy all released")
	require.Equal(t, 1, r.failed.count())
	assert.Equal(t, "energy", r.failed.source[0])
	assert.Same(t, err, r.failed.errs[0])
}

func TestMultipleMove_FirstFailureWins(t *testing.T) {
	t.Parallel()
	r := newRig(t, true)

	mm := r.move(motion.Leg{A: 50, B: 5}, motion.Leg{A: 60, B: 6})
	require.NoError(t, mm.Execute(context.Background()))
	r.bothMoving(t)

	require.True(t, r.a.Complete(motion.StatusUpperLimit, "hit upper switch"))

	err := wait(t, mm)
	require.ErrorIs(t, err, motion.ErrExecution)
	assert.Equal(t, motion.StatusUpperLimit, motion.StatusOf(err), "STOPPED from the partner must not replace the first failure")
	assert.Contains(t, err.Error(), "leg 0")
	assert.Equal(t, 1, r.b.Stops(), "partner axis stopped")
	assert.False(t, r.b.IsMoving())
	assert.Equal(t, 1, r.a.Starts(), "second leg never started")
	assert.Empty(t, r.locks.Locked())
	assert.Equal(t, 1, r.failed.count())
}

func TestMultipleMove_AwayFromLimitAccepted(t *testing.T) {
	t.Parallel()
	r := newRig(t, true)

	mm := r.move(motion.Leg{A: 2, B: 3})
	require.NoError(t, mm.Execute(context.Background()))
	r.bothMoving(t)

	require.True(t, r.a.Complete(motion.StatusAwayFromLimit, ""))
	require.True(t, r.b.Complete(motion.StatusReady, ""))
	require.NoError(t, wait(t, mm))
	assert.Empty(t, r.locks.Locked())
}

func TestMultipleMove_IgnoresStaleAndUnsolicitedReady(t *testing.T) {
	t.Parallel()
	r := newRig(t, true)

	mm := r.move(motion.Leg{A: 2, B: 3})
	require.NoError(t, mm.Execute(context.Background()))
	id := r.bothMoving(t)

	r.a.Emit(motion.StatusReady, id+500, "old command")
	r.b.Emit(motion.StatusError, id+500, "old failure")
	r.a.Emit(motion.StatusReady, 0, "")
	r.b.Emit(motion.StatusBusy, id, "")

	select {
	case <-mm.Done():
		t.Fatalf("coordinated move finished early: %v", mm.Err())
	case <-time.After(20 * time.Millisecond):
	}
	assert.True(t, r.virtual.IsMoving())
	assert.True(t, r.locks.IsLocked("energy"))

	require.True(t, r.a.Complete(motion.StatusReady, ""))
	require.True(t, r.b.Complete(motion.StatusReady, ""))
	require.NoError(t, wait(t, mm))
}

func TestMultipleMove_UnsolicitedFailure(t *testing.T) {
	t.Parallel()
	r := newRig(t, true)

	mm := r.move(motion.Leg{A: 2, B: 3})
	require.NoError(t, mm.Execute(context.Background()))
	r.bothMoving(t)

	r.b.Emit(motion.StatusLowerLimit, 0, "crashed into lower switch")

	err := wait(t, mm)
	require.ErrorIs(t, err, motion.ErrExecution)
	assert.Equal(t, motion.StatusLowerLimit, motion.StatusOf(err))
	assert.Empty(t, r.locks.Locked())
}

func TestMultipleMove_StartFailure(t *testing.T) {
	t.Parallel()
	r := newRig(t, true)
	r.b.FailNextStart(errors.New("phase drive tripped"))

	mm := r.move(motion.Leg{A: 2, B: 3})
	require.NoError(t, mm.Execute(context.Background()))

	err := wait(t, mm)
	require.ErrorIs(t, err, motion.ErrExecution)
	assert.Contains(t, err.Error(), "phase drive tripped")
	assert.False(t, r.a.IsMoving(), "partner that did start is stopped")
	assert.Empty(t, r.locks.Locked())
}

func TestMultipleMove_Interrupted(t *testing.T) {
	t.Parallel()
	r := newRig(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mm := r.move(motion.Leg{A: 2, B: 3})
	require.NoError(t, mm.Execute(ctx))
	r.bothMoving(t)
	cancel()

	err := wait(t, mm)
	require.ErrorIs(t, err, motion.ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, r.a.Stops())
	assert.Equal(t, 1, r.b.Stops())
	assert.Empty(t, r.locks.Locked())
	assert.Equal(t, 1, r.failed.count())
}

func TestVirtualAxis_StopForwards(t *testing.T) {
	t.Parallel()
	r := newRig(t, true)
	r.a.FailStop(errors.New("a refused"))
	r.b.FailStop(errors.New("b refused"))

	err := r.virtual.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a refused")
	assert.Contains(t, err.Error(), "b refused")
	assert.Equal(t, 1, r.a.Stops())
	assert.Equal(t, 1, r.b.Stops())
	assert.Len(t, r.virtual.Dependents(), 2)
}

type recorder struct {
	mu     sync.Mutex
	events []motion.StatusEvent
}

func (r *recorder) Update(ev motion.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) statuses() []motion.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]motion.Status, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Status
	}
	return out
}

func TestMultipleMove_OnFinishRunsBeforeDone(t *testing.T) {
	t.Parallel()
	r := newRig(t, false)

	var (
		calls   int
		outcome error
		locked  []string
	)
	mm := r.move(motion.Leg{A: 1, B: 2}).OnFinish(func(err error) {
		calls++
		outcome = err
		locked = r.locks.Locked()
	})
	require.NoError(t, mm.Execute(context.Background()))
	require.NoError(t, wait(t, mm))

	assert.Equal(t, 1, calls)
	assert.NoError(t, outcome)
	assert.Empty(t, locked, "locks are released before the hook runs")
}
