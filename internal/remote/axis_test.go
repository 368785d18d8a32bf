package remote_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/undulator/internal/motion"
	"github.com/banshee-data/undulator/internal/remote"
	"github.com/banshee-data/undulator/internal/serialmux"
	"github.com/banshee-data/undulator/internal/sim"
)

type rig struct {
	ctx   context.Context
	locks *motion.LockTable
	mux   *serialmux.SerialMux[serialmux.SerialPorter]
	emu   *remote.Emulator
}

func newRig(t *testing.T, delay time.Duration) *rig {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	port, dev := serialmux.NewPipePort()
	mux := serialmux.NewSerialMux[serialmux.SerialPorter](port)
	emu := remote.NewEmulator(dev, map[string]float64{"gap": 10})
	emu.Delay = delay

	go mux.Monitor(ctx)
	go emu.Run(ctx)
	t.Cleanup(func() {
		cancel()
		mux.Close()
	})
	return &rig{ctx: ctx, locks: motion.NewLockTable(), mux: mux, emu: emu}
}

func (r *rig) axis(name string) *remote.Axis {
	a := remote.New(remote.Config{Name: name, Unit: "mm", Lower: -50, Upper: 50}, r.locks, r.mux)
	go a.Run(r.ctx)
	return a
}

func wait(t *testing.T, c motion.Command) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Wait(ctx)
	require.NoError(t, ctx.Err(), "command did not finish in time")
	return err
}

func TestAxis_AbsoluteMove(t *testing.T) {
	t.Parallel()
	r := newRig(t, 0)
	gap := r.axis("gap")

	cmd := motion.NewAbsoluteMove(gap, 22.5)
	require.NoError(t, cmd.Execute(context.Background()))
	require.NoError(t, wait(t, cmd))

	assert.Equal(t, motion.Position{Value: 22.5, Unit: "mm"}, gap.Position())
	assert.False(t, gap.IsMoving())
	assert.False(t, r.locks.IsLocked("gap"))
	assert.Equal(t, 22.5, r.emu.Position("gap"))
}

func TestAxis_SoftLimitRejectedLocally(t *testing.T) {
	t.Parallel()
	r := newRig(t, 0)
	gap := r.axis("gap")

	assert.Equal(t, motion.StatusSoftLimitUpper, gap.CheckMoveTo(51, "t"))
	assert.Equal(t, motion.StatusSoftLimitLower, gap.CheckMoveTo(-51, "t"))
	assert.False(t, r.locks.IsLocked("gap"))

	cmd := motion.NewAbsoluteMove(gap, 80)
	err := cmd.Execute(context.Background())
	assert.ErrorIs(t, err, motion.ErrValidation)
	assert.Equal(t, 10.0, r.emu.Position("gap"))
}

func TestAxis_CheckRespectsLockHolder(t *testing.T) {
	t.Parallel()
	r := newRig(t, 0)
	gap := r.axis("gap")

	require.True(t, r.locks.Lock("gap", "other"))
	assert.Equal(t, motion.StatusAlreadyLocked, gap.CheckMoveTo(1, "mine"))
	assert.ErrorIs(t, gap.DoMove("mine", motion.NextCommandID()), remote.ErrNotLocked)

	require.True(t, r.locks.Unlock("gap", "other"))
	require.Equal(t, motion.StatusReady, gap.CheckMoveTo(1, "mine"))
	assert.ErrorIs(t, gap.DoHome("mine", motion.NextCommandID()), remote.ErrNothingToDo)
}

func TestAxis_SetPosition(t *testing.T) {
	t.Parallel()
	r := newRig(t, 0)
	gap := r.axis("gap")

	cmd := motion.NewSetPosition(gap, -4)
	require.NoError(t, cmd.Execute(context.Background()))
	require.NoError(t, wait(t, cmd))
	assert.Equal(t, -4.0, gap.Position().Value)
	assert.Equal(t, -4.0, r.emu.Position("gap"))
}

func TestAxis_Home(t *testing.T) {
	t.Parallel()
	r := newRig(t, 0)
	gap := r.axis("gap")

	cmd := motion.NewHomeCommand(gap, 5)
	require.NoError(t, cmd.Execute(context.Background()))
	require.NoError(t, wait(t, cmd))
	assert.Equal(t, 5.0, gap.Position().Value)
	assert.False(t, r.locks.IsLocked("gap"))
}

func TestAxis_ControllerError(t *testing.T) {
	t.Parallel()
	r := newRig(t, 0)
	gap := r.axis("gap")
	r.emu.FailNext("gap", motion.StatusUpperLimit)

	cmd := motion.NewAbsoluteMove(gap, 30)
	require.NoError(t, cmd.Execute(context.Background()))
	err := wait(t, cmd)
	assert.ErrorIs(t, err, motion.ErrExecution)
	assert.Equal(t, motion.StatusUpperLimit, motion.StatusOf(err))
	assert.False(t, r.locks.IsLocked("gap"))
}

func TestAxis_Stop(t *testing.T) {
	t.Parallel()
	r := newRig(t, time.Hour)
	gap := r.axis("gap")

	cmd := motion.NewAbsoluteMove(gap, 30)
	require.NoError(t, cmd.Execute(context.Background()))
	assert.True(t, gap.IsMoving())
	assert.Equal(t, motion.StatusBusy, gap.CheckMoveTo(0, cmd.Token()))

	require.NoError(t, gap.Stop())
	err := wait(t, cmd)
	assert.Equal(t, motion.StatusStopped, motion.StatusOf(err))
	assert.False(t, gap.IsMoving())
	assert.Equal(t, 10.0, gap.Position().Value)
}

func TestAxis_LinkClosedDuringMove(t *testing.T) {
	t.Parallel()
	r := newRig(t, time.Hour)
	gap := r.axis("gap")

	cmd := motion.NewAbsoluteMove(gap, 30)
	require.NoError(t, cmd.Execute(context.Background()))
	require.NoError(t, r.mux.Close())

	err := wait(t, cmd)
	assert.ErrorIs(t, err, motion.ErrExecution)
	assert.Equal(t, motion.StatusError, motion.StatusOf(err))
	assert.False(t, gap.IsMoving())

	err = motion.NewAbsoluteMove(gap, 1).Execute(context.Background())
	assert.ErrorIs(t, err, motion.ErrExecution)
	assert.ErrorIs(t, err, serialmux.ErrClosed)
}

func TestAxis_PollAndForeignLines(t *testing.T) {
	t.Parallel()
	r := newRig(t, 0)
	gap := r.axis("gap")
	phase := r.axis("phase")

	r.emu.Place("gap", 17)
	require.NoError(t, gap.Poll())
	require.Eventually(t, func() bool { return gap.Position().Value == 17 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, phase.Position().Value)

	// A move of one axis is invisible to the other.
	cmd := motion.NewAbsoluteMove(phase, 3)
	require.NoError(t, cmd.Execute(context.Background()))
	require.NoError(t, wait(t, cmd))
	assert.Equal(t, 17.0, gap.Position().Value)
	assert.Equal(t, 3.0, phase.Position().Value)
}

func TestAxis_RelativeMoveFromReportedPosition(t *testing.T) {
	t.Parallel()
	r := newRig(t, 0)
	gap := r.axis("gap")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gap.Sync(ctx))
	assert.Equal(t, 10.0, gap.Position().Value)

	cmd := motion.NewRelativeMove(gap, -2.5)
	require.NoError(t, cmd.Execute(context.Background()))
	require.NoError(t, wait(t, cmd))
	assert.Equal(t, 7.5, gap.Position().Value)
}

func TestAxis_SyncFailsOnClosedLink(t *testing.T) {
	t.Parallel()
	r := newRig(t, 0)
	gap := r.axis("gap")
	require.NoError(t, r.mux.Close())

	err := gap.Sync(context.Background())
	assert.ErrorIs(t, err, serialmux.ErrClosed)
}

type statusLog struct {
	mu     sync.Mutex
	events []motion.StatusEvent
}

func (l *statusLog) Update(ev motion.StatusEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *statusLog) has(s motion.Status, id motion.CommandID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Status == s && ev.CommandID == id {
			return true
		}
	}
	return false
}

func TestAxis_PositionReportKeepsMoveAlive(t *testing.T) {
	t.Parallel()
	r := newRig(t, time.Hour)
	gap := r.axis("gap")
	log := &statusLog{}
	gap.AddObserver(log)

	phase := sim.New(sim.Config{Name: "phase"}, r.locks)
	phase.SetHold(true)
	virtual := motion.NewVirtualAxis("energy", "eV", r.locks, gap, phase)

	mm := motion.NewMultipleMove(virtual, gap, phase, []motion.Leg{{A: 20, B: 5}}, nil)
	require.NoError(t, mm.Execute(context.Background()))
	require.Eventually(t, func() bool { return phase.ActiveCommand() != 0 }, 2*time.Second, time.Millisecond)
	id := phase.ActiveCommand()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gap.Sync(ctx))
	assert.True(t, gap.IsMoving(), "a READY position report must not end the move")

	require.True(t, phase.Complete(motion.StatusError, "following error"))
	err := wait(t, mm)
	require.ErrorIs(t, err, motion.ErrExecution)

	require.Eventually(t, func() bool { return log.has(motion.StatusStopped, id) }, 5*time.Second, 5*time.Millisecond,
		"the controller must be told to stop the gap")
	assert.False(t, gap.IsMoving())
	assert.Equal(t, 10.0, r.emu.Position("gap"))
	assert.Empty(t, r.locks.Locked())
}

func TestAxis_UnsolicitedFaultEndsMove(t *testing.T) {
	t.Parallel()
	r := newRig(t, time.Hour)
	gap := r.axis("gap")

	cmd := motion.NewAbsoluteMove(gap, 30)
	require.NoError(t, cmd.Execute(context.Background()))
	require.True(t, gap.IsMoving())

	require.NoError(t, r.emu.Report("gap", motion.StatusLowerLimit))
	err := wait(t, cmd)
	assert.Equal(t, motion.StatusLowerLimit, motion.StatusOf(err))
	assert.False(t, gap.IsMoving())
}
