package undulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/undulator/internal/motion"
	"github.com/banshee-data/undulator/internal/remote"
	"github.com/banshee-data/undulator/internal/serialmux"
)

type controllerFixture struct {
	mux  *serialmux.SerialMux[serialmux.SerialPorter]
	emu  *remote.Emulator
	calc *Calculator
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	port, dev := serialmux.NewPipePort()
	mux := serialmux.NewSerialMux[serialmux.SerialPorter](port)
	emu := remote.NewEmulator(dev, map[string]float64{"gap": 10, "mutual": 2})
	go mux.Monitor(ctx)
	go emu.Run(ctx)
	t.Cleanup(func() {
		cancel()
		mux.Close()
	})

	locks := motion.NewLockTable()
	axis := func(name string) *remote.Axis {
		a := remote.New(remote.Config{Name: name, Unit: "mm", Lower: -50, Upper: 50}, locks, mux)
		go a.Run(ctx)
		return a
	}
	f := newFixture(t, func(o *Options) {
		o.Locks = locks
		o.Axes = Axes{Gap: axis("gap"), MutualPhase: axis("mutual"), OpposingPhase: axis("opposing")}
	})
	return &controllerFixture{mux: mux, emu: emu, calc: f.calc}
}

func TestRefresh_ReadsController(t *testing.T) {
	t.Parallel()
	f := newControllerFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := f.calc.Refresh(ctx)
	require.NoError(t, err)
	require.True(t, s.Known)
	assert.InDelta(t, 200, s.Current.Energy, 1e-9)
	assert.False(t, s.Stale)

	// Moved by hand on the controller; nothing was reported on the link.
	f.emu.Place("gap", 15)
	f.emu.Place("mutual", 3)

	s, err = f.calc.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, s.Stale)
	assert.InDelta(t, 300, s.Current.Energy, 1e-9)
	assert.Equal(t, 15.0, s.Snapshot.Gap)
}

func TestRefresh_ControllerUnreachable(t *testing.T) {
	t.Parallel()
	f := newControllerFixture(t)
	require.NoError(t, f.mux.Close())

	s, err := f.calc.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, serialmux.ErrClosed)
	assert.False(t, s.Known)
}
