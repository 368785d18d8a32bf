package undulator

import (
	"fmt"
	"time"

	"github.com/banshee-data/undulator/internal/lut"
)

// Request is a logical undulator setting.
type Request struct {
	Energy       float64
	Harmonic     int
	Polarization lut.Polarization
}

func (r Request) String() string {
	return fmt.Sprintf("%g eV h%d %s", r.Energy, r.Harmonic, r.Polarization)
}

// Snapshot records the physical axis positions after a completed move.
type Snapshot struct {
	Gap           float64
	MutualPhase   float64
	OpposingPhase float64
	Taken         time.Time
}

// State is the cached logical state of the undulator.
type State struct {
	Current   Request
	Requested Request
	Snapshot  Snapshot
	// Known is false until a move completes or a refresh derives a state.
	Known bool
	// Stale is set when the axes no longer sit where the last move left them,
	// or when a move failed part way. Current was then re-derived from the
	// live positions and may be approximate.
	Stale bool
}

// StateWatcher is told about every change of the cached state.
type StateWatcher interface {
	StateChanged(s State)
}

// StateWatcherFunc adapts a function to StateWatcher.
type StateWatcherFunc func(s State)

// StateChanged implements StateWatcher.
func (f StateWatcherFunc) StateChanged(s State) { f(s) }
