package undulator

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/multierr"

	"github.com/banshee-data/undulator/internal/lut"
	"github.com/banshee-data/undulator/internal/monitoring"
)

// Refresh compares the live axis positions with the snapshot of the last
// completed move. When they disagree the cached state is marked stale and
// re-derived from the positions through a reverse lookup, and state watchers
// are told. Before any move has completed Refresh derives the initial state.
// It does nothing while a coordinated move is running. Axes that cache a
// controller report are synced first.
func (c *Calculator) Refresh(ctx context.Context) (State, error) {
	if c.virtual.IsMoving() {
		return c.State(), nil
	}
	if err := c.syncAxes(ctx); err != nil {
		return c.State(), err
	}

	c.mu.Lock()
	live := c.snapshot()
	if c.state.Known && c.matches(live) {
		s := c.state
		c.mu.Unlock()
		return s, nil
	}

	derived, err := c.derive(live)
	if err != nil {
		c.state.Stale = true
		s, watchers := c.state, c.watchers
		c.mu.Unlock()
		notify(watchers, s)
		return s, err
	}

	if c.state.Known {
		monitoring.Logf("undulator: axes moved outside coordinated control, now %s (was %s)", derived, c.state.Current)
	}
	c.state.Stale = c.state.Known
	c.state.Current = derived
	c.state.Snapshot = live
	c.state.Known = true
	c.virtual.SetPosition(derived.Energy)
	s, watchers := c.state, c.watchers
	c.mu.Unlock()

	notify(watchers, s)
	return s, nil
}

func (c *Calculator) matches(live Snapshot) bool {
	tol := c.opts.Tolerance
	prev := c.state.Snapshot
	return math.Abs(live.Gap-prev.Gap) <= tol &&
		math.Abs(live.MutualPhase-prev.MutualPhase) <= tol &&
		math.Abs(live.OpposingPhase-prev.OpposingPhase) <= tol
}

// derive infers a logical state from positions. The polarization family
// follows from which phase axis is displaced: a non-zero opposing phase with
// a parked mutual phase means arbitrary linear polarization. Within a family
// the cached polarization is kept when it fits, since the tables of one
// family share a phase axis. c.mu is held.
func (c *Calculator) derive(live Snapshot) (Request, error) {
	tol := c.opts.Tolerance
	prev := c.state.Current

	harmonic := prev.Harmonic
	if _, ok := c.opts.Tables[harmonic]; !ok {
		harmonic = lut.Harmonics(c.opts.Tables)[0]
	}
	table := c.opts.Tables[harmonic]

	pol := prev.Polarization
	phase := live.MutualPhase
	opposing := c.opts.Axes.OpposingPhase != nil &&
		math.Abs(live.OpposingPhase) > tol && math.Abs(live.MutualPhase) <= tol
	switch {
	case opposing:
		phase = live.OpposingPhase
		if pol.Mode != lut.ModeLinearArbitrary {
			pol = lut.LinearAngle(firstAngle(table))
		}
	case pol.Mode == lut.ModeLinearArbitrary || pol.Mode == lut.ModeUnknown:
		pol = lut.Polarization{Mode: firstMode(table)}
	}

	energy, _, err := table.ReverseCalculateValues(phase, pol)
	if err != nil {
		var ferr error
		energy, _, ferr = table.ReverseFromFirst(live.Gap, pol)
		if ferr != nil {
			return Request{}, fmt.Errorf("undulator: cannot derive energy for %s: %w (from gap: %v)", pol, err, ferr)
		}
	}
	return Request{Energy: energy, Harmonic: harmonic, Polarization: pol}, nil
}

func firstAngle(t *lut.LookUpTable) float64 {
	if a := t.Angles(); len(a) > 0 {
		return a[0]
	}
	return 0
}

// firstMode picks the lowest quantized mode with data, LH when present.
func firstMode(t *lut.LookUpTable) lut.Mode {
	for _, m := range t.Modes() {
		if m != lut.ModeLinearArbitrary {
			return m
		}
	}
	return lut.ModeLinearHorizontal
}

// syncer is an axis whose Position is a cached report that Sync renews.
type syncer interface {
	Sync(ctx context.Context) error
}

func (c *Calculator) syncAxes(ctx context.Context) error {
	var err error
	for _, a := range c.virtual.Dependents() {
		if s, ok := a.(syncer); ok {
			err = multierr.Append(err, s.Sync(ctx))
		}
	}
	if err != nil {
		return fmt.Errorf("undulator: reading live positions: %w", err)
	}
	return nil
}
