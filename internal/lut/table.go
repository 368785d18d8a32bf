// Package lut maps photon energy to undulator gap and phase through tabulated
// calibration data, and back again.
package lut

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// Entry is one calibration row: at Energy the first axis (gap) sits at First
// and the second axis (phase) at Second.
type Entry struct {
	Energy float64
	First  float64
	Second float64
}

var (
	errTooFewEntries = errors.New("need at least two entries")
	errFlatColumn    = errors.New("column is constant, cannot invert")
)

// Table interpolates one calibration curve. Energies are strictly
// increasing; NewTable enforces it.
type Table struct {
	entries []Entry
	energy  []float64
	first   interp.PiecewiseLinear
	second  interp.PiecewiseLinear
}

// NewTable validates entries and fits both columns.
func NewTable(entries []Entry) (*Table, error) {
	if len(entries) < 2 {
		return nil, errTooFewEntries
	}
	t := &Table{entries: append([]Entry(nil), entries...)}
	xs := make([]float64, len(entries))
	fs := make([]float64, len(entries))
	ss := make([]float64, len(entries))
	for i, e := range entries {
		if !finite(e.Energy) || !finite(e.First) || !finite(e.Second) {
			return nil, fmt.Errorf("entry %d: non-finite value", i)
		}
		if i > 0 && e.Energy <= entries[i-1].Energy {
			return nil, fmt.Errorf("entry %d: energy %g not above previous %g", i, e.Energy, entries[i-1].Energy)
		}
		xs[i], fs[i], ss[i] = e.Energy, e.First, e.Second
	}
	if err := t.first.Fit(xs, fs); err != nil {
		return nil, err
	}
	if err := t.second.Fit(xs, ss); err != nil {
		return nil, err
	}
	t.energy = xs
	return t, nil
}

// Entries returns a copy of the calibration rows.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Domain returns the tabulated energy range.
func (t *Table) Domain() (lo, hi float64) {
	return t.energy[0], t.energy[len(t.energy)-1]
}

// At returns both axis targets for energy. Outside the tabulated range the
// boundary segment is extended linearly.
func (t *Table) At(energy float64) (first, second float64) {
	lo, hi := t.Domain()
	if energy >= lo && energy <= hi {
		return t.first.Predict(energy), t.second.Predict(energy)
	}
	a, b := t.entries[0], t.entries[1]
	if energy > hi {
		a, b = t.entries[len(t.entries)-2], t.entries[len(t.entries)-1]
	}
	f := (energy - a.Energy) / (b.Energy - a.Energy)
	return lerp(a.First, b.First, f), lerp(a.Second, b.Second, f)
}

// ReverseFromSecond finds the energy at which the second column equals v and
// the first-column value there.
func (t *Table) ReverseFromSecond(v float64) (energy, first float64, err error) {
	return t.reverse(v, func(e Entry) float64 { return e.Second }, func(e Entry) float64 { return e.First })
}

// ReverseFromFirst is ReverseFromSecond keyed on the first column.
func (t *Table) ReverseFromFirst(v float64) (energy, second float64, err error) {
	return t.reverse(v, func(e Entry) float64 { return e.First }, func(e Entry) float64 { return e.Second })
}

// reverse brackets v on key and interpolates energy and other in that
// segment. With no bracketing segment it extrapolates from the boundary
// segment whose end value is nearer v.
func (t *Table) reverse(v float64, key, other func(Entry) float64) (float64, float64, error) {
	if !finite(v) {
		return 0, 0, fmt.Errorf("non-finite value %g", v)
	}
	n := len(t.entries)
	flat := true
	for _, e := range t.entries[1:] {
		if key(e) != key(t.entries[0]) {
			flat = false
			break
		}
	}
	if flat {
		return 0, 0, errFlatColumn
	}
	for i := 0; i < n-1; i++ {
		a, b := t.entries[i], t.entries[i+1]
		k0, k1 := key(a), key(b)
		if k0 == k1 {
			if v == k0 {
				return a.Energy, other(a), nil
			}
			continue
		}
		if v >= math.Min(k0, k1) && v <= math.Max(k0, k1) {
			f := (v - k0) / (k1 - k0)
			return lerp(a.Energy, b.Energy, f), lerp(other(a), other(b), f), nil
		}
	}

	a, b := t.entries[0], t.entries[1]
	if math.Abs(v-key(t.entries[n-1])) < math.Abs(v-key(t.entries[0])) {
		a, b = t.entries[n-2], t.entries[n-1]
	}
	k0, k1 := key(a), key(b)
	if k0 == k1 {
		return 0, 0, errFlatColumn
	}
	f := (v - k0) / (k1 - k0)
	return lerp(a.Energy, b.Energy, f), lerp(other(a), other(b), f), nil
}

func lerp(a, b, f float64) float64 {
	return a + f*(b-a)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
