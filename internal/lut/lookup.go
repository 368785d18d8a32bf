package lut

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoTable is returned when a request names a polarization for which no
// calibration data was loaded.
var ErrNoTable = errors.New("lut: no table for polarization")

type angleTable struct {
	angle float64
	table *Table
}

// LookUpTable holds the calibration tables of one harmonic: one table per
// quantized polarization plus, for arbitrary linear polarization, a list of
// tables sorted by angle.
type LookUpTable struct {
	Harmonic int

	fixed  map[Mode]*Table
	angles []angleTable
}

// New returns an empty table set for harmonic.
func New(harmonic int) *LookUpTable {
	return &LookUpTable{Harmonic: harmonic, fixed: make(map[Mode]*Table)}
}

// SetTable installs the curve for a quantized polarization mode.
func (l *LookUpTable) SetTable(mode Mode, entries []Entry) error {
	if mode == ModeLinearArbitrary {
		return fmt.Errorf("%s tables are added per angle", mode)
	}
	if _, ok := modeNames[mode]; !ok {
		return fmt.Errorf("unknown polarization mode %d", int(mode))
	}
	if _, dup := l.fixed[mode]; dup {
		return fmt.Errorf("duplicate %s table for harmonic %d", mode, l.Harmonic)
	}
	t, err := NewTable(entries)
	if err != nil {
		return fmt.Errorf("%s table: %w", mode, err)
	}
	l.fixed[mode] = t
	return nil
}

// AddAngleTable installs the curve for arbitrary linear polarization at angle
// degrees.
func (l *LookUpTable) AddAngleTable(angle float64, entries []Entry) error {
	if !finite(angle) {
		return fmt.Errorf("bad angle %g", angle)
	}
	i := sort.Search(len(l.angles), func(i int) bool { return l.angles[i].angle >= angle })
	if i < len(l.angles) && l.angles[i].angle == angle {
		return fmt.Errorf("duplicate %s table at angle %g", ModeLinearArbitrary, angle)
	}
	t, err := NewTable(entries)
	if err != nil {
		return fmt.Errorf("%s %g table: %w", ModeLinearArbitrary, angle, err)
	}
	l.angles = append(l.angles, angleTable{})
	copy(l.angles[i+1:], l.angles[i:])
	l.angles[i] = angleTable{angle: angle, table: t}
	return nil
}

// Table returns the curve for a quantized mode.
func (l *LookUpTable) Table(mode Mode) (*Table, bool) {
	t, ok := l.fixed[mode]
	return t, ok
}

// Modes lists the quantized modes with data, plus ModeLinearArbitrary when
// angle tables exist.
func (l *LookUpTable) Modes() []Mode {
	var out []Mode
	for m := range l.fixed {
		out = append(out, m)
	}
	if len(l.angles) > 0 {
		out = append(out, ModeLinearArbitrary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AngleTable returns the arbitrary linear curve tabulated at exactly angle.
func (l *LookUpTable) AngleTable(angle float64) (*Table, bool) {
	for _, a := range l.angles {
		if a.angle == angle {
			return a.table, true
		}
	}
	return nil, false
}

// Angles returns the tabulated angles in ascending order.
func (l *LookUpTable) Angles() []float64 {
	out := make([]float64, len(l.angles))
	for i, a := range l.angles {
		out[i] = a.angle
	}
	return out
}

// CalculateValues returns the gap and phase targets for energy at pol.
//
// For arbitrary linear polarization both angle-bracketing tables are
// evaluated at energy and the results interpolated by angle. An angle outside
// the tabulated range extends the two nearest tables linearly.
func (l *LookUpTable) CalculateValues(energy float64, pol Polarization) (first, second float64, err error) {
	if !finite(energy) {
		return 0, 0, fmt.Errorf("lut: non-finite energy %g", energy)
	}
	if pol.Mode != ModeLinearArbitrary {
		t, err := l.fixedTable(pol.Mode)
		if err != nil {
			return 0, 0, err
		}
		first, second = t.At(energy)
		return first, second, nil
	}

	lo, hi, f, err := l.bracket(pol.Angle)
	if err != nil {
		return 0, 0, err
	}
	f0, s0 := lo.table.At(energy)
	if hi == nil {
		return f0, s0, nil
	}
	f1, s1 := hi.table.At(energy)
	return lerp(f0, f1, f), lerp(s0, s1, f), nil
}

// ReverseCalculateValues recovers the energy and gap target from an observed
// phase value.
func (l *LookUpTable) ReverseCalculateValues(second float64, pol Polarization) (energy, first float64, err error) {
	return l.reverse(pol, func(t *Table) (float64, float64, error) { return t.ReverseFromSecond(second) })
}

// ReverseFromFirst recovers the energy and phase target from an observed gap
// value. It serves curves whose phase column is constant.
func (l *LookUpTable) ReverseFromFirst(first float64, pol Polarization) (energy, second float64, err error) {
	return l.reverse(pol, func(t *Table) (float64, float64, error) { return t.ReverseFromFirst(first) })
}

func (l *LookUpTable) reverse(pol Polarization, inv func(*Table) (float64, float64, error)) (float64, float64, error) {
	if pol.Mode != ModeLinearArbitrary {
		t, err := l.fixedTable(pol.Mode)
		if err != nil {
			return 0, 0, err
		}
		return inv(t)
	}

	lo, hi, f, err := l.bracket(pol.Angle)
	if err != nil {
		return 0, 0, err
	}
	e0, o0, err := inv(lo.table)
	if err != nil {
		return 0, 0, fmt.Errorf("angle %g: %w", lo.angle, err)
	}
	if hi == nil {
		return e0, o0, nil
	}
	e1, o1, err := inv(hi.table)
	if err != nil {
		return 0, 0, fmt.Errorf("angle %g: %w", hi.angle, err)
	}
	return lerp(e0, e1, f), lerp(o0, o1, f), nil
}

func (l *LookUpTable) fixedTable(mode Mode) (*Table, error) {
	t, ok := l.fixed[mode]
	if !ok {
		return nil, fmt.Errorf("%w %s (harmonic %d)", ErrNoTable, mode, l.Harmonic)
	}
	return t, nil
}

// bracket picks the tables around angle and the fraction between them. hi is
// nil when a single table answers exactly.
func (l *LookUpTable) bracket(angle float64) (lo, hi *angleTable, f float64, err error) {
	n := len(l.angles)
	if n == 0 {
		return nil, nil, 0, fmt.Errorf("%w %s (harmonic %d)", ErrNoTable, ModeLinearArbitrary, l.Harmonic)
	}
	if !finite(angle) {
		return nil, nil, 0, fmt.Errorf("lut: non-finite angle %g", angle)
	}
	i := sort.Search(n, func(i int) bool { return l.angles[i].angle >= angle })
	if i < n && l.angles[i].angle == angle {
		return &l.angles[i], nil, 0, nil
	}
	if n == 1 {
		return &l.angles[0], nil, 0, nil
	}
	switch {
	case i == 0:
		i = 1
	case i == n:
		i = n - 1
	}
	lo, hi = &l.angles[i-1], &l.angles[i]
	f = (angle - lo.angle) / (hi.angle - lo.angle)
	return lo, hi, f, nil
}
