package lut

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Mode is the polarization family of the emitted light.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeLinearHorizontal
	ModeLinearVertical
	ModeCircularLeft
	ModeCircularRight
	// ModeLinearArbitrary is linear polarization at a continuous angle. It is
	// realised with the opposing phase axis and needs per-angle tables.
	ModeLinearArbitrary
)

var modeNames = map[Mode][2]string{
	ModeLinearHorizontal: {"LH", "linear-horizontal"},
	ModeLinearVertical:   {"LV", "linear-vertical"},
	ModeCircularLeft:     {"CL", "circular-left"},
	ModeCircularRight:    {"CR", "circular-right"},
	ModeLinearArbitrary:  {"LA", "linear-arbitrary"},
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n[0]
	}
	return "UNKNOWN"
}

// ParseMode accepts the short ("LH") or long ("linear-horizontal") name,
// case-insensitively.
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	for m, names := range modeNames {
		if strings.EqualFold(s, names[0]) || strings.EqualFold(s, names[1]) {
			return m, nil
		}
	}
	return ModeUnknown, fmt.Errorf("unknown polarization %q", s)
}

// Polarization is a requested polarization state. Angle, in degrees, is only
// meaningful for ModeLinearArbitrary.
type Polarization struct {
	Mode  Mode
	Angle float64
}

// LinearAngle returns an arbitrary linear polarization at angle degrees.
func LinearAngle(angle float64) Polarization {
	return Polarization{Mode: ModeLinearArbitrary, Angle: angle}
}

// Opposing reports whether this polarization is produced with the opposing
// phase axis rather than the mutual one.
func (p Polarization) Opposing() bool {
	return p.Mode == ModeLinearArbitrary
}

func (p Polarization) String() string {
	if p.Mode == ModeLinearArbitrary {
		return p.Mode.String() + " " + strconv.FormatFloat(p.Angle, 'g', -1, 64)
	}
	return p.Mode.String()
}

// ParsePolarization parses "LH", "CR", "LA 30" and similar.
func ParsePolarization(s string) (Polarization, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Polarization{}, fmt.Errorf("empty polarization")
	}
	m, err := ParseMode(fields[0])
	if err != nil {
		return Polarization{}, err
	}
	p := Polarization{Mode: m}
	switch {
	case m == ModeLinearArbitrary && len(fields) == 2:
		a, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || math.IsNaN(a) || math.IsInf(a, 0) {
			return Polarization{}, fmt.Errorf("bad polarization angle %q", fields[1])
		}
		p.Angle = a
	case m == ModeLinearArbitrary:
		return Polarization{}, fmt.Errorf("polarization %s needs exactly one angle", m)
	case len(fields) != 1:
		return Polarization{}, fmt.Errorf("polarization %s takes no angle", m)
	}
	return p, nil
}
