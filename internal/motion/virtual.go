package motion

import (
	"sync/atomic"

	"go.uber.org/multierr"
)

// VirtualAxis is a logical axis realised by coordinated moves of dependent
// physical axes. It owns a lock and an observer list of its own; moving it
// is the job of MultipleMove.
type VirtualAxis struct {
	Broadcaster

	name       string
	locks      *LockTable
	dependents []Axis
	moving     atomic.Bool
	position   atomic.Value // float64
	unit       string
}

// NewVirtualAxis creates a virtual axis named name whose lock lives in locks.
func NewVirtualAxis(name, unit string, locks *LockTable, dependents ...Axis) *VirtualAxis {
	v := &VirtualAxis{name: name, unit: unit, locks: locks, dependents: dependents}
	v.position.Store(0.0)
	return v
}

func (v *VirtualAxis) Name() string { return v.name }

// Lock claims the virtual axis.
func (v *VirtualAxis) Lock(token Token) bool { return v.locks.Lock(v.name, token) }

// Unlock releases the virtual axis.
func (v *VirtualAxis) Unlock(token Token) bool { return v.locks.Unlock(v.name, token) }

// Dependents returns the physical axes behind this virtual axis.
func (v *VirtualAxis) Dependents() []Axis {
	out := make([]Axis, len(v.dependents))
	copy(out, v.dependents)
	return out
}

// IsMoving reports whether a coordinated move is in flight or any dependent
// axis is moving.
func (v *VirtualAxis) IsMoving() bool {
	if v.moving.Load() {
		return true
	}
	for _, d := range v.dependents {
		if d.IsMoving() {
			return true
		}
	}
	return false
}

// Stop forwards to every dependent axis.
func (v *VirtualAxis) Stop() error {
	var err error
	for _, d := range v.dependents {
		err = multierr.Append(err, d.Stop())
	}
	return err
}

// Position is the last logical position published by a completed move.
func (v *VirtualAxis) Position() Position {
	return Position{Value: v.position.Load().(float64), Unit: v.unit}
}

// SetPosition records the logical position without moving anything.
func (v *VirtualAxis) SetPosition(p float64) {
	v.position.Store(p)
}

func (v *VirtualAxis) publish(s Status, id CommandID, msg string) {
	v.Notify(StatusEvent{
		Axis:      v.name,
		Status:    s,
		Position:  v.position.Load().(float64),
		Message:   msg,
		CommandID: id,
	})
}
