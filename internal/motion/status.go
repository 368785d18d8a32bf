// Package motion implements per-axis locking, status observation and the
// command objects that drive axes through a check, lock, start and
// await-completion cycle. Coordinated moves of dependent axes are exposed
// through VirtualAxis and MultipleMove.
package motion

import (
	"fmt"
	"strings"
)

// Status is the state an axis reports, either in reply to a check or
// asynchronously while a move is in progress.
type Status int

const (
	StatusUnknown Status = iota
	StatusSuccess
	StatusBusy
	StatusReady
	StatusError
	StatusUpperLimit
	StatusLowerLimit
	StatusAwayFromLimit
	StatusMoveNotAllowed
	StatusAlreadyLocked
	StatusSoftLimitUpper
	StatusSoftLimitLower
	StatusStopped
)

var statusNames = map[Status]string{
	StatusUnknown:        "UNKNOWN",
	StatusSuccess:        "SUCCESS",
	StatusBusy:           "BUSY",
	StatusReady:          "READY",
	StatusError:          "ERROR",
	StatusUpperLimit:     "UPPERLIMIT",
	StatusLowerLimit:     "LOWERLIMIT",
	StatusAwayFromLimit:  "AWAY_FROM_LIMIT",
	StatusMoveNotAllowed: "MOVE_NOT_ALLOWED",
	StatusAlreadyLocked:  "ALREADY_LOCKED",
	StatusSoftLimitUpper: "SOFT_LIMIT_UPPER",
	StatusSoftLimitLower: "SOFT_LIMIT_LOWER",
	StatusStopped:        "STOPPED",
}

var statusReasons = map[Status]string{
	StatusUnknown:        "axis reported an unknown status",
	StatusSuccess:        "ok",
	StatusBusy:           "axis is moving",
	StatusReady:          "ok",
	StatusError:          "axis driver reported an error",
	StatusUpperLimit:     "axis is at its upper hardware limit",
	StatusLowerLimit:     "axis is at its lower hardware limit",
	StatusAwayFromLimit:  "axis moved away from a hardware limit",
	StatusMoveNotAllowed: "move is not allowed",
	StatusAlreadyLocked:  "axis is locked by another command",
	StatusSoftLimitUpper: "target exceeds the upper soft limit",
	StatusSoftLimitLower: "target exceeds the lower soft limit",
	StatusStopped:        "move was stopped before reaching its target",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Reason returns a human readable explanation suitable for operator messages.
func (s Status) Reason() string {
	if r, ok := statusReasons[s]; ok {
		return r
	}
	return statusReasons[StatusUnknown]
}

// OK reports whether a check result permits the operation.
func (s Status) OK() bool {
	return s == StatusReady || s == StatusSuccess
}

// Terminal reports whether the status ends a move. AWAY_FROM_LIMIT is a
// transient notification and BUSY means still moving.
func (s Status) Terminal() bool {
	switch s {
	case StatusBusy, StatusAwayFromLimit, StatusUnknown:
		return false
	}
	return true
}

// AtLimit reports whether s is one of the hardware limit statuses.
func (s Status) AtLimit() bool {
	return s == StatusUpperLimit || s == StatusLowerLimit
}

// ParseStatus converts the wire name of a status back into a Status.
func ParseStatus(name string) (Status, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown status %q", name)
}

// CommandID correlates the start of a device action with the status events it
// produces. Zero marks an unsolicited event.
type CommandID uint64

// StatusEvent is broadcast by an axis whenever its status changes.
type StatusEvent struct {
	Axis      string
	Status    Status
	Target    float64
	Position  float64
	Message   string
	CommandID CommandID
}

func (e StatusEvent) String() string {
	s := fmt.Sprintf("%s %s id=%d pos=%g", e.Axis, e.Status, e.CommandID, e.Position)
	if e.Message != "" {
		s += " (" + e.Message + ")"
	}
	return s
}

// Position is an axis readback with its engineering unit.
type Position struct {
	Value float64
	Unit  string
}

func (p Position) String() string {
	if p.Unit == "" {
		return fmt.Sprintf("%g", p.Value)
	}
	return fmt.Sprintf("%g %s", p.Value, p.Unit)
}
