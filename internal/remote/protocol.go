package remote

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/undulator/internal/motion"
)

// Command verbs understood by the controller. Every command is one line of
// space separated fields starting with the verb and the axis name.
const (
	VerbMove   = "MOVE"
	VerbSet    = "SET"
	VerbHome   = "HOME"
	VerbStop   = "STOP"
	VerbPos    = "POS"
	VerbStatus = "STATUS"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// MoveCommand is "MOVE <axis> <id> <target>".
func MoveCommand(axis string, id motion.CommandID, target float64) string {
	return fmt.Sprintf("%s %s %d %s", VerbMove, axis, id, formatFloat(target))
}

// SetCommand is "SET <axis> <id> <position>".
func SetCommand(axis string, id motion.CommandID, position float64) string {
	return fmt.Sprintf("%s %s %d %s", VerbSet, axis, id, formatFloat(position))
}

// HomeCommand is "HOME <axis> <id>".
func HomeCommand(axis string, id motion.CommandID) string {
	return fmt.Sprintf("%s %s %d", VerbHome, axis, id)
}

// StopCommand is "STOP <axis>".
func StopCommand(axis string) string {
	return VerbStop + " " + axis
}

// PosCommand is "POS <axis>". The controller answers with an unsolicited
// STATUS line carrying the current position.
func PosCommand(axis string) string {
	return VerbPos + " " + axis
}

// FormatStatus renders ev as "STATUS <axis> <status> <id> <position> [message]".
func FormatStatus(ev motion.StatusEvent) string {
	line := fmt.Sprintf("%s %s %s %d %s", VerbStatus, ev.Axis, ev.Status, ev.CommandID, formatFloat(ev.Position))
	if ev.Message != "" {
		line += " " + ev.Message
	}
	return line
}

// ParseStatus parses a STATUS reply. The message is the rest of the line
// after the position and may contain spaces.
func ParseStatus(line string) (motion.StatusEvent, error) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 6)
	if len(fields) < 5 || fields[0] != VerbStatus {
		return motion.StatusEvent{}, fmt.Errorf("not a status line: %q", line)
	}
	status, err := motion.ParseStatus(fields[2])
	if err != nil {
		return motion.StatusEvent{}, err
	}
	id, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return motion.StatusEvent{}, fmt.Errorf("bad command id %q: %w", fields[3], err)
	}
	pos, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return motion.StatusEvent{}, fmt.Errorf("bad position %q: %w", fields[4], err)
	}
	ev := motion.StatusEvent{
		Axis:      fields[1],
		Status:    status,
		CommandID: motion.CommandID(id),
		Position:  pos,
	}
	if len(fields) == 6 {
		ev.Message = strings.TrimSpace(fields[5])
	}
	return ev, nil
}

// Request is a parsed controller command, used by controller emulators.
type Request struct {
	Verb  string
	Axis  string
	ID    motion.CommandID
	Value float64
}

// ParseCommand parses any of the command lines produced by this package.
func ParseCommand(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Request{}, fmt.Errorf("short command %q", line)
	}
	r := Request{Verb: fields[0], Axis: fields[1]}
	want := 2
	switch r.Verb {
	case VerbMove, VerbSet:
		want = 4
	case VerbHome:
		want = 3
	case VerbStop, VerbPos:
	default:
		return Request{}, fmt.Errorf("unknown verb %q", r.Verb)
	}
	if len(fields) != want {
		return Request{}, fmt.Errorf("%s takes %d fields, got %d", r.Verb, want, len(fields))
	}
	if want >= 3 {
		id, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return Request{}, fmt.Errorf("bad command id %q: %w", fields[2], err)
		}
		r.ID = motion.CommandID(id)
	}
	if want == 4 {
		v, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return Request{}, fmt.Errorf("bad value %q: %w", fields[3], err)
		}
		r.Value = v
	}
	return r, nil
}
