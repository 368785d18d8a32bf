package remote

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/undulator/internal/monitoring"
	"github.com/banshee-data/undulator/internal/motion"
	"github.com/banshee-data/undulator/internal/serialmux"
)

// Emulator answers the controller protocol on the device end of a
// serialmux.PipePort. Every move takes Delay and lands exactly on target
// unless stopped. HOME moves to zero.
type Emulator struct {
	dev   *serialmux.Device
	Delay time.Duration

	mu   sync.Mutex
	axes map[string]*emulatedAxis
}

type emulatedAxis struct {
	position float64
	stop     chan struct{}
	fail     motion.Status
}

// NewEmulator serves dev. Axes not listed in initial start at zero.
func NewEmulator(dev *serialmux.Device, initial map[string]float64) *Emulator {
	e := &Emulator{dev: dev, axes: make(map[string]*emulatedAxis)}
	for name, pos := range initial {
		e.axes[name] = &emulatedAxis{position: pos}
	}
	return e
}

// FailNext makes the next move of axis end with s.
func (e *Emulator) FailNext(axis string, s motion.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.axisLocked(axis).fail = s
}

// Position returns the emulated position of axis.
func (e *Emulator) Position(axis string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.axisLocked(axis).position
}

// Place moves axis instantly, as if driven by hand.
func (e *Emulator) Place(axis string, position float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.axisLocked(axis).position = position
}

// Report sends an unsolicited status for axis at its current position, the
// way a controller announces a fault it detected on its own.
func (e *Emulator) Report(axis string, s motion.Status) error {
	pos := e.Position(axis)
	return e.dev.Send(FormatStatus(motion.StatusEvent{Axis: axis, Status: s, Position: pos}))
}

func (e *Emulator) axisLocked(name string) *emulatedAxis {
	ax, ok := e.axes[name]
	if !ok {
		ax = &emulatedAxis{}
		e.axes[name] = ax
	}
	return ax
}

// Run serves commands until ctx ends or the host closes the link.
func (e *Emulator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-e.dev.Commands():
			if !ok {
				return nil
			}
			req, err := ParseCommand(line)
			if err != nil {
				monitoring.Logf("emulator: %v", err)
				continue
			}
			e.serve(req)
		}
	}
}

func (e *Emulator) reply(axis string, s motion.Status, id motion.CommandID, pos float64, msg string) {
	line := FormatStatus(motion.StatusEvent{Axis: axis, Status: s, CommandID: id, Position: pos, Message: msg})
	if err := e.dev.Send(line); err != nil {
		monitoring.Debugf("emulator: send %q: %v", line, err)
	}
}

func (e *Emulator) serve(req Request) {
	e.mu.Lock()
	ax := e.axisLocked(req.Axis)
	pos := ax.position
	busy := ax.stop != nil
	e.mu.Unlock()

	switch req.Verb {
	case VerbPos:
		e.reply(req.Axis, motion.StatusReady, 0, pos, "")
	case VerbSet:
		if busy {
			e.reply(req.Axis, motion.StatusBusy, req.ID, pos, "axis is moving")
			return
		}
		e.mu.Lock()
		ax.position = req.Value
		e.mu.Unlock()
		e.reply(req.Axis, motion.StatusReady, req.ID, req.Value, "")
	case VerbStop:
		e.mu.Lock()
		if ax.stop != nil {
			close(ax.stop)
			ax.stop = nil
		}
		e.mu.Unlock()
	case VerbMove, VerbHome:
		if busy {
			e.reply(req.Axis, motion.StatusError, req.ID, pos, "already moving")
			return
		}
		target := req.Value
		if req.Verb == VerbHome {
			target = 0
		}
		stop := make(chan struct{})
		e.mu.Lock()
		ax.stop = stop
		e.mu.Unlock()
		e.reply(req.Axis, motion.StatusBusy, req.ID, pos, "")
		go e.travel(req.Axis, ax, req.ID, target, stop)
	}
}

func (e *Emulator) travel(name string, ax *emulatedAxis, id motion.CommandID, target float64, stop chan struct{}) {
	timer := time.NewTimer(e.Delay)
	defer timer.Stop()

	s := motion.StatusReady
	select {
	case <-timer.C:
	case <-stop:
		s = motion.StatusStopped
	}

	e.mu.Lock()
	if ax.stop == stop {
		ax.stop = nil
	}
	if s == motion.StatusReady && ax.fail != motion.StatusUnknown {
		s, ax.fail = ax.fail, motion.StatusUnknown
	}
	if s == motion.StatusReady || s == motion.StatusAwayFromLimit {
		ax.position = target
	}
	pos := ax.position
	e.mu.Unlock()

	e.reply(name, s, id, pos, "")
}
