package motion

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/undulator/internal/monitoring"
)

// Command is the common surface of every motion command.
type Command interface {
	Execute(ctx context.Context) error
	Done() <-chan struct{}
	Err() error
	Wait(ctx context.Context) error
}

var (
	_ Command = (*AbsoluteMove)(nil)
	_ Command = (*RelativeMove)(nil)
	_ Command = (*SetPosition)(nil)
	_ Command = (*HomeCommand)(nil)
	_ Command = (*MultipleMove)(nil)
)

// HomePhase is the stage a HomeCommand is in.
type HomePhase int32

const (
	PhaseIdle HomePhase = iota
	PhaseHoming
	PhaseSettingPosition
	PhaseDone
)

func (p HomePhase) String() string {
	switch p {
	case PhaseHoming:
		return "HOMING"
	case PhaseSettingPosition:
		return "SETTING_POSITION"
	case PhaseDone:
		return "DONE"
	default:
		return "IDLE"
	}
}

// HomeCommand drives an axis to its physical reference and then assigns the
// home position in software. The lock is held across both phases.
type HomeCommand struct {
	completion

	axis         Axis
	token        Token
	homePosition float64

	phase   atomic.Int32
	started atomic.Bool
	obs     *axisObserver

	phase1 chan error
	phase2 chan error
}

// NewHomeCommand prepares homing of axis. After the reference is found the
// axis position is set to homePosition.
func NewHomeCommand(axis Axis, homePosition float64) *HomeCommand {
	h := &HomeCommand{
		completion:   completion{done: make(chan struct{})},
		axis:         axis,
		token:        NewToken(),
		homePosition: homePosition,
		phase1:       make(chan error, 1),
		phase2:       make(chan error, 1),
	}
	h.obs = &axisObserver{axis: axis.Name(), handle: h.onEvent}
	return h
}

// Phase returns the current phase.
func (h *HomeCommand) Phase() HomePhase {
	return HomePhase(h.phase.Load())
}

// Executing reports whether homing is in progress.
func (h *HomeCommand) Executing() bool {
	p := h.Phase()
	return p == PhaseHoming || p == PhaseSettingPosition
}

// Execute checks and locks the axis, starts homing and returns. The position
// assignment runs in its own goroutine once homing completes; ctx bounds the
// lifetime of that goroutine.
func (h *HomeCommand) Execute(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrAlreadyExecuted
	}

	if s := h.axis.CheckHome(h.token); !s.OK() {
		err := validationError(h.axis.Name(), s)
		h.phase.Store(int32(PhaseDone))
		h.finish(err)
		return err
	}

	id := NextCommandID()
	h.obs.expect(id)
	h.phase.Store(int32(PhaseHoming))
	h.axis.AddObserver(h.obs)

	if err := h.axis.DoHome(h.token, id); err != nil {
		e := executionError(h.axis.Name(), StatusError, "failed to start homing", err)
		h.complete(e)
		return e
	}
	go h.setPosition(ctx)
	return nil
}

func (h *HomeCommand) onEvent(ev StatusEvent) {
	switch h.Phase() {
	case PhaseHoming:
		switch {
		case ev.Status.OK(), ev.Status == StatusAwayFromLimit, ev.Status.AtLimit():
			if ev.CommandID != 0 {
				signal(h.phase1, nil)
			} else if ev.Status.AtLimit() {
				signal(h.phase1, executionError(ev.Axis, ev.Status, ev.Message, nil))
			}
		case ev.Status == StatusError:
			h.stop()
			signal(h.phase1, executionError(ev.Axis, ev.Status, ev.Message, nil))
		case ev.Status.Terminal():
			signal(h.phase1, executionError(ev.Axis, ev.Status, ev.Message, nil))
		}
	case PhaseSettingPosition:
		switch {
		case ev.Status.OK():
			signal(h.phase2, nil)
		case ev.Status.Terminal():
			signal(h.phase2, executionError(ev.Axis, ev.Status, ev.Message, nil))
		}
	}
}

// setPosition is the second phase. It waits for homing to finish, then
// assigns the home position while still holding the lock.
func (h *HomeCommand) setPosition(ctx context.Context) {
	select {
	case err := <-h.phase1:
		if err != nil {
			h.complete(err)
			return
		}
	case <-ctx.Done():
		h.stop()
		h.complete(interruptedError(h.axis.Name(), ctx.Err()))
		return
	}

	h.phase.Store(int32(PhaseSettingPosition))
	if s := h.axis.CheckSetPosition(h.homePosition, h.token); !s.OK() {
		h.complete(executionError(h.axis.Name(), s, "cannot assign home position: "+s.Reason(), nil))
		return
	}

	id := NextCommandID()
	h.obs.expect(id)
	if err := h.axis.DoSet(h.token, id); err != nil {
		h.complete(executionError(h.axis.Name(), StatusError, "failed to assign home position", err))
		return
	}

	select {
	case err := <-h.phase2:
		h.complete(err)
	case <-ctx.Done():
		h.complete(interruptedError(h.axis.Name(), ctx.Err()))
	}
}

func (h *HomeCommand) stop() {
	if err := h.axis.Stop(); err != nil {
		monitoring.Logf("motion: stopping %s while homing: %v", h.axis.Name(), err)
	}
}

func (h *HomeCommand) complete(err error) {
	h.axis.RemoveObserver(h.obs)
	h.axis.Unlock(h.token)
	h.phase.Store(int32(PhaseDone))
	if h.finish(err) && err != nil {
		monitoring.Logf("motion: homing %s failed: %v", h.axis.Name(), err)
	}
}

// signal delivers the first result of a phase; later ones are duplicates.
func signal(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}
