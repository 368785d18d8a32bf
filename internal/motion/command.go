package motion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/undulator/internal/monitoring"
)

// ErrAlreadyExecuted is returned when Execute is called twice on one command.
var ErrAlreadyExecuted = errors.New("motion: command already executed")

// completion is the asynchronous result shared by every command type.
type completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

// finish records err and releases waiters. Only the first call has effect.
func (c *completion) finish(err error) bool {
	first := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		first = true
	})
	return first
}

// Done is closed once the command has finished and released its locks.
func (c *completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the outcome. It is only meaningful after Done is closed.
func (c *completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the command finishes or ctx ends. Cancelling ctx does
// not cancel the command.
func (c *completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return interruptedError("", ctx.Err())
	}
}

// axisObserver forwards events for one axis and one command id to handle.
// Events tagged with another command id are stale and dropped. Unsolicited
// events (id zero) only pass when they report a failure.
type axisObserver struct {
	axis   string
	id     atomic.Uint64
	handle func(StatusEvent)
}

func (o *axisObserver) expect(id CommandID) {
	o.id.Store(uint64(id))
}

func (o *axisObserver) Update(ev StatusEvent) {
	if ev.Axis != o.axis {
		return
	}
	want := CommandID(o.id.Load())
	if ev.CommandID != 0 && ev.CommandID != want {
		monitoring.Debugf("motion: discarding stale event %s (want id=%d)", ev, want)
		return
	}
	if ev.CommandID == 0 && !unsolicitedFailure(ev.Status) {
		return
	}
	o.handle(ev)
}

// unsolicitedFailure reports whether an uncorrelated status must fail any
// command holding the axis lock.
func unsolicitedFailure(s Status) bool {
	return s.Terminal() && !s.OK()
}

// axisCommand is the check, lock, start, await-completion unit behind the
// single-axis commands. They differ only in the check and start primitives.
type axisCommand struct {
	completion

	kind  string
	axis  Axis
	token Token

	check func(token Token) Status
	start func(token Token, id CommandID) error

	executing atomic.Bool
	started   atomic.Bool
	obs       *axisObserver
}

func newAxisCommand(kind string, axis Axis, check func(Token) Status, start func(Token, CommandID) error) *axisCommand {
	c := &axisCommand{
		completion: completion{done: make(chan struct{})},
		kind:       kind,
		axis:       axis,
		token:      NewToken(),
		check:      check,
		start:      start,
	}
	c.obs = &axisObserver{axis: axis.Name(), handle: c.onEvent}
	return c
}

// Token returns the lock token this command uses.
func (c *axisCommand) Token() Token {
	return c.token
}

// Executing reports whether the command has started and not yet finished.
func (c *axisCommand) Executing() bool {
	return c.executing.Load()
}

// Execute checks and locks the axis, starts the device action and returns.
// A failed check returns a ValidationFailure without taking any lock.
func (c *axisCommand) Execute(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyExecuted
	}

	if s := c.check(c.token); !s.OK() {
		err := validationError(c.axis.Name(), s)
		c.finish(err)
		return err
	}
	c.executing.Store(true)

	id := NextCommandID()
	c.obs.expect(id)
	c.axis.AddObserver(c.obs)

	monitoring.Debugf("motion: %s %s started id=%d", c.kind, c.axis.Name(), id)
	if err := c.start(c.token, id); err != nil {
		e := executionError(c.axis.Name(), StatusError, "failed to start "+c.kind, err)
		c.complete(e)
		return e
	}
	return nil
}

func (c *axisCommand) onEvent(ev StatusEvent) {
	switch {
	case ev.Status.OK():
		c.complete(nil)
	case ev.Status == StatusError:
		if err := c.axis.Stop(); err != nil {
			monitoring.Logf("motion: stopping %s after driver error: %v", c.axis.Name(), err)
		}
		c.complete(executionError(ev.Axis, ev.Status, ev.Message, nil))
	case ev.Status.Terminal():
		c.complete(executionError(ev.Axis, ev.Status, ev.Message, nil))
	}
}

// complete is the single exit path: deregister, unlock, publish the result.
func (c *axisCommand) complete(err error) {
	c.axis.RemoveObserver(c.obs)
	c.axis.Unlock(c.token)
	c.executing.Store(false)
	if c.finish(err) && err != nil {
		monitoring.Logf("motion: %s %s failed: %v", c.kind, c.axis.Name(), err)
	}
}

// AbsoluteMove drives one axis to an absolute target.
type AbsoluteMove struct {
	*axisCommand
	Target float64
}

// NewAbsoluteMove prepares a move of axis to target.
func NewAbsoluteMove(axis Axis, target float64) *AbsoluteMove {
	m := &AbsoluteMove{Target: target}
	m.axisCommand = newAxisCommand("absolute move", axis,
		func(t Token) Status { return axis.CheckMoveTo(target, t) },
		axis.DoMove)
	return m
}

// RelativeMove drives one axis by an offset from its current position.
type RelativeMove struct {
	*axisCommand
	Delta float64
}

// NewRelativeMove prepares a move of axis by delta.
func NewRelativeMove(axis Axis, delta float64) *RelativeMove {
	m := &RelativeMove{Delta: delta}
	m.axisCommand = newAxisCommand("relative move", axis,
		func(t Token) Status { return axis.CheckMoveBy(delta, t) },
		axis.DoMove)
	return m
}

// SetPosition redefines the current axis position without moving it.
type SetPosition struct {
	*axisCommand
	Position float64
}

// NewSetPosition prepares a software position assignment.
func NewSetPosition(axis Axis, position float64) *SetPosition {
	m := &SetPosition{Position: position}
	m.axisCommand = newAxisCommand("set position", axis,
		func(t Token) Status { return axis.CheckSetPosition(position, t) },
		axis.DoSet)
	return m
}
