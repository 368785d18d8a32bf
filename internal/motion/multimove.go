package motion

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/undulator/internal/monitoring"
)

// Leg is one simultaneous move of both dependent axes.
type Leg struct {
	A float64
	B float64
}

// legEventBuffer bounds the terminal events queued per axis between reads.
// Only non-BUSY events for the current command id are queued.
const legEventBuffer = 16

// legObserver queues terminal events of one axis for the run loop.
type legObserver struct {
	axisObserver
	events chan StatusEvent
}

func newLegObserver(axis string) *legObserver {
	o := &legObserver{events: make(chan StatusEvent, legEventBuffer)}
	o.axis = axis
	o.handle = func(ev StatusEvent) {
		if ev.Status == StatusBusy {
			return
		}
		select {
		case o.events <- ev:
		default:
			monitoring.Logf("motion: event queue for %s full, dropping %s", o.axis, ev)
		}
	}
	return o
}

// MultipleMove moves two dependent axes through a sequence of legs so that
// together they appear as one move of a virtual axis.
type MultipleMove struct {
	completion

	virtual *VirtualAxis
	a, b    Axis
	legs    []Leg
	watcher Watcher
	token   Token
	target  float64
	after   func(error)

	started   atomic.Bool
	executing atomic.Bool
}

// NewMultipleMove prepares a coordinated move. watcher, if not nil, receives
// the failure of the background run loop.
func NewMultipleMove(virtual *VirtualAxis, a, b Axis, legs []Leg, watcher Watcher) *MultipleMove {
	return &MultipleMove{
		completion: completion{done: make(chan struct{})},
		virtual:    virtual,
		a:          a,
		b:          b,
		legs:       append([]Leg(nil), legs...),
		watcher:    watcher,
		token:      NewToken(),
	}
}

// WithTarget records the logical position the virtual axis reaches when the
// move succeeds.
func (m *MultipleMove) WithTarget(target float64) *MultipleMove {
	m.target = target
	return m
}

// OnFinish registers f to run with the outcome after every lock is released
// and before Done is closed.
func (m *MultipleMove) OnFinish(f func(error)) *MultipleMove {
	m.after = f
	return m
}

// Legs returns a copy of the planned legs.
func (m *MultipleMove) Legs() []Leg {
	return append([]Leg(nil), m.legs...)
}

// Executing reports whether the run loop is active.
func (m *MultipleMove) Executing() bool {
	return m.executing.Load()
}

// Execute locks the virtual axis and spawns the run loop. The lock is taken
// before the goroutine starts so a poller never sees the axis idle between
// the request and the start of motion.
func (m *MultipleMove) Execute(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyExecuted
	}
	if len(m.legs) == 0 {
		err := Validation(m.virtual.Name(), StatusMoveNotAllowed, "no legs to execute")
		m.finish(err)
		return err
	}
	if !m.virtual.Lock(m.token) {
		err := validationError(m.virtual.Name(), StatusAlreadyLocked)
		m.finish(err)
		return err
	}

	m.executing.Store(true)
	m.virtual.moving.Store(true)
	m.virtual.publish(StatusBusy, 0, "")

	go m.run(ctx)
	return nil
}

func (m *MultipleMove) run(ctx context.Context) {
	obsA := newLegObserver(m.a.Name())
	obsB := newLegObserver(m.b.Name())
	m.a.AddObserver(obsA)
	m.b.AddObserver(obsB)

	var first error
	for i, leg := range m.legs {
		if err := ctx.Err(); err != nil {
			first = interruptedError(m.virtual.Name(), err)
			break
		}
		if s := m.a.CheckMoveTo(leg.A, m.token); !s.OK() {
			first = validationError(m.a.Name(), s)
			break
		}
		if s := m.b.CheckMoveTo(leg.B, m.token); !s.OK() {
			first = validationError(m.b.Name(), s)
			break
		}
		if err := m.runLeg(ctx, i, leg, obsA, obsB); err != nil {
			first = err
			break
		}
	}

	m.a.RemoveObserver(obsA)
	m.b.RemoveObserver(obsB)
	m.a.Unlock(m.token)
	m.b.Unlock(m.token)
	m.virtual.Unlock(m.token)
	m.virtual.moving.Store(false)
	m.executing.Store(false)

	if first != nil {
		monitoring.Logf("motion: coordinated move of %s failed: %v", m.virtual.Name(), first)
		m.virtual.publish(StatusError, 0, first.Error())
		if m.watcher != nil {
			m.watcher.MoveFailed(m.virtual.Name(), first)
		}
	} else {
		m.virtual.SetPosition(m.target)
		m.virtual.publish(StatusReady, 0, "")
	}
	if m.after != nil {
		m.after(first)
	}
	m.finish(first)
}

// runLeg starts both axes with one shared command id and blocks until both
// report a terminal status for that id.
func (m *MultipleMove) runLeg(ctx context.Context, index int, leg Leg, obsA, obsB *legObserver) error {
	id := NextCommandID()
	obsA.expect(id)
	obsB.expect(id)
	monitoring.Debugf("motion: %s leg %d id=%d %s=%g %s=%g",
		m.virtual.Name(), index, id, m.a.Name(), leg.A, m.b.Name(), leg.B)

	var g errgroup.Group
	g.Go(func() error {
		if err := m.a.DoMove(m.token, id); err != nil {
			return executionError(m.a.Name(), StatusError, "failed to start move", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := m.b.DoMove(m.token, id); err != nil {
			return executionError(m.b.Name(), StatusError, "failed to start move", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		m.stopMoving()
		return err
	}

	var legErr error
	fail := func(err error) {
		if legErr == nil {
			legErr = err
			m.stopMoving()
		}
	}

	pendingA, pendingB := true, true
	for pendingA || pendingB {
		select {
		case ev := <-obsA.events:
			if !pendingA || (ev.CommandID != id && ev.CommandID != 0) {
				continue
			}
			pendingA = false
			if !acceptableLegStatus(ev.Status) {
				fail(executionError(ev.Axis, ev.Status, ev.Message, nil))
			}
		case ev := <-obsB.events:
			if !pendingB || (ev.CommandID != id && ev.CommandID != 0) {
				continue
			}
			pendingB = false
			if !acceptableLegStatus(ev.Status) {
				fail(executionError(ev.Axis, ev.Status, ev.Message, nil))
			}
		case <-ctx.Done():
			fail(interruptedError(m.virtual.Name(), ctx.Err()))
			return legErr
		}
	}
	if legErr != nil {
		return fmt.Errorf("leg %d: %w", index, legErr)
	}
	return nil
}

func acceptableLegStatus(s Status) bool {
	return s.OK() || s == StatusAwayFromLimit
}

// stopMoving stops whichever dependent axes are still moving.
func (m *MultipleMove) stopMoving() {
	var err error
	for _, ax := range []Axis{m.a, m.b} {
		if ax.IsMoving() {
			err = multierr.Append(err, ax.Stop())
		}
	}
	if err != nil {
		monitoring.Logf("motion: stopping %s dependents: %v", m.virtual.Name(), err)
	}
}
