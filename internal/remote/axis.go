// Package remote drives an axis that lives on an external motor controller
// reached over a serialmux line link. Checks and locks are resolved locally;
// moves are started with one command line and tracked through the STATUS
// lines the controller sends back.
package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/undulator/internal/monitoring"
	"github.com/banshee-data/undulator/internal/motion"
	"github.com/banshee-data/undulator/internal/serialmux"
)

var (
	ErrNotLocked   = errors.New("remote: axis not locked by caller")
	ErrNothingToDo = errors.New("remote: no checked action pending")
	ErrLinkClosed  = errors.New("remote: controller link closed")
)

// Config describes one controller axis. Lower and Upper are soft limits
// enforced before anything is sent; both zero leaves the axis unbounded.
type Config struct {
	Name  string
	Unit  string
	Lower float64
	Upper float64
}

type actionKind int

const (
	actionNone actionKind = iota
	actionMove
	actionSet
	actionHome
)

type pendingAction struct {
	kind   actionKind
	target float64
	token  motion.Token
}

// Axis implements motion.Axis against a controller.
type Axis struct {
	motion.Broadcaster

	cfg   Config
	locks *motion.LockTable
	link  serialmux.Mux

	subID string
	lines <-chan string

	mu       sync.Mutex
	position float64
	pending  pendingAction
	active   motion.CommandID
	moving   bool
}

// New creates an axis on link. It subscribes immediately so no reply sent
// after the first command can be missed; call Run to process replies.
func New(cfg Config, locks *motion.LockTable, link serialmux.Mux) *Axis {
	if cfg.Upper == 0 && cfg.Lower == 0 {
		cfg.Lower, cfg.Upper = math.Inf(-1), math.Inf(1)
	}
	a := &Axis{cfg: cfg, locks: locks, link: link}
	a.subID, a.lines = link.Subscribe()
	return a
}

func (a *Axis) Name() string { return a.cfg.Name }

func (a *Axis) Lock(token motion.Token) bool { return a.locks.Lock(a.cfg.Name, token) }

func (a *Axis) Unlock(token motion.Token) bool { return a.locks.Unlock(a.cfg.Name, token) }

// Run consumes controller replies until ctx ends or the link closes. A move
// in flight when the link closes ends with an ERROR event.
func (a *Axis) Run(ctx context.Context) error {
	defer a.link.Unsubscribe(a.subID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-a.lines:
			if !ok {
				a.linkLost()
				return ErrLinkClosed
			}
			a.handle(line)
		}
	}
}

func (a *Axis) handle(line string) {
	ev, err := ParseStatus(line)
	if err != nil {
		if line != "" {
			monitoring.Debugf("remote %s: ignoring %q: %v", a.cfg.Name, line, err)
		}
		return
	}
	if ev.Axis != a.cfg.Name {
		return
	}

	a.mu.Lock()
	a.position = ev.Position
	switch {
	case ev.Status == motion.StatusBusy && ev.CommandID == a.active:
		a.moving = true
	case ev.Status.Terminal() && ev.CommandID == a.active:
		a.moving = false
	case ev.CommandID == 0 && ev.Status.Terminal() && !ev.Status.OK():
		// A position report answers READY whether or not the axis is
		// travelling; only a controller fault ends the move.
		a.moving = false
	}
	a.mu.Unlock()

	a.Notify(ev)
}

func (a *Axis) linkLost() {
	a.mu.Lock()
	id, moving, pos := a.active, a.moving, a.position
	a.moving = false
	a.mu.Unlock()
	if !moving {
		return
	}
	monitoring.Logf("remote %s: link closed during command %d", a.cfg.Name, id)
	a.Notify(motion.StatusEvent{
		Axis:      a.cfg.Name,
		Status:    motion.StatusError,
		Position:  pos,
		Message:   ErrLinkClosed.Error(),
		CommandID: id,
	})
}

func (a *Axis) CheckMoveTo(target float64, token motion.Token) motion.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkLocked(pendingAction{kind: actionMove, target: target, token: token})
}

func (a *Axis) CheckMoveBy(delta float64, token motion.Token) motion.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkLocked(pendingAction{kind: actionMove, target: a.position + delta, token: token})
}

func (a *Axis) CheckSetPosition(position float64, token motion.Token) motion.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkLocked(pendingAction{kind: actionSet, target: position, token: token})
}

func (a *Axis) CheckHome(token motion.Token) motion.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkLocked(pendingAction{kind: actionHome, token: token})
}

// checkLocked validates p and takes the lock on success. a.mu is held.
func (a *Axis) checkLocked(p pendingAction) motion.Status {
	if holder := a.locks.Holder(a.cfg.Name); holder != "" && holder != p.token {
		return motion.StatusAlreadyLocked
	}
	if a.moving {
		return motion.StatusBusy
	}
	if p.kind == actionMove {
		switch {
		case math.IsNaN(p.target):
			return motion.StatusMoveNotAllowed
		case p.target > a.cfg.Upper:
			return motion.StatusSoftLimitUpper
		case p.target < a.cfg.Lower:
			return motion.StatusSoftLimitLower
		}
	}
	if !a.locks.Lock(a.cfg.Name, p.token) {
		return motion.StatusAlreadyLocked
	}
	a.pending = p
	return motion.StatusReady
}

func (a *Axis) DoMove(token motion.Token, id motion.CommandID) error {
	return a.start(token, id, actionMove)
}

func (a *Axis) DoSet(token motion.Token, id motion.CommandID) error {
	return a.start(token, id, actionSet)
}

func (a *Axis) DoHome(token motion.Token, id motion.CommandID) error {
	return a.start(token, id, actionHome)
}

func (a *Axis) start(token motion.Token, id motion.CommandID, kind actionKind) error {
	a.mu.Lock()
	if a.locks.Holder(a.cfg.Name) != token {
		a.mu.Unlock()
		return ErrNotLocked
	}
	p := a.pending
	if p.kind != kind || p.token != token {
		a.mu.Unlock()
		return ErrNothingToDo
	}
	a.pending = pendingAction{}
	a.active = id
	a.moving = kind != actionSet
	a.mu.Unlock()

	var line string
	switch kind {
	case actionMove:
		line = MoveCommand(a.cfg.Name, id, p.target)
	case actionSet:
		line = SetCommand(a.cfg.Name, id, p.target)
	case actionHome:
		line = HomeCommand(a.cfg.Name, id)
	}
	if err := a.link.SendCommand(line); err != nil {
		a.mu.Lock()
		if a.active == id {
			a.moving = false
		}
		a.mu.Unlock()
		return fmt.Errorf("remote %s: %w", a.cfg.Name, err)
	}
	return nil
}

// Stop asks the controller to halt. The terminal STATUS of the interrupted
// move arrives through Run.
func (a *Axis) Stop() error {
	if err := a.link.SendCommand(StopCommand(a.cfg.Name)); err != nil {
		return fmt.Errorf("remote %s: %w", a.cfg.Name, err)
	}
	return nil
}

// Poll requests a position report. The answer updates Position through Run.
func (a *Axis) Poll() error {
	return a.link.SendCommand(PosCommand(a.cfg.Name))
}

type reportObserver struct {
	axis string
	got  chan struct{}
}

func (o *reportObserver) Update(ev motion.StatusEvent) {
	if ev.Axis != o.axis || ev.CommandID != 0 {
		return
	}
	select {
	case o.got <- struct{}{}:
	default:
	}
}

// Sync polls the controller and waits for its position report.
func (a *Axis) Sync(ctx context.Context) error {
	o := &reportObserver{axis: a.cfg.Name, got: make(chan struct{}, 1)}
	a.AddObserver(o)
	defer a.RemoveObserver(o)
	if err := a.Poll(); err != nil {
		return fmt.Errorf("remote %s: %w", a.cfg.Name, err)
	}
	select {
	case <-o.got:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("remote %s: waiting for position: %w", a.cfg.Name, ctx.Err())
	}
}

func (a *Axis) IsMoving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.moving
}

// Position returns the last position the controller reported.
func (a *Axis) Position() motion.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return motion.Position{Value: a.position, Unit: a.cfg.Unit}
}

func (a *Axis) String() string {
	return fmt.Sprintf("remote.Axis(%s @ %s)", a.cfg.Name, a.Position())
}

var _ motion.Axis = (*Axis)(nil)
