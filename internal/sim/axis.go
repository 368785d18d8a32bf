// Package sim provides an in-memory axis that honours the motion.Axis
// contract. It backs the CLI dry-run mode and the coordination tests.
package sim

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/undulator/internal/motion"
	"github.com/banshee-data/undulator/internal/timeutil"
)

var (
	ErrNotLocked     = errors.New("sim: axis not locked by caller")
	ErrNothingToDo   = errors.New("sim: no checked action pending")
	ErrAlreadyMoving = errors.New("sim: axis already moving")
)

// Config describes a simulated axis.
type Config struct {
	Name  string
	Unit  string
	Lower float64
	Upper float64
	// Speed in units per second. Zero completes moves immediately.
	Speed float64
	// Initial position.
	Initial float64
	// Reference is where homing leaves the axis before the home position
	// is assigned.
	Reference float64
	Clock     timeutil.Clock
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

type activeMove struct {
	id     motion.CommandID
	target float64
	start  float64
	began  time.Time
	stop   chan struct{}
	once   sync.Once
}

// Axis is a simulated physical axis.
type Axis struct {
	motion.Broadcaster

	cfg   Config
	locks *motion.LockTable

	mu       sync.Mutex
	position float64
	pending  pendingAction
	active   *activeMove

	hold         bool
	nextTerminal motion.Status
	startErr     error
	stopErr      error
	starts       int
	stops        int
}

// New creates a simulated axis whose lock lives in locks.
func New(cfg Config, locks *motion.LockTable) *Axis {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Upper == 0 && cfg.Lower == 0 {
		cfg.Lower, cfg.Upper = math.Inf(-1), math.Inf(1)
	}
	return &Axis{cfg: cfg, locks: locks, position: cfg.Initial}
}

func (a *Axis) Name() string { return a.cfg.Name }

func (a *Axis) Lock(token motion.Token) bool { return a.locks.Lock(a.cfg.Name, token) }

func (a *Axis) Unlock(token motion.Token) bool { return a.locks.Unlock(a.cfg.Name, token) }

// Limits returns the soft limits.
func (a *Axis) Limits() (lower, upper float64) {
	return a.cfg.Lower, a.cfg.Upper
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
	return a.checkLocked(pendingAction{kind: actionHome, target: a.cfg.Reference, token: token})
}

// checkLocked validates p and takes the lock on success. a.mu is held.
func (a *Axis) checkLocked(p pendingAction) motion.Status {
	if holder := a.locks.Holder(a.cfg.Name); holder != "" && holder != p.token {
		return motion.StatusAlreadyLocked
	}
	if a.active != nil {
		return motion.StatusBusy
	}
	if p.kind == actionMove {
		if math.IsNaN(p.target) {
			return motion.StatusMoveNotAllowed
		}
		if p.target > a.cfg.Upper {
			return motion.StatusSoftLimitUpper
		}
		if p.target < a.cfg.Lower {
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
	return a.begin(token, id, actionMove)
}

func (a *Axis) DoHome(token motion.Token, id motion.CommandID) error {
	return a.begin(token, id, actionHome)
}

// DoSet assigns the checked position and reports READY before returning.
func (a *Axis) DoSet(token motion.Token, id motion.CommandID) error {
	a.mu.Lock()
	p, err := a.takePending(token, actionSet)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.position = p.target
	pos := a.position
	a.mu.Unlock()

	a.Notify(motion.StatusEvent{Axis: a.cfg.Name, Status: motion.StatusReady, Target: p.target, Position: pos, CommandID: id})
	return nil
}

func (a *Axis) takePending(token motion.Token, kind actionKind) (pendingAction, error) {
	if a.locks.Holder(a.cfg.Name) != token {
		return pendingAction{}, ErrNotLocked
	}
	p := a.pending
	if p.kind != kind || p.token != token {
		return pendingAction{}, ErrNothingToDo
	}
	a.pending = pendingAction{}
	return p, nil
}

func (a *Axis) begin(token motion.Token, id motion.CommandID, kind actionKind) error {
	a.mu.Lock()
	if a.startErr != nil {
		err := a.startErr
		a.startErr = nil
		a.mu.Unlock()
		return err
	}
	if a.active != nil {
		a.mu.Unlock()
		return ErrAlreadyMoving
	}
	p, err := a.takePending(token, kind)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	mv := &activeMove{
		id:     id,
		target: p.target,
		start:  a.position,
		began:  a.cfg.Clock.Now(),
		stop:   make(chan struct{}),
	}
	a.active = mv
	a.starts++
	hold := a.hold
	a.mu.Unlock()

	a.Notify(motion.StatusEvent{Axis: a.cfg.Name, Status: motion.StatusBusy, Target: p.target, Position: mv.start, CommandID: id})
	if !hold {
		go a.travel(mv)
	}
	return nil
}

func (a *Axis) travel(mv *activeMove) {
	var d time.Duration
	if a.cfg.Speed > 0 {
		d = time.Duration(math.Abs(mv.target-mv.start) / a.cfg.Speed * float64(time.Second))
	}
	timer := a.cfg.Clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C():
		a.finish(mv, motion.StatusUnknown, "")
	case <-mv.stop:
		a.finish(mv, motion.StatusStopped, "stopped")
	}
}

// finish ends mv. StatusUnknown means use the configured outcome.
func (a *Axis) finish(mv *activeMove, s motion.Status, msg string) bool {
	a.mu.Lock()
	if a.active != mv {
		a.mu.Unlock()
		return false
	}
	a.active = nil
	if s == motion.StatusUnknown {
		s = motion.StatusReady
		if a.nextTerminal != motion.StatusUnknown {
			s = a.nextTerminal
			a.nextTerminal = motion.StatusUnknown
		}
	}
	switch s {
	case motion.StatusReady, motion.StatusSuccess, motion.StatusAwayFromLimit:
		a.position = mv.target
	case motion.StatusStopped:
		a.position = a.partialLocked(mv)
	}
	pos := a.position
	a.mu.Unlock()

	a.Notify(motion.StatusEvent{Axis: a.cfg.Name, Status: s, Target: mv.target, Position: pos, Message: msg, CommandID: mv.id})
	return true
}

// partialLocked estimates how far a stopped move got. a.mu is held.
func (a *Axis) partialLocked(mv *activeMove) float64 {
	if a.cfg.Speed <= 0 {
		return mv.start
	}
	travelled := a.cfg.Speed * a.cfg.Clock.Since(mv.began).Seconds()
	dist := mv.target - mv.start
	if travelled >= math.Abs(dist) {
		return mv.target
	}
	return mv.start + math.Copysign(travelled, dist)
}

func (a *Axis) Stop() error {
	a.mu.Lock()
	a.stops++
	err := a.stopErr
	mv := a.active
	hold := a.hold
	a.mu.Unlock()

	if mv != nil {
		if hold {
			a.finish(mv, motion.StatusStopped, "stopped")
		} else {
			mv.once.Do(func() { close(mv.stop) })
		}
	}
	return err
}

func (a *Axis) IsMoving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active != nil
}

func (a *Axis) Position() motion.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return motion.Position{Value: a.position, Unit: a.cfg.Unit}
}

// SetHold switches manual completion on or off. While held, moves stay in
// flight until Complete is called.
func (a *Axis) SetHold(hold bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hold = hold
}

// Complete ends the held move with s. It reports whether a move was active.
func (a *Axis) Complete(s motion.Status, msg string) bool {
	a.mu.Lock()
	mv := a.active
	a.mu.Unlock()
	if mv == nil {
		return false
	}
	return a.finish(mv, s, msg)
}

// ActiveCommand returns the command id of the move in flight, or zero.
func (a *Axis) ActiveCommand() motion.CommandID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return 0
	}
	return a.active.id
}

// FailNextStart makes the next DoMove or DoHome return err.
func (a *Axis) FailNextStart(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startErr = err
}

// EndNextMoveWith makes the next move finish with s instead of READY.
func (a *Axis) EndNextMoveWith(s motion.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextTerminal = s
}

// FailStop makes Stop return err.
func (a *Axis) FailStop(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopErr = err
}

// Emit broadcasts an arbitrary event, e.g. a duplicate or unsolicited status.
func (a *Axis) Emit(s motion.Status, id motion.CommandID, msg string) {
	a.Notify(motion.StatusEvent{Axis: a.cfg.Name, Status: s, Position: a.Position().Value, Message: msg, CommandID: id})
}

// Place moves the axis instantly, as if driven externally.
func (a *Axis) Place(position float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.position = position
}

// Starts returns how many moves or homings have physically started.
func (a *Axis) Starts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts
}

// Stops returns how many times Stop was called.
func (a *Axis) Stops() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stops
}

func (a *Axis) String() string {
	return fmt.Sprintf("sim.Axis(%s @ %s)", a.cfg.Name, a.Position())
}

var _ motion.Axis = (*Axis)(nil)
