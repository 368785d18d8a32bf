// Package undulator turns (energy, harmonic, polarization) requests into
// validated coordinated moves of the gap and phase axes.
package undulator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/undulator/internal/lut"
	"github.com/banshee-data/undulator/internal/monitoring"
	"github.com/banshee-data/undulator/internal/motion"
	"github.com/banshee-data/undulator/internal/route"
)

// DefaultTolerance is the drift allowed between a snapshot and the live
// positions before Refresh declares the cached state stale.
const DefaultTolerance = 0.01

// Axes are the physical axes of the device. OpposingPhase may be nil when
// the device has no arbitrary linear polarization.
type Axes struct {
	Gap           motion.Axis
	MutualPhase   motion.Axis
	OpposingPhase motion.Axis
}

// Options configures a Calculator.
type Options struct {
	// Name of the virtual axis, "energy" when empty.
	Name   string
	Tables map[int]*lut.LookUpTable
	Axes   Axes
	Locks  *motion.LockTable

	// Forbidden zones in (gap, phase) space. Nil means unrestricted.
	MutualZone   *route.Zone
	OpposingZone *route.Zone
	Policy       route.Policy

	Tolerance float64
	Watcher   motion.Watcher
	// Now defaults to time.Now.
	Now func() time.Time
}

// Calculator orchestrates lookup, route checking and coordinated moves.
type Calculator struct {
	opts     Options
	virtual  *motion.VirtualAxis
	mutual   *route.Checker
	opposing *route.Checker

	mu       sync.Mutex
	state    State
	watchers []StateWatcher
}

// New validates opts and builds the virtual axis.
func New(opts Options) (*Calculator, error) {
	if opts.Axes.Gap == nil || opts.Axes.MutualPhase == nil {
		return nil, motion.Configuration("undulator", fmt.Errorf("gap and mutual phase axes are required"))
	}
	if len(opts.Tables) == 0 {
		return nil, motion.Configuration("undulator", fmt.Errorf("no lookup tables"))
	}
	if opts.Locks == nil {
		opts.Locks = motion.NewLockTable()
	}
	if opts.Name == "" {
		opts.Name = "energy"
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	deps := []motion.Axis{opts.Axes.Gap, opts.Axes.MutualPhase}
	if opts.Axes.OpposingPhase != nil {
		deps = append(deps, opts.Axes.OpposingPhase)
	}
	c := &Calculator{
		opts:    opts,
		virtual: motion.NewVirtualAxis(opts.Name, "eV", opts.Locks, deps...),
	}
	if opts.MutualZone != nil {
		c.mutual = route.NewChecker(opts.Axes.Gap, opts.Axes.MutualPhase, *opts.MutualZone, opts.Policy)
	}
	if opts.OpposingZone != nil {
		if opts.Axes.OpposingPhase == nil {
			return nil, motion.Configuration("undulator", fmt.Errorf("opposing zone configured without an opposing phase axis"))
		}
		c.opposing = route.NewChecker(opts.Axes.Gap, opts.Axes.OpposingPhase, *opts.OpposingZone, opts.Policy)
	}
	return c, nil
}

// Virtual returns the virtual axis that coordinated moves run on.
func (c *Calculator) Virtual() *motion.VirtualAxis {
	return c.virtual
}

// AddStateWatcher registers w for state changes.
func (c *Calculator) AddStateWatcher(w StateWatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, w)
}

// State returns a copy of the cached state.
func (c *Calculator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Plan is a validated move that has not started.
type Plan struct {
	Request   Request
	Gap       motion.Axis
	Phase     motion.Axis
	Target    route.Point
	Decision  route.Decision
	Waypoints []route.Point
}

// Legs converts the waypoints into coordinated legs.
func (p *Plan) Legs() []motion.Leg {
	legs := make([]motion.Leg, len(p.Waypoints))
	for i, w := range p.Waypoints {
		legs[i] = motion.Leg{A: w.X, B: w.Y}
	}
	return legs
}

// Plan computes targets, asks the route checker and dry-runs the soft limit
// checks of every waypoint. Nothing moves and no lock is kept.
func (c *Calculator) Plan(req Request) (*Plan, error) {
	name := c.virtual.Name()
	if math.IsNaN(req.Energy) || math.IsInf(req.Energy, 0) {
		return nil, motion.Validation(name, motion.StatusMoveNotAllowed, fmt.Sprintf("bad energy %g", req.Energy))
	}
	table, ok := c.opts.Tables[req.Harmonic]
	if !ok {
		return nil, motion.Validation(name, motion.StatusMoveNotAllowed, fmt.Sprintf("no lookup table for harmonic %d", req.Harmonic))
	}
	gap, phase, err := table.CalculateValues(req.Energy, req.Polarization)
	if err != nil {
		return nil, motion.Validation(name, motion.StatusMoveNotAllowed, err.Error())
	}

	p := &Plan{Request: req, Gap: c.opts.Axes.Gap, Target: route.Point{X: gap, Y: phase}}
	checker := c.mutual
	p.Phase = c.opts.Axes.MutualPhase
	if req.Polarization.Opposing() {
		if c.opts.Axes.OpposingPhase == nil {
			return nil, motion.Validation(name, motion.StatusMoveNotAllowed, "no opposing phase axis for "+req.Polarization.String())
		}
		checker = c.opposing
		p.Phase = c.opts.Axes.OpposingPhase
	}

	if checker == nil {
		p.Decision = route.Decision{Allowed: true, Waypoints: []route.Point{p.Target}}
	} else {
		p.Decision = checker.Check(gap, phase)
		if !p.Decision.Allowed {
			return nil, motion.Validation(checker.Name(), motion.StatusMoveNotAllowed, p.Decision.Reason)
		}
	}
	p.Waypoints = p.Decision.Waypoints

	for _, w := range p.Waypoints {
		if err := dryRun(p.Gap, w.X); err != nil {
			return nil, err
		}
		if err := dryRun(p.Phase, w.Y); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// dryRun validates a move of ax to target and releases the lock at once.
func dryRun(ax motion.Axis, target float64) error {
	token := motion.NewToken()
	if s := ax.CheckMoveTo(target, token); !s.OK() {
		return motion.Validation(ax.Name(), s, fmt.Sprintf("%s to %g", s.Reason(), target))
	}
	ax.Unlock(token)
	return nil
}

// MoveTo plans req and starts the coordinated move. It returns once the move
// is running; the returned command reports completion.
func (c *Calculator) MoveTo(ctx context.Context, req Request) (*motion.MultipleMove, error) {
	p, err := c.Plan(req)
	if err != nil {
		monitoring.Logf("undulator: rejected %s: %v", req, err)
		return nil, err
	}

	c.mu.Lock()
	c.state.Requested = req
	c.mu.Unlock()

	mm := motion.NewMultipleMove(c.virtual, p.Gap, p.Phase, p.Legs(), c.opts.Watcher).
		WithTarget(req.Energy).
		OnFinish(func(err error) { c.moveDone(req, err) })
	if err := mm.Execute(ctx); err != nil {
		return nil, err
	}
	monitoring.Debugf("undulator: moving to %s via %v", req, p.Waypoints)
	return mm, nil
}

// moveDone updates the cached state when a coordinated move ends.
func (c *Calculator) moveDone(req Request, err error) {
	c.mu.Lock()
	if err == nil {
		c.state.Current = req
		c.state.Snapshot = c.snapshot()
		c.state.Known = true
		c.state.Stale = false
	} else {
		c.state.Stale = true
	}
	s, watchers := c.state, c.watchers
	c.mu.Unlock()

	notify(watchers, s)
}

func (c *Calculator) snapshot() Snapshot {
	s := Snapshot{
		Gap:         c.opts.Axes.Gap.Position().Value,
		MutualPhase: c.opts.Axes.MutualPhase.Position().Value,
		Taken:       c.opts.Now(),
	}
	if c.opts.Axes.OpposingPhase != nil {
		s.OpposingPhase = c.opts.Axes.OpposingPhase.Position().Value
	}
	return s
}

// Stop halts every physical axis behind the virtual axis.
func (c *Calculator) Stop() error {
	return c.virtual.Stop()
}

func notify(watchers []StateWatcher, s State) {
	for _, w := range watchers {
		w.StateChanged(s)
	}
}
