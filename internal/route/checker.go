package route

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/undulator/internal/monitoring"
	"github.com/banshee-data/undulator/internal/motion"
)

// Policy decides what happens when the direct path crosses the zone.
type Policy int

const (
	// PolicyDirectOnly rejects any move whose direct path crosses the zone.
	PolicyDirectOnly Policy = iota
	// PolicyDogleg routes around the zone through three waypoints when it
	// can.
	PolicyDogleg
)

func (p Policy) String() string {
	if p == PolicyDogleg {
		return "dogleg"
	}
	return "direct"
}

// ParsePolicy accepts "direct" and "dogleg". The empty string is
// PolicyDirectOnly.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct", "direct-only":
		return PolicyDirectOnly, nil
	case "dogleg":
		return PolicyDogleg, nil
	}
	return PolicyDirectOnly, fmt.Errorf("unknown route policy %q", s)
}

// Positioner is the part of an axis the checker reads.
type Positioner interface {
	Name() string
	Position() motion.Position
}

// Checker validates moves of two axes against one forbidden zone. Current
// positions are read live on every call.
type Checker struct {
	x, y   Positioner
	zone   Zone
	policy Policy
}

// NewChecker tracks x and y against zone.
func NewChecker(x, y Positioner, zone Zone, policy Policy) *Checker {
	return &Checker{x: x, y: y, zone: zone, policy: policy}
}

func (c *Checker) Zone() Zone { return c.zone }

func (c *Checker) Policy() Policy { return c.policy }

// Name identifies the axis pair, e.g. "gap/phase".
func (c *Checker) Name() string { return c.x.Name() + "/" + c.y.Name() }

// Current returns the live position of both axes.
func (c *Checker) Current() Point {
	return Point{X: c.x.Position().Value, Y: c.y.Position().Value}
}

// Decision is the outcome of a route check.
type Decision struct {
	Allowed   bool
	Waypoints []Point
	// Crosses is true when the direct path overlaps the zone.
	Crosses bool
	// Dogleg is the escape route around the zone, computed whenever the
	// direct path crosses it, whether or not the policy uses it.
	Dogleg []Point
	Reason string
}

// IsAllowedMove reports whether the axes may travel from where they are now
// to target, and through which waypoints. The last waypoint is the target.
func (c *Checker) IsAllowedMove(targetX, targetY float64) (bool, []Point) {
	d := c.Check(targetX, targetY)
	return d.Allowed, d.Waypoints
}

// Route is IsAllowedMove returning a ValidationFailure on rejection.
func (c *Checker) Route(targetX, targetY float64) ([]Point, error) {
	d := c.Check(targetX, targetY)
	if !d.Allowed {
		return nil, motion.Validation(c.Name(), motion.StatusMoveNotAllowed, d.Reason)
	}
	return d.Waypoints, nil
}

// Check evaluates the move to target and explains the outcome.
func (c *Checker) Check(targetX, targetY float64) Decision {
	from, to := c.Current(), Point{X: targetX, Y: targetY}
	return c.decide(from, to)
}

func (c *Checker) decide(from, to Point) Decision {
	if c.zone.Contains(to) {
		return Decision{Reason: fmt.Sprintf("target %s inside forbidden zone %s", to, c.zone)}
	}
	if !c.zone.Intersects(PathBounds(from, to)) {
		return Decision{Allowed: true, Waypoints: []Point{to}}
	}

	d := Decision{Crosses: true}
	d.Dogleg, _ = c.dogleg(from, to)
	monitoring.Debugf("route: %s path %s -> %s crosses zone %s, dogleg %v", c.Name(), from, to, c.zone, d.Dogleg)

	switch {
	case c.policy != PolicyDogleg:
		d.Reason = fmt.Sprintf("path %s -> %s crosses forbidden zone %s", from, to, c.zone)
	case d.Dogleg == nil:
		d.Reason = fmt.Sprintf("no route from %s to %s around forbidden zone %s", from, to, c.zone)
	default:
		d.Allowed = true
		d.Waypoints = d.Dogleg
	}
	return d
}

// dogleg finds the shortest three-waypoint route from -> p1 -> p2 -> to
// whose legs each move one axis only onto a line just outside a zone edge,
// then along it, then to the target. Every leg must clear the zone.
func (c *Checker) dogleg(from, to Point) ([]Point, bool) {
	z := c.zone
	var candidates [][]Point
	for _, y := range []float64{z.MinY - minExtent, z.MaxY + minExtent} {
		candidates = append(candidates, []Point{{X: from.X, Y: y}, {X: to.X, Y: y}, to})
	}
	for _, x := range []float64{z.MinX - minExtent, z.MaxX + minExtent} {
		candidates = append(candidates, []Point{{X: x, Y: from.Y}, {X: x, Y: to.Y}, to})
	}

	var (
		best    []Point
		bestLen = math.Inf(1)
	)
	for _, route := range candidates {
		if !c.clear(from, route) {
			continue
		}
		if l := length(from, route); l < bestLen-tieTolerance {
			best, bestLen = route, l
		}
	}
	return best, best != nil
}

// clear reports whether every leg of route, starting at from, avoids the
// zone.
func (c *Checker) clear(from Point, route []Point) bool {
	prev := from
	for _, p := range route {
		if c.zone.Contains(p) || c.zone.Intersects(PathBounds(prev, p)) {
			return false
		}
		prev = p
	}
	return true
}

// tieTolerance keeps the first candidate when lengths differ only by
// rounding.
const tieTolerance = 1e-9

func length(from Point, route []Point) float64 {
	total, prev := 0.0, from
	for _, p := range route {
		total += math.Abs(p.X-prev.X) + math.Abs(p.Y-prev.Y)
		prev = p
	}
	return total
}
