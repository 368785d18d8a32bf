// Package route checks two-axis moves against a forbidden rectangle in the
// combined position space.
package route

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/undulator/internal/motion"
)

// Point is a position in the two-axis space, X for the first tracked axis.
type Point struct {
	X float64
	Y float64
}

func (p Point) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// Zone is a forbidden rectangle. Its edges are allowed; only the interior
// is forbidden.
type Zone Rect

// ParseZone reads "minX,maxX,minY,maxY".
func ParseZone(s string) (Zone, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Zone{}, motion.Configuration("zone "+strconv.Quote(s), fmt.Errorf("want 4 comma-separated values, got %d", len(parts)))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Zone{}, motion.Configuration("zone "+strconv.Quote(s), fmt.Errorf("bad value %q", p))
		}
		v[i] = f
	}
	z := Zone{MinX: v[0], MaxX: v[1], MinY: v[2], MaxY: v[3]}
	if z.MinX >= z.MaxX || z.MinY >= z.MaxY {
		return Zone{}, motion.Configuration("zone "+strconv.Quote(s), fmt.Errorf("empty rectangle"))
	}
	return z, nil
}

func (z Zone) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", z.MinX, z.MaxX, z.MinY, z.MaxY)
}

// Contains reports whether p lies strictly inside the zone.
func (z Zone) Contains(p Point) bool {
	return p.X > z.MinX && p.X < z.MaxX && p.Y > z.MinY && p.Y < z.MaxY
}

// Intersects reports whether r overlaps the zone interior.
func (z Zone) Intersects(r Rect) bool {
	return r.MinX < z.MaxX && r.MaxX > z.MinX && r.MinY < z.MaxY && r.MaxY > z.MinY
}

// minExtent is the smallest width or height given to a path's bounding box.
// A purely horizontal or vertical path would otherwise have zero area and
// never intersect anything.
const minExtent = 0.1

// PathBounds returns the bounding box of the straight path from a to b,
// widened to minExtent around the path where it is thinner.
func PathBounds(a, b Point) Rect {
	r := Rect{
		MinX: math.Min(a.X, b.X), MaxX: math.Max(a.X, b.X),
		MinY: math.Min(a.Y, b.Y), MaxY: math.Max(a.Y, b.Y),
	}
	r.MinX, r.MaxX = widen(r.MinX, r.MaxX)
	r.MinY, r.MaxY = widen(r.MinY, r.MaxY)
	return r
}

func widen(lo, hi float64) (float64, float64) {
	if hi-lo >= minExtent {
		return lo, hi
	}
	mid := (lo + hi) / 2
	return mid - minExtent/2, mid + minExtent/2
}
