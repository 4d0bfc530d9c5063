package blueprint

import (
	"math"
	"time"
)

// Coordinates are stored as 32-bit integers by every durable backend.
const (
	MinCoordinate = math.MinInt32
	MaxCoordinate = math.MaxInt32
)

// Point is an integer coordinate on a blueprint. Two points are equal when
// both coordinates match, so plain == comparison applies.
type Point struct {
	X int
	Y int
}

// InRange reports whether both coordinates lie within
// [MinCoordinate, MaxCoordinate].
func (p Point) InRange() bool {
	return inRange(p.X) && inRange(p.Y)
}

func inRange(v int) bool {
	return v >= MinCoordinate && v <= MaxCoordinate
}

// Key identifies a blueprint. Comparison is case-sensitive.
type Key struct {
	Author string
	Name   string
}

func (k Key) String() string {
	return k.Author + "/" + k.Name
}

// Blueprint is a named, owned sequence of points. The blueprint owns its
// points exclusively; points keep no reference back to it.
type Blueprint struct {
	Author    string
	Name      string
	Points    []Point
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New builds a blueprint with a private copy of pts.
func New(author, name string, pts ...Point) *Blueprint {
	return &Blueprint{Author: author, Name: name, Points: clonePoints(pts)}
}

// Key returns the identity key of the blueprint.
func (b *Blueprint) Key() Key {
	return Key{Author: b.Author, Name: b.Name}
}

// Equal reports whether b and other share the same identity. Points and
// timestamps are not part of identity.
func (b *Blueprint) Equal(other *Blueprint) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.Author == other.Author && b.Name == other.Name
}

// AddPoint appends p at the tail of the point sequence.
func (b *Blueprint) AddPoint(p Point) {
	b.Points = append(b.Points, p)
}

// Clone returns a deep copy of b.
func (b *Blueprint) Clone() *Blueprint {
	c := *b
	c.Points = clonePoints(b.Points)
	return &c
}

// WithPoints returns a copy of b carrying pts instead of its own points.
func (b *Blueprint) WithPoints(pts []Point) *Blueprint {
	c := *b
	c.Points = pts
	return &c
}

func clonePoints(pts []Point) []Point {
	out := make([]Point, len(pts))
	copy(out, pts)
	return out
}
