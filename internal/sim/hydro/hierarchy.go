// Package hydro models water redistribution across a one-dimensional landscape.
//
// A landscape is first carved into a hierarchy of sinks (basins). The hierarchy only
// depends on the base levels the run started with, so it is built once and reused by
// every pass of the Engine.
package hydro

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrEmptyLandscape = errors.New("hydro: empty landscape")
	ErrHierarchy      = errors.New("hydro: hierarchy invariant violated")
)

// NoSink marks a missing parent (roots) or a segment not covered by any sink.
const NoSink = -1

// Sink is a basin covering the closed segment range [Lo, Hi].
//
// Rim is the height at which the sink overflows into its parent, Floor the highest base
// level inside the range (children are carved below it). Capacity is the volume held up
// to Rim: width*(Rim-Floor) plus the capacity of every child.
type Sink struct {
	Lo, Hi   int
	Rim      float64
	Floor    float64
	Capacity float64
	// Weight is the share of the parent's catchment draining into this sink.
	Weight   float64
	Parent   int
	Children []int
}

func (s Sink) Width() int { return s.Hi - s.Lo + 1 }

func (s Sink) Contains(i int) bool { return i >= s.Lo && i <= s.Hi }

// Hierarchy is an arena of sinks. Parent/child links are arena indices.
//
// For N segments there are at most ceil(N/2) sinks per carving level (alternating
// maxima and minima); the bound is informative and not enforced.
type Hierarchy struct {
	Sinks     []Sink
	Roots     []int
	Uncovered []int

	base []float64
}

// Build carves the sink hierarchy for the given base levels.
func Build(levels []float64) (*Hierarchy, error) {
	if len(levels) == 0 {
		return nil, ErrEmptyLandscape
	}
	h := &Hierarchy{
		Sinks: make([]Sink, 0, (len(levels)+1)/2),
		base:  append([]float64(nil), levels...),
	}
	h.Roots = h.carve(0, len(levels)-1, floats.Max(levels), NoSink)

	covered := make([]bool, len(levels))
	for _, r := range h.Roots {
		s := h.Sinks[r]
		for i := s.Lo; i <= s.Hi; i++ {
			covered[i] = true
		}
	}
	for i, ok := range covered {
		if !ok {
			h.Uncovered = append(h.Uncovered, i)
		}
	}
	return h, nil
}

// carve scans [lo, hi] at the given threshold and appends one sink per area below it.
// It returns the arena indices of the new sinks, left to right.
func (h *Hierarchy) carve(lo, hi int, level float64, parent int) []int {
	areas := scanAreas(h.base, lo, hi, level)
	total := float64(hi - lo + 1)

	var ids []int
	var weights float64
	for i := 1; i < len(areas)-1; i++ {
		a := areas[i]
		if a.kind != areaSink {
			continue
		}
		w := (a.width() + areas[i-1].width() + areas[i+1].width()) / total
		weights += w

		id := len(h.Sinks)
		h.Sinks = append(h.Sinks, Sink{
			Lo:     a.start,
			Hi:     a.end,
			Rim:    level,
			Floor:  a.floor,
			Weight: w,
			Parent: parent,
		})
		ids = append(ids, id)

		children := h.carve(a.start, a.end, a.floor, id)
		capacity := float64(a.end-a.start+1) * (level - a.floor)
		for _, c := range children {
			capacity += h.Sinks[c].Capacity
		}
		// h.Sinks may have grown while carving children.
		h.Sinks[id].Children = children
		h.Sinks[id].Capacity = capacity
	}

	// Rounding compensation keeps the sibling weights summing to one.
	if len(ids) > 0 && weights < 1 {
		h.Sinks[ids[0]].Weight += 1 - weights
	}
	return ids
}

// Len is the number of segments the hierarchy was built for.
func (h *Hierarchy) Len() int { return len(h.base) }

// Base returns a copy of the base levels.
func (h *Hierarchy) Base() []float64 { return append([]float64(nil), h.base...) }

// RootOf returns the root sink covering segment i, or NoSink.
func (h *Hierarchy) RootOf(i int) int {
	for _, r := range h.Roots {
		if h.Sinks[r].Contains(i) {
			return r
		}
	}
	return NoSink
}

// Innermost returns the deepest sink covering segment i, or NoSink.
func (h *Hierarchy) Innermost(i int) int {
	cur := h.RootOf(i)
	for cur != NoSink {
		next := NoSink
		for _, c := range h.Sinks[cur].Children {
			if h.Sinks[c].Contains(i) {
				next = c
				break
			}
		}
		if next == NoSink {
			return cur
		}
		cur = next
	}
	return NoSink
}

// Depth is the number of sink levels on the longest leaf-to-root path.
func (h *Hierarchy) Depth() int {
	var depth func(ids []int) int
	depth = func(ids []int) int {
		best := 0
		for _, id := range ids {
			if d := 1 + depth(h.Sinks[id].Children); d > best {
				best = d
			}
		}
		return best
	}
	return depth(h.Roots)
}

// Check verifies the partition invariants: roots and uncovered segments cover every
// index exactly once, and every sink's children lie inside it without overlapping.
func (h *Hierarchy) Check() error {
	seen := make([]int, len(h.base))
	for _, r := range h.Roots {
		s := h.Sinks[r]
		if s.Parent != NoSink {
			return fmt.Errorf("%w: root %d has parent %d", ErrHierarchy, r, s.Parent)
		}
		for i := s.Lo; i <= s.Hi; i++ {
			seen[i]++
		}
	}
	for _, i := range h.Uncovered {
		seen[i]++
	}
	for i, n := range seen {
		if n != 1 {
			return fmt.Errorf("%w: segment %d covered %d times", ErrHierarchy, i, n)
		}
	}
	for id, s := range h.Sinks {
		if s.Lo > s.Hi || s.Lo < 0 || s.Hi >= len(h.base) {
			return fmt.Errorf("%w: sink %d has range [%d,%d]", ErrHierarchy, id, s.Lo, s.Hi)
		}
		prev := s.Lo - 1
		for _, c := range s.Children {
			cs := h.Sinks[c]
			if cs.Parent != id {
				return fmt.Errorf("%w: sink %d lists child %d with parent %d", ErrHierarchy, id, c, cs.Parent)
			}
			if cs.Lo <= prev || cs.Hi > s.Hi {
				return fmt.Errorf("%w: child %d [%d,%d] escapes or overlaps inside sink %d", ErrHierarchy, c, cs.Lo, cs.Hi, id)
			}
			if cs.Rim > s.Rim {
				return fmt.Errorf("%w: child %d rim %.6g above parent rim %.6g", ErrHierarchy, c, cs.Rim, s.Rim)
			}
			prev = cs.Hi
		}
	}
	return nil
}
