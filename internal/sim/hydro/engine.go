package hydro

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultTransferRate is the fraction of the excess above the mean released per hour
	// (as a continuous rate).
	DefaultTransferRate = 1.5

	settleTolerance = 1e-12
)

// Engine performs redistribution passes over a hierarchy. It holds no per-run state,
// so one Engine may serve many runners.
type Engine struct {
	Rate float64
}

func NewEngine(rate float64) *Engine {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		rate = DefaultTransferRate
	}
	return &Engine{Rate: rate}
}

// Pass is the outcome of one redistribution pass.
type Pass struct {
	Levels []float64
	// Volumes holds the water each sink absorbed during the pass, children included,
	// indexed like Hierarchy.Sinks.
	Volumes  []float64
	Released float64
	// Returned is the inflow nothing could absorb (rounding only), handed back to the
	// releasing segments.
	Returned float64
}

// Step returns the levels after one pass of dt hours. The input slice is not modified.
func (e *Engine) Step(h *Hierarchy, levels []float64, dt float64) []float64 {
	return e.Run(h, levels, dt).Levels
}

// Run performs one pass and reports per-sink volumes alongside the new levels.
//
// Every segment above the mean releases a share of its excess. The released water fills
// the hierarchy from a virtual root spanning the whole landscape, spills between siblings
// and is finally flooded back into the segments.
func (e *Engine) Run(h *Hierarchy, levels []float64, dt float64) Pass {
	out := append([]float64(nil), levels...)
	res := Pass{Levels: out}
	if h == nil || len(out) == 0 || h.Len() != len(out) {
		return res
	}
	res.Volumes = make([]float64, len(h.Sinks))

	alpha := 1 - math.Exp(-e.Rate*dt)
	if !(alpha > 0) {
		return res
	}

	mean := floats.Sum(out) / float64(len(out))
	tol := settleTolerance * math.Max(1, math.Abs(mean))

	released := make([]float64, len(out))
	for i, lvl := range out {
		if lvl-mean > tol {
			r := alpha * (lvl - mean)
			out[i] -= r
			released[i] = r
		}
	}
	q := floats.Sum(released)
	if q <= 0 {
		return res
	}
	res.Released = q

	p := newPass(h, out, mean)
	absorbed := p.fill(p.root, q)
	p.flood(p.root)
	copy(res.Volumes, p.got[:len(h.Sinks)])

	if left := q - absorbed + p.spare; left > 0 {
		res.Returned = left
		for i, r := range released {
			if r > 0 {
				out[i] += left * r / q
			}
		}
	}
	return res
}

// pass is the scratch state of a single Run. Index len(h.Sinks) is the virtual root.
type pass struct {
	h      *Hierarchy
	levels []float64
	target float64
	root   int

	rem   []float64 // headroom of the whole sink, children included
	own   []float64 // headroom of the sink's own layer
	got   []float64 // absorbed so far, children included
	vol   []float64 // absorbed into the own layer
	spare float64   // flood leftovers
}

func newPass(h *Hierarchy, levels []float64, target float64) *pass {
	n := len(h.Sinks) + 1
	p := &pass{
		h:      h,
		levels: levels,
		target: target,
		root:   len(h.Sinks),
		rem:    make([]float64, n),
		own:    make([]float64, n),
		got:    make([]float64, n),
		vol:    make([]float64, n),
	}
	for id := 0; id < n; id++ {
		lo, hi := p.span(id)
		ceil := p.ceiling(id)
		var sum float64
		for i := lo; i <= hi; i++ {
			if d := ceil - levels[i]; d > 0 {
				sum += d
			}
		}
		p.rem[id] = sum
	}
	for id := 0; id < n; id++ {
		own := p.rem[id]
		for _, c := range p.children(id) {
			own -= p.rem[c]
		}
		p.own[id] = math.Max(0, own)
	}
	return p
}

func (p *pass) children(id int) []int {
	if id == p.root {
		return p.h.Roots
	}
	return p.h.Sinks[id].Children
}

func (p *pass) span(id int) (int, int) {
	if id == p.root {
		return 0, len(p.levels) - 1
	}
	s := p.h.Sinks[id]
	return s.Lo, s.Hi
}

// ceiling is the highest surface water may reach inside a sink during this pass.
func (p *pass) ceiling(id int) float64 {
	if id == p.root {
		return p.target
	}
	return math.Min(p.target, p.h.Sinks[id].Rim)
}

func (p *pass) avail(id int) float64 { return p.rem[id] - p.got[id] }

// fill pours amount into a sink and returns how much it absorbed, which is
// min(amount, avail(id)) up to rounding. Children fill first, their excess spills to
// siblings, and only what is left reaches the sink's own layer.
func (p *pass) fill(id int, amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	var absorbed float64
	if kids := p.children(id); len(kids) > 0 {
		excess := make([]float64, len(kids))
		var given float64
		for k, c := range kids {
			quota := amount * p.h.Sinks[c].Weight
			if k == len(kids)-1 {
				quota = math.Max(0, amount-given)
			}
			given += quota
			got := p.fill(c, quota)
			excess[k] = quota - got
			absorbed += got
		}
		absorbed += p.spill(kids, excess)
	}

	if rest := amount - absorbed; rest > 0 {
		take := math.Min(rest, p.own[id]-p.vol[id])
		if take > 0 {
			p.vol[id] += take
			absorbed += take
		}
	}
	p.got[id] += absorbed
	return absorbed
}

// spill hands each sibling's excess to the other siblings in both directions, in
// proportion to their remaining capacity. Siblings without headroom receive nothing.
func (p *pass) spill(kids []int, excess []float64) float64 {
	var total float64
	shares := make([]float64, len(kids))
	for k := range kids {
		if excess[k] <= 0 {
			continue
		}
		var room float64
		for j, c := range kids {
			shares[j] = 0
			if j == k {
				continue
			}
			if a := p.avail(c); a > 0 {
				shares[j] = a
				room += a
			}
		}
		if room <= 0 {
			continue
		}
		amount := math.Min(excess[k], room)
		var spilled float64
		for d := 1; k-d >= 0 || k+d < len(kids); d++ {
			for _, j := range [2]int{k - d, k + d} {
				if j < 0 || j >= len(kids) || shares[j] == 0 {
					continue
				}
				spilled += p.fill(kids[j], amount*shares[j]/room)
			}
		}
		excess[k] -= spilled
		total += spilled
	}
	return total
}

// flood converts absorbed volumes back into levels, innermost sinks first.
func (p *pass) flood(id int) {
	for _, c := range p.children(id) {
		p.flood(c)
	}
	if p.vol[id] <= 0 {
		return
	}
	lo, hi := p.span(id)
	p.spare += pour(p.levels[lo:hi+1], p.vol[id], p.ceiling(id))
}
