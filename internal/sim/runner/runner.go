// Package runner owns one simulation: a landscape, its sink hierarchy and the playback clock.
package runner

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"basinflow.ai/internal/sim/hydro"
)

var (
	ErrEmptyLandscape = hydro.ErrEmptyLandscape
	ErrInvalidLevel   = errors.New("runner: level must be a finite non-negative number")
	ErrInvalidHours   = errors.New("runner: hours must be a finite non-negative number")
	ErrTooLarge       = errors.New("runner: simulation exceeds configured limits")
)

const (
	DefaultDtHours = 0.05

	// completeTolerance absorbs the rounding of tick*dt against the target.
	completeTolerance = 1e-9
)

type State int

const (
	Idle State = iota
	Running
	Paused
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	DtHours      float64
	TransferRate float64
	// Zero disables the limit.
	MaxSegments int
	MaxHours    float64
}

func (c Config) normalized() Config {
	if !(c.DtHours > 0) || math.IsInf(c.DtHours, 0) {
		c.DtHours = DefaultDtHours
	}
	if !(c.TransferRate > 0) || math.IsInf(c.TransferRate, 0) {
		c.TransferRate = hydro.DefaultTransferRate
	}
	return c
}

type Progress struct {
	Running bool
	Time    float64
	Levels  []float64
}

// Runner is not safe for concurrent use; a session goroutine owns it.
type Runner struct {
	cfg    Config
	engine *hydro.Engine

	h       *hydro.Hierarchy
	levels  []float64
	target  float64
	ticks   int
	elapsed float64
	state   State
}

func New(cfg Config) *Runner {
	cfg = cfg.normalized()
	return &Runner{cfg: cfg, engine: hydro.NewEngine(cfg.TransferRate)}
}

func (r *Runner) Config() Config { return r.cfg }

// Validate checks a start request without touching the runner.
func (r *Runner) Validate(levels []float64, hours float64) error {
	if len(levels) == 0 {
		return ErrEmptyLandscape
	}
	if r.cfg.MaxSegments > 0 && len(levels) > r.cfg.MaxSegments {
		return fmt.Errorf("%w: %d segments (max %d)", ErrTooLarge, len(levels), r.cfg.MaxSegments)
	}
	for i, lvl := range levels {
		if math.IsNaN(lvl) || math.IsInf(lvl, 0) || lvl < 0 {
			return fmt.Errorf("%w: segment %d has level %v", ErrInvalidLevel, i, lvl)
		}
	}
	if math.IsNaN(hours) || math.IsInf(hours, 0) || hours < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidHours, hours)
	}
	if r.cfg.MaxHours > 0 && hours > r.cfg.MaxHours {
		return fmt.Errorf("%w: %v hours (max %v)", ErrTooLarge, hours, r.cfg.MaxHours)
	}
	return nil
}

// Start replaces whatever the runner held with a new simulation. On error the runner is
// left untouched.
func (r *Runner) Start(levels []float64, hours float64) error {
	if err := r.Validate(levels, hours); err != nil {
		return err
	}
	h, err := hydro.Build(levels)
	if err != nil {
		return fmt.Errorf("build hierarchy: %w", err)
	}
	if err := h.Check(); err != nil {
		return fmt.Errorf("build hierarchy: %w", err)
	}

	r.h = h
	r.levels = append([]float64(nil), levels...)
	r.target = hours
	r.ticks = 0
	r.elapsed = 0
	r.state = Running
	return nil
}

// Tick advances a running simulation by one step. It reports whether anything happened.
func (r *Runner) Tick() bool {
	if r.state != Running {
		return false
	}
	remaining := r.target - r.elapsed
	if remaining <= completeTolerance {
		r.finish()
		return true
	}

	r.levels = r.engine.Step(r.h, r.levels, math.Min(r.cfg.DtHours, remaining))
	r.ticks++
	r.elapsed = math.Min(float64(r.ticks)*r.cfg.DtHours, r.target)
	if r.target-r.elapsed <= completeTolerance {
		r.finish()
	}
	return true
}

func (r *Runner) finish() {
	r.elapsed = r.target
	r.state = Complete
}

func (r *Runner) Pause() bool {
	if r.state != Running {
		return false
	}
	r.state = Paused
	return true
}

// Resume restarts a paused simulation. A completed one stays stopped.
func (r *Runner) Resume() bool {
	if r.state != Paused {
		return false
	}
	r.state = Running
	return true
}

// Forward runs the simulation to completion and returns the number of ticks applied.
func (r *Runner) Forward() int {
	if r.state != Running && r.state != Paused {
		return 0
	}
	r.state = Running
	before := r.ticks
	for r.state == Running {
		r.Tick()
	}
	return r.ticks - before
}

func (r *Runner) State() State { return r.state }

// Loaded reports whether a simulation has been started.
func (r *Runner) Loaded() bool { return r.state != Idle }

func (r *Runner) Elapsed() float64 { return r.elapsed }

func (r *Runner) Target() float64 { return r.target }

func (r *Runner) Ticks() int { return r.ticks }

func (r *Runner) Remaining() float64 { return math.Max(0, r.target-r.elapsed) }

func (r *Runner) Segments() int { return len(r.levels) }

func (r *Runner) Levels() []float64 { return append([]float64(nil), r.levels...) }

func (r *Runner) TotalVolume() float64 {
	if len(r.levels) == 0 {
		return 0
	}
	return floats.Sum(r.levels)
}

func (r *Runner) Hierarchy() *hydro.Hierarchy { return r.h }

func (r *Runner) Progress() Progress {
	return Progress{
		Running: r.state == Running,
		Time:    r.elapsed,
		Levels:  r.Levels(),
	}
}
