package runner

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"basinflow.ai/internal/sim/hydro"
)

var scenario = []float64{6, 4, 5, 9, 9, 2, 6, 5, 9, 7}

func TestStart_ZeroHoursIsIdempotent(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Start(scenario, 0))
	assert.Equal(t, Running, r.State())

	assert.True(t, r.Tick())
	assert.Equal(t, Complete, r.State())
	assert.Equal(t, scenario, r.Levels())
	assert.Zero(t, r.Elapsed())
	assert.Zero(t, r.Ticks())

	assert.False(t, r.Tick())
	assert.Zero(t, r.Forward())
}

func TestStart_ValidationLeavesStateUnchanged(t *testing.T) {
	r := New(Config{MaxSegments: 8, MaxHours: 100})
	require.NoError(t, r.Start([]float64{1, 2, 3}, 1))
	r.Tick()
	before := r.Progress()

	cases := []struct {
		name   string
		levels []float64
		hours  float64
		want   error
	}{
		{"empty", nil, 1, ErrEmptyLandscape},
		{"negative level", []float64{1, -1}, 1, ErrInvalidLevel},
		{"nan level", []float64{math.NaN()}, 1, ErrInvalidLevel},
		{"inf level", []float64{math.Inf(1)}, 1, ErrInvalidLevel},
		{"negative hours", []float64{1}, -1, ErrInvalidHours},
		{"nan hours", []float64{1}, math.NaN(), ErrInvalidHours},
		{"too many segments", make([]float64, 9), 1, ErrTooLarge},
		{"too many hours", []float64{1}, 101, ErrTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Start(tc.levels, tc.hours)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, before, r.Progress())
			assert.Equal(t, Running, r.State())
		})
	}
}

func TestTick_FinalStepIsClamped(t *testing.T) {
	r := New(Config{DtHours: 0.05})
	require.NoError(t, r.Start([]float64{9, 0, 9}, 0.12))

	require.True(t, r.Tick())
	require.True(t, r.Tick())
	assert.InDelta(t, 0.1, r.Elapsed(), 1e-12)
	require.True(t, r.Tick())
	assert.Equal(t, 0.12, r.Elapsed())
	assert.Equal(t, Complete, r.State())
	assert.Equal(t, 3, r.Ticks())
	assert.False(t, r.Progress().Running)
}

func TestPauseResumeEquivalence(t *testing.T) {
	const k = 10
	a := New(Config{})
	require.NoError(t, a.Start(scenario, 1))
	for i := 0; i < k; i++ {
		a.Tick()
	}
	want := a.Progress()

	for split := 0; split <= k; split++ {
		b := New(Config{})
		require.NoError(t, b.Start(scenario, 1))
		for i := 0; i < split; i++ {
			b.Tick()
		}
		require.True(t, b.Pause(), "split %d", split)
		assert.False(t, b.Pause())
		assert.False(t, b.Tick())
		assert.False(t, b.Progress().Running)
		require.True(t, b.Resume(), "split %d", split)
		assert.False(t, b.Resume())
		for i := split; i < k; i++ {
			b.Tick()
		}
		assert.Equal(t, want, b.Progress(), "split %d", split)
	}
}

func TestForward_MatchesTicks(t *testing.T) {
	a := New(Config{})
	b := New(Config{})
	require.NoError(t, a.Start(scenario, 2))
	require.NoError(t, b.Start(scenario, 2))

	for i := 0; i < 6; i++ {
		a.Tick()
		b.Tick()
	}
	for a.State() == Running {
		a.Tick()
	}
	want := a.Ticks() - 6
	require.Equal(t, 34, want)

	b.Pause()
	n := b.Forward()
	assert.Equal(t, want, n)
	assert.Equal(t, Complete, b.State())
	assert.Equal(t, 2.0, b.Elapsed())
	assert.Equal(t, a.Levels(), b.Levels())

	assert.False(t, b.Resume())
	assert.Zero(t, b.Forward())
}

func TestScenario_LevelsStayInRangeAndConserve(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Start(scenario, 50))

	h := r.Hierarchy()
	require.GreaterOrEqual(t, len(h.Roots), 2)
	assert.NotEqual(t, hydro.NoSink, h.RootOf(1))
	assert.NotEqual(t, hydro.NoSink, h.RootOf(5))
	assert.NotEqual(t, h.RootOf(1), h.RootOf(5))

	total := floats.Sum(scenario)
	max := floats.Max(scenario)
	r.Forward()
	for _, lvl := range r.Levels() {
		assert.GreaterOrEqual(t, lvl, 0.0)
		assert.LessOrEqual(t, lvl, max)
	}
	assert.InDelta(t, total, r.TotalVolume(), 1e-9)
	assert.Equal(t, 50.0, r.Elapsed())
}

func TestIdle(t *testing.T) {
	r := New(Config{})
	assert.False(t, r.Loaded())
	assert.False(t, r.Tick())
	assert.False(t, r.Pause())
	assert.False(t, r.Resume())
	assert.Zero(t, r.Forward())
	assert.Zero(t, r.TotalVolume())
	assert.Equal(t, "idle", r.State().String())
}
