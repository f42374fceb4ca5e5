package hydro

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Empty(t *testing.T) {
	_, err := Build(nil)
	require.ErrorIs(t, err, ErrEmptyLandscape)
}

func TestBuild_TenSegmentLandscape(t *testing.T) {
	h, err := Build([]float64{6, 4, 5, 9, 9, 2, 6, 5, 9, 7})
	require.NoError(t, err)
	require.NoError(t, h.Check())

	require.Len(t, h.Roots, 3)
	assert.Equal(t, []int{3, 4, 8}, h.Uncovered)

	left, mid, right := h.Sinks[h.Roots[0]], h.Sinks[h.Roots[1]], h.Sinks[h.Roots[2]]

	assert.Equal(t, [2]int{0, 2}, [2]int{left.Lo, left.Hi})
	assert.Equal(t, 9.0, left.Rim)
	assert.Equal(t, 6.0, left.Floor)
	assert.InDelta(t, 0.4, left.Weight, 1e-12)
	assert.InDelta(t, 12.0, left.Capacity, 1e-12)

	assert.Equal(t, [2]int{5, 7}, [2]int{mid.Lo, mid.Hi})
	assert.Equal(t, 6.0, mid.Floor)
	assert.InDelta(t, 0.45, mid.Weight, 1e-12)
	assert.InDelta(t, 14.0, mid.Capacity, 1e-12)

	assert.Equal(t, [2]int{9, 9}, [2]int{right.Lo, right.Hi})
	assert.Equal(t, 7.0, right.Floor)
	assert.InDelta(t, 0.15, right.Weight, 1e-12)
	assert.InDelta(t, 2.0, right.Capacity, 1e-12)
	assert.Empty(t, right.Children)

	// [0..2] -> [1..2] (rim 6) -> [1..1] (rim 5)
	require.Len(t, left.Children, 1)
	inner := h.Sinks[left.Children[0]]
	assert.Equal(t, [2]int{1, 2}, [2]int{inner.Lo, inner.Hi})
	assert.Equal(t, 6.0, inner.Rim)
	assert.InDelta(t, 1.0, inner.Weight, 1e-12)
	require.Len(t, inner.Children, 1)
	deepest := h.Sinks[inner.Children[0]]
	assert.Equal(t, [2]int{1, 1}, [2]int{deepest.Lo, deepest.Hi})
	assert.Equal(t, 5.0, deepest.Rim)

	require.Len(t, mid.Children, 2)
	a, b := h.Sinks[mid.Children[0]], h.Sinks[mid.Children[1]]
	assert.Equal(t, [2]int{5, 5}, [2]int{a.Lo, a.Hi})
	assert.Equal(t, [2]int{7, 7}, [2]int{b.Lo, b.Hi})
	assert.InDelta(t, 0.5, a.Weight, 1e-12)
	assert.InDelta(t, 0.5, b.Weight, 1e-12)

	assert.Equal(t, 3, h.Depth())
	assert.Equal(t, left.Children[0], deepest.Parent)
	assert.Equal(t, inner.Children[0], h.Innermost(1))
	assert.Equal(t, NoSink, h.RootOf(3))
	assert.Equal(t, h.Roots[1], h.RootOf(6))
}

func TestBuild_Flat(t *testing.T) {
	h, err := Build([]float64{5, 5, 5})
	require.NoError(t, err)
	require.NoError(t, h.Check())
	assert.Empty(t, h.Sinks)
	assert.Equal(t, []int{0, 1, 2}, h.Uncovered)
	assert.Equal(t, 0, h.Depth())
}

func TestBuild_SiblingWeightsSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 1; n <= 64; n++ {
		levels := make([]float64, n)
		for i := range levels {
			levels[i] = float64(rng.Intn(12))
		}
		h, err := Build(levels)
		require.NoError(t, err)
		require.NoError(t, h.Check(), "levels=%v", levels)

		groups := [][]int{h.Roots}
		for _, s := range h.Sinks {
			groups = append(groups, s.Children)
		}
		for _, g := range groups {
			if len(g) == 0 {
				continue
			}
			var sum float64
			for _, id := range g {
				assert.GreaterOrEqual(t, h.Sinks[id].Weight, 0.0)
				sum += h.Sinks[id].Weight
			}
			assert.GreaterOrEqual(t, sum, 1-1e-9, "levels=%v", levels)
		}
	}
}

func TestBuild_KeepsBaseCopy(t *testing.T) {
	levels := []float64{3, 1, 3}
	h, err := Build(levels)
	require.NoError(t, err)
	levels[1] = 100
	assert.Equal(t, []float64{3, 1, 3}, h.Base())
	assert.Equal(t, 3, h.Len())
}
