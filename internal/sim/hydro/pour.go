package hydro

import "sort"

// pour water-fills segs with volume v, raising the lowest segments first and never above
// ceil. It returns the volume that did not fit.
func pour(segs []float64, v, ceil float64) float64 {
	if v <= 0 {
		return 0
	}
	idx := make([]int, 0, len(segs))
	for i, lvl := range segs {
		if lvl < ceil {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return v
	}
	sort.Slice(idx, func(a, b int) bool { return segs[idx[a]] < segs[idx[b]] })

	surface := segs[idx[0]]
	n := 0
	for n < len(idx) {
		// Merge every segment already at the surface into the pool.
		for n < len(idx) && segs[idx[n]] <= surface {
			n++
		}
		next := ceil
		if n < len(idx) {
			next = segs[idx[n]]
		}
		need := float64(n) * (next - surface)
		if need >= v {
			surface += v / float64(n)
			v = 0
			break
		}
		v -= need
		surface = next
		if n == len(idx) {
			break
		}
	}
	for _, i := range idx[:n] {
		segs[i] = surface
	}
	return v
}
