package hydro

type areaKind int

const (
	areaBoundary areaKind = iota
	areaSink
	areaPlain
)

// area is one run of a scan at a fixed threshold: a sink (below the threshold), a plain
// (at the threshold) or one of the two walls enclosing the scanned range.
type area struct {
	kind  areaKind
	start int
	end   int
	floor float64
	// sinks counts the sink areas bordering a plain.
	sinks int
}

// width is the catchment an area contributes to a neighbouring sink. A plain shared by
// two sinks drains half into each.
func (a area) width() float64 {
	switch a.kind {
	case areaSink:
		return float64(a.end - a.start + 1)
	case areaPlain:
		if a.sinks == 0 {
			return 0
		}
		return float64(a.end-a.start+1) / float64(a.sinks)
	default:
		return 0
	}
}

func scanAreas(levels []float64, lo, hi int, level float64) []area {
	areas := make([]area, 0, hi-lo+3)
	areas = append(areas, area{kind: areaBoundary})

	for i := lo; i <= hi; {
		start := i
		if levels[i] < level {
			floor := levels[i]
			for i <= hi && levels[i] < level {
				if levels[i] > floor {
					floor = levels[i]
				}
				i++
			}
			areas = pushArea(areas, area{kind: areaSink, start: start, end: i - 1, floor: floor})
			continue
		}
		// Anything not strictly below the threshold is plain, NaN included, so the scan
		// always advances.
		for i <= hi && !(levels[i] < level) {
			i++
		}
		areas = pushArea(areas, area{kind: areaPlain, start: start, end: i - 1})
	}

	return append(areas, area{kind: areaBoundary})
}

func pushArea(areas []area, a area) []area {
	last := &areas[len(areas)-1]
	switch {
	case last.kind == areaPlain && a.kind == areaSink:
		last.sinks++
	case last.kind == areaSink && a.kind == areaPlain:
		a.sinks = 1
	}
	return append(areas, a)
}
