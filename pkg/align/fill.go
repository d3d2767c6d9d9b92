package align

// Fill resolves the missing slots (nil) of a per-window series. An entirely
// missing series becomes all zeros. Otherwise each gap takes the average of
// the nearest known value on each side, or the single available side near
// the range bounds. All outputs are floored at zero. The second return is
// the number of slots resolved by two-sided interpolation.
//
// No extrapolation beyond range bounds and no smoothing: telemetry gaps are
// assumed short relative to the run.
func Fill(raw []*float64) ([]float64, int) {
	n := len(raw)
	if n == 0 {
		return nil, 0
	}

	allMissing := true
	for _, v := range raw {
		if v != nil {
			allMissing = false
			break
		}
	}
	if allMissing {
		return make([]float64, n), 0
	}

	forward := make([]*float64, n)
	var prev *float64
	for i, v := range raw {
		if v != nil {
			prev = v
		}
		forward[i] = prev
	}

	backward := make([]*float64, n)
	var next *float64
	for i := n - 1; i >= 0; i-- {
		if raw[i] != nil {
			next = raw[i]
		}
		backward[i] = next
	}

	out := make([]float64, n)
	interpolated := 0
	for i, v := range raw {
		switch {
		case v != nil:
			out[i] = floor0(*v)
		case forward[i] != nil && backward[i] != nil:
			interpolated++
			out[i] = floor0(0.5 * (*forward[i] + *backward[i]))
		case forward[i] != nil:
			out[i] = floor0(*forward[i])
		case backward[i] != nil:
			out[i] = floor0(*backward[i])
		default:
			out[i] = 0
		}
	}
	return out, interpolated
}

func floor0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
