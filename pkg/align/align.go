// Package align matches each reference power window to the best sample of a
// candidate stream and fills the gaps the matching leaves behind. All inputs
// are elapsed-seconds series; the streams never share a wall-clock epoch, so
// only relative position inside the window matters.
package align

import (
	"math"
	"sort"
)

// Outcome classifies how a window was matched against a stream.
type Outcome int

const (
	// Miss means no sample qualified for the window.
	Miss Outcome = iota
	// InWindow means a sample's timestamp fell inside [start, end).
	InWindow
	// Near means the closest sample sat outside the window but within
	// tolerance of its center.
	Near
)

// Select finds the best index of times for the window [start, end) with the
// given center and tolerance, and reports how it was found. times must be
// sorted ascending. Returns (-1, Miss) when nothing qualifies.
//
// The in-window branch is tried before the nearest-neighbor branch, so a
// containment hit wins even when an out-of-window sample is closer to the
// center. This order dependence is intentional and matches the behavior the
// diagnostics were calibrated against.
func Select(times []float64, start, end, center, tol float64) (int, Outcome) {
	if len(times) == 0 {
		return -1, Miss
	}
	idx := sort.SearchFloat64s(times, start)
	if idx < len(times) && times[idx] < end {
		return idx, InWindow
	}

	best := -1
	bestDiff := math.Inf(1)
	for _, candidate := range []int{idx, idx - 1} {
		if candidate < 0 || candidate >= len(times) {
			continue
		}
		if diff := math.Abs(times[candidate] - center); diff < bestDiff {
			best = candidate
			bestDiff = diff
		}
	}
	if best >= 0 && bestDiff <= tol {
		return best, Near
	}
	return -1, Miss
}

// Overlap returns the indices of all samples whose nominal sampling span
// (sigma-interval, sigma] overlaps the window [start, end). The search range
// is padded by one index on each side to catch spans straddling the window
// edges; when nothing overlaps, the single sample at the insertion point is
// retried as a last candidate.
func Overlap(times []float64, start, end, interval float64) []int {
	if len(times) == 0 {
		return nil
	}
	left := sort.SearchFloat64s(times, start)
	right := sort.Search(len(times), func(i int) bool { return times[i] > end })

	lo := left - 1
	if lo < 0 {
		lo = 0
	}
	hi := right + 1
	if hi > len(times) {
		hi = len(times)
	}

	var selected []int
	for i := lo; i < hi; i++ {
		if spanOverlaps(times[i], interval, start, end) {
			selected = append(selected, i)
		}
	}
	if len(selected) == 0 && left < len(times) && spanOverlaps(times[left], interval, start, end) {
		selected = append(selected, left)
	}
	return selected
}

func spanOverlaps(sigma, interval, start, end float64) bool {
	return sigma > start && sigma-interval < end
}

// Stats accumulates per-stream alignment outcomes.
type Stats struct {
	InWindow int
	Near     int
	Miss     int
}

// Observe counts one outcome.
func (s *Stats) Observe(o Outcome) {
	switch o {
	case InWindow:
		s.InWindow++
	case Near:
		s.Near++
	default:
		s.Miss++
	}
}

// Coverage is the in-window fraction over rows windows (0 when rows is 0).
func (s Stats) Coverage(rows int) float64 {
	if rows == 0 {
		return 0
	}
	return float64(s.InWindow) / float64(rows)
}
