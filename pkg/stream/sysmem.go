package stream

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/esrlab/powerattrib/pkg/timeparse"
)

// Leading-outlier policy for the system memory stream: pcm-memory's first one
// or two samples can be cold-start calibration spikes orders of magnitude
// above steady state. A first sample above 50x the 95th percentile of the
// remaining positive values is dropped, at most twice.
const (
	outlierMaxDrops   = 2
	outlierMultiplier = 50.0
	outlierMinTail    = 4
)

var (
	wsPattern        = regexp.MustCompile(`\s+`)
	qualifierPattern = regexp.MustCompile(`\s*\(.*?\)\s*$`)
)

// MemorySample is one whole-machine memory bandwidth reading, Time in
// elapsed seconds.
type MemorySample struct {
	Time  float64
	Value float64
}

// DroppedOutlier records one removed cold-start sample for diagnostics.
type DroppedOutlier struct {
	Value     float64
	Threshold float64
}

// MemoryStream is the loaded system memory stream with loader diagnostics.
type MemoryStream struct {
	Samples     []MemorySample
	Column      string
	MultiHeader bool
	Dropped     []DroppedOutlier
}

// LoadSystemMemory reads the pcm-memory CSV. The stream is optional: a
// missing file yields (nil, nil); an unusable header yields an empty stream
// and a typed error the engine downgrades to a warning. Rows whose value or
// timestamp does not parse are dropped, since sparse loss is tolerable for
// this auxiliary series.
func LoadSystemMemory(path string) (*MemoryStream, error) {
	if !fileExists(path) {
		return nil, nil
	}
	recs, err := readRecords(path)
	if err != nil || len(recs) < 2 {
		return &MemoryStream{}, nil
	}

	top, bottom := recs[0], recs[1]
	flat := FlattenHeaders(top, bottom)

	s := &MemoryStream{MultiHeader: anyNonEmpty(top) && anyNonEmpty(bottom)}

	systemIdx := -1
	for i, name := range flat {
		if strings.EqualFold(strings.TrimSpace(name), "system memory") {
			systemIdx = i
			break
		}
	}
	if systemIdx < 0 {
		for i, name := range flat {
			lowered := strings.ToLower(strings.TrimSpace(name))
			if lowered == "" {
				continue
			}
			if strings.Contains(lowered, "system") && strings.Contains(lowered, "memory") &&
				!strings.Contains(lowered, "skt") {
				systemIdx = i
				break
			}
		}
	}
	if systemIdx < 0 {
		return s, errors.Wrapf(ErrNoSystemColumn, "%s", path)
	}
	s.Column = strings.TrimSpace(flat[systemIdx])
	if s.Column == "" {
		s.Column = "System Memory"
	}

	dateIdx := lowerIndex(flat, "date")
	timeIdx := lowerIndex(flat, "time")
	if dateIdx < 0 || timeIdx < 0 {
		return s, errors.Wrapf(ErrNoTimestampColumns, "%s", path)
	}

	var parsed []MemorySample
	for _, rec := range recs[2:] {
		if len(rec) <= systemIdx {
			continue
		}
		value := safeFloat(cellAt(rec, systemIdx))
		if math.IsNaN(value) {
			continue
		}
		ts, ok := timeparse.Combine(cellAt(rec, dateIdx), cellAt(rec, timeIdx))
		if !ok {
			continue
		}
		if value < 0 {
			value = 0
		}
		parsed = append(parsed, MemorySample{Time: ts, Value: value})
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].Time < parsed[j].Time })

	parsed, s.Dropped = dropInitialOutliers(parsed)
	rebaseSamples(parsed)
	s.Samples = parsed
	return s, nil
}

// FlattenHeaders merges a two-row (category, field) header into single
// logical column names: non-empty parts joined by one space, internal
// whitespace collapsed, and a trailing parenthesized qualifier stripped from
// names beginning with "System" (unit annotations like "(MB/s)").
func FlattenHeaders(top, bottom []string) []string {
	width := len(top)
	if len(bottom) > width {
		width = len(bottom)
	}
	out := make([]string, width)
	for i := 0; i < width; i++ {
		var pieces []string
		if i < len(top) && strings.TrimSpace(top[i]) != "" {
			pieces = append(pieces, strings.TrimSpace(top[i]))
		}
		if i < len(bottom) && strings.TrimSpace(bottom[i]) != "" {
			pieces = append(pieces, strings.TrimSpace(bottom[i]))
		}
		label := strings.TrimSpace(strings.Join(pieces, " "))
		if label == "" {
			continue
		}
		label = wsPattern.ReplaceAllString(label, " ")
		if strings.HasPrefix(strings.ToLower(label), "system ") {
			label = qualifierPattern.ReplaceAllString(label, "")
		}
		out[i] = label
	}
	return out
}

// dropInitialOutliers removes up to two leading cold-start spikes. After each
// drop the new first sample is re-checked against a recomputed percentile.
func dropInitialOutliers(samples []MemorySample) ([]MemorySample, []DroppedOutlier) {
	if len(samples) < 2 {
		return samples, nil
	}
	var dropped []DroppedOutlier
	for len(samples) >= 2 && len(dropped) < outlierMaxDrops {
		var tail []float64
		for _, s := range samples[1:] {
			if s.Value > 0 {
				tail = append(tail, s.Value)
			}
		}
		if len(tail) < outlierMinTail {
			break
		}
		sort.Float64s(tail)
		idx := int(math.Ceil(0.95*float64(len(tail)))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx > len(tail)-1 {
			idx = len(tail) - 1
		}
		p95 := tail[idx]
		if p95 <= 0 {
			break
		}
		if samples[0].Value <= outlierMultiplier*p95 {
			break
		}
		dropped = append(dropped, DroppedOutlier{Value: samples[0].Value, Threshold: p95})
		samples = samples[1:]
	}
	return samples, dropped
}

// TrimToActiveWindow keeps only samples that fall inside the interval where
// both the turbostat and pqos streams were active, padded by the alignment
// tolerance. With fewer than two reference streams the samples pass through
// unchanged.
func TrimToActiveWindow(samples []MemorySample, tsTimes, pqosTimes []float64, tol float64) []MemorySample {
	if len(samples) == 0 || len(tsTimes) == 0 || len(pqosTimes) == 0 {
		return samples
	}
	start := math.Max(minOf(tsTimes), minOf(pqosTimes))
	end := math.Min(maxOf(tsTimes), maxOf(pqosTimes))
	if start > end {
		return samples
	}
	lower, upper := start-tol, end+tol
	out := samples[:0:0]
	for _, s := range samples {
		if s.Time >= lower && s.Time <= upper {
			out = append(out, s)
		}
	}
	return out
}

// MemoryTimes and MemoryValues split samples into parallel slices for the
// aligner's sorted search.
func MemoryTimes(samples []MemorySample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Time
	}
	return out
}

func MemoryValues(samples []MemorySample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

func rebaseSamples(samples []MemorySample) {
	if len(samples) == 0 {
		return
	}
	times := MemoryTimes(samples)
	for i, t := range timeparse.Elapsed(times) {
		samples[i].Time = t
	}
}

func anyNonEmpty(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}

func lowerIndex(header []string, name string) int {
	for i, cell := range header {
		if strings.ToLower(strings.TrimSpace(cell)) == name {
			return i
		}
	}
	return -1
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
