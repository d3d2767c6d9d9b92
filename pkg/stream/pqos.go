package stream

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/esrlab/powerattrib/pkg/timeparse"
)

// Bandwidth column preference: total memory bandwidth first, local-only as a
// fallback for pqos builds that do not report the total.
var (
	mbtPattern = regexp.MustCompile(`(?i)mbt.*mb/s`)
	mblPattern = regexp.MustCompile(`(?i)mbl.*mb/s`)
)

// CoreKey is the canonical form of a monitored core set: ascending core ids
// joined by commas. Two readings belong to the same logical set exactly when
// their keys are equal.
type CoreKey string

// SingleCore returns the key of a one-core set.
func SingleCore(cpu int) CoreKey {
	return CoreKey(strconv.Itoa(cpu))
}

// BandwidthReading is the bandwidth of one core set within one sample.
type BandwidthReading struct {
	Cores CoreKey
	MB    float64
}

// BandwidthSample groups all core-set readings that share one timestamp.
// Sigma is in elapsed seconds.
type BandwidthSample struct {
	Sigma float64
	Rows  []BandwidthReading
}

// PqosStream is the loaded bandwidth stream plus the column that was matched,
// kept for the engine's diagnostics.
type PqosStream struct {
	Samples []BandwidthSample
	Column  string
	// Synthetic reports that timestamps were generated from the nominal
	// interval because the source only logs whole seconds.
	Synthetic bool
}

type pqosEntry struct {
	timeText string
	cores    CoreKey
	mb       float64
}

// LoadPqos reads the pqos CSV into timestamp-grouped bandwidth samples.
// Missing file: (nil, nil). Missing bandwidth column: ErrNoBandwidthColumn,
// stream treated as absent. Rows with bad cells are skipped.
//
// Timestamp handling: if any sample in the file carries sub-second precision
// each timestamp is parsed independently; otherwise the source's clock is
// coarser than its sampling rate and samples get synthetic times
// first + i*interval.
func LoadPqos(path string, interval float64) (*PqosStream, error) {
	if !fileExists(path) {
		return nil, nil
	}
	recs, err := readRecords(path)
	if err != nil || len(recs) < 1 {
		return nil, nil
	}

	header := recs[0]
	column := matchColumn(header, mbtPattern)
	if column < 0 {
		column = matchColumn(header, mblPattern)
	}
	if column < 0 {
		return &PqosStream{}, errors.Wrapf(ErrNoBandwidthColumn, "%s", path)
	}
	col := headerIndex(header)
	timeIdx, okTime := col["Time"]
	coreIdx, okCore := col["Core"]
	if !okTime || !okCore {
		return &PqosStream{Column: header[column]}, nil
	}

	var entries []pqosEntry
	for _, rec := range recs[1:] {
		mb := safeFloat(cellAt(rec, column))
		if math.IsNaN(mb) {
			continue
		}
		key, ok := ParseCoreSet(cellAt(rec, coreIdx))
		if !ok {
			continue
		}
		if mb < 0 {
			mb = 0
		}
		entries = append(entries, pqosEntry{
			timeText: strings.TrimSpace(cellAt(rec, timeIdx)),
			cores:    key,
			mb:       mb,
		})
	}

	samples, texts := groupEntries(entries)
	stream := &PqosStream{Column: header[column]}
	stream.Samples, stream.Synthetic = assignTimes(samples, texts, interval)
	return stream, nil
}

// ParseCoreSet parses the flexible core-set grammar: bracket/brace/quote
// decoration is stripped, then comma-separated tokens are single integers,
// inclusive ranges "a-b" (order-independent), or "label:value" forms where
// only the value counts. Returns false when no core survives.
func ParseCoreSet(cell string) (CoreKey, bool) {
	cleaned := strings.NewReplacer(`"`, "", "[", "", "]", "", "{", "", "}", "").Replace(cell)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "", false
	}

	set := map[int]struct{}{}
	for _, part := range strings.Split(cleaned, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.Index(part, ":"); i >= 0 {
			part = strings.TrimSpace(part[i+1:])
			if part == "" {
				continue
			}
		}
		if i := strings.Index(part, "-"); i > 0 {
			lo, err1 := strconv.Atoi(strings.TrimSpace(part[:i]))
			hi, err2 := strconv.Atoi(strings.TrimSpace(part[i+1:]))
			if err1 != nil || err2 != nil {
				continue
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			for c := lo; c <= hi; c++ {
				set[c] = struct{}{}
			}
			continue
		}
		if c, err := strconv.Atoi(part); err == nil {
			set[c] = struct{}{}
		}
	}
	if len(set) == 0 {
		return "", false
	}

	cores := make([]int, 0, len(set))
	for c := range set {
		cores = append(cores, c)
	}
	sort.Ints(cores)
	parts := make([]string, len(cores))
	for i, c := range cores {
		parts[i] = strconv.Itoa(c)
	}
	return CoreKey(strings.Join(parts, ",")), true
}

// groupEntries folds consecutive rows into samples: a new sample starts when
// the timestamp text changes or the same core set repeats within the current
// sample (sources log one row per core set per tick).
func groupEntries(entries []pqosEntry) ([]BandwidthSample, []string) {
	var samples []BandwidthSample
	var texts []string
	var current *BandwidthSample
	currentText := ""
	seen := map[CoreKey]struct{}{}

	flush := func() {
		if current != nil {
			samples = append(samples, *current)
			texts = append(texts, currentText)
		}
	}
	start := func(e pqosEntry) {
		current = &BandwidthSample{}
		currentText = e.timeText
		seen = map[CoreKey]struct{}{}
	}

	for _, e := range entries {
		if current == nil {
			start(e)
		} else if e.timeText != currentText {
			flush()
			start(e)
		} else if _, dup := seen[e.cores]; dup {
			flush()
			start(e)
		}
		current.Rows = append(current.Rows, BandwidthReading{Cores: e.cores, MB: e.mb})
		seen[e.cores] = struct{}{}
	}
	flush()
	return samples, texts
}

// assignTimes resolves sample times, drops samples whose timestamp could not
// be parsed, and rebases the survivors to elapsed seconds.
func assignTimes(samples []BandwidthSample, texts []string, interval float64) ([]BandwidthSample, bool) {
	if len(samples) == 0 {
		return nil, false
	}

	subSeconds := false
	for _, text := range texts {
		if timeparse.HasSubSeconds(text) {
			subSeconds = true
			break
		}
	}

	var kept []BandwidthSample
	var times []float64
	if subSeconds {
		for i, s := range samples {
			sigma, ok := timeparse.WallClock(texts[i])
			if !ok {
				continue
			}
			kept = append(kept, s)
			times = append(times, sigma)
		}
	} else {
		base, ok := timeparse.WallClock(texts[0])
		if !ok {
			base = 0
		}
		for i, s := range samples {
			kept = append(kept, s)
			times = append(times, base+float64(i)*interval)
		}
	}

	for i, t := range timeparse.Elapsed(times) {
		kept[i].Sigma = t
	}
	return kept, !subSeconds
}

// SampleTimes extracts the sample times in order.
func SampleTimes(samples []BandwidthSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Sigma
	}
	return out
}

// Components returns the workload core set's bandwidth and the total across
// all core sets, averaged over the given samples. The third return is the
// number of samples contributing.
func Components(samples []BandwidthSample, workload CoreKey) (workloadMB, totalMB float64, count int) {
	for _, s := range samples {
		coreSum := 0.0
		totalSum := 0.0
		for _, r := range s.Rows {
			mb := r.MB
			if mb < 0 {
				mb = 0
			}
			totalSum += mb
			if r.Cores == workload {
				coreSum += mb
			}
		}
		workloadMB += coreSum
		totalMB += totalSum
		count++
	}
	if count == 0 {
		return 0, 0, 0
	}
	return workloadMB / float64(count), totalMB / float64(count), count
}

func matchColumn(header []string, pattern *regexp.Regexp) int {
	for i, name := range header {
		if pattern.MatchString(name) {
			return i
		}
	}
	return -1
}
