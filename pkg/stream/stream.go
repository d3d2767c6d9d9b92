// Package stream loads the per-source telemetry CSVs into ordered, normalized
// in-memory sample sequences. Each loader owns the quirks of its source:
// ghost columns and idempotent re-runs for the power file, block grouping for
// turbostat, the core-set grammar for pqos, header flattening and cold-start
// outliers for pcm-memory. Timestamps leave every loader rebased to seconds
// since that stream's own first sample.
package stream

import (
	"encoding/csv"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// readRecords reads a whole CSV file without enforcing a uniform field count;
// telemetry dumps routinely have ragged header and data rows.
func readRecords(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return recs, nil
}

// safeFloat parses a cell as float64, returning NaN for empty or
// unparseable content.
func safeFloat(cell string) float64 {
	text := strings.TrimSpace(cell)
	if text == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// median returns the statistical median of values (mean of the two middle
// elements for even lengths). values is not modified.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return 0.5 * (sorted[mid-1] + sorted[mid])
}
