// Package timeparse converts the heterogeneous timestamp encodings of the
// telemetry sources into a single "seconds since Unix epoch" float domain.
//
// Each source gets an ordered list of parser strategies; the first one that
// succeeds wins. Exhaustion is reported to the caller, which decides whether
// that is fatal (power stream falls back to the previous timestamp plus one
// interval, pcm-memory simply drops the row).
package timeparse

import (
	"strings"
	"time"
)

// Wall-clock layouts accepted by every source, tried in order.
// The sub-second form comes first because pcm emits microseconds by default.
var wallClockLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// WallClock parses a "date time" string in local time and returns seconds
// since the Unix epoch, sub-second fraction included. The second return is
// false when no layout matched.
func WallClock(text string) (float64, bool) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return 0, false
	}
	for _, layout := range wallClockLayouts {
		t, err := time.ParseInLocation(layout, cleaned, time.Local)
		if err != nil {
			continue
		}
		return float64(t.UnixNano()) / 1e9, true
	}
	return 0, false
}

// Combine joins separate date and time fields and parses them as one
// wall-clock instant. Empty fields collapse so that a missing date or time
// yields a parse failure rather than a mangled string.
func Combine(dateText, timeText string) (float64, bool) {
	combined := strings.TrimSpace(strings.TrimSpace(dateText) + " " + strings.TrimSpace(timeText))
	if combined == "" {
		return 0, false
	}
	return WallClock(combined)
}

// PowerTimestamp parses the power stream's date+time pair. It never fails:
// when both fields are empty or unparseable the row is assigned
// prev + interval (or 0 when there is no previous row) and the second return
// reports that the fallback was used.
func PowerTimestamp(dateText, timeText string, prev *float64, interval float64) (float64, bool) {
	if ts, ok := Combine(dateText, timeText); ok {
		return ts, false
	}
	if prev != nil {
		return *prev + interval, true
	}
	return 0, true
}

// HasSubSeconds reports whether the time-of-day portion of a textual
// timestamp carries a fractional second. The last whitespace-separated token
// is inspected so both "15:04:05.25" and "2006-01-02 15:04:05.25" qualify.
func HasSubSeconds(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	return strings.Contains(fields[len(fields)-1], ".")
}

// Elapsed rebases a series of absolute timestamps to seconds since its own
// first sample. Cross-stream wall clocks are not trusted to share an epoch;
// only relative time within one stream is meaningful.
func Elapsed(times []float64) []float64 {
	if len(times) == 0 {
		return nil
	}
	origin := times[0]
	out := make([]float64, len(times))
	for i, t := range times {
		out[i] = t - origin
	}
	return out
}
