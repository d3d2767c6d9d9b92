package stream

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/esrlab/powerattrib/pkg/timeparse"
)

// Column names the power loader depends on. AttrPkgColumn and AttrDRAMColumn
// are the two columns the writer appends; the loader strips stale copies so a
// re-run never accumulates columns.
const (
	WattsColumn    = "Watts"
	DRAMColumn     = "DRAM Watts"
	DateColumn     = "Date"
	TimeColumn     = "Time"
	AttrPkgColumn  = "Actual Watts"
	AttrDRAMColumn = "Actual DRAM Watts"
)

// ghostRatioThreshold is the fraction of data rows whose trailing cell must
// be empty before the trailing column is treated as a ghost of the dump tool.
const ghostRatioThreshold = 0.95

// PowerWindow is one sampling interval of the reference power stream.
// Start is in elapsed seconds; watt totals are floored at zero.
type PowerWindow struct {
	Start     float64
	PkgWatts  float64
	DRAMWatts float64
}

// PowerStream is the fully normalized reference stream: the verbatim cells
// needed for write-back plus the parsed per-window totals, with loader
// diagnostics for the engine's log lines.
type PowerStream struct {
	Header1 []string
	Header2 []string
	Rows    [][]string

	Windows []PowerWindow

	WattsIdx int
	DRAMIdx  int

	GhostDropped       bool
	GhostRatio         float64
	RemovedAttrColumns int
	TimestampFallbacks int
}

// LoadPower reads and normalizes the pcm-power CSV. The file is required:
// a missing file, missing header rows, or missing required columns are fatal
// (ErrPowerMissing, ErrPowerTruncated, ErrRequiredColumn).
//
// Normalization order matters and is preserved from the field-proven
// behavior: ghost column removal, header/row width equalization, stale
// attribution column removal, then column lookup.
func LoadPower(path string, interval float64) (*PowerStream, error) {
	if !fileExists(path) {
		return nil, errors.Wrapf(ErrPowerMissing, "%s", path)
	}
	recs, err := readRecords(path)
	if err != nil {
		return nil, err
	}
	if len(recs) < 3 {
		return nil, errors.Wrapf(ErrPowerTruncated, "%s", path)
	}

	s := &PowerStream{
		Header1: append([]string(nil), recs[0]...),
		Header2: append([]string(nil), recs[1]...),
	}
	s.Rows = make([][]string, 0, len(recs)-2)
	for _, rec := range recs[2:] {
		s.Rows = append(s.Rows, append([]string(nil), rec...))
	}

	s.dropGhostColumn()
	s.normalizeWidths()
	s.removeAttrColumns()
	s.normalizeWidths()

	wattsIdx := lastExact(s.Header2, WattsColumn)
	dramIdx := lastExact(s.Header2, DRAMColumn)
	if wattsIdx < 0 || dramIdx < 0 {
		return nil, errors.Wrapf(ErrRequiredColumn, "%s or %s", WattsColumn, DRAMColumn)
	}
	s.WattsIdx = wattsIdx
	s.DRAMIdx = dramIdx

	dateIdx := firstEqual(s.Header2, DateColumn)
	timeIdx := firstEqual(s.Header2, TimeColumn)
	if dateIdx < 0 || timeIdx < 0 {
		return nil, errors.Wrapf(ErrRequiredColumn, "%s or %s", DateColumn, TimeColumn)
	}

	times := make([]float64, 0, len(s.Rows))
	var prev *float64
	for _, row := range s.Rows {
		ts, fellBack := timeparse.PowerTimestamp(cellAt(row, dateIdx), cellAt(row, timeIdx), prev, interval)
		if fellBack {
			s.TimestampFallbacks++
		}
		times = append(times, ts)
		last := ts
		prev = &last
	}
	elapsed := timeparse.Elapsed(times)

	s.Windows = make([]PowerWindow, len(s.Rows))
	for i, row := range s.Rows {
		s.Windows[i] = PowerWindow{
			Start:     elapsed[i],
			PkgWatts:  floorAtZero(safeFloat(cellAt(row, wattsIdx))),
			DRAMWatts: floorAtZero(safeFloat(cellAt(row, dramIdx))),
		}
	}
	return s, nil
}

// dropGhostColumn removes a trailing all-empty column produced by dump tools
// that terminate every line with a separator. The column is considered a
// ghost only when both header rows end empty and at least 95% of data rows
// have an empty final cell.
func (s *PowerStream) dropGhostColumn() {
	if len(s.Header1) == 0 || len(s.Header2) == 0 {
		return
	}
	if s.Header1[len(s.Header1)-1] != "" || s.Header2[len(s.Header2)-1] != "" {
		return
	}
	empty := 0
	for _, row := range s.Rows {
		if len(row) == 0 || row[len(row)-1] == "" {
			empty++
		}
	}
	s.GhostRatio = 1.0
	if len(s.Rows) > 0 {
		s.GhostRatio = float64(empty) / float64(len(s.Rows))
	}
	if s.GhostRatio < ghostRatioThreshold {
		return
	}
	s.GhostDropped = true
	s.Header1 = s.Header1[:len(s.Header1)-1]
	s.Header2 = s.Header2[:len(s.Header2)-1]
	for i, row := range s.Rows {
		if len(row) > 0 {
			s.Rows[i] = row[:len(row)-1]
		}
	}
}

// normalizeWidths pads the shorter header row, then pads or truncates every
// data row to the header width so column indices stay valid everywhere.
func (s *PowerStream) normalizeWidths() {
	for len(s.Header1) < len(s.Header2) {
		s.Header1 = append(s.Header1, "")
	}
	for len(s.Header2) < len(s.Header1) {
		s.Header2 = append(s.Header2, "")
	}
	width := len(s.Header2)
	for i, row := range s.Rows {
		for len(row) < width {
			row = append(row, "")
		}
		s.Rows[i] = row[:width]
	}
}

// removeAttrColumns strips attribution columns left behind by a previous run
// so the write-back replaces them instead of appending duplicates.
func (s *PowerStream) removeAttrColumns() {
	var stale []int
	for i, name := range s.Header2 {
		trimmed := strings.TrimSpace(name)
		if trimmed == AttrPkgColumn || trimmed == AttrDRAMColumn {
			stale = append(stale, i)
		}
	}
	s.RemovedAttrColumns = len(stale)
	for k := len(stale) - 1; k >= 0; k-- {
		idx := stale[k]
		s.Header1 = deleteAt(s.Header1, idx)
		s.Header2 = deleteAt(s.Header2, idx)
		for i, row := range s.Rows {
			if len(row) > idx {
				s.Rows[i] = deleteAt(row, idx)
			}
		}
	}
}

func deleteAt(cells []string, idx int) []string {
	return append(cells[:idx], cells[idx+1:]...)
}

// lastExact returns the last index whose trimmed cell equals name, -1 if none.
// The last occurrence wins because some dumps repeat per-socket column names.
func lastExact(header []string, name string) int {
	found := -1
	for i, cell := range header {
		if strings.TrimSpace(cell) == name {
			found = i
		}
	}
	return found
}

// firstEqual returns the first index whose cell equals name verbatim, -1 if none.
func firstEqual(header []string, name string) int {
	for i, cell := range header {
		if cell == name {
			return i
		}
	}
	return -1
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func floorAtZero(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
