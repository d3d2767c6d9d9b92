package stream

import (
	"math"
	"strconv"
	"strings"

	"github.com/esrlab/powerattrib/pkg/timeparse"
)

// CPUReading is one turbostat row: busy percentage and frequency for one CPU
// at one time-of-day instant.
type CPUReading struct {
	CPU  int
	Busy float64
	MHz  float64
	Time float64
}

// CPUBlock is a synchronized snapshot of all CPUs. Tau is the median of the
// member rows' times, in elapsed seconds, which keeps one outlier row from
// shifting the block.
type CPUBlock struct {
	Tau  float64
	Rows []CPUReading
}

// blockCompleteness is the fraction of the known CPU set a block must cover
// to be accepted; partial blocks from truncated dumps are skipped.
const blockCompleteness = 0.8

// LoadTurbostat reads the turbostat CSV into per-snapshot CPU blocks. The
// stream is optional: a missing or unreadable file yields a nil slice and no
// error, and rows with unparseable fields are skipped individually.
func LoadTurbostat(path string) ([]CPUBlock, error) {
	if !fileExists(path) {
		return nil, nil
	}
	recs, err := readRecords(path)
	if err != nil || len(recs) < 2 {
		return nil, nil
	}

	col := headerIndex(recs[0])
	cpuIdx, ok1 := col["CPU"]
	busyIdx, ok2 := col["Busy%"]
	mhzIdx, ok3 := col["Bzy_MHz"]
	todIdx, ok4 := col["Time_Of_Day_Seconds"]
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, nil
	}

	var rows []CPUReading
	seen := map[int]struct{}{}
	for _, rec := range recs[1:] {
		cpu, err := strconv.Atoi(strings.TrimSpace(cellAt(rec, cpuIdx)))
		if err != nil {
			continue
		}
		busy := safeFloat(cellAt(rec, busyIdx))
		mhz := safeFloat(cellAt(rec, mhzIdx))
		tod := safeFloat(cellAt(rec, todIdx))
		if math.IsNaN(busy) || math.IsNaN(mhz) || math.IsNaN(tod) {
			continue
		}
		rows = append(rows, CPUReading{CPU: cpu, Busy: busy, MHz: mhz, Time: tod})
		seen[cpu] = struct{}{}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	nCPUs := len(seen)
	required := int(math.Ceil(blockCompleteness * float64(nCPUs)))
	if required < 1 {
		required = 1
	}

	var blocks []CPUBlock
	for index := 0; index+nCPUs <= len(rows); index += nCPUs {
		block := rows[index : index+nCPUs]
		distinct := map[int]struct{}{}
		times := make([]float64, 0, nCPUs)
		for _, r := range block {
			distinct[r.CPU] = struct{}{}
			times = append(times, r.Time)
		}
		if len(distinct) < required {
			continue
		}
		blocks = append(blocks, CPUBlock{Tau: median(times), Rows: block})
	}

	rebaseBlocks(blocks)
	return blocks, nil
}

// rebaseBlocks shifts block times to elapsed seconds since the first block.
func rebaseBlocks(blocks []CPUBlock) {
	if len(blocks) == 0 {
		return
	}
	taus := make([]float64, len(blocks))
	for i, b := range blocks {
		taus[i] = b.Tau
	}
	for i, t := range timeparse.Elapsed(taus) {
		blocks[i].Tau = t
	}
}

// BlockTimes extracts the (sorted by construction) block times.
func BlockTimes(blocks []CPUBlock) []float64 {
	out := make([]float64, len(blocks))
	for i, b := range blocks {
		out[i] = b.Tau
	}
	return out
}

// WorkloadShare computes the monitored CPU's fraction of total busy time in
// one block: busy values are floored at zero and the result is 0 when the
// machine is essentially idle.
func (b CPUBlock) WorkloadShare(workloadCPU int) float64 {
	const eps = 1e-9
	total := 0.0
	workload := 0.0
	for _, r := range b.Rows {
		busy := r.Busy
		if busy < 0 {
			busy = 0
		}
		total += busy
		if r.CPU == workloadCPU {
			workload = busy
		}
	}
	if total <= eps {
		return 0
	}
	share := workload / total
	if share < 0 {
		return 0
	}
	if share > 1 {
		return 1
	}
	return share
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	return idx
}
