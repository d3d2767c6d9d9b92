package attrib

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/esrlab/powerattrib/pkg/align"
	"github.com/esrlab/powerattrib/pkg/stream"
)

// Engine runs one batch attribution pass: load all streams into memory,
// align them to the power windows, fill gaps, compute per-window watts, and
// write the two outputs. Single-threaded by design so diagnostic counters
// stay deterministic.
type Engine struct {
	cfg Config
	log *zap.SugaredLogger
}

// New creates an engine. A nil logger disables logging.
func New(cfg Config, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{cfg: cfg.withDefaults(), log: logger}
}

// Run executes the whole pass. It returns an error only for the fatal
// taxonomy (power file missing/unreadable/malformed, output write failure);
// optional-stream problems degrade to forced-zero contributions and audit
// problems are logged without rolling back the written file.
func (e *Engine) Run() error {
	cfg := e.cfg
	e.log.Infof("files: pcm=%s (%s), turbostat=%s (%s), pqos=%s (%s), pcm-memory=%s (%s)",
		cfg.PowerPath, existsWord(cfg.PowerPath),
		cfg.TurbostatPath, existsWord(cfg.TurbostatPath),
		cfg.PqosPath, existsWord(cfg.PqosPath),
		cfg.SystemMemoryPath, existsWord(cfg.SystemMemoryPath))
	e.log.Infof("intervals: pcm=%.4fs, pqos=%.4fs, turbostat=%.4fs",
		cfg.PowerInterval, cfg.PqosInterval, cfg.TurbostatInterval)

	power, err := stream.LoadPower(cfg.PowerPath, cfg.PowerInterval)
	if err != nil {
		return errors.Wrap(err, "load pcm-power")
	}
	e.log.Infof("header lengths: top=%d, bottom=%d", len(power.Header1), len(power.Header2))
	e.log.Infof("ghost column detected: %s (empty_ratio=%.3f)", yesNo(power.GhostDropped), power.GhostRatio)
	if power.TimestampFallbacks > 0 {
		e.log.Infof("pcm timestamp fallbacks applied=%d", power.TimestampFallbacks)
	}
	e.log.Infof("writeback: watts_idx=%d, dram_idx=%d, removed_existing=%d",
		power.WattsIdx, power.DRAMIdx, power.RemovedAttrColumns)

	blocks, pqos, mem := e.loadOptionalStreams()

	a := e.alignStreams(power, blocks, pqos, mem)
	e.logAlignment(a, len(power.Windows))

	series := e.fillSeries(a, len(power.Windows))

	rows := make([]Row, len(power.Windows))
	for i, w := range power.Windows {
		rows[i] = Compute(i, w.PkgWatts, w.DRAMWatts,
			series.cpuShare[i], series.pqosCore[i], series.pqosTotal[i], series.sysMem[i])
	}
	e.validate(rows)

	if err := e.writeSummary(rows); err != nil {
		return errors.Wrap(err, "write attribution summary")
	}
	if err := e.writeBack(power, rows, series.cpuShare); err != nil {
		return errors.Wrap(err, "write back power file")
	}
	if err := e.audit(); err != nil {
		e.log.Errorf("write-back audit failed: %v", err)
		return nil
	}
	e.log.Infof("OK appended columns: %s, %s (rows=%d, cols=%d)",
		stream.AttrPkgColumn, stream.AttrDRAMColumn, len(rows), len(power.Header2)+2)
	return nil
}

// loadOptionalStreams loads the three auxiliary streams, downgrading every
// failure to an absent stream.
func (e *Engine) loadOptionalStreams() ([]stream.CPUBlock, *stream.PqosStream, []stream.MemorySample) {
	blocks, err := stream.LoadTurbostat(e.cfg.TurbostatPath)
	if err != nil {
		e.log.Warnf("turbostat load failed, treating stream as absent: %v", err)
		blocks = nil
	}

	pqos, err := stream.LoadPqos(e.cfg.PqosPath, e.cfg.PqosInterval)
	if err != nil {
		e.log.Errorf("pqos MB* column not found; skipping pqos attribution: %v", err)
	} else if pqos != nil {
		e.log.Infof("pqos bandwidth column selected: %s", pqos.Column)
		if pqos.Synthetic {
			e.log.Infof("pqos timestamps are coarse; using synthetic times at %.4fs", e.cfg.PqosInterval)
		}
	}

	mem, err := stream.LoadSystemMemory(e.cfg.SystemMemoryPath)
	if err != nil {
		e.log.Warnf("pcm-memory unusable, treating stream as absent: %v", err)
	}
	var samples []stream.MemorySample
	if mem != nil {
		if mem.MultiHeader && mem.Column != "" {
			e.log.Infof("pcm-memory: multi-row header detected; using '%s'", mem.Column)
		}
		for _, d := range mem.Dropped {
			e.log.Infof("pcm-memory: dropping initial outlier sample value=%.3f, threshold=%.3f",
				d.Value, d.Threshold)
		}
		samples = mem.Samples
		e.log.Infof("pcm-memory samples parsed: %d", len(samples))

		before := len(samples)
		samples = stream.TrimToActiveWindow(samples,
			stream.BlockTimes(blocks), pqosTimes(pqos), e.cfg.AlignTolerance)
		if len(samples) != before {
			e.log.Infof("pcm-memory: trimmed samples to active window (before=%d, after=%d)",
				before, len(samples))
		}
	}
	return blocks, pqos, samples
}

// alignment carries the raw (pre-fill) per-window series and the alignment
// diagnostics for all three auxiliary streams.
type alignment struct {
	cpuShare  []*float64
	pqosCore  []*float64
	pqosTotal []*float64
	sysMem    []*float64

	tsStats   align.Stats
	pqosStats align.Stats
	sysStats  align.Stats

	pqosAvail bool
	sysAvail  bool

	forcedCPUZero  bool
	forcedPqosZero bool
	forcedSysZero  bool

	// weighted sums for the average-bandwidth diagnostic
	coreSum, otherSum, totalSum float64
	weight                      int
}

func (e *Engine) alignStreams(power *stream.PowerStream, blocks []stream.CPUBlock,
	pqos *stream.PqosStream, mem []stream.MemorySample) *alignment {

	cfg := e.cfg
	n := len(power.Windows)
	a := &alignment{
		cpuShare:  make([]*float64, n),
		pqosCore:  make([]*float64, n),
		pqosTotal: make([]*float64, n),
		sysMem:    make([]*float64, n),
	}

	blockTimes := stream.BlockTimes(blocks)
	var pqosSamples []stream.BandwidthSample
	if pqos != nil {
		pqosSamples = pqos.Samples
	}
	pqTimes := stream.SampleTimes(pqosSamples)
	memTimes := stream.MemoryTimes(mem)
	memValues := stream.MemoryValues(mem)

	a.forcedCPUZero = len(blockTimes) == 0
	a.forcedPqosZero = len(pqTimes) == 0
	a.forcedSysZero = len(memTimes) == 0
	if a.forcedCPUZero {
		e.log.Infof("turbostat stream absent; forcing cpu_share=0 for all windows")
	}
	if a.forcedPqosZero {
		e.log.Infof("pqos stream absent; forcing bandwidth=0 for all windows")
	}

	workloadKey := stream.SingleCore(cfg.WorkloadCPU)
	tsTol := cfg.turbostatTolerance()

	for i, w := range power.Windows {
		start := w.Start
		end := start + cfg.PowerInterval
		center := start + 0.5*cfg.PowerInterval

		// turbostat: CPU busy share
		if a.forcedCPUZero {
			a.cpuShare[i] = ptr(0)
			a.tsStats.Miss++
		} else {
			idx, outcome := align.Select(blockTimes, start, end, center, tsTol)
			a.tsStats.Observe(outcome)
			if idx >= 0 {
				a.cpuShare[i] = ptr(blocks[idx].WorkloadShare(cfg.WorkloadCPU))
			}
		}

		// pqos: all overlapping samples averaged, else nearest within tolerance
		if a.forcedPqosZero {
			a.pqosCore[i] = ptr(0)
			a.pqosTotal[i] = ptr(0)
			a.pqosStats.Miss++
		} else {
			var picked []stream.BandwidthSample
			if indices := align.Overlap(pqTimes, start, end, cfg.PqosInterval); len(indices) > 0 {
				a.pqosStats.InWindow++
				for _, j := range indices {
					picked = append(picked, pqosSamples[j])
				}
			} else if idx, outcome := align.Select(pqTimes, start, end, center, cfg.AlignTolerance); idx >= 0 {
				a.pqosStats.Observe(outcome)
				picked = []stream.BandwidthSample{pqosSamples[idx]}
			} else {
				a.pqosStats.Miss++
			}
			if len(picked) > 0 {
				core, total, count := stream.Components(picked, workloadKey)
				a.pqosAvail = true
				a.pqosCore[i] = ptr(core)
				a.pqosTotal[i] = ptr(total)
				other := math.Max(total-core, 0)
				a.coreSum += core * float64(count)
				a.otherSum += other * float64(count)
				a.totalSum += total * float64(count)
				a.weight += count
			}
		}

		// pcm-memory: nearest system-wide bandwidth sample
		if a.forcedSysZero {
			a.sysStats.Miss++
		} else {
			idx, outcome := align.Select(memTimes, start, end, center, cfg.AlignTolerance)
			a.sysStats.Observe(outcome)
			if idx >= 0 {
				a.sysAvail = true
				a.sysMem[i] = ptr(math.Max(memValues[idx], 0))
			}
		}
	}
	return a
}

func (e *Engine) logAlignment(a *alignment, rows int) {
	e.log.Infof("alignment turbostat: in_window=%d, near=%d, miss=%d",
		a.tsStats.InWindow, a.tsStats.Near, a.tsStats.Miss)
	e.log.Infof("alignment pqos: in_window=%d, near=%d, miss=%d",
		a.pqosStats.InWindow, a.pqosStats.Near, a.pqosStats.Miss)
	e.log.Infof("alignment pcm-memory: in_window=%d, near=%d, miss=%d",
		a.sysStats.InWindow, a.sysStats.Near, a.sysStats.Miss)

	var avgCore, avgOther, avgTotal float64
	if a.weight > 0 {
		avgCore = a.coreSum / float64(a.weight)
		avgOther = a.otherSum / float64(a.weight)
		avgTotal = a.totalSum / float64(a.weight)
	}
	e.log.Infof("average pqos bandwidth: workload_core=%.2f MB/s, complementary_cores=%.2f MB/s, all_cores=%.2f MB/s",
		avgCore, avgOther, avgTotal)

	if rows == 0 {
		return
	}
	warnCoverage := func(name string, s align.Stats, enabled bool) {
		cov := s.Coverage(rows)
		if enabled && cov < coverageWarnThreshold {
			e.log.Warnf("%s in-window coverage = %d/%d = %.1f%% (<95%%)", name, s.InWindow, rows, cov*100)
		}
	}
	warnCoverage("turbostat", a.tsStats, true)
	warnCoverage("pqos", a.pqosStats, true)
	warnCoverage("pcm-memory", a.sysStats, !a.forcedSysZero)
}

// filled holds the post-fill per-window series the calculator consumes.
type filled struct {
	cpuShare  []float64
	pqosCore  []float64
	pqosTotal []float64
	sysMem    []float64
}

func (e *Engine) fillSeries(a *alignment, rows int) filled {
	if hasMissing(a.cpuShare) || hasMissing(a.pqosCore) || hasMissing(a.pqosTotal) || hasMissing(a.sysMem) {
		e.log.Infof("raw series contained missing entries prior to fill")
	}

	var f filled
	var cpuInterp, coreInterp, totalInterp, sysInterp int
	f.cpuShare, cpuInterp = align.Fill(a.cpuShare)
	f.pqosCore, coreInterp = align.Fill(a.pqosCore)
	f.pqosTotal, totalInterp = align.Fill(a.pqosTotal)
	f.sysMem, sysInterp = align.Fill(a.sysMem)

	if !a.pqosAvail {
		f.pqosCore = make([]float64, rows)
		f.pqosTotal = make([]float64, rows)
		coreInterp, totalInterp = 0, 0
	}
	if a.forcedSysZero || !a.sysAvail {
		f.sysMem = append([]float64(nil), f.pqosTotal...)
		sysInterp = 0
	}

	e.log.Infof("fill cpu share: interpolated=%d, first3=%v, last3=%v",
		cpuInterp, takeFirst(f.cpuShare, 3), takeLast(f.cpuShare, 3))
	e.log.Infof("fill pqos workload: interpolated=%d, first3=%v, last3=%v",
		coreInterp, takeFirst(f.pqosCore, 3), takeLast(f.pqosCore, 3))
	e.log.Infof("fill pqos total: interpolated=%d, first3=%v, last3=%v",
		totalInterp, takeFirst(f.pqosTotal, 3), takeLast(f.pqosTotal, 3))
	e.log.Infof("fill system memory: interpolated=%d, first3=%v, last3=%v",
		sysInterp, takeFirst(f.sysMem, 3), takeLast(f.sysMem, 3))
	return f
}

// validate emits the non-fatal diagnostics over the finished rows: share
// bounds, gray bandwidth sign, and attributed watts against their physical
// ceilings, per window and at mean level.
func (e *Engine) validate(rows []Row) {
	if len(rows) == 0 {
		return
	}

	minCPU, maxCPU := math.Inf(1), math.Inf(-1)
	minBW, maxBW := math.Inf(1), math.Inf(-1)
	minGray := math.Inf(1)
	var pkgExcess, dramExcess float64
	var sums struct{ pkg, dram, nonDRAM, pkgAttr, dramAttr, gray float64 }

	for _, r := range rows {
		minCPU = math.Min(minCPU, r.CPUShare)
		maxCPU = math.Max(maxCPU, r.CPUShare)
		minBW = math.Min(minBW, r.BandwidthShare)
		maxBW = math.Max(maxBW, r.BandwidthShare)
		minGray = math.Min(minGray, r.GrayMB)

		limit := math.Min(r.PkgWatts, r.NonDRAMWatts)
		if r.PkgAttrWatts > limit+eps {
			pkgExcess = math.Max(pkgExcess, r.PkgAttrWatts-limit)
		}
		if r.DRAMAttrWatts > r.DRAMWatts+eps {
			dramExcess = math.Max(dramExcess, r.DRAMAttrWatts-r.DRAMWatts)
		}

		sums.pkg += r.PkgWatts
		sums.dram += r.DRAMWatts
		sums.nonDRAM += r.NonDRAMWatts
		sums.pkgAttr += r.PkgAttrWatts
		sums.dramAttr += r.DRAMAttrWatts
		sums.gray += r.GrayMB
	}

	if minCPU < -eps {
		e.log.Warnf("cpu_share below 0 (min=%.6f)", minCPU)
	}
	if maxCPU > 1+eps {
		e.log.Warnf("cpu_share above 1 (max=%.6f)", maxCPU)
	}
	if minBW < -eps {
		e.log.Warnf("mbm_share below 0 (min=%.6f)", minBW)
	}
	if maxBW > 1+eps {
		e.log.Warnf("mbm_share above 1 (max=%.6f)", maxBW)
	}
	if minGray < -eps {
		e.log.Warnf("gray bandwidth below 0 (min=%.6f)", minGray)
	}
	if pkgExcess > 0 {
		e.log.Warnf("pkg_attr exceeds non-DRAM limit (max_excess=%.6f)", pkgExcess)
	}
	if dramExcess > 0 {
		e.log.Warnf("dram_attr exceeds dram_total (max_excess=%.6f)", dramExcess)
	}

	n := float64(len(rows))
	meanPkg, meanDRAM, meanNonDRAM := sums.pkg/n, sums.dram/n, sums.nonDRAM/n
	meanPkgAttr, meanDRAMAttr, meanGray := sums.pkgAttr/n, sums.dramAttr/n, sums.gray/n
	if meanPkgAttr > meanPkg+eps {
		e.log.Warnf("mean Actual_Watts (%.3f) exceeds mean pcm-power Watts (%.3f)", meanPkgAttr, meanPkg)
	}
	if meanPkgAttr > meanNonDRAM+eps {
		e.log.Warnf("mean Actual_Watts (%.3f) exceeds mean non-DRAM power (%.3f)", meanPkgAttr, meanNonDRAM)
	}
	if meanDRAMAttr > meanDRAM+eps {
		e.log.Warnf("mean Actual_DRAM_Watts (%.3f) exceeds mean pcm-power DRAM Watts (%.3f)", meanDRAMAttr, meanDRAM)
	}
	e.log.Infof("ATTRIB mean: pkg_total=%.3f, dram_total=%.3f, pkg_attr(%s)=%.3f, dram_attr(%s)=%.3f, gray_MBps=%.3f",
		meanPkg, meanDRAM, stream.AttrPkgColumn, meanPkgAttr, stream.AttrDRAMColumn, meanDRAMAttr, meanGray)
}

func pqosTimes(pqos *stream.PqosStream) []float64 {
	if pqos == nil {
		return nil
	}
	return stream.SampleTimes(pqos.Samples)
}

func hasMissing(series []*float64) bool {
	for _, v := range series {
		if v == nil {
			return true
		}
	}
	return false
}

func takeFirst(values []float64, count int) []float64 {
	if len(values) < count {
		count = len(values)
	}
	return roundAll(values[:count])
}

func takeLast(values []float64, count int) []float64 {
	if len(values) < count {
		count = len(values)
	}
	return roundAll(values[len(values)-count:])
}

func roundAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Round(v*1000) / 1000
	}
	return out
}

func ptr(v float64) *float64 { return &v }

func existsWord(path string) string {
	if path == "" {
		return "missing"
	}
	if _, err := os.Stat(path); err == nil {
		return "exists"
	}
	return "missing"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
