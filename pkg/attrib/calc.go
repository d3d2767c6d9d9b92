package attrib

import "math"

// Row is the per-window attribution result, one per power window. Derived
// once, never mutated; every intermediate lands in the summary CSV.
type Row struct {
	Index int

	PkgWatts     float64
	DRAMWatts    float64
	NonDRAMWatts float64

	SystemMB   float64
	WorkloadMB float64
	TotalMB    float64

	CPUShare       float64
	BandwidthShare float64

	// GrayMB is system-wide bandwidth not attributed to any tracked core
	// set (DMA, other sockets); it is redistributed proportionally to the
	// workload's existing bandwidth share.
	GrayMB       float64
	AttributedMB float64

	PkgAttrWatts  float64
	DRAMAttrWatts float64
}

// Compute derives one window's attribution. All inputs are floored at zero;
// a non-finite system bandwidth falls back to the tracked total (the same
// default used when the pcm-memory stream is absent).
//
// Package power: the non-DRAM portion split by the workload's CPU-busy
// share. DRAM power: split by the workload's share of system-wide bandwidth
// after gray bandwidth redistribution. Both results are clamped into their
// physical ceilings.
func Compute(index int, pkgWatts, dramWatts, cpuShare, workloadMB, totalMB, systemMB float64) Row {
	if !isFinite(systemMB) {
		systemMB = totalMB
	}
	pkgWatts = floorAtZero(pkgWatts)
	dramWatts = floorAtZero(dramWatts)
	workloadMB = floorAtZero(workloadMB)
	totalMB = floorAtZero(totalMB)
	systemMB = floorAtZero(systemMB)
	cpuShare = clamp01(cpuShare)

	grayMB := math.Max(systemMB-totalMB, 0)

	bandwidthShare := 0.0
	if totalMB > eps {
		bandwidthShare = clamp01(workloadMB / totalMB)
	}
	attributedMB := workloadMB + bandwidthShare*grayMB

	nonDRAM := math.Max(pkgWatts-dramWatts, 0)

	var dramAttr float64
	if systemMB > eps {
		dramAttr = dramWatts * (attributedMB / systemMB)
	} else {
		dramAttr = dramWatts * bandwidthShare
	}
	dramAttr = clampRange(dramAttr, 0, dramWatts)

	pkgAttr := clampRange(nonDRAM*cpuShare, 0, nonDRAM)

	return Row{
		Index:          index,
		PkgWatts:       pkgWatts,
		DRAMWatts:      dramWatts,
		NonDRAMWatts:   nonDRAM,
		SystemMB:       systemMB,
		WorkloadMB:     workloadMB,
		TotalMB:        totalMB,
		CPUShare:       cpuShare,
		BandwidthShare: bandwidthShare,
		GrayMB:         grayMB,
		AttributedMB:   attributedMB,
		PkgAttrWatts:   pkgAttr,
		DRAMAttrWatts:  dramAttr,
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clampRange(v, 0, 1)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func floorAtZero(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
