// Package attrib computes how much of total package and DRAM power is
// attributable to one monitored workload core, by reconciling the power,
// turbostat, pqos, and pcm-memory streams onto the power stream's windows
// and splitting watts proportionally to CPU-busy and bandwidth shares.
package attrib

import "math"

// Defaults. The tolerances are empirical tuning carried over from field use:
// the turbostat tolerance scales with the slower of the two periodic clocks,
// while pqos/pcm-memory sampling is coarse and aperiodic enough that a fixed
// window works better. Both are configurable, not invariants.
const (
	DefaultInterval       = 0.5
	DefaultAlignTolerance = 0.40

	turbostatToleranceFactor = 0.80
	coverageWarnThreshold    = 0.95

	eps = 1e-9
)

// Config fully describes one attribution run; there is no other process
// state. Zero or negative intervals fall back to defaults, and the pqos
// interval falls back to the power interval rather than the global default
// (the two counters are usually configured together).
type Config struct {
	// WorkloadCPU is the monitored core id.
	WorkloadCPU int

	// PowerPath is the reference pcm-power CSV; it is required and is
	// rewritten in place with the two attribution columns.
	PowerPath string
	// TurbostatPath, PqosPath, SystemMemoryPath are optional inputs; an
	// absent file degrades that stream to a forced-zero contribution.
	TurbostatPath    string
	PqosPath         string
	SystemMemoryPath string
	// SummaryPath receives the per-window diagnostic table.
	SummaryPath string

	PowerInterval     float64
	PqosInterval      float64
	TurbostatInterval float64

	// AlignTolerance bounds the nearest-neighbor match distance for the
	// pqos and pcm-memory streams.
	AlignTolerance float64
}

func (c Config) withDefaults() Config {
	if !(c.PowerInterval > eps) {
		c.PowerInterval = DefaultInterval
	}
	if !(c.PqosInterval > eps) {
		c.PqosInterval = c.PowerInterval
	}
	if !(c.TurbostatInterval > eps) {
		c.TurbostatInterval = DefaultInterval
	}
	if !(c.AlignTolerance > eps) {
		c.AlignTolerance = DefaultAlignTolerance
	}
	return c
}

// turbostatTolerance is 0.8x the slower of the power and turbostat clocks.
func (c Config) turbostatTolerance() float64 {
	return turbostatToleranceFactor * math.Max(c.PowerInterval, c.TurbostatInterval)
}
