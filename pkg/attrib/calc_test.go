package attrib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute_Worked(t *testing.T) {
	// 100 W package, 20 W DRAM, workload core at a quarter of CPU busy and a
	// quarter of tracked bandwidth, with 1000 MB/s of gray bandwidth.
	r := Compute(3, 100, 20, 0.25, 1000, 4000, 5000)

	assert.Equal(t, 3, r.Index)
	assert.InDelta(t, 80.0, r.NonDRAMWatts, 1e-9)
	assert.InDelta(t, 0.25, r.BandwidthShare, 1e-9)
	assert.InDelta(t, 1000.0, r.GrayMB, 1e-9)
	assert.InDelta(t, 1250.0, r.AttributedMB, 1e-9)
	assert.InDelta(t, 20.0, r.PkgAttrWatts, 1e-9)
	assert.InDelta(t, 5.0, r.DRAMAttrWatts, 1e-9)
}

func TestCompute_SystemFallsBackToTotal(t *testing.T) {
	// absent system bandwidth: gray is zero and DRAM splits by tracked share
	r := Compute(0, 100, 20, 0.5, 1000, 4000, math.NaN())
	assert.InDelta(t, 4000.0, r.SystemMB, 1e-9)
	assert.Equal(t, 0.0, r.GrayMB)
	assert.InDelta(t, 5.0, r.DRAMAttrWatts, 1e-9)
}

func TestCompute_ZeroBandwidth(t *testing.T) {
	r := Compute(0, 100, 20, 0.5, 0, 0, 0)
	assert.Equal(t, 0.0, r.BandwidthShare)
	assert.Equal(t, 0.0, r.DRAMAttrWatts)
	assert.InDelta(t, 40.0, r.PkgAttrWatts, 1e-9)
}

func TestCompute_ClampsAndFloors(t *testing.T) {
	// negative totals floor to zero before any ratio is formed
	r := Compute(0, -10, -5, 0.5, -100, -400, -500)
	assert.Equal(t, 0.0, r.PkgWatts)
	assert.Equal(t, 0.0, r.DRAMWatts)
	assert.Equal(t, 0.0, r.PkgAttrWatts)
	assert.Equal(t, 0.0, r.DRAMAttrWatts)

	// cpu share is clamped into [0, 1]
	r = Compute(0, 100, 20, 1.7, 0, 0, 0)
	assert.Equal(t, 1.0, r.CPUShare)
	assert.InDelta(t, 80.0, r.PkgAttrWatts, 1e-9)
	r = Compute(0, 100, 20, math.NaN(), 0, 0, 0)
	assert.Equal(t, 0.0, r.CPUShare)

	// attributed bandwidth above system keeps dram_attr within dram_total
	r = Compute(0, 100, 20, 0.5, 6000, 6000, 100)
	assert.LessOrEqual(t, r.DRAMAttrWatts, 20.0)
}

func TestCompute_DRAMExceedsPackage(t *testing.T) {
	// DRAM above package watts leaves nothing for the non-DRAM split
	r := Compute(0, 30, 45, 0.9, 0, 0, 0)
	assert.Equal(t, 0.0, r.NonDRAMWatts)
	assert.Equal(t, 0.0, r.PkgAttrWatts)
}
