package stream

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTurbostat_MissingFileIsAbsent(t *testing.T) {
	blocks, err := LoadTurbostat(filepath.Join(t.TempDir(), "nope.csv"))
	require.NoError(t, err)
	assert.Nil(t, blocks)
}

func TestLoadTurbostat_BlocksAndMedian(t *testing.T) {
	// Two blocks of four CPUs; the second block has one wildly late row
	// whose influence the median suppresses.
	path := writeFile(t, "run_turbostat.csv", []string{
		"CPU,Busy%,Bzy_MHz,Time_Of_Day_Seconds",
		"0,50,3000,1000.00",
		"1,30,3000,1000.02",
		"2,10,3000,1000.04",
		"3,10,3000,1000.06",
		"0,60,3000,1001.00",
		"1,20,3000,1001.02",
		"2,15,3000,1001.04",
		"3,5,3000,1009.99",
	})

	blocks, err := LoadTurbostat(path)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	// block times are rebased to the first block's median
	assert.Equal(t, 0.0, blocks[0].Tau)
	// median of {1001.00, 1001.02, 1001.04, 1009.99} = 1001.03
	assert.InDelta(t, 1.0, blocks[1].Tau, 0.05)
	assert.Less(t, blocks[1].Tau, 2.0, "outlier row must not drag the block time")
}

func TestLoadTurbostat_IncompleteBlockSkipped(t *testing.T) {
	// Second chunk repeats CPU 0 twice: only one distinct CPU of two known,
	// below the 80% completeness gate.
	path := writeFile(t, "run_turbostat.csv", []string{
		"CPU,Busy%,Bzy_MHz,Time_Of_Day_Seconds",
		"0,50,3000,1000.00",
		"1,30,3000,1000.02",
		"0,60,3000,1001.00",
		"0,61,3000,1001.02",
		"0,70,3000,1002.00",
		"1,10,3000,1002.02",
	})

	blocks, err := LoadTurbostat(path)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.InDelta(t, 2.0, blocks[1].Tau-blocks[0].Tau, 0.05)
}

func TestLoadTurbostat_BadRowsSkipped(t *testing.T) {
	path := writeFile(t, "run_turbostat.csv", []string{
		"CPU,Busy%,Bzy_MHz,Time_Of_Day_Seconds",
		"-,50,3000,1000.00",
		"0,notanumber,3000,1000.00",
		"0,50,3000,1000.00",
		"1,30,3000,1000.02",
	})

	blocks, err := LoadTurbostat(path)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Len(t, blocks[0].Rows, 2)
}

func TestLoadTurbostat_MissingColumnsIsAbsent(t *testing.T) {
	path := writeFile(t, "run_turbostat.csv", []string{
		"CPU,Busy%,Bzy_MHz",
		"0,50,3000",
	})
	blocks, err := LoadTurbostat(path)
	require.NoError(t, err)
	assert.Nil(t, blocks)
}

func TestWorkloadShare(t *testing.T) {
	block := CPUBlock{Rows: []CPUReading{
		{CPU: 0, Busy: 50},
		{CPU: 1, Busy: 150},
	}}
	assert.InDelta(t, 0.25, block.WorkloadShare(0), 1e-9)
	assert.InDelta(t, 0.75, block.WorkloadShare(1), 1e-9)
	// unknown CPU contributes nothing
	assert.Equal(t, 0.0, block.WorkloadShare(7))

	// negative busy readings are floored before summing
	negative := CPUBlock{Rows: []CPUReading{
		{CPU: 0, Busy: -10},
		{CPU: 1, Busy: 40},
	}}
	assert.Equal(t, 0.0, negative.WorkloadShare(0))
	assert.Equal(t, 1.0, negative.WorkloadShare(1))

	// an idle block yields zero, not NaN
	idle := CPUBlock{Rows: []CPUReading{{CPU: 0, Busy: 0}, {CPU: 1, Busy: 0}}}
	assert.Equal(t, 0.0, idle.WorkloadShare(0))
}
