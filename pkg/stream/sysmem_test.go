package stream

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenHeaders(t *testing.T) {
	top := []string{"", "SKT0", "System", "System"}
	bottom := []string{"Date", "Mem (MB/s)", "Memory (MB/s)", ""}

	flat := FlattenHeaders(top, bottom)
	require.Len(t, flat, 4)
	assert.Equal(t, "Date", flat[0])
	// only System-prefixed names lose the trailing unit qualifier
	assert.Equal(t, "SKT0 Mem (MB/s)", flat[1])
	assert.Equal(t, "System Memory", flat[2])
	assert.Equal(t, "System", flat[3])

	// ragged widths take the longer row
	flat = FlattenHeaders([]string{"A"}, []string{"x", "y", "z"})
	require.Len(t, flat, 3)
	assert.Equal(t, "A x", flat[0])
	assert.Equal(t, "z", flat[2])
}

func TestLoadSystemMemory_MissingFileIsAbsent(t *testing.T) {
	s, err := LoadSystemMemory(filepath.Join(t.TempDir(), "nope.csv"))
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestLoadSystemMemory_Basic(t *testing.T) {
	path := writeFile(t, "run_pcm_memory_dram.csv", []string{
		",,System",
		"Date,Time,Memory (MB/s)",
		"2024-03-01,10:00:00.000000,5000",
		"2024-03-01,10:00:01.000000,5100",
		"2024-03-01,10:00:02.000000,-20",
	})
	s, err := LoadSystemMemory(path)
	require.NoError(t, err)
	assert.True(t, s.MultiHeader)
	assert.Equal(t, "System Memory", s.Column)
	require.Len(t, s.Samples, 3)
	assert.Equal(t, 0.0, s.Samples[0].Time)
	assert.InDelta(t, 1.0, s.Samples[1].Time, 1e-9)
	assert.Equal(t, 0.0, s.Samples[2].Value)
}

func TestLoadSystemMemory_FuzzyColumnExcludesSocket(t *testing.T) {
	path := writeFile(t, "run_pcm_memory_dram.csv", []string{
		",,,",
		"Date,Time,SKT0 System Memory,Total System Memory Throughput",
		"2024-03-01,10:00:00,100,5000",
	})
	s, err := LoadSystemMemory(path)
	require.NoError(t, err)
	assert.Equal(t, "Total System Memory Throughput", s.Column)
	require.Len(t, s.Samples, 1)
	assert.Equal(t, 5000.0, s.Samples[0].Value)
}

func TestLoadSystemMemory_NoSystemColumn(t *testing.T) {
	path := writeFile(t, "run_pcm_memory_dram.csv", []string{
		",,",
		"Date,Time,Throughput",
		"2024-03-01,10:00:00,5000",
	})
	s, err := LoadSystemMemory(path)
	require.NotNil(t, s)
	assert.True(t, errors.Is(err, ErrNoSystemColumn))
	assert.Empty(t, s.Samples)
}

func TestLoadSystemMemory_NoTimestampColumns(t *testing.T) {
	path := writeFile(t, "run_pcm_memory_dram.csv", []string{
		",",
		"When,System Memory",
		"10:00:00,5000",
	})
	s, err := LoadSystemMemory(path)
	require.NotNil(t, s)
	assert.True(t, errors.Is(err, ErrNoTimestampColumns))
	assert.Equal(t, "System Memory", s.Column)
}

func TestLoadSystemMemory_ColdStartOutliersDropped(t *testing.T) {
	path := writeFile(t, "run_pcm_memory_dram.csv", []string{
		",,",
		"Date,Time,System Memory",
		"2024-03-01,10:00:00,1000000000",
		"2024-03-01,10:00:01,1000000",
		"2024-03-01,10:00:02,5000",
		"2024-03-01,10:00:03,5100",
		"2024-03-01,10:00:04,5050",
		"2024-03-01,10:00:05,4900",
		"2024-03-01,10:00:06,5000",
	})
	s, err := LoadSystemMemory(path)
	require.NoError(t, err)
	require.Len(t, s.Dropped, 2)
	assert.Equal(t, 1000000000.0, s.Dropped[0].Value)
	assert.Equal(t, 1000000.0, s.Dropped[1].Value)
	require.Len(t, s.Samples, 5)
	// survivors are rebased to the new first sample
	assert.Equal(t, 0.0, s.Samples[0].Time)
	assert.Equal(t, 5000.0, s.Samples[0].Value)
}

func TestLoadSystemMemory_ShortTailKeepsSpike(t *testing.T) {
	// Three positive trailing values are below the minimum tail, so the
	// leading spike cannot be judged and stays.
	path := writeFile(t, "run_pcm_memory_dram.csv", []string{
		",,",
		"Date,Time,System Memory",
		"2024-03-01,10:00:00,900000",
		"2024-03-01,10:00:01,5000",
		"2024-03-01,10:00:02,5100",
		"2024-03-01,10:00:03,5050",
	})
	s, err := LoadSystemMemory(path)
	require.NoError(t, err)
	assert.Empty(t, s.Dropped)
	require.Len(t, s.Samples, 4)
}

func TestTrimToActiveWindow(t *testing.T) {
	samples := []MemorySample{
		{Time: 0.0, Value: 1},
		{Time: 5.0, Value: 2},
		{Time: 10.0, Value: 3},
		{Time: 15.0, Value: 4},
	}
	ts := []float64{4.0, 12.0}
	pqos := []float64{3.0, 11.0}

	// active window is [4, 11] padded by the tolerance
	trimmed := TrimToActiveWindow(samples, ts, pqos, 0.5)
	require.Len(t, trimmed, 2)
	assert.Equal(t, 5.0, trimmed[0].Time)
	assert.Equal(t, 10.0, trimmed[1].Time)

	// without both reference streams the samples pass through
	assert.Len(t, TrimToActiveWindow(samples, nil, pqos, 0.5), 4)
	assert.Len(t, TrimToActiveWindow(samples, ts, nil, 0.5), 4)

	// disjoint reference streams leave the samples alone
	assert.Len(t, TrimToActiveWindow(samples, []float64{0, 1}, []float64{8, 9}, 0.5), 4)
}
