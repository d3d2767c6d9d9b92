package stream

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestLoadPower_Basic(t *testing.T) {
	path := writeFile(t, "run_pcm_power.csv", []string{
		",,S0,S0",
		"Date,Time,Watts,DRAM Watts",
		"2024-03-01,10:00:00.000000,100,20",
		"2024-03-01,10:00:01.000000,110,25",
		"2024-03-01,10:00:02.000000,-5,abc",
	})

	s, err := LoadPower(path, 1.0)
	require.NoError(t, err)
	require.Len(t, s.Windows, 3)

	assert.Equal(t, 0.0, s.Windows[0].Start)
	assert.InDelta(t, 1.0, s.Windows[1].Start, 1e-9)
	assert.InDelta(t, 2.0, s.Windows[2].Start, 1e-9)

	assert.Equal(t, 100.0, s.Windows[0].PkgWatts)
	assert.Equal(t, 20.0, s.Windows[0].DRAMWatts)
	// negative and unparseable totals are floored at zero
	assert.Equal(t, 0.0, s.Windows[2].PkgWatts)
	assert.Equal(t, 0.0, s.Windows[2].DRAMWatts)

	assert.Equal(t, 0, s.TimestampFallbacks)
	assert.False(t, s.GhostDropped)
}

func TestLoadPower_GhostColumn(t *testing.T) {
	path := writeFile(t, "run_pcm_power.csv", []string{
		",,S0,S0,",
		"Date,Time,Watts,DRAM Watts,",
		"2024-03-01,10:00:00,100,20,",
		"2024-03-01,10:00:01,110,25,",
	})

	s, err := LoadPower(path, 1.0)
	require.NoError(t, err)

	assert.True(t, s.GhostDropped)
	assert.Equal(t, 1.0, s.GhostRatio)
	assert.Len(t, s.Header2, 4)
	for _, row := range s.Rows {
		assert.Len(t, row, 4)
	}
}

func TestLoadPower_GhostBelowThresholdKept(t *testing.T) {
	// Only half the rows end empty: the trailing column carries data and
	// must survive.
	path := writeFile(t, "run_pcm_power.csv", []string{
		",,S0,S0,",
		"Date,Time,Watts,DRAM Watts,",
		"2024-03-01,10:00:00,100,20,7",
		"2024-03-01,10:00:01,110,25,",
	})

	s, err := LoadPower(path, 1.0)
	require.NoError(t, err)
	assert.False(t, s.GhostDropped)
	assert.InDelta(t, 0.5, s.GhostRatio, 1e-9)
	assert.Len(t, s.Header2, 5)
}

func TestLoadPower_StaleAttributionColumnsRemoved(t *testing.T) {
	path := writeFile(t, "run_pcm_power.csv", []string{
		",,S0,S0,S0,S0",
		"Date,Time,Watts,DRAM Watts,Actual Watts,Actual DRAM Watts",
		"2024-03-01,10:00:00,100,20,25.000000,5.000000",
		"2024-03-01,10:00:01,110,25,27.500000,6.000000",
	})

	s, err := LoadPower(path, 1.0)
	require.NoError(t, err)

	assert.Equal(t, 2, s.RemovedAttrColumns)
	assert.Len(t, s.Header2, 4)
	assert.NotContains(t, s.Header2, AttrPkgColumn)
	assert.NotContains(t, s.Header2, AttrDRAMColumn)
	for _, row := range s.Rows {
		assert.Len(t, row, 4)
	}
	// parsing still lands on the right columns after removal
	assert.Equal(t, 100.0, s.Windows[0].PkgWatts)
	assert.Equal(t, 25.0, s.Windows[1].DRAMWatts)
}

func TestLoadPower_TimestampFallback(t *testing.T) {
	path := writeFile(t, "run_pcm_power.csv", []string{
		",,S0,S0",
		"Date,Time,Watts,DRAM Watts",
		"2024-03-01,10:00:00,100,20",
		",,110,25",
		"2024-03-01,10:00:01,120,30",
	})

	s, err := LoadPower(path, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, s.TimestampFallbacks)
	// fallback row sits one interval after its predecessor
	assert.InDelta(t, 0.5, s.Windows[1].Start, 1e-9)
}

func TestLoadPower_Fatal(t *testing.T) {
	_, err := LoadPower(filepath.Join(t.TempDir(), "nope.csv"), 1.0)
	assert.True(t, errors.Is(err, ErrPowerMissing))

	truncated := writeFile(t, "short.csv", []string{
		",,S0",
		"Date,Time,Watts",
	})
	_, err = LoadPower(truncated, 1.0)
	assert.True(t, errors.Is(err, ErrPowerTruncated))

	noWatts := writeFile(t, "nowatts.csv", []string{
		",,S0",
		"Date,Time,Power",
		"2024-03-01,10:00:00,100",
	})
	_, err = LoadPower(noWatts, 1.0)
	assert.True(t, errors.Is(err, ErrRequiredColumn))

	noDate := writeFile(t, "nodate.csv", []string{
		",,S0,S0",
		"When,Time,Watts,DRAM Watts",
		"2024-03-01,10:00:00,100,20",
	})
	_, err = LoadPower(noDate, 1.0)
	assert.True(t, errors.Is(err, ErrRequiredColumn))
}

func TestLoadPower_LastColumnOccurrenceWins(t *testing.T) {
	// Per-socket dumps can repeat the Watts name; the final occurrence is
	// the package total.
	path := writeFile(t, "run_pcm_power.csv", []string{
		",S0,S1,,",
		"Date,Watts,Watts,Time,DRAM Watts",
		"2024-03-01,40,100,10:00:00,20",
	})

	s, err := LoadPower(path, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 2, s.WattsIdx)
	assert.Equal(t, 100.0, s.Windows[0].PkgWatts)
}
