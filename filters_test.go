package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mandi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRunConfig(t *testing.T) {
	path := writeConfig(t, `
filters:
  states: [Punjab, Haryana]
  commodities:
    - Wheat
  min_arrival_date: "2024-01-01"
`)
	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Punjab", "Haryana"}, cfg.Filters.States)
	assert.Equal(t, []string{"Wheat"}, cfg.Filters.Commodities)
	assert.Empty(t, cfg.Filters.Districts)
	assert.Equal(t, "2024-01-01", cfg.Filters.MinArrivalDate)
}

func TestLoadRunConfigEmptyPath(t *testing.T) {
	cfg, err := LoadRunConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Filters.States)
}

func TestLoadRunConfigErrors(t *testing.T) {
	_, err := LoadRunConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	_, err = LoadRunConfig(writeConfig(t, "filters: [not, a, mapping]"))
	assert.Error(t, err)

	_, err = LoadRunConfig(writeConfig(t, "filters:\n  min_arrival_date: 15/01/2024\n"))
	assert.Error(t, err, "non-ISO date floor rejected at load")
}

func TestFiltersCombineWithAND(t *testing.T) {
	tb := canonicalTable(
		marketRow("Punjab", "Amritsar", "M", "Wheat", "V", "G", "2024-01-15", 1, 2, 1.5),
		marketRow("Punjab", "Amritsar", "M", "Rice", "V", "G", "2024-01-15", 1, 2, 1.5),
		marketRow("Kerala", "Kochi", "M", "Wheat", "V", "G", "2024-01-15", 1, 2, 1.5),
	)
	f := FilterConfig{States: []string{"punjab"}, Commodities: []string{"Wheat"}}
	removed := f.Apply(tb, discardLogger())

	assert.Equal(t, 2, removed)
	require.Equal(t, 1, tb.NumRows())
	state, _ := tb.Cell(0, "state").Text()
	commodity, _ := tb.Cell(0, "commodity").Text()
	assert.Equal(t, "Punjab", state)
	assert.Equal(t, "Wheat", commodity)
}

func TestFilterMatchingIsCaseInsensitive(t *testing.T) {
	tb := canonicalTable(
		marketRow("PUNJAB", "Amritsar", "M", "Wheat", "V", "G", "2024-01-15", 1, 2, 1.5),
	)
	f := FilterConfig{States: []string{"Punjab"}}
	assert.Equal(t, 0, f.Apply(tb, discardLogger()))
	assert.Equal(t, 1, tb.NumRows())
}

func TestFilterSkipsAbsentColumn(t *testing.T) {
	tb := NewTable([]string{"commodity"})
	require.NoError(t, tb.AppendRow([]Cell{StringCell("Wheat")}))
	f := FilterConfig{States: []string{"Punjab"}}

	assert.Equal(t, 0, f.Apply(tb, discardLogger()))
	assert.Equal(t, 1, tb.NumRows())
}

func TestFilterDropsNullValues(t *testing.T) {
	tb := canonicalTable(
		marketRow("Punjab", "Amritsar", "M", "Wheat", "V", "G", "2024-01-15", 1, 2, 1.5),
	)
	tb.SetCell(0, "state", Cell{})
	f := FilterConfig{States: []string{"Punjab"}}

	assert.Equal(t, 1, f.Apply(tb, discardLogger()))
	assert.Equal(t, 0, tb.NumRows())
}

func TestMinArrivalDateFloor(t *testing.T) {
	tb := canonicalTable(
		marketRow("A", "D", "M1", "Wheat", "V", "G", "2023-12-31", 1, 2, 1.5),
		marketRow("A", "D", "M2", "Wheat", "V", "G", "2024-01-01", 1, 2, 1.5),
		marketRow("A", "D", "M3", "Wheat", "V", "G", "2024-02-10", 1, 2, 1.5),
	)
	f := FilterConfig{MinArrivalDate: "2024-01-01"}

	assert.Equal(t, 1, f.Apply(tb, discardLogger()), "floor is inclusive")
	assert.Equal(t, 2, tb.NumRows())
}

func TestNoFiltersIsNoOp(t *testing.T) {
	tb := canonicalTable(
		marketRow("A", "D", "M", "Wheat", "V", "G", "2024-01-01", 1, 2, 1.5),
	)
	assert.Equal(t, 0, FilterConfig{}.Apply(tb, discardLogger()))
	assert.Equal(t, 1, tb.NumRows())
}
