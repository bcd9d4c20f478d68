package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawTable(cols []string, rows ...[]string) *Table {
	t := NewTable(cols)
	for _, r := range rows {
		cells := make([]Cell, len(r))
		for i, v := range r {
			cells[i] = StringCell(v)
		}
		if err := t.AppendRow(cells); err != nil {
			panic(err)
		}
	}
	return t
}

func TestNormalizeMapsVariantColumns(t *testing.T) {
	tb := rawTable(
		[]string{" State ", "District", "ArrivalDate", "MinPrice", "MaxPrice", "ModalPrice"},
		[]string{"Punjab", "Amritsar", "15/01/2024", "1000", "1400", "1200"},
	)
	NewNormalizer(discardLogger()).Normalize(tb)

	for _, col := range []string{"state", "district", "arrival_date", "min_price", "max_price", "modal_price"} {
		assert.True(t, tb.HasColumn(col), "column %s", col)
	}

	d, ok := tb.Cell(0, "arrival_date").Time()
	require.True(t, ok)
	assert.Equal(t, mustDate("2024-01-15"), d)

	f, ok := tb.Cell(0, "min_price").Num()
	require.True(t, ok)
	assert.Equal(t, 1000.0, f)
}

func TestNormalizeVariantDoesNotClobberCanonical(t *testing.T) {
	tb := rawTable(
		[]string{"arrival_date", "arrivaldate"},
		[]string{"2024-01-15", "2023-12-31"},
	)
	NewNormalizer(discardLogger()).Normalize(tb)

	require.True(t, tb.HasColumn("arrival_date"))
	d, ok := tb.Cell(0, "arrival_date").Time()
	require.True(t, ok)
	assert.Equal(t, mustDate("2024-01-15"), d)
}

func TestNormalizeTrimsCategoricalValues(t *testing.T) {
	tb := rawTable(
		[]string{"state", "commodity"},
		[]string{"  Punjab  ", "Wheat "},
		[]string{"   ", "Rice"},
	)
	NewNormalizer(discardLogger()).Normalize(tb)

	s, _ := tb.Cell(0, "state").Text()
	assert.Equal(t, "Punjab", s)
	// whitespace-only collapses to null
	assert.True(t, tb.Cell(1, "state").IsNull())
}

func TestNormalizeCoercionFailuresBecomeNull(t *testing.T) {
	tb := rawTable(
		[]string{"arrival_date", "min_price", "max_price", "modal_price"},
		[]string{"not-a-date", "NA", "1,400", "1200"},
	)
	NewNormalizer(discardLogger()).Normalize(tb)

	assert.True(t, tb.Cell(0, "arrival_date").IsNull())
	assert.True(t, tb.Cell(0, "min_price").IsNull())
	f, ok := tb.Cell(0, "max_price").Num()
	require.True(t, ok, "comma-grouped prices parse")
	assert.Equal(t, 1400.0, f)
}

func TestNormalizeDropsFullyEmptyRows(t *testing.T) {
	tb := rawTable(
		[]string{"state", "min_price"},
		[]string{"Punjab", "100"},
		[]string{"  ", "junk"},
	)
	NewNormalizer(discardLogger()).Normalize(tb)
	assert.Equal(t, 1, tb.NumRows())
}

func TestNormalizeToleratesMissingCanonicalColumns(t *testing.T) {
	tb := rawTable([]string{"state"}, []string{"Punjab"})
	out := NewNormalizer(discardLogger()).Normalize(tb)
	assert.Equal(t, 1, out.NumRows())
	assert.False(t, out.HasColumn("min_price"))
}

func TestParseDateFormats(t *testing.T) {
	for _, s := range []string{"15/01/2024", "2024-01-15"} {
		d, ok := parseDate(s)
		require.True(t, ok, s)
		assert.Equal(t, mustDate("2024-01-15"), d)
	}
	_, ok := parseDate("")
	assert.False(t, ok)
	_, ok = parseDate("31/31/2024")
	assert.False(t, ok)
}
