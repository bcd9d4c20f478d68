package main

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustDate(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// marketRow builds a full canonical row for table tests.
func marketRow(state, district, market, commodity, variety, grade, date string, minP, maxP, modal float64) []Cell {
	return []Cell{
		StringCell(state), StringCell(district), StringCell(market),
		StringCell(commodity), StringCell(variety), StringCell(grade),
		DateCell(mustDate(date)), FloatCell(minP), FloatCell(maxP), FloatCell(modal),
	}
}

func canonicalTable(rows ...[]Cell) *Table {
	t := NewTable(canonicalColumns)
	for _, r := range rows {
		if err := t.AppendRow(r); err != nil {
			panic(err)
		}
	}
	return t
}

// stubAdapter scripts FetchPage responses per call number (1-based).
type stubAdapter struct {
	calls int
	fn    func(call, offset, limit int) (Page, FetchMeta, error)
}

func (s *stubAdapter) FetchPage(ctx context.Context, offset, limit int) (Page, FetchMeta, error) {
	s.calls++
	return s.fn(s.calls, offset, limit)
}

// syntheticPage builds n records with distinct markets so identity keys differ.
func syntheticPage(n, seq int) Page {
	records := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, map[string]string{
			"state":        "Karnataka",
			"district":     "Bangalore",
			"market":       "Market " + strconv.Itoa(seq) + "-" + strconv.Itoa(i),
			"commodity":    "Tomato",
			"variety":      "Local",
			"grade":        "FAQ",
			"arrival_date": "15/01/2024",
			"min_price":    "1000",
			"max_price":    "1400",
			"modal_price":  "1200",
		})
	}
	return Page{Records: records}
}
