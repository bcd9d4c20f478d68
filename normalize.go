package main

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// canonicalColumns is the schema the pipeline standardizes toward. Columns
// beyond these survive normalization as passthrough.
var canonicalColumns = []string{
	"state", "district", "market", "commodity", "variety", "grade",
	"arrival_date", "min_price", "max_price", "modal_price",
}

var categoricalColumns = []string{"state", "district", "market", "commodity", "variety", "grade"}

var priceColumns = []string{"min_price", "max_price", "modal_price"}

// columnVariants maps known upstream label variants (already lowercased and
// trimmed) to canonical names. The first matching variant wins; a variant is
// ignored when the canonical column is already present.
var columnVariants = map[string]string{
	"arrivaldate":       "arrival_date",
	"arrival date":      "arrival_date",
	"date":              "arrival_date",
	"minprice":          "min_price",
	"min price":         "min_price",
	"min_x0020_price":   "min_price",
	"maxprice":          "max_price",
	"max price":         "max_price",
	"max_x0020_price":   "max_price",
	"modalprice":        "modal_price",
	"modal price":       "modal_price",
	"modal_x0020_price": "modal_price",
	"commodity name":    "commodity",
	"state name":        "state",
	"district name":     "district",
	"market name":       "market",
}

// dateFormats are tried in order when coercing arrival_date values. The
// upstream API emits DD/MM/YYYY; the master file round-trips ISO dates.
var dateFormats = []string{
	"02/01/2006",
	dateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2-Jan-2006",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parsePrice(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Normalizer maps heterogeneous upstream fields to the canonical schema and
// coerces dates and prices into typed cells.
type Normalizer struct {
	log *slog.Logger
}

func NewNormalizer(log *slog.Logger) *Normalizer {
	return &Normalizer{log: log}
}

// Normalize rewrites column labels, trims categorical values, coerces
// arrival_date and price columns (failures become null, dropping is the
// Validator's job), and strips fully-empty rows. Missing canonical columns
// are logged as a warning; downstream stages must tolerate their absence.
func (n *Normalizer) Normalize(t *Table) *Table {
	t.RenameColumns(func(label string) string {
		name := strings.ToLower(strings.TrimSpace(label))
		if canon, ok := columnVariants[name]; ok && !t.HasColumn(canon) {
			return canon
		}
		return name
	})

	for _, col := range categoricalColumns {
		if !t.HasColumn(col) {
			continue
		}
		for r := 0; r < t.NumRows(); r++ {
			if s, ok := t.Cell(r, col).Text(); ok {
				trimmed := strings.TrimSpace(s)
				if trimmed == "" {
					t.SetCell(r, col, Cell{})
				} else {
					t.SetCell(r, col, StringCell(trimmed))
				}
			}
		}
	}

	if t.HasColumn("arrival_date") {
		unparsed := 0
		for r := 0; r < t.NumRows(); r++ {
			cell := t.Cell(r, "arrival_date")
			if _, isDate := cell.Time(); isDate {
				continue
			}
			s, _ := cell.Text()
			if d, ok := parseDate(s); ok {
				t.SetCell(r, "arrival_date", DateCell(d))
			} else {
				if !cell.IsNull() {
					unparsed++
				}
				t.SetCell(r, "arrival_date", Cell{})
			}
		}
		if unparsed > 0 {
			n.log.Warn("date coercion produced nulls", "column", "arrival_date", "count", unparsed)
		}
	}

	for _, col := range priceColumns {
		if !t.HasColumn(col) {
			continue
		}
		for r := 0; r < t.NumRows(); r++ {
			cell := t.Cell(r, col)
			if _, isNum := cell.Num(); isNum {
				continue
			}
			s, _ := cell.Text()
			if f, ok := parsePrice(s); ok {
				t.SetCell(r, col, FloatCell(f))
			} else {
				t.SetCell(r, col, Cell{})
			}
		}
	}

	// Blank trailing records from the upstream occasionally arrive as rows of
	// empty strings; after coercion those are fully null and can go.
	if dropped := t.DropEmptyRows(); dropped > 0 {
		n.log.Info("dropped fully-empty rows", "count", dropped)
	}

	var missing []string
	for _, col := range canonicalColumns {
		if !t.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		n.log.Warn("canonical columns missing after mapping", "columns", strings.Join(missing, ","))
	}
	return t
}
