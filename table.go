// Mandi price ingest job (Go)
// ---------------------------
//
// Fetches agricultural commodity price records from a paginated public JSON
// API, normalizes and validates them, reconciles against the persisted master
// dataset with identity-key dedup, and atomically rewrites the master CSV
// consumed by the reporting layer.
//
// Configuration is primarily via environment variables (flags can override):
//   MANDI_API_KEY, DATA_API_URL, OUT_CSV, BATCH_SIZE, MAX_RETRIES,
//   FETCH_TIMEOUT_SEC, MAX_PAGES, ADAPTER, METRICS_ADDR, PG_DSN, ...
package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// dateLayout is the canonical on-disk date format. Both the persister and the
// master-file loader use it, so a round trip through CSV is lossless.
const dateLayout = "2006-01-02"

type cellKind uint8

const (
	kindNull cellKind = iota
	kindString
	kindFloat
	kindDate
)

// Cell is one typed, nullable value in a Table. The zero value is null.
type Cell struct {
	kind cellKind
	s    string
	f    float64
	t    time.Time
}

func StringCell(s string) Cell  { return Cell{kind: kindString, s: s} }
func FloatCell(f float64) Cell  { return Cell{kind: kindFloat, f: f} }
func DateCell(t time.Time) Cell { return Cell{kind: kindDate, t: t} }

func (c Cell) IsNull() bool { return c.kind == kindNull }

// Text returns the string payload; ok is false for non-string cells.
func (c Cell) Text() (string, bool) {
	return c.s, c.kind == kindString
}

// Num returns the numeric payload; ok is false for non-float cells.
func (c Cell) Num() (float64, bool) {
	return c.f, c.kind == kindFloat
}

// Time returns the date payload; ok is false for non-date cells.
func (c Cell) Time() (time.Time, bool) {
	return c.t, c.kind == kindDate
}

// Render serializes a cell for CSV output. Null renders as the empty string.
func (c Cell) Render() string {
	switch c.kind {
	case kindString:
		return c.s
	case kindFloat:
		return strconv.FormatFloat(c.f, 'f', -1, 64)
	case kindDate:
		return c.t.Format(dateLayout)
	default:
		return ""
	}
}

// Table is a column-ordered, row-major dataset with typed nullable cells.
// Column access is by name with explicit presence checks, so stages that
// depend on optional columns can degrade gracefully.
type Table struct {
	cols  []string
	index map[string]int
	rows  [][]Cell
}

// NewTable creates an empty table with the given column order.
func NewTable(cols []string) *Table {
	t := &Table{
		cols:  append([]string(nil), cols...),
		index: make(map[string]int, len(cols)),
	}
	for i, c := range t.cols {
		t.index[c] = i
	}
	return t
}

func (t *Table) Columns() []string { return append([]string(nil), t.cols...) }
func (t *Table) NumRows() int      { return len(t.rows) }
func (t *Table) NumCols() int      { return len(t.cols) }

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// AppendRow adds a row. Short rows are padded with nulls; long rows are an error.
func (t *Table) AppendRow(row []Cell) error {
	if len(row) > len(t.cols) {
		return fmt.Errorf("row has %d cells, table has %d columns", len(row), len(t.cols))
	}
	padded := make([]Cell, len(t.cols))
	copy(padded, row)
	t.rows = append(t.rows, padded)
	return nil
}

// Cell returns the value at (row, column name). Absent columns read as null.
func (t *Table) Cell(row int, col string) Cell {
	i, ok := t.index[col]
	if !ok {
		return Cell{}
	}
	return t.rows[row][i]
}

// SetCell overwrites the value at (row, column name). Unknown columns are ignored.
func (t *Table) SetCell(row int, col string, v Cell) {
	if i, ok := t.index[col]; ok {
		t.rows[row][i] = v
	}
}

// RenameColumns applies fn to every column label, keeping the first label when
// two distinct labels collapse to the same name (later duplicates are dropped
// together with their cells).
func (t *Table) RenameColumns(fn func(string) string) {
	newCols := make([]string, 0, len(t.cols))
	newIndex := make(map[string]int, len(t.cols))
	keep := make([]int, 0, len(t.cols))
	for i, c := range t.cols {
		name := fn(c)
		if _, dup := newIndex[name]; dup {
			continue
		}
		newIndex[name] = len(newCols)
		newCols = append(newCols, name)
		keep = append(keep, i)
	}
	if len(keep) != len(t.cols) {
		for r, row := range t.rows {
			trimmed := make([]Cell, len(keep))
			for j, src := range keep {
				trimmed[j] = row[src]
			}
			t.rows[r] = trimmed
		}
	}
	t.cols = newCols
	t.index = newIndex
}

// Concat appends all rows of other, widening the schema to the column union.
// Columns absent on one side read as null for that side's rows (outer-join
// semantics across heterogeneous batches).
func (t *Table) Concat(other *Table) {
	for _, c := range other.cols {
		if !t.HasColumn(c) {
			t.addColumn(c)
		}
	}
	for r := range other.rows {
		row := make([]Cell, len(t.cols))
		for j, c := range other.cols {
			row[t.index[c]] = other.rows[r][j]
		}
		t.rows = append(t.rows, row)
	}
}

func (t *Table) addColumn(name string) {
	t.index[name] = len(t.cols)
	t.cols = append(t.cols, name)
	for r := range t.rows {
		t.rows[r] = append(t.rows[r], Cell{})
	}
}

// DropEmptyRows removes rows whose every cell is null and returns the count.
func (t *Table) DropEmptyRows() int {
	kept := t.rows[:0]
	dropped := 0
	for _, row := range t.rows {
		empty := true
		for _, c := range row {
			if !c.IsNull() {
				empty = false
				break
			}
		}
		if empty {
			dropped++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return dropped
}

// DropEmptyColumns removes columns that are null in every row and returns
// the removed column names.
func (t *Table) DropEmptyColumns() []string {
	if len(t.rows) == 0 {
		return nil
	}
	keep := make([]int, 0, len(t.cols))
	var removed []string
	for i, c := range t.cols {
		vacant := true
		for _, row := range t.rows {
			if !row[i].IsNull() {
				vacant = false
				break
			}
		}
		if vacant {
			removed = append(removed, c)
			continue
		}
		keep = append(keep, i)
	}
	if len(removed) == 0 {
		return nil
	}
	newCols := make([]string, len(keep))
	newIndex := make(map[string]int, len(keep))
	for j, src := range keep {
		newCols[j] = t.cols[src]
		newIndex[newCols[j]] = j
	}
	for r, row := range t.rows {
		trimmed := make([]Cell, len(keep))
		for j, src := range keep {
			trimmed[j] = row[src]
		}
		t.rows[r] = trimmed
	}
	t.cols = newCols
	t.index = newIndex
	return removed
}

// SortByDateDesc stable-sorts rows by the named date column, most recent
// first. Null dates sort last. Rows with equal dates keep their input order.
func (t *Table) SortByDateDesc(col string) {
	i, ok := t.index[col]
	if !ok {
		return
	}
	sort.SliceStable(t.rows, func(a, b int) bool {
		ta, aok := t.rows[a][i].Time()
		tb, bok := t.rows[b][i].Time()
		if aok != bok {
			return aok // dated rows before null dates
		}
		if !aok {
			return false
		}
		return ta.After(tb)
	})
}

// DedupeBy removes rows sharing the same key tuple, keeping the LAST
// occurrence in current row order, and returns the number removed. Absent key
// columns contribute a null marker rather than failing. Surviving rows keep
// their relative order.
func (t *Table) DedupeBy(keyCols []string) int {
	seen := make(map[string]int, len(t.rows))
	for r := range t.rows {
		seen[t.rowKey(r, keyCols)] = r
	}
	if len(seen) == len(t.rows) {
		return 0
	}
	kept := make([][]Cell, 0, len(seen))
	removed := 0
	for r, row := range t.rows {
		if seen[t.rowKey(r, keyCols)] == r {
			kept = append(kept, row)
		} else {
			removed++
		}
	}
	t.rows = kept
	return removed
}

// rowKey builds a composite dedup key. Cells render through the same
// serialization the persister uses, so a record deduplicates identically
// before and after a CSV round trip.
func (t *Table) rowKey(row int, keyCols []string) string {
	var b strings.Builder
	for _, c := range keyCols {
		i, ok := t.index[c]
		if !ok {
			b.WriteString("\x00!absent")
		} else {
			cell := t.rows[row][i]
			if cell.IsNull() {
				b.WriteString("\x00!null")
			} else {
				b.WriteString(cell.Render())
			}
		}
		b.WriteByte('\x1f')
	}
	return b.String()
}

// Filter keeps only rows for which pred returns true and returns the number
// of rows removed.
func (t *Table) Filter(pred func(t *Table, row int) bool) int {
	kept := t.rows[:0]
	removed := 0
	for r := range t.rows {
		if pred(t, r) {
			kept = append(kept, t.rows[r])
		} else {
			removed++
		}
	}
	t.rows = kept
	return removed
}
