package main

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// identityKey is the logical identity of one market observation: at most one
// record per tuple survives reconciliation.
var identityKey = []string{"state", "district", "market", "commodity", "variety", "grade", "arrival_date"}

// Reconciler merges freshly validated data with the previously persisted
// master dataset, removing identity-key duplicates.
type Reconciler struct {
	masterPath string
	log        *slog.Logger
	metrics    *Metrics
}

func NewReconciler(masterPath string, log *slog.Logger, m *Metrics) *Reconciler {
	return &Reconciler{masterPath: masterPath, log: log, metrics: m}
}

// Reconcile loads the prior master (if any), concatenates prior ∪ incoming
// with schema union, drops columns vacant across the combined set, sorts by
// arrival_date descending, and deduplicates on the identity key. Among rows
// sharing an identical key (which implies an identical date), the
// most-recently-fetched instance wins: incoming rows were concatenated after
// existing ones and the dedup keeps the later occurrence.
func (rc *Reconciler) Reconcile(incoming *Table) (*Table, int, error) {
	combined := incoming
	existing, err := rc.loadMaster()
	if err != nil {
		// An unreadable master must not silently shrink the dataset to just
		// the incoming rows and then overwrite it.
		return nil, 0, err
	}
	if existing != nil {
		rc.log.Info("loaded existing master", "rows", existing.NumRows(), "cols", existing.NumCols())
		combined = existing
		combined.Concat(incoming)
		rc.log.Info("combined with incoming", "rows", combined.NumRows())
	} else {
		rc.log.Info("no existing master, starting fresh", "path", rc.masterPath)
	}

	if removed := combined.DropEmptyColumns(); len(removed) > 0 {
		rc.log.Info("dropped vacant columns", "columns", strings.Join(removed, ","))
	}

	combined.SortByDateDesc("arrival_date")
	dupes := combined.DedupeBy(identityKey)
	if dupes > 0 {
		rc.log.Info("removed duplicate records", "count", dupes)
	}
	rc.metrics.RecordDuplicates(dupes)
	return combined, dupes, nil
}

// loadMaster reads the persisted master CSV into a table, coercing dates and
// prices exactly the way the Normalizer does so reconciliation compares like
// with like. A missing file returns (nil, nil).
func (rc *Reconciler) loadMaster() (*Table, error) {
	f, err := os.Open(rc.masterPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening master %s: %w", rc.masterPath, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	// Tolerate a UTF-8 BOM from spreadsheet tools that touched the file.
	if lead, _ := br.Peek(3); len(lead) == 3 && lead[0] == 0xEF && lead[1] == 0xBB && lead[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	r := csv.NewReader(br)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading master header: %w", err)
	}
	t := NewTable(header)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A parse error mid-file is corruption, not end of data. Bailing
			// out here keeps a truncated load from being persisted back over
			// the full master.
			return nil, fmt.Errorf("reading master %s: %w", rc.masterPath, err)
		}
		row := make([]Cell, len(header))
		for j := range header {
			if j >= len(rec) {
				break
			}
			row[j] = masterCell(header[j], rec[j])
		}
		if err := t.AppendRow(row); err != nil {
			return nil, fmt.Errorf("reading master row: %w", err)
		}
	}
	return t, nil
}

// masterCell coerces one loaded CSV field according to its column: dates and
// prices regain their types, empty strings become null, everything else
// stays a trimmed string.
func masterCell(col, raw string) Cell {
	if col == "arrival_date" {
		if d, ok := parseDate(raw); ok {
			return DateCell(d)
		}
		return Cell{}
	}
	for _, pc := range priceColumns {
		if col == pc {
			if fv, ok := parsePrice(raw); ok {
				return FloatCell(fv)
			}
			return Cell{}
		}
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return Cell{}
	}
	return StringCell(s)
}
