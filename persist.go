package main

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Persister atomically replaces the master CSV. Rows are written to a
// temporary file in the destination directory, fsynced, then renamed over
// the master path, so a failed run leaves the prior file untouched.
type Persister struct {
	log *slog.Logger
}

func NewPersister(log *slog.Logger) *Persister {
	return &Persister{log: log}
}

func (p *Persister) Persist(t *Table, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(t.Columns()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	record := make([]string, t.NumCols())
	cols := t.Columns()
	for r := 0; r < t.NumRows(); r++ {
		for j, c := range cols {
			record[j] = t.Cell(r, c).Render()
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return fmt.Errorf("writing row %d: %w", r, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing csv: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("swapping master file: %w", err)
	}
	tmpName = ""

	p.log.Info("master dataset saved", "path", path, "rows", t.NumRows(), "cols", t.NumCols())
	return nil
}
