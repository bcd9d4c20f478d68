package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistWritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "master.csv")
	tb := canonicalTable(
		marketRow("Punjab", "Amritsar", "Mkt", "Wheat", "Local", "FAQ", "2024-01-15", 1000, 1400, 1200.5),
	)
	require.NoError(t, NewPersister(discardLogger()).Persist(tb, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, canonicalColumns, rows[0])
	assert.Equal(t, []string{"Punjab", "Amritsar", "Mkt", "Wheat", "Local", "FAQ", "2024-01-15", "1000", "1400", "1200.5"}, rows[1])
}

func TestPersistOverwritesWholesale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.csv")
	p := NewPersister(discardLogger())

	big := canonicalTable(
		marketRow("A", "D", "M1", "Wheat", "V", "G", "2024-01-01", 1, 2, 1.5),
		marketRow("A", "D", "M2", "Wheat", "V", "G", "2024-01-01", 1, 2, 1.5),
	)
	require.NoError(t, p.Persist(big, path))

	small := canonicalTable(
		marketRow("B", "D", "M3", "Rice", "V", "G", "2024-02-01", 1, 2, 1.5),
	)
	require.NoError(t, p.Persist(small, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2, "replacement, not append")
}

func TestPersistLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.csv")
	tb := canonicalTable(marketRow("A", "D", "M", "Wheat", "V", "G", "2024-01-01", 1, 2, 1.5))
	require.NoError(t, NewPersister(discardLogger()).Persist(tb, path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "master.csv", entries[0].Name())
}

func TestPersistFailureKeepsPriorFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.csv")
	p := NewPersister(discardLogger())

	prior := canonicalTable(marketRow("A", "D", "M", "Wheat", "V", "G", "2024-01-01", 1, 2, 1.5))
	require.NoError(t, p.Persist(prior, path))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// Block the final swap: a directory sitting at a sibling path the temp
	// file would rename onto makes os.Rename fail after the write.
	blocked := filepath.Join(dir, "blocked.csv")
	require.NoError(t, os.Mkdir(blocked, 0o755))
	next := canonicalTable(marketRow("B", "D", "M", "Rice", "V", "G", "2024-02-01", 1, 2, 1.5))
	require.Error(t, p.Persist(next, blocked))

	// The failed run must not have disturbed the existing master or left
	// temp files behind.
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
