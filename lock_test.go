package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLockThenRefuse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.csv.lock")
	require.True(t, acquireLock(path))
	assert.False(t, acquireLock(path), "a fresh lock is not stealable")
	releaseLock(path)
	assert.True(t, acquireLock(path), "release frees the lock")
}

func TestAcquireLockBreaksStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.csv.lock")
	require.True(t, acquireLock(path))
	stale := time.Now().Add(-lockTTL - time.Minute)
	require.NoError(t, os.Chtimes(path, stale, stale))

	assert.True(t, acquireLock(path), "a lock past the TTL is broken")
}

func TestAcquireLockGivesUpOnUnusablePath(t *testing.T) {
	// The lock's parent is a regular file: create and stat both fail with an
	// error that retrying cannot clear. acquireLock must return rather than
	// spin on it.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "notadir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	done := make(chan bool, 1)
	go func() { done <- acquireLock(filepath.Join(blocker, "master.csv.lock")) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("acquireLock did not return on an unusable path")
	}
}
