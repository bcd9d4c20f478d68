package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

const lockTTL = 10 * time.Minute

// acquireLock takes an exclusive lockfile next to the master CSV. A stale
// lock (older than the TTL, e.g. from a crashed run) is broken; a fresh one
// means another writer is active and this run must abort rather than race.
func acquireLock(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	_ = os.MkdirAll(filepath.Dir(abs), 0o755)
	// Bounded attempts: create may lose a race with a stale-lock holder once
	// or twice, but a persistently failing stat (e.g. directory permissions)
	// must not spin forever.
	for attempt := 0; attempt < 5; attempt++ {
		f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(fmt.Sprintf(`{"pid":%d,"time":%d}`+"\n", os.Getpid(), time.Now().Unix()))
			_ = f.Close()
			return true
		}
		fi, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				// Lock vanished between create and stat, retry the create.
				continue
			}
			return false
		}
		if time.Since(fi.ModTime()) >= lockTTL {
			_ = os.Remove(abs)
			continue
		}
		return false
	}
	return false
}

func releaseLock(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// lockHeartbeat refreshes the lockfile mtime so a long run is not mistaken
// for a stale one. It stops when *alive drops to zero.
func lockHeartbeat(path string, alive *int32) {
	t := time.NewTicker(60 * time.Second)
	defer t.Stop()
	for atomic.LoadInt32(alive) == 1 {
		<-t.C
		now := time.Now()
		_ = os.Chtimes(path, now, now)
	}
}
