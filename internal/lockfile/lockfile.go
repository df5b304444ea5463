// Package lockfile provides flock-based advisory locking for hive's
// single-writer JSONL flush guard (spec §13, distinct from the DB-level CAS
// lock of spec §4.4, which is a row, not a file). Grounded on the donor's
// internal/lockfile package, generalized from "daemon singleton lock" +
// "Dolt access lock" into one guard type scoped to the JSONL snapshot file.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrBusy is returned when a non-blocking lock attempt finds the file
// already locked by another process.
var ErrBusy = errors.New("lockfile: busy, held by another process")

// pollInterval matches the donor's AccessLock polling cadence
// (internal/storage/dolt/access_lock.go's lockPollInterval).
const pollInterval = 50 * time.Millisecond

// Guard holds an advisory flock on one file for as long as it's open.
// Safe to Release more than once.
type Guard struct {
	file *os.File
	path string
}

// AcquireExclusive opens (creating if needed) the lock file at path and
// acquires an exclusive non-blocking lock, polling up to timeout before
// giving up with ErrBusy. Used to serialize hive's JSONL flush across
// concurrent processes sharing one project (spec §13's "single-writer
// JSONL flush guard").
func AcquireExclusive(path string, timeout time.Duration) (*Guard, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("lockfile: create lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) // #nosec G304 - caller-controlled project-local path
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	if err := flockExclusiveNonBlock(f); err == nil {
		return &Guard{file: f, path: path}, nil
	} else if !errors.Is(err, ErrBusy) {
		_ = f.Close()
		return nil, fmt.Errorf("lockfile: acquire %s: %w", path, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(pollInterval)
		if err := flockExclusiveNonBlock(f); err == nil {
			return &Guard{file: f, path: path}, nil
		} else if !errors.Is(err, ErrBusy) {
			_ = f.Close()
			return nil, fmt.Errorf("lockfile: acquire %s: %w", path, err)
		}
	}

	_ = f.Close()
	return nil, fmt.Errorf("lockfile: timed out acquiring %s after %v: %w", path, timeout, ErrBusy)
}

// Release unlocks and closes the guarded file. Safe to call more than once.
func (g *Guard) Release() {
	if g == nil || g.file == nil {
		return
	}
	_ = flockUnlock(g.file)
	_ = g.file.Close()
	g.file = nil
}
