package lockfile

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireExclusiveThenRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.jsonl.lock")

	g, err := AcquireExclusive(path, time.Second)
	if err != nil {
		t.Fatalf("AcquireExclusive failed: %v", err)
	}
	g.Release()
}

func TestAcquireExclusiveBlocksSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.jsonl.lock")

	first, err := AcquireExclusive(path, time.Second)
	if err != nil {
		t.Fatalf("first AcquireExclusive failed: %v", err)
	}
	defer first.Release()

	_, err = AcquireExclusive(path, 100*time.Millisecond)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while first holder is active, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.jsonl.lock")
	g, err := AcquireExclusive(path, time.Second)
	if err != nil {
		t.Fatalf("AcquireExclusive failed: %v", err)
	}
	g.Release()
	g.Release() // must not panic
}

func TestReleaseNilGuardIsSafe(t *testing.T) {
	var g *Guard
	g.Release() // must not panic
}
