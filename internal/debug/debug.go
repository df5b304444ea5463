// Package debug provides HIVE_DEBUG tag-gated tracing in the donor's plain
// fmt.Fprintf(os.Stderr, ...) style, deliberately not a structured logging
// library: this is a low-volume, human-read-at-the-terminal concern, not an
// ingested log stream (see SPEC_FULL.md §10.1).
package debug

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

var (
	mu      sync.RWMutex
	all     bool
	tags    = map[string]bool{}
	initted bool
)

// Tags recognized by HIVE_DEBUG; any other comma-separated token is accepted
// too, so new call sites never need a change here to start tracing.
const (
	TagEvents       = "events"
	TagReservations = "reservations"
	TagTracker      = "tracker"
	TagStream       = "stream"
	TagFacade       = "facade"
)

func initOnce() {
	mu.Lock()
	defer mu.Unlock()
	if initted {
		return
	}
	initted = true
	v := strings.TrimSpace(os.Getenv("HIVE_DEBUG"))
	if v == "" {
		return
	}
	if v == "1" || v == "true" || v == "all" || v == "*" {
		all = true
		return
	}
	for _, t := range strings.Split(v, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags[t] = true
		}
	}
}

// Enabled reports whether tracing for tag is turned on via HIVE_DEBUG.
func Enabled(tag string) bool {
	initOnce()
	mu.RLock()
	defer mu.RUnlock()
	if all {
		return true
	}
	return tags[tag]
}

// Logf writes a tagged trace line to stderr if tag is enabled. No-op
// otherwise, so call sites can leave Logf calls in hot paths.
func Logf(tag, format string, args ...any) {
	if !Enabled(tag) {
		return
	}
	fmt.Fprintf(os.Stderr, "[hive:%s] %s\n", tag, fmt.Sprintf(format, args...))
}

// reset is used by tests to force re-reading HIVE_DEBUG.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	initted = false
	all = false
	tags = map[string]bool{}
}
