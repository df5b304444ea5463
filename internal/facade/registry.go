package facade

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hiveswarm/hive/internal/debug"
	"github.com/hiveswarm/hive/internal/herr"
	"github.com/hiveswarm/hive/internal/storage/sqlstore"
	"github.com/hiveswarm/hive/internal/stream"
)

// Registry is the process-wide project_key -> Facade cache spec §4.7 and
// §13's REDESIGN FLAGS call for: "replace global caches with an explicit
// Registry owned by the server/process, passed by reference". It owns
// every Facade's Storage Adapter handle for the life of the process and is
// the only place that opens or closes one, fixing the donor's
// `getAgentInbox`-style anti-pattern of a callsite opening a handle and
// closing it again immediately after one read (spec §13 Open Question).
type Registry struct {
	mu       sync.Mutex
	facades  map[string]*Facade
	group    singleflight.Group
	streams  *stream.Registry
	shutdown sync.Once
}

// NewRegistry returns an empty Registry. streams may be nil if the process
// isn't running a Stream Server.
func NewRegistry(streams *stream.Registry) *Registry {
	if streams == nil {
		streams = stream.NewRegistry()
	}
	return &Registry{facades: make(map[string]*Facade), streams: streams}
}

// Streams exposes the Registry's per-project SSE broker registry, for
// callers wiring a stream.Server against an already-opened Facade.
func (r *Registry) Streams() *stream.Registry { return r.streams }

// GetOrCreate returns the cached Facade for projectKey, opening its Storage
// Adapter and running migrations on first use. Concurrent first-uses of
// the same project_key are coalesced through a singleflight.Group so the
// embedded engine is never opened twice for one path (spec §13, grounded on
// golang.org/x/sync's standard get-or-create role across the ecosystem).
func (r *Registry) GetOrCreate(ctx context.Context, projectKey string) (*Facade, error) {
	r.mu.Lock()
	if f, ok := r.facades[projectKey]; ok {
		r.mu.Unlock()
		return f, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(projectKey, func() (any, error) {
		r.mu.Lock()
		if f, ok := r.facades[projectKey]; ok {
			r.mu.Unlock()
			return f, nil
		}
		r.mu.Unlock()

		store, err := sqlstore.Open(ctx, sqlstore.Config{Path: filepath.Join(projectKey, ".hive", "db")})
		if err != nil {
			return nil, herr.Wrap("facade.Registry.GetOrCreate", err)
		}

		broker := r.streams.Get(projectKey)
		f := New(store, projectKey, broker, nil)

		r.mu.Lock()
		r.facades[projectKey] = f
		r.mu.Unlock()

		debug.Logf(debug.TagFacade, "opened facade for project=%s", projectKey)
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Facade), nil
}

// Shutdown flushes dirty cells for every cached project and closes its
// Storage Adapter handle. It is best-effort, idempotent, and safe to call
// more than once — only the first call does any work (spec §4.7's "running"
// guard), matching the donor's stopOnce pattern in internal/rpc/
// server_core.go generalized from "stop one server" to "flush every
// project".
func (r *Registry) Shutdown(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	r.shutdown.Do(func() {
		r.mu.Lock()
		facades := make(map[string]*Facade, len(r.facades))
		for k, f := range r.facades {
			facades[k] = f
		}
		r.mu.Unlock()

		for projectKey, f := range facades {
			jsonlPath := filepath.Join(projectKey, ".hive", "cells.jsonl")
			if err := f.Cells.Flush(ctx, jsonlPath); err != nil {
				failures[projectKey] = fmt.Errorf("flush: %w", err)
			}
			if err := f.Close(); err != nil {
				if existing, ok := failures[projectKey]; ok {
					failures[projectKey] = fmt.Errorf("%v; close: %w", existing, err)
				} else {
					failures[projectKey] = fmt.Errorf("close: %w", err)
				}
			}
		}
	})
	return failures
}
