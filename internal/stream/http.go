package stream

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hiveswarm/hive/internal/debug"
	"github.com/hiveswarm/hive/internal/eventstore"
	"github.com/hiveswarm/hive/internal/storage"
	"github.com/hiveswarm/hive/internal/tracker"
	"github.com/hiveswarm/hive/internal/types"
)

// storeQueryable adapts storage.Store's ctx-first Query/QueryRow methods to
// eventstore.Queryable's database/sql-shaped QueryContext/QueryRowContext,
// so the Stream Server can read backlog history straight off the shared
// Storage Adapter handle rather than opening its own connection.
type storeQueryable struct{ storage.Store }

func (s storeQueryable) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.Query(ctx, query, args...)
}

func (s storeQueryable) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.QueryRow(ctx, query, args...)
}

// defaultLimit is the backlog size used when a request omits ?limit,
// matching spec §4.6's "up to limit (default 100)".
const defaultLimit = 100

// keepaliveInterval matches the donor's SSE keepalive cadence
// (internal/rpc/http_sse.go's 15-second ticker) so idle long-poll proxies
// and load balancers don't time out a live connection.
const keepaliveInterval = 15 * time.Second

// Server is hive's Stream Server (spec §4.6): a CORS-open, unauthenticated
// HTTP surface exposing one-shot and live (SSE) reads over the event log,
// plus a /cells snapshot endpoint. Grounded on the donor's HTTPServer
// (internal/rpc/http_server.go) for the listener/mux/shutdown shape and
// http_sse.go for the streaming handlers, with the JetStream path dropped
// (spec §4.6 describes only the in-memory broker).
type Server struct {
	addr           string
	store          storage.Store
	registry       *Registry
	tracker        *tracker.Tracker
	defaultProject string

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires a Stream Server for one project. Query reads against
// /streams/{project} always target store/registry scoped to defaultProject
// since hive's embedded storage adapter is opened per-project (spec §4.7);
// a path project_key that doesn't match defaultProject is rejected with 404
// rather than silently querying the wrong database.
func NewServer(addr string, store storage.Store, registry *Registry, trk *tracker.Tracker, defaultProject string) *Server {
	return &Server{addr: addr, store: store, registry: registry, tracker: trk, defaultProject: defaultProject}
}

// Broker returns the registry's broker for this server's project, for
// callers that need to Publish newly appended events to this server's live
// subscribers.
func (s *Server) Broker() *Broker {
	return s.registry.Get(s.defaultProject)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// within a grace period. Mirrors the donor's HTTPServer.Start lifecycle.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /streams/{project}", s.handleStream)
	mux.HandleFunc("GET /cells", s.handleCells)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("OPTIONS /", s.handleOptions)

	handler := withCORS(mux)

	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived; cannot have a write deadline
		IdleTimeout:  120 * time.Second,
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("stream: listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	srv := s.httpServer
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	debug.Logf(debug.TagStream, "stream server listening on %s", listener.Addr())
	err = srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr reports the address the server is listening on.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handleStream implements GET /streams/{project}?offset=N&live={false|true}&limit=L.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	if project != s.defaultProject {
		http.NotFound(w, r)
		return
	}

	offset, limit, live, err := parseStreamQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !live {
		s.writeOneShot(w, r, project, offset, limit)
		return
	}
	s.writeLive(w, r, project, offset, limit)
}

// handleEvents implements GET /events: equivalent to a live stream against
// the configured project_key, with no offset replay by default (spec §4.6):
// without ?offset the cursor starts at the project's latest sequence.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	offset, limit, _, err := parseStreamQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("offset") == "" {
		offset, err = eventstore.LatestSequence(r.Context(), storeQueryable{s.store}, s.defaultProject)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	s.writeLive(w, r, s.defaultProject, offset, limit)
}

func parseStreamQuery(r *http.Request) (offset int64, limit int, live bool, err error) {
	q := r.URL.Query()

	if raw := q.Get("offset"); raw != "" {
		offset, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || offset < 0 {
			return 0, 0, false, errors.New("invalid 'offset': must be a non-negative integer")
		}
	}

	limit = defaultLimit
	if raw := q.Get("limit"); raw != "" {
		var n int64
		n, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, false, errors.New("invalid 'limit': must be a non-negative integer")
		}
		limit = int(n)
	}

	if raw := q.Get("live"); raw != "" {
		live, err = strconv.ParseBool(raw)
		if err != nil {
			return 0, 0, false, errors.New("invalid 'live': must be true or false")
		}
	}
	return offset, limit, live, nil
}

func (s *Server) writeOneShot(w http.ResponseWriter, r *http.Request, project string, offset int64, limit int) {
	events, err := eventstore.Read(r.Context(), storeQueryable{s.store}, types.ReadFilter{
		ProjectKey: project, AfterSequence: offset, Limit: limit,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		frame, err := wireEventJSON(ev)
		if err != nil {
			continue
		}
		out = append(out, frame)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) writeLive(w http.ResponseWriter, r *http.Request, project string, offset int64, limit int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	broker := s.registry.Get(project)
	// Subscribe before reading the backlog so no event appended between the
	// backlog read and the subscription is lost (spec §4.6's "subscription
	// receives every newly appended event" guarantee).
	live, unsubscribe := broker.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	backlog, err := eventstore.Read(r.Context(), storeQueryable{s.store}, types.ReadFilter{
		ProjectKey: project, AfterSequence: offset, Limit: limit,
	})
	if err != nil {
		debug.Logf(debug.TagStream, "backlog read failed for %s: %v", project, err)
		backlog = nil
	}

	lastSeq := offset
	for _, ev := range backlog {
		writeSSEFrame(w, ev)
		if ev.Sequence > lastSeq {
			lastSeq = ev.Sequence
		}
	}
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.Sequence <= lastSeq {
				continue
			}
			lastSeq = ev.Sequence
			writeSSEFrame(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, ev types.Event) {
	frame, err := wireEventJSON(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\n", ev.Sequence)
	fmt.Fprintf(w, "data: %s\n\n", frame)
}

// wireEventJSON flattens a types.Event into the wire shape spec §6 requires:
// {sequence, id, type, project_key, timestamp, ...payload fields}, i.e. the
// event envelope fields sit alongside Data's fields rather than nested
// under a "data" key.
func wireEventJSON(ev types.Event) (json.RawMessage, error) {
	payload := map[string]any{}
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return nil, fmt.Errorf("stream: decode event %d payload: %w", ev.ID, err)
		}
	}
	payload["sequence"] = ev.Sequence
	payload["id"] = ev.ID
	payload["type"] = ev.Type
	payload["project_key"] = ev.ProjectKey
	payload["timestamp"] = ev.Timestamp

	return json.Marshal(payload)
}

// cellNode is the tree-shaped rendering GET /cells returns: each cell plus
// its direct children, nested from parent_id (spec §4.6's "including
// parent-child tree data").
type cellNode struct {
	*types.Cell
	Children []*cellNode `json:"children,omitempty"`
}

func (s *Server) handleCells(w http.ResponseWriter, r *http.Request) {
	cells, err := s.tracker.QueryCells(r.Context(), types.QueryCellsArgs{ProjectKey: s.defaultProject})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	nodes := make(map[string]*cellNode, len(cells))
	for _, c := range cells {
		nodes[c.ID] = &cellNode{Cell: c}
	}
	var roots []*cellNode
	for _, c := range cells {
		n := nodes[c.ID]
		if c.ParentID != "" {
			if parent, ok := nodes[c.ParentID]; ok {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"cells": roots})
}
