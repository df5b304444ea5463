// Package tracker implements hive's work-item ("cell") tracker: creation
// (including atomic epic+subtask decomposition), status transitions,
// partial-ID resolution, ready-work queries, and the in-memory dirty-set +
// JSONL snapshot round-trip (spec §4.5). Grounded on the donor's
// internal/storage/sqlite dirty-tracking idiom (dirty.go) and epic-progress
// queries (epics.go), its LIKE-based ID-prefix matching
// (queries.go/queries_rename.go), and internal/idgen's hash-ID scheme.
package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hiveswarm/hive/internal/debug"
	"github.com/hiveswarm/hive/internal/eventstore"
	"github.com/hiveswarm/hive/internal/herr"
	"github.com/hiveswarm/hive/internal/idgen"
	"github.com/hiveswarm/hive/internal/jsonl"
	"github.com/hiveswarm/hive/internal/lockfile"
	"github.com/hiveswarm/hive/internal/projections"
	"github.com/hiveswarm/hive/internal/storage"
	"github.com/hiveswarm/hive/internal/types"
)

// IDPrefix is the fixed prefix every hive cell ID carries, e.g. "cell-a1b2c3".
const IDPrefix = "cell"

// maxIDCollisionRetries bounds how many nonce retries GenerateCellID gets
// before CreateCell gives up (collisions this persistent indicate something
// else is wrong, not bad luck).
const maxIDCollisionRetries = 5

// Tracker implements cell lifecycle operations against one project.
type Tracker struct {
	store      storage.Store
	projectKey string
	now        func() time.Time

	mu    sync.Mutex
	dirty map[string]struct{} // cell IDs marked dirty since the last Flush
}

// New constructs a Tracker for projectKey. now defaults to time.Now if nil.
func New(store storage.Store, projectKey string, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, projectKey: projectKey, now: now, dirty: make(map[string]struct{})}
}

func (t *Tracker) nowMs() int64 { return t.now().UnixMilli() }

// CreateCell creates a single cell and appends its cell_created event.
func (t *Tracker) CreateCell(ctx context.Context, args types.CreateCellArgs) (*types.Cell, error) {
	if strings.TrimSpace(args.Title) == "" {
		return nil, herr.New(herr.CodeValidation, "tracker.CreateCell", "title is required", nil)
	}
	if args.Type == "" {
		args.Type = types.TypeTask
	}

	var created *types.Cell
	nowMs := t.nowMs()
	err := t.store.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := t.generateUniqueID(ctx, tx, args.Title, args.Description, args.Assignee)
		if err != nil {
			return err
		}
		c := &types.Cell{
			ID:          id,
			ProjectKey:  t.projectKey,
			Type:        args.Type,
			Status:      types.StatusOpen,
			Title:       args.Title,
			Description: args.Description,
			Priority:    args.Priority,
			ParentID:    args.ParentID,
			Assignee:    args.Assignee,
			Metadata:    args.Metadata,
			CreatedAt:   nowMs,
			UpdatedAt:   nowMs,
		}
		ev, err := eventstore.Append(ctx, tx, t.projectKey, types.EventCellCreated, c, nowMs)
		if err != nil {
			return err
		}
		if err := projections.Apply(ctx, tx, ev); err != nil {
			return err
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.MarkDirty(created.ID)
	return created, nil
}

// CreateEpic creates an epic cell and all of its subtasks atomically: the
// whole decomposition commits as a single transaction, so there is no
// partially-created epic for a later compensating delete to clean up — a
// strictly stronger guarantee than the donor's pattern of creating rows
// one-by-one and rolling back by hand on failure (see DESIGN.md).
func (t *Tracker) CreateEpic(ctx context.Context, args types.CreateEpicArgs) (*types.Cell, []*types.Cell, error) {
	if strings.TrimSpace(args.EpicTitle) == "" {
		return nil, nil, herr.New(herr.CodeValidation, "tracker.CreateEpic", "epic title is required", nil)
	}
	if len(args.Subtasks) == 0 {
		return nil, nil, herr.New(herr.CodeValidation, "tracker.CreateEpic", "at least one subtask is required", nil)
	}

	var epic *types.Cell
	var subtasks []*types.Cell
	nowMs := t.nowMs()

	err := t.store.WithTx(ctx, func(tx *sql.Tx) error {
		epicID, err := t.generateUniqueID(ctx, tx, args.EpicTitle, args.EpicDescription, "")
		if err != nil {
			return err
		}
		epic = &types.Cell{
			ID: epicID, ProjectKey: t.projectKey, Type: types.TypeEpic, Status: types.StatusOpen,
			Title: args.EpicTitle, Description: args.EpicDescription, Priority: args.Priority,
			CreatedAt: nowMs, UpdatedAt: nowMs,
		}
		ev, err := eventstore.Append(ctx, tx, t.projectKey, types.EventCellCreated, epic, nowMs)
		if err != nil {
			return fmt.Errorf("create epic: %w", err)
		}
		if err := projections.Apply(ctx, tx, ev); err != nil {
			return fmt.Errorf("project epic: %w", err)
		}

		for i, sub := range args.Subtasks {
			if strings.TrimSpace(sub.Title) == "" {
				return herr.New(herr.CodeValidation, "tracker.CreateEpic", fmt.Sprintf("subtask %d: title is required", i), nil)
			}
			subID, err := t.generateUniqueID(ctx, tx, sub.Title, sub.Description, sub.Assignee)
			if err != nil {
				return fmt.Errorf("subtask %d: %w", i, err)
			}
			if sub.Type == "" {
				sub.Type = types.TypeTask
			}
			c := &types.Cell{
				ID: subID, ProjectKey: t.projectKey, Type: sub.Type, Status: types.StatusOpen,
				Title: sub.Title, Description: sub.Description, Priority: sub.Priority,
				ParentID: epicID, Assignee: sub.Assignee, Metadata: sub.Metadata,
				CreatedAt: nowMs, UpdatedAt: nowMs,
			}
			ev, err := eventstore.Append(ctx, tx, t.projectKey, types.EventCellCreated, c, nowMs)
			if err != nil {
				return fmt.Errorf("subtask %d: %w", i, err)
			}
			if err := projections.Apply(ctx, tx, ev); err != nil {
				return fmt.Errorf("subtask %d: project: %w", i, err)
			}
			subtasks = append(subtasks, c)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	t.MarkDirty(epic.ID)
	for _, s := range subtasks {
		t.MarkDirty(s.ID)
	}
	return epic, subtasks, nil
}

func (t *Tracker) generateUniqueID(ctx context.Context, tx *sql.Tx, title, description, creator string) (string, error) {
	for nonce := 0; nonce < maxIDCollisionRetries; nonce++ {
		id := idgen.GenerateCellID(IDPrefix, title, description, creator, t.now(), idgen.DefaultIDLength, nonce)
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cells WHERE id = ?`, id).Scan(&exists); err != nil {
			return "", herr.Wrap("tracker.generateUniqueID", err)
		}
		if exists == 0 {
			return id, nil
		}
	}
	return "", herr.New(herr.CodeIntegrity, "tracker.generateUniqueID", "could not generate a unique cell ID after retries", nil)
}

// ResolveID resolves a full or partial cell ID to exactly one full ID.
// Exact matches short-circuit; otherwise a unique prefix match wins; zero
// matches is CodeNotFound and more than one is CodeAmbiguous (spec §4.5).
func (t *Tracker) ResolveID(ctx context.Context, partial string) (string, error) {
	var exact int
	if err := t.queryRow(ctx, `SELECT COUNT(*) FROM cells WHERE id = ?`, partial).Scan(&exact); err != nil {
		return "", herr.Wrap("tracker.ResolveID", err)
	}
	if exact > 0 {
		return partial, nil
	}

	rows, err := t.query(ctx, `SELECT id FROM cells WHERE project_key = ? AND id LIKE CONCAT(?, '%') ORDER BY id`, t.projectKey, partial)
	if err != nil {
		return "", herr.Wrap("tracker.ResolveID", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", herr.Wrap("tracker.ResolveID", err)
		}
		matches = append(matches, id)
	}
	if err := rows.Err(); err != nil {
		return "", herr.Wrap("tracker.ResolveID", err)
	}

	switch len(matches) {
	case 0:
		return "", herr.NotFound("tracker.ResolveID", fmt.Sprintf("cell %q", partial))
	case 1:
		return matches[0], nil
	default:
		return "", herr.Ambiguous("tracker.ResolveID", matches)
	}
}

// ChangeStatus transitions cell id to status "to", validating the move
// against the state machine in types.CanTransition (spec §4.5).
func (t *Tracker) ChangeStatus(ctx context.Context, id string, to types.Status) (*types.Cell, error) {
	nowMs := t.nowMs()
	var updated *types.Cell

	err := t.store.WithTx(ctx, func(tx *sql.Tx) error {
		c, err := getCellTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !types.CanTransition(c.Status, to) {
			return herr.New(herr.CodeConflict, "tracker.ChangeStatus",
				fmt.Sprintf("cannot transition cell %s from %s to %s", id, c.Status, to), nil)
		}
		if c.Status == to {
			updated = c
			return nil
		}

		var ev types.Event
		if to == types.StatusClosed {
			ev, err = eventstore.Append(ctx, tx, t.projectKey, types.EventCellClosed, map[string]any{"cell_id": id}, nowMs)
		} else {
			ev, err = eventstore.Append(ctx, tx, t.projectKey, types.EventCellStatusChanged, map[string]any{"cell_id": id, "to": to}, nowMs)
		}
		if err != nil {
			return err
		}
		if err := projections.Apply(ctx, tx, ev); err != nil {
			return err
		}
		c.Status = to
		c.UpdatedAt = nowMs
		if to == types.StatusClosed {
			c.ClosedAt = nowMs
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.MarkDirty(id)
	return updated, nil
}

// CloseCell is shorthand for ChangeStatus(ctx, id, types.StatusClosed).
// Closing an already-closed cell is a no-op success, not an error.
func (t *Tracker) CloseCell(ctx context.Context, id string) (*types.Cell, error) {
	return t.ChangeStatus(ctx, id, types.StatusClosed)
}

// UpdateCell applies a partial patch to mutable cell fields. It does not go
// through the event log: spec §4.5 treats these as metadata edits, not
// lifecycle transitions, so they are a direct projection update plus a
// dirty-set mark for the next JSONL flush.
func (t *Tracker) UpdateCell(ctx context.Context, id string, patch types.UpdateCellPatch) (*types.Cell, error) {
	nowMs := t.nowMs()
	var updated *types.Cell

	err := t.store.WithTx(ctx, func(tx *sql.Tx) error {
		c, err := getCellTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			c.Title = *patch.Title
		}
		if patch.Description != nil {
			c.Description = *patch.Description
		}
		if patch.Priority != nil {
			c.Priority = *patch.Priority
		}
		if patch.Assignee != nil {
			c.Assignee = *patch.Assignee
		}
		if patch.Metadata != nil {
			c.Metadata = patch.Metadata
		}
		c.UpdatedAt = nowMs

		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return herr.Wrap("tracker.UpdateCell", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE cells SET title = ?, description = ?, priority = ?, assignee = ?, metadata = ?, updated_at = ?
			WHERE id = ?
		`, c.Title, c.Description, c.Priority, c.Assignee, metadata, nowMs, id)
		if err != nil {
			return herr.Wrap("tracker.UpdateCell", err)
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.MarkDirty(id)
	return updated, nil
}

func getCellTx(ctx context.Context, tx *sql.Tx, id string) (*types.Cell, error) {
	return scanCell(tx.QueryRowContext(ctx, cellSelectColumns+` FROM cells WHERE id = ?`, id))
}

const cellSelectColumns = `SELECT id, project_key, issue_type, status, title, description, priority, parent_id, assignee, metadata, created_at, updated_at, closed_at`

func scanCell(row *sql.Row) (*types.Cell, error) {
	var c types.Cell
	var issueType, status string
	var metadata sql.NullString
	var closedAt sql.NullInt64
	err := row.Scan(&c.ID, &c.ProjectKey, &issueType, &status, &c.Title, &c.Description, &c.Priority, &c.ParentID, &c.Assignee, &metadata, &c.CreatedAt, &c.UpdatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, herr.NotFound("tracker.getCell", "cell")
	}
	if err != nil {
		return nil, herr.Wrap("tracker.getCell", err)
	}
	c.Type = types.IssueType(issueType)
	c.Status = types.Status(status)
	if closedAt.Valid {
		c.ClosedAt = closedAt.Int64
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		_ = json.Unmarshal([]byte(metadata.String), &c.Metadata)
	}
	return &c, nil
}

// QueryCells returns cells matching args. Ready=true additionally requires
// status=open and no unclosed dependency (spec §4.5 "ready work").
func (t *Tracker) QueryCells(ctx context.Context, args types.QueryCellsArgs) ([]*types.Cell, error) {
	var b strings.Builder
	b.WriteString(cellSelectColumns + ` FROM cells WHERE project_key = ?`)
	sqlArgs := []any{t.projectKey}

	if args.Status != nil {
		b.WriteString(" AND status = ?")
		sqlArgs = append(sqlArgs, string(*args.Status))
	}
	if args.Type != nil {
		b.WriteString(" AND issue_type = ?")
		sqlArgs = append(sqlArgs, string(*args.Type))
	}
	if args.ParentID != nil {
		b.WriteString(" AND parent_id = ?")
		sqlArgs = append(sqlArgs, *args.ParentID)
	}
	if args.Ready {
		b.WriteString(` AND status = 'open' AND NOT EXISTS (
			SELECT 1 FROM cell_dependencies cd
			JOIN cells dep ON dep.id = cd.depends_on_id
			WHERE cd.cell_id = cells.id AND dep.status != 'closed'
		)`)
	}
	b.WriteString(" ORDER BY priority ASC, created_at ASC")
	if args.Limit > 0 {
		b.WriteString(" LIMIT ?")
		sqlArgs = append(sqlArgs, args.Limit)
	}

	rows, err := t.query(ctx, b.String(), sqlArgs...)
	if err != nil {
		return nil, herr.Wrap("tracker.QueryCells", err)
	}
	defer rows.Close()

	var cells []*types.Cell
	for rows.Next() {
		var c types.Cell
		var issueType, status string
		var metadata sql.NullString
		var closedAt sql.NullInt64
		if err := rows.Scan(&c.ID, &c.ProjectKey, &issueType, &status, &c.Title, &c.Description, &c.Priority, &c.ParentID, &c.Assignee, &metadata, &c.CreatedAt, &c.UpdatedAt, &closedAt); err != nil {
			return nil, herr.Wrap("tracker.QueryCells", err)
		}
		c.Type = types.IssueType(issueType)
		c.Status = types.Status(status)
		if closedAt.Valid {
			c.ClosedAt = closedAt.Int64
		}
		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			_ = json.Unmarshal([]byte(metadata.String), &c.Metadata)
		}
		cells = append(cells, &c)
	}
	return cells, rows.Err()
}

// GetCell returns one cell by its exact (already-resolved) ID.
func (t *Tracker) GetCell(ctx context.Context, id string) (*types.Cell, error) {
	return scanCell(t.queryRow(ctx, cellSelectColumns+` FROM cells WHERE id = ?`, id))
}

// GetNextReadyCell returns the single highest-priority ready cell, or
// CodeNotFound if none exists.
func (t *Tracker) GetNextReadyCell(ctx context.Context) (*types.Cell, error) {
	cells, err := t.QueryCells(ctx, types.QueryCellsArgs{ProjectKey: t.projectKey, Ready: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, herr.NotFound("tracker.GetNextReadyCell", "ready cell")
	}
	return cells[0], nil
}

// GetEpicProgress reports how many of epicID's subtasks are closed, reading
// from the inline-maintained cache rather than recomputing a join
// (spec §4.5, grounded on the donor's epics.go GetEpicProgress shape).
func (t *Tracker) GetEpicProgress(ctx context.Context, epicID string) (types.EpicProgress, error) {
	p := types.EpicProgress{EpicID: epicID}
	err := t.queryRow(ctx,
		`SELECT total_children, closed_children FROM epic_eligibility_cache WHERE epic_id = ?`, epicID,
	).Scan(&p.TotalChildren, &p.ClosedChildren)
	if err == sql.ErrNoRows {
		return p, nil
	}
	if err != nil {
		return p, herr.Wrap("tracker.GetEpicProgress", err)
	}
	return p, nil
}

func (t *Tracker) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.store.Query(ctx, query, args...)
}

func (t *Tracker) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.store.QueryRow(ctx, query, args...)
}

// MarkDirty records cellID as needing a JSONL export on the next Flush.
func (t *Tracker) MarkDirty(cellID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty[cellID] = struct{}{}
	debug.Logf(debug.TagTracker, "mark dirty cell=%s project=%s", cellID, t.projectKey)
}

// DirtyCount reports how many cells are pending a Flush.
func (t *Tracker) DirtyCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dirty)
}

// flushLockTimeout bounds how long Flush waits for the JSONL write guard
// before giving up; a flush that can't get the lock this quickly almost
// certainly means another process is wedged, not merely slow.
const flushLockTimeout = 5 * time.Second

// Flush writes every dirty cell (and, for simplicity and a always-consistent
// snapshot, every other cell in the project) to path as JSONL, then clears
// the dirty set. Grounded on the donor's GetDirtyIssues/ClearDirtyIssuesByID
// pair, generalized to a full-snapshot writer since hive's JSONL file is a
// disaster-recovery snapshot, not an incremental diff feed. The write itself
// is serialized across processes via internal/lockfile, since multiple hive
// processes can share one project directory and only one may render the
// snapshot at a time (spec §13's single-writer JSONL flush guard).
func (t *Tracker) Flush(ctx context.Context, path string) error {
	t.mu.Lock()
	if len(t.dirty) == 0 {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	all, err := t.QueryCells(ctx, types.QueryCellsArgs{ProjectKey: t.projectKey})
	if err != nil {
		return err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	guard, err := lockfile.AcquireExclusive(path+".lock", flushLockTimeout)
	if err != nil {
		return herr.Wrap("tracker.Flush", err)
	}
	defer guard.Release()

	if err := jsonl.WriteCellsToFile(path, all); err != nil {
		return herr.Wrap("tracker.Flush", err)
	}

	t.mu.Lock()
	t.dirty = make(map[string]struct{})
	t.mu.Unlock()

	debug.Logf(debug.TagTracker, "flushed %d cells to %s", len(all), path)
	return nil
}
