// Package migrate handles hive's one-time legacy-directory migration
// (spec §6, §13): renaming a project's ".beads" directory to ".hive", then
// merging and importing its JSONL snapshot(s) into the database. Grounded
// on the donor's cmd/bd/migrate.go command shape and internal/importer's
// Result-with-counters upsert pattern (importer.go's ImportIssues), scaled
// down from the donor's full collision/dependency/label import pipeline to
// the single merge-by-id + cells-only import spec §6 actually calls for.
package migrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hiveswarm/hive/internal/jsonl"
	"github.com/hiveswarm/hive/internal/storage"
	"github.com/hiveswarm/hive/internal/types"
)

const (
	legacyDirName = ".beads"
	hiveDirName   = ".hive"

	// legacyIssuesFile is the donor's per-commit working JSONL snapshot,
	// carried over unrenamed inside the migrated .hive directory.
	legacyIssuesFile = "issues.jsonl"
	// legacyBaseFile is the donor's merge-base snapshot, used only to seed
	// records that issues.jsonl doesn't already have.
	legacyBaseFile = "beads.base.jsonl"
)

// Result reports what NeedsMigration/RenameLegacyDir/MergeAndImport did.
type Result struct {
	Renamed bool
	Merged  int // records present in the legacy JSONL snapshot(s) after merge
	Created int // cells inserted that did not already exist in the database
	Updated int // existing cells overwritten in place, whether or not any field differed
}

// NeedsMigration reports whether projectRoot has a legacy ".beads"
// directory but no ".hive" directory yet — the only case spec §6's
// directory rename applies to. A project with both (or neither) is left
// alone: "both" means a previous migration already ran or the user has
// manually straddled both layouts, and this package does not try to guess
// which one wins.
func NeedsMigration(projectRoot string) bool {
	legacy := filepath.Join(projectRoot, legacyDirName)
	hive := filepath.Join(projectRoot, hiveDirName)
	if _, err := os.Stat(hive); err == nil {
		return false
	}
	info, err := os.Stat(legacy)
	return err == nil && info.IsDir()
}

// RenameLegacyDir renames projectRoot/.beads to projectRoot/.hive. Callers
// must have already checked NeedsMigration; RenameLegacyDir itself doesn't
// re-check so that it stays a plain, testable rename.
func RenameLegacyDir(projectRoot string) (string, error) {
	legacy := filepath.Join(projectRoot, legacyDirName)
	hive := filepath.Join(projectRoot, hiveDirName)
	if err := os.Rename(legacy, hive); err != nil {
		return "", fmt.Errorf("migrate: rename %s to %s: %w", legacy, hive, err)
	}
	return hive, nil
}

// mergeLegacyJSONL reads hiveDir's legacy issues.jsonl and beads.base.jsonl
// (either or both may be absent) and merges them by ID. issues.jsonl wins
// on conflict, per spec §13's Open Question decision
// ("`.beads/issues.jsonl` wins over `beads.base.jsonl` on conflict ...
// implemented as stated, unconditionally"). Records present only in the
// base file are carried through unchanged.
func mergeLegacyJSONL(hiveDir string) ([]*types.Cell, error) {
	base, err := readOptional(filepath.Join(hiveDir, legacyBaseFile))
	if err != nil {
		return nil, err
	}
	issues, err := readOptional(filepath.Join(hiveDir, legacyIssuesFile))
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*types.Cell, len(base)+len(issues))
	for _, c := range base {
		merged[c.ID] = c
	}
	for _, c := range issues {
		merged[c.ID] = c // issues.jsonl wins unconditionally
	}

	out := make([]*types.Cell, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	return out, nil
}

func readOptional(path string) ([]*types.Cell, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("migrate: stat %s: %w", path, err)
	}
	cells, err := jsonl.ReadCellsFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("migrate: read %s: %w", path, err)
	}
	return cells, nil
}

// normalize applies spec §3/§6's import-time field rules: a "tombstone"
// status (an on-disk-only concept, never a live cell status) normalizes to
// "closed", and a closed/tombstone record missing closed_at falls back to
// updated_at so the status/closed_at constraint (closed implies non-null
// closed_at) always holds after import.
func normalize(c *types.Cell) {
	if c.Status == types.StatusTombstone {
		c.Status = types.StatusClosed
	}
	if c.Status == types.StatusClosed && c.ClosedAt == 0 {
		c.ClosedAt = c.UpdatedAt
	}
}

// ImportCells upserts cells into the database: a cell whose ID doesn't
// exist yet is inserted as-is, one whose ID already exists has its mutable
// fields updated in place. This runs as a direct bulk path rather than a
// replay of per-record create/status-change events, mirroring the donor's
// own ImportIssues being a separate bulk-upsert pipeline outside bd's
// normal single-issue CreateIssue flow — hive's equivalent is bypassing
// internal/tracker's per-event CreateCell/ChangeStatus path for the same
// reason: importing thousands of legacy records one event at a time would
// bloat the event log with replayed history that never happened through
// hive itself. The import is still one atomic transaction per batch.
func ImportCells(ctx context.Context, store storage.Store, projectKey string, cells []*types.Cell) (*Result, error) {
	result := &Result{Merged: len(cells)}

	for _, c := range cells {
		normalize(c)
		c.ProjectKey = projectKey
	}

	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, c := range cells {
			var dummy int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM cells WHERE id = ?`, c.ID).Scan(&dummy)
			switch {
			case err == sql.ErrNoRows:
				if insertErr := insertCellTx(ctx, tx, c); insertErr != nil {
					return insertErr
				}
				result.Created++
			case err == nil:
				if updateErr := updateCellTx(ctx, tx, c); updateErr != nil {
					return updateErr
				}
				result.Updated++
			default:
				return fmt.Errorf("migrate: check existing cell %s: %w", c.ID, err)
			}
			for _, dep := range c.Dependencies {
				if _, err := tx.ExecContext(ctx,
					`INSERT IGNORE INTO cell_dependencies (cell_id, depends_on_id) VALUES (?, ?)`,
					c.ID, dep); err != nil {
					return fmt.Errorf("migrate: insert dependency %s -> %s: %w", c.ID, dep, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("migrate: import cells: %w", err)
	}
	return result, nil
}

func insertCellTx(ctx context.Context, tx *sql.Tx, c *types.Cell) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("migrate: encode metadata for %s: %w", c.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cells (id, project_key, issue_type, status, title, description, priority, parent_id, assignee, metadata, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ProjectKey, string(c.Type), string(c.Status), c.Title, c.Description, c.Priority, c.ParentID, c.Assignee, metadata, c.CreatedAt, c.UpdatedAt, c.ClosedAt)
	if err != nil {
		return fmt.Errorf("migrate: insert cell %s: %w", c.ID, err)
	}
	return nil
}

func updateCellTx(ctx context.Context, tx *sql.Tx, c *types.Cell) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("migrate: encode metadata for %s: %w", c.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE cells SET issue_type = ?, status = ?, title = ?, description = ?, priority = ?,
			parent_id = ?, assignee = ?, metadata = ?, updated_at = ?, closed_at = ?
		WHERE id = ?
	`, string(c.Type), string(c.Status), c.Title, c.Description, c.Priority, c.ParentID, c.Assignee, metadata, c.UpdatedAt, c.ClosedAt, c.ID)
	if err != nil {
		return fmt.Errorf("migrate: update cell %s: %w", c.ID, err)
	}
	return nil
}

// MergeAndImport is the full spec §6 migration path: read + merge the
// legacy JSONL snapshot(s) under hiveDir, import the result into the
// database, then replace the legacy files with hive's own canonical
// cells.jsonl snapshot so future flushes have one file to write, not two.
func MergeAndImport(ctx context.Context, store storage.Store, projectKey, hiveDir string) (*Result, error) {
	cells, err := mergeLegacyJSONL(hiveDir)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return &Result{}, nil
	}

	result, err := ImportCells(ctx, store, projectKey, cells)
	if err != nil {
		return nil, err
	}

	if err := jsonl.WriteCellsToFile(filepath.Join(hiveDir, "cells.jsonl"), cells); err != nil {
		return result, fmt.Errorf("migrate: write merged snapshot: %w", err)
	}
	for _, legacy := range []string{legacyIssuesFile, legacyBaseFile} {
		path := filepath.Join(hiveDir, legacy)
		if _, statErr := os.Stat(path); statErr == nil {
			if rmErr := os.Remove(path); rmErr != nil {
				return result, fmt.Errorf("migrate: remove legacy file %s: %w", path, rmErr)
			}
		}
	}
	return result, nil
}

// Migrate runs the full legacy-directory migration for projectRoot: rename
// ".beads" to ".hive" if needed, then merge and import whatever legacy
// JSONL snapshot(s) are present. A project that's already on ".hive" with
// no legacy files is a no-op success (zero-valued Result), matching spec
// §4.2's "best-effort, log and continue" framing for non-core auto-import
// concerns rather than treating "nothing to migrate" as an error.
func Migrate(ctx context.Context, store storage.Store, projectKey, projectRoot string) (*Result, error) {
	hiveDir := filepath.Join(projectRoot, hiveDirName)
	result := &Result{}

	if NeedsMigration(projectRoot) {
		renamed, err := RenameLegacyDir(projectRoot)
		if err != nil {
			return nil, err
		}
		hiveDir = renamed
		result.Renamed = true
	}

	if _, err := os.Stat(hiveDir); err != nil {
		return result, nil
	}

	merged, err := MergeAndImport(ctx, store, projectKey, hiveDir)
	if err != nil {
		return result, err
	}
	result.Merged = merged.Merged
	result.Created = merged.Created
	result.Updated = merged.Updated
	return result, nil
}
