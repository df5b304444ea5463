// Package migrations runs hive's post-schema, idempotent table/column/index
// additions. Grounded on the donor's internal/storage/dolt/migrations.go
// RunMigrations/tableExists idiom: each migration checks whether its change
// is already present before applying it, so re-running Run against an
// up-to-date database is a no-op.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Migration is one named, idempotent schema change.
type Migration struct {
	Name string
	Func func(context.Context, *sql.DB) error
}

// all is the ordered list of migrations applied after the base schema.
var all = []Migration{
	{"cell_eligibility_cache", migrateCellEligibilityCache},
}

// Run executes every migration in order. A failing migration aborts the
// whole run; migrations before it have already taken effect (they are each
// individually idempotent, so re-running Run after fixing the cause is
// safe).
func Run(ctx context.Context, db *sql.DB) error {
	for _, m := range all {
		if err := m.Func(ctx, db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?
	`, table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return count > 0, nil
}

// migrateCellEligibilityCache creates a cache table recording which epics
// have every subtask closed, avoiding a join-heavy recompute on every
// epic-status query (spec §4.5 "epic progress"). Mirrors the donor's
// blocked_issues_cache migration.
func migrateCellEligibilityCache(ctx context.Context, db *sql.DB) error {
	exists, err := tableExists(ctx, db, "epic_eligibility_cache")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.ExecContext(ctx, `
		CREATE TABLE epic_eligibility_cache (
			epic_id VARCHAR(64) PRIMARY KEY,
			total_children INT NOT NULL DEFAULT 0,
			closed_children INT NOT NULL DEFAULT 0,
			CONSTRAINT fk_epic_cache FOREIGN KEY (epic_id) REFERENCES cells(id) ON DELETE CASCADE
		)
	`)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return nil
	}
	return err
}
