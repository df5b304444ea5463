package migrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hiveswarm/hive/internal/jsonl"
	"github.com/hiveswarm/hive/internal/types"
)

func TestNeedsMigrationTrueOnlyWhenBeadsExistsAndHiveDoesNot(t *testing.T) {
	root := t.TempDir()
	if NeedsMigration(root) {
		t.Fatalf("expected false when neither directory exists")
	}

	beadsDir := filepath.Join(root, legacyDirName)
	if err := os.Mkdir(beadsDir, 0o750); err != nil {
		t.Fatalf("mkdir .beads: %v", err)
	}
	if !NeedsMigration(root) {
		t.Fatalf("expected true once .beads exists and .hive does not")
	}

	hiveDir := filepath.Join(root, hiveDirName)
	if err := os.Mkdir(hiveDir, 0o750); err != nil {
		t.Fatalf("mkdir .hive: %v", err)
	}
	if NeedsMigration(root) {
		t.Fatalf("expected false once .hive already exists")
	}
}

func TestRenameLegacyDirMovesDirectoryContents(t *testing.T) {
	root := t.TempDir()
	beadsDir := filepath.Join(root, legacyDirName)
	if err := os.Mkdir(beadsDir, 0o750); err != nil {
		t.Fatalf("mkdir .beads: %v", err)
	}
	marker := filepath.Join(beadsDir, legacyIssuesFile)
	if err := os.WriteFile(marker, []byte(`{"id":"x-1"}`+"\n"), 0o600); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	hiveDir, err := RenameLegacyDir(root)
	if err != nil {
		t.Fatalf("RenameLegacyDir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(hiveDir, legacyIssuesFile)); err != nil {
		t.Fatalf("expected renamed file to carry over: %v", err)
	}
	if _, err := os.Stat(beadsDir); !os.IsNotExist(err) {
		t.Fatalf("expected .beads to no longer exist, got err=%v", err)
	}
}

func TestMergeLegacyJSONLIssuesWinsOverBase(t *testing.T) {
	hiveDir := t.TempDir()

	base := []*types.Cell{
		{ID: "cell-aaa111", Title: "from base", Status: types.StatusOpen, UpdatedAt: 1},
		{ID: "cell-bbb222", Title: "base only", Status: types.StatusOpen, UpdatedAt: 1},
	}
	issues := []*types.Cell{
		{ID: "cell-aaa111", Title: "from issues (wins)", Status: types.StatusClosed, UpdatedAt: 2},
	}

	if err := jsonl.WriteCellsToFile(filepath.Join(hiveDir, legacyBaseFile), base); err != nil {
		t.Fatalf("write base: %v", err)
	}
	if err := jsonl.WriteCellsToFile(filepath.Join(hiveDir, legacyIssuesFile), issues); err != nil {
		t.Fatalf("write issues: %v", err)
	}

	merged, err := mergeLegacyJSONL(hiveDir)
	if err != nil {
		t.Fatalf("mergeLegacyJSONL: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged records, got %d", len(merged))
	}

	byID := make(map[string]*types.Cell, len(merged))
	for _, c := range merged {
		byID[c.ID] = c
	}
	if got := byID["cell-aaa111"].Title; got != "from issues (wins)" {
		t.Fatalf("expected issues.jsonl to win conflict, got title %q", got)
	}
	if byID["cell-bbb222"] == nil {
		t.Fatalf("expected base-only record to survive the merge")
	}
}

func TestMergeLegacyJSONLToleratesMissingFiles(t *testing.T) {
	hiveDir := t.TempDir()
	merged, err := mergeLegacyJSONL(hiveDir)
	if err != nil {
		t.Fatalf("mergeLegacyJSONL on empty dir: %v", err)
	}
	if len(merged) != 0 {
		t.Fatalf("expected no records, got %d", len(merged))
	}
}

func TestNormalizeTombstoneBecomesClosedWithFallbackClosedAt(t *testing.T) {
	c := &types.Cell{ID: "cell-ccc333", Status: types.StatusTombstone, UpdatedAt: 42}
	normalize(c)
	if c.Status != types.StatusClosed {
		t.Fatalf("expected tombstone to normalize to closed, got %s", c.Status)
	}
	if c.ClosedAt != 42 {
		t.Fatalf("expected closed_at to fall back to updated_at (42), got %d", c.ClosedAt)
	}
}

func TestNormalizeLeavesExplicitClosedAtAlone(t *testing.T) {
	c := &types.Cell{ID: "cell-ddd444", Status: types.StatusClosed, UpdatedAt: 42, ClosedAt: 10}
	normalize(c)
	if c.ClosedAt != 10 {
		t.Fatalf("expected explicit closed_at to be preserved, got %d", c.ClosedAt)
	}
}
