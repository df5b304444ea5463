package eventstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/hiveswarm/hive/internal/types"
)

// recordingQueryable captures the query and args passed to QueryContext
// without running against a real database, so Read's SQL-building logic can
// be exercised independent of any driver.
type recordingQueryable struct {
	query string
	args  []any
}

func (r *recordingQueryable) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	r.query = query
	r.args = args
	return nil, errStop
}

func (r *recordingQueryable) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

var errStop = &stopError{}

type stopError struct{}

func (*stopError) Error() string { return "stop: test probe, not a real failure" }

func TestReadBuildsFilterClauses(t *testing.T) {
	q := &recordingQueryable{}
	_, _ = Read(context.Background(), q, types.ReadFilter{
		ProjectKey:    "proj",
		AfterSequence: 5,
		Since:         100,
		Until:         200,
		Types:         []types.EventType{types.EventCellCreated, types.EventCellClosed},
		Limit:         10,
		Offset:        20,
	})

	wantArgs := []any{"proj", int64(5), int64(100), int64(200), "cell_created", "cell_closed", 10, 20}
	if len(q.args) != len(wantArgs) {
		t.Fatalf("expected %d args, got %d: %v", len(wantArgs), len(q.args), q.args)
	}
	for i, a := range wantArgs {
		if q.args[i] != a {
			t.Errorf("arg[%d] = %v, want %v", i, q.args[i], a)
		}
	}

	for _, want := range []string{"sequence > ?", "timestamp >= ?", "timestamp <= ?", "type IN (?,?)", "LIMIT ?", "OFFSET ?"} {
		if !contains(q.query, want) {
			t.Errorf("query %q missing clause %q", q.query, want)
		}
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
