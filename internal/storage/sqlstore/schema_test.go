package sqlstore

import "testing"

func TestSplitStatementsIgnoresSemicolonsInStrings(t *testing.T) {
	script := "INSERT INTO t (v) VALUES ('a;b'); INSERT INTO t (v) VALUES ('c');"
	got := splitStatements(script)
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %v", len(got), got)
	}
}

func TestSplitStatementsTrailingStatementWithoutSemicolon(t *testing.T) {
	script := "CREATE TABLE t (id INT); SELECT 1"
	got := splitStatements(script)
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %v", len(got), got)
	}
}

func TestIsOnlyComments(t *testing.T) {
	cases := []struct {
		stmt string
		want bool
	}{
		{"-- a comment\n-- another", true},
		{"-- comment\nSELECT 1", false},
		{"", true},
		{"   ", true},
	}
	for _, tt := range cases {
		if got := isOnlyComments(tt.stmt); got != tt.want {
			t.Errorf("isOnlyComments(%q) = %v, want %v", tt.stmt, got, tt.want)
		}
	}
}

func TestTruncateForError(t *testing.T) {
	long := make([]byte, 250)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateForError(string(long))
	if len(got) <= 200 {
		t.Errorf("expected truncation marker appended, got len %d", len(got))
	}
}
