package reservation

import (
	"errors"
	"testing"

	"github.com/hiveswarm/hive/internal/herr"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"src/*.go", "src/main.go", true},
		{"src/*.go", "src/pkg/main.go", false},
		{"src/**", "src/pkg/main.go", true},
		{"src/**", "src", true},
		{"src/**", "other/main.go", false},
		{"*.md", "README.md", true},
		{"*.md", "docs/README.md", false},
	}
	for _, tt := range cases {
		if got := matches(tt.pattern, tt.path); got != tt.want {
			t.Errorf("matches(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestFindConflict(t *testing.T) {
	active := []activeReservation{
		{id: 1, agent: "agent-a", path: "src/**"},
		{id: 2, agent: "agent-b", path: "*.md"},
	}

	conflict, holder, pattern := findConflict(active, "src/main.go", "agent-c")
	if !conflict || holder != "agent-a" || pattern != "src/**" {
		t.Errorf("expected conflict with agent-a/src/**, got conflict=%v holder=%q pattern=%q", conflict, holder, pattern)
	}

	conflict, _, _ = findConflict(active, "src/main.go", "agent-a")
	if conflict {
		t.Error("expected no self-conflict for the existing holder")
	}

	conflict, _, _ = findConflict(active, "other.txt", "agent-c")
	if conflict {
		t.Error("expected no conflict for an unmatched path")
	}
}

func TestIsCASConflict(t *testing.T) {
	if isCASConflict(nil) {
		t.Error("nil error must not be a CAS conflict")
	}
	if !isCASConflict(herr.New(herr.CodeLockContention, "test", "cas version conflict", nil)) {
		t.Error("CodeLockContention must be a CAS conflict")
	}
	if !isCASConflict(errors.New("dolt: database is locked")) {
		t.Error("a \"database is locked\" driver error must be a CAS conflict")
	}
	if !isCASConflict(errors.New("write conflict during transaction commit")) {
		t.Error("a write-conflict driver error must be a CAS conflict")
	}
	if isCASConflict(herr.New(herr.CodeValidation, "test", "unrelated", nil)) {
		t.Error("an unrelated herr code must not be a CAS conflict")
	}
}
