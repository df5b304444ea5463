package idgen

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateCellIDFormat(t *testing.T) {
	id := GenerateCellID("cell", "title", "desc", "agent-1", time.Unix(0, 0), DefaultIDLength, 0)
	if !strings.HasPrefix(id, "cell-") {
		t.Fatalf("expected cell- prefix, got %q", id)
	}
	hash := strings.TrimPrefix(id, "cell-")
	if len(hash) != DefaultIDLength {
		t.Errorf("expected hash length %d, got %d (%q)", DefaultIDLength, len(hash), hash)
	}
}

func TestGenerateCellIDDeterministic(t *testing.T) {
	ts := time.Unix(1000, 0)
	a := GenerateCellID("cell", "title", "desc", "agent-1", ts, DefaultIDLength, 0)
	b := GenerateCellID("cell", "title", "desc", "agent-1", ts, DefaultIDLength, 0)
	if a != b {
		t.Errorf("expected deterministic output for identical input, got %q vs %q", a, b)
	}
}

func TestGenerateCellIDNonceChangesOutput(t *testing.T) {
	ts := time.Unix(1000, 0)
	a := GenerateCellID("cell", "title", "desc", "agent-1", ts, DefaultIDLength, 0)
	b := GenerateCellID("cell", "title", "desc", "agent-1", ts, DefaultIDLength, 1)
	if a == b {
		t.Error("expected different nonce to change the generated ID")
	}
}

func TestEncodeBase36PadsAndTruncates(t *testing.T) {
	if got := EncodeBase36([]byte{0}, 4); got != "0000" {
		t.Errorf("expected zero padding, got %q", got)
	}
	if got := EncodeBase36([]byte{255, 255, 255, 255}, 2); len(got) != 2 {
		t.Errorf("expected truncation to length 2, got %q", got)
	}
}
