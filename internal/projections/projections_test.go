package projections

import (
	"testing"

	"github.com/hiveswarm/hive/internal/types"
)

func TestAggregateOutcomes(t *testing.T) {
	outcomes := []types.EvalOutcome{
		{SubtaskID: "a", Success: true, DurationMs: 100},
		{SubtaskID: "b", Success: false, DurationMs: 50, Error: "boom"},
		{SubtaskID: "c", Success: true, DurationMs: 25},
	}
	success, failure, total, lastErr := aggregateOutcomes(outcomes)
	if success != 2 {
		t.Errorf("success = %d, want 2", success)
	}
	if failure != 1 {
		t.Errorf("failure = %d, want 1", failure)
	}
	if total != 175 {
		t.Errorf("total = %d, want 175", total)
	}
	if lastErr != "boom" {
		t.Errorf("lastErr = %q, want %q", lastErr, "boom")
	}
}

func TestAggregateOutcomesEmpty(t *testing.T) {
	success, failure, total, lastErr := aggregateOutcomes(nil)
	if success != 0 || failure != 0 || total != 0 || lastErr != "" {
		t.Errorf("expected zero values, got (%d, %d, %d, %q)", success, failure, total, lastErr)
	}
}
