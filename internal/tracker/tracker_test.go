package tracker

import (
	"testing"

	"github.com/hiveswarm/hive/internal/idgen"
	"github.com/hiveswarm/hive/internal/types"
)

func TestGenerateUniqueIDDeterministicShape(t *testing.T) {
	// generateUniqueID itself requires a live tx; this just pins down that
	// the prefix contract tracker relies on (IDPrefix, idgen.DefaultIDLength)
	// hasn't silently drifted.
	if IDPrefix != "cell" {
		t.Fatalf("expected IDPrefix %q, got %q", "cell", IDPrefix)
	}
	if idgen.DefaultIDLength != 6 {
		t.Fatalf("expected idgen.DefaultIDLength 6, got %d", idgen.DefaultIDLength)
	}
}

func TestCanTransitionGuardsChangeStatus(t *testing.T) {
	// ChangeStatus delegates validation to types.CanTransition; assert the
	// specific case tracker relies on for "closing is terminal".
	if types.CanTransition(types.StatusClosed, types.StatusOpen) {
		t.Fatal("expected closed -> open to be rejected")
	}
	if !types.CanTransition(types.StatusClosed, types.StatusClosed) {
		t.Fatal("expected closed -> closed (no-op close) to be allowed")
	}
}

func TestEpicProgressEligibility(t *testing.T) {
	p := types.EpicProgress{EpicID: "cell-abc123", TotalChildren: 2, ClosedChildren: 2}
	if !p.EligibleForClose() {
		t.Fatal("expected epic with all children closed to be eligible for close")
	}
}
