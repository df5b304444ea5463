package stream

import (
	"net/http/httptest"
	"testing"

	"github.com/hiveswarm/hive/internal/types"
)

func TestParseStreamQueryDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/streams/p1", nil)
	offset, limit, live, err := parseStreamQuery(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if offset != 0 || limit != defaultLimit || live != false {
		t.Errorf("got offset=%d limit=%d live=%v, want 0,%d,false", offset, limit, live, defaultLimit)
	}
}

func TestParseStreamQueryNegativeOffsetIsError(t *testing.T) {
	r := httptest.NewRequest("GET", "/streams/p1?offset=-1", nil)
	if _, _, _, err := parseStreamQuery(r); err == nil {
		t.Fatal("expected an error for negative offset")
	}
}

func TestParseStreamQueryMalformedOffsetIsError(t *testing.T) {
	r := httptest.NewRequest("GET", "/streams/p1?offset=abc", nil)
	if _, _, _, err := parseStreamQuery(r); err == nil {
		t.Fatal("expected an error for non-numeric offset")
	}
}

func TestParseStreamQueryLiveAndLimit(t *testing.T) {
	r := httptest.NewRequest("GET", "/streams/p1?offset=7&live=true&limit=50", nil)
	offset, limit, live, err := parseStreamQuery(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if offset != 7 || limit != 50 || !live {
		t.Errorf("got offset=%d limit=%d live=%v, want 7,50,true", offset, limit, live)
	}
}

func TestWireEventJSONFlattensPayload(t *testing.T) {
	ev := types.Event{
		ID:         42,
		Type:       types.EventCellCreated,
		ProjectKey: "proj-a",
		Timestamp:  1000,
		Sequence:   5,
		Data:       []byte(`{"cell_id":"cell-abc123"}`),
	}
	raw, err := wireEventJSON(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := string(raw)
	for _, want := range []string{`"sequence":5`, `"project_key":"proj-a"`, `"cell_id":"cell-abc123"`, `"type":"cell_created"`} {
		if !contains(body, want) {
			t.Errorf("expected wire JSON to contain %q, got %s", want, body)
		}
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
