package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/version"
)

var testTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testContent(appID string) ir.BlueprintContent {
	return ir.BlueprintContent{
		AppID:       appID,
		Name:        "listing",
		StateSchema: json.RawMessage(`{"type":"object"}`),
		EventSchemas: map[string]json.RawMessage{
			"SET_INFO": json.RawMessage(`{"type":"object"}`),
		},
		InitialState: ir.State{"name": "Untitled App", "status": "draft"},
		Transition:   `merge(state, event.data)`,
	}
}

// seedBlueprint inserts a builtin blueprint and returns it.
func seedBlueprint(t *testing.T, s *Store) ir.Blueprint {
	t.Helper()
	content := testContent("@builtin/test")
	hash := ir.MustContentHash(content)
	bp := ir.Blueprint{
		ID:               ir.BlueprintID(content.AppID, content.Name, hash),
		BlueprintContent: content,
		ContentHash:      hash,
		CreatorID:        "creator",
		CreatedAt:        testTime,
	}
	if _, err := s.InsertBlueprint(t.Context(), bp); err != nil {
		t.Fatalf("InsertBlueprint() failed: %v", err)
	}
	return bp
}

// seedAutomata inserts an active automata at version.Zero.
func seedAutomata(t *testing.T, s *Store, bp ir.Blueprint, id, owner string) ir.Automata {
	t.Helper()
	a := ir.Automata{
		ID:          id,
		TenantID:    "tenant",
		OwnerID:     owner,
		BlueprintID: bp.ID,
		AppID:       bp.AppID,
		State:       bp.InitialState,
		Version:     version.Zero,
		Status:      ir.StatusActive,
		CreatedAt:   testTime,
		UpdatedAt:   testTime,
	}
	if err := s.CreateAutomata(t.Context(), a); err != nil {
		t.Fatalf("CreateAutomata() failed: %v", err)
	}
	return a
}

// appendN commits n events to an automata starting at version.Zero.
// Each event sets "n" to its ordinal.
func appendN(t *testing.T, s *Store, automataID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		base := version.MustEncode(uint64(i))
		ok, err := s.AppendEvent(t.Context(), Append{
			Event: ir.Event{
				AutomataID:  automataID,
				BaseVersion: base,
				Type:        "SET_INFO",
				Data:        ir.State{"n": float64(i + 1)},
				SenderID:    "sender",
				Timestamp:   testTime,
			},
			Next:  version.MustEncode(uint64(i + 1)),
			State: ir.State{"n": float64(i + 1)},
			At:    testTime,
		})
		if err != nil {
			t.Fatalf("AppendEvent(%d) failed: %v", i, err)
		}
		if !ok {
			t.Fatalf("AppendEvent(%d) not committed", i)
		}
	}
}
