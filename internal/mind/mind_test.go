package mind

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDeepMerge_RecursesOnMapsOnly(t *testing.T) {
	base := Document{
		"market_beliefs": map[string]any{
			"regime":     "bullish",
			"confidence": 0.7,
		},
		"lessons_learned": []any{"lesson1"},
	}
	patch := Document{
		"market_beliefs": map[string]any{
			"regime": "ranging",
		},
	}

	merged := DeepMerge(base, patch)

	beliefs := merged["market_beliefs"].(map[string]any)
	if beliefs["regime"] != "ranging" {
		t.Errorf("expected patched regime=ranging, got %v", beliefs["regime"])
	}
	if beliefs["confidence"] != 0.7 {
		t.Errorf("expected untouched confidence=0.7 to survive merge, got %v", beliefs["confidence"])
	}

	if base["market_beliefs"].(map[string]any)["regime"] != "bullish" {
		t.Error("DeepMerge must not mutate base")
	}
}

func TestDeepMerge_NonMapConflictPatchWins(t *testing.T) {
	base := Document{"active_watchlist": []any{"BTCUSDT"}}
	patch := Document{"active_watchlist": []any{"ETHUSDT", "SOLUSDT"}}

	merged := DeepMerge(base, patch)
	list := merged["active_watchlist"].([]any)
	if len(list) != 2 || list[0] != "ETHUSDT" {
		t.Errorf("expected patch list to replace base list wholesale, got %v", list)
	}
}

func TestDeepMerge_IdempotentInPatch(t *testing.T) {
	base := Document{"market_beliefs": map[string]any{"regime": "bullish"}}
	patch := Document{"market_beliefs": map[string]any{"regime": "ranging"}}

	once := DeepMerge(base, patch)
	twice := DeepMerge(once, patch)

	onceJSON := mustJSON(t, once)
	twiceJSON := mustJSON(t, twice)
	if onceJSON != twiceJSON {
		t.Errorf("merge(merge(base,patch),patch) != merge(base,patch):\n%s\nvs\n%s", onceJSON, twiceJSON)
	}
}

func TestValidate_FlagsMissingKeys(t *testing.T) {
	warnings := Validate(Document{})
	if len(warnings) != len(RequiredKeys) {
		t.Errorf("expected %d warnings for an empty doc, got %d: %v", len(RequiredKeys), len(warnings), warnings)
	}
}

func TestValidate_PassesWellFormedDoc(t *testing.T) {
	doc := Document{
		"market_beliefs":   map[string]any{},
		"strategy_weights": map[string]any{},
		"lessons_learned":  []any{},
		"bias_awareness":   []any{},
	}
	if warnings := Validate(doc); len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
}

func TestLoad_SeedsEmptySkeletonWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "mind.json"), "", nil)

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if warnings := Validate(doc); len(warnings) != 0 {
		t.Errorf("seeded skeleton should validate cleanly, got warnings: %v", warnings)
	}
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mind.json")
	s := New(path, "", nil)

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	doc["market_beliefs"] = map[string]any{"regime": "ranging"}

	saved, err := s.Save(context.Background(), doc, "tester", "set regime to ranging")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved["updated_by"] != "tester" {
		t.Errorf("expected updated_by stamped, got %v", saved["updated_by"])
	}

	reloaded, err := s.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if mustJSON(t, reloaded) != mustJSON(t, saved) {
		t.Error("load() after save() must equal the saved document")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected document file to exist: %v", err)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}
