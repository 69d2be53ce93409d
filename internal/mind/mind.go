// Package mind implements the cognitive state ("market mind") store: a
// single authoritative JSON document on disk plus an append-only history
// table, with deep-merge patch semantics.
//
// Grounded directly on the Python original's mind/market_mind.py
// (_deep_merge, load, save, update) ported into Go idiom; the mutex-guarded
// file-backed pattern follows the teacher's internal/config.ConfigWatcher.
package mind

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nitinkhare/cognitivetrader/internal/storage"
)

// Document is the cognitive state's open-map shape: most keys are
// themselves maps or lists whose internal schema is loosely held, matching
// the teacher's own json.RawMessage / map[string]json.RawMessage idiom
// elsewhere (e.g. Config.BrokerConfig) for "typed shell + open map" data.
type Document map[string]any

// RequiredKeys are the top-level keys Validate checks for.
var RequiredKeys = []string{"market_beliefs", "strategy_weights", "lessons_learned", "bias_awareness"}

// Store is the single authoritative cognitive-state document, serialized by
// a mutex around Save/Update. Load takes the same mutex, so a read waits for
// an in-flight Save and a Save waits for an in-flight read.
type Store struct {
	path         string
	templatePath string
	history      storage.Store

	mu  sync.Mutex
	doc Document
}

// New builds a Store backed by docPath on disk and history in db. If
// templatePath is empty, an absent document falls back to an empty
// skeleton containing the required keys.
func New(docPath, templatePath string, history storage.Store) *Store {
	return &Store{path: docPath, templatePath: templatePath, history: history}
}

// Load reads the document from disk. If absent, it seeds from the template
// file; if the template is also absent, it seeds an empty skeleton with the
// required keys. Load never writes to disk — the seeded doc is returned but
// only persisted on the next Save/Update.
func (s *Store) Load() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err == nil {
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("mind: parse document %s: %w", s.path, err)
		}
		return doc, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("mind: read document %s: %w", s.path, err)
	}

	if s.templatePath != "" {
		data, tErr := os.ReadFile(s.templatePath)
		if tErr == nil {
			var doc Document
			if err := json.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("mind: parse template %s: %w", s.templatePath, err)
			}
			return doc, nil
		}
		if !os.IsNotExist(tErr) {
			return nil, fmt.Errorf("mind: read template %s: %w", s.templatePath, tErr)
		}
	}

	return emptySkeleton(), nil
}

func emptySkeleton() Document {
	return Document{
		"market_beliefs":   map[string]any{},
		"strategy_weights": map[string]any{},
		"lessons_learned":  []any{},
		"bias_awareness":   []any{},
		"active_watchlist": []any{},
		"user_inputs":      []any{},
		"performance_memory": map[string]any{},
		"version":          1,
	}
}

// Save overwrites the on-disk document after stamping last_updated (UTC)
// and updated_by, then appends a MindHistory row in the same logical
// operation — the pre-image (read just before the write, under the lock)
// and the post-image agree at rest with the disk document.
func (s *Store) Save(ctx context.Context, doc Document, changedBy, summary string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.loadLocked()
	if err != nil {
		return nil, err
	}

	stamped := cloneDoc(doc)
	stamped["last_updated"] = time.Now().UTC().Format(time.RFC3339)
	stamped["updated_by"] = changedBy

	data, err := json.MarshalIndent(stamped, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mind: marshal document: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return nil, fmt.Errorf("mind: write document %s: %w", s.path, err)
	}

	if s.history != nil {
		_, err := s.history.AppendMindHistory(ctx, storage.MindHistoryRecord{
			ChangedAt:     time.Now().UTC(),
			ChangedBy:     changedBy,
			PreviousState: previous,
			NewState:      stamped,
			ChangeSummary: summary,
		})
		if err != nil {
			return nil, fmt.Errorf("mind: append history: %w", err)
		}
	}

	s.doc = stamped
	return stamped, nil
}

// Update deep-merges patch into the current document and calls Save.
func (s *Store) Update(ctx context.Context, patch Document, changedBy, summary string) (Document, error) {
	s.mu.Lock()
	current, err := s.loadLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	merged := DeepMerge(current, patch)
	return s.Save(ctx, merged, changedBy, summary)
}

// Validate returns human-readable warnings for a malformed document. It
// never raises: the result is a list of warnings, not an error.
func Validate(doc Document) []string {
	var warnings []string

	checkMap := func(key string) {
		v, ok := doc[key]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("missing required key %q", key))
			return
		}
		if _, ok := v.(map[string]any); !ok {
			warnings = append(warnings, fmt.Sprintf("key %q must be an object", key))
		}
	}
	checkList := func(key string) {
		v, ok := doc[key]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("missing required key %q", key))
			return
		}
		if _, ok := v.([]any); !ok {
			warnings = append(warnings, fmt.Sprintf("key %q must be an array", key))
		}
	}

	checkMap("market_beliefs")
	checkMap("strategy_weights")
	checkList("lessons_learned")
	checkList("bias_awareness")

	return warnings
}

// DeepMerge recursively merges patch into base: for each key, if both sides
// are maps, recurse; otherwise patch replaces base. Returns a fresh value;
// never mutates base, and merging the same patch twice is idempotent.
func DeepMerge(base, patch Document) Document {
	out := cloneDoc(base)
	for k, pv := range patch {
		bv, exists := out[k]
		if exists {
			bMap, bIsMap := asMap(bv)
			pMap, pIsMap := asMap(pv)
			if bIsMap && pIsMap {
				out[k] = Document(deepMergeValue(bMap, pMap))
				continue
			}
		}
		out[k] = cloneValue(pv)
	}
	return out
}

func deepMergeValue(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = cloneValue(v)
	}
	for k, pv := range patch {
		bv, exists := out[k]
		if exists {
			bMap, bIsMap := asMap(bv)
			pMap, pIsMap := asMap(pv)
			if bIsMap && pIsMap {
				out[k] = deepMergeValue(bMap, pMap)
				continue
			}
		}
		out[k] = cloneValue(pv)
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

func cloneDoc(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = cloneValue(vv)
		}
		return out
	case Document:
		return cloneDoc(val)
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return val
	}
}
