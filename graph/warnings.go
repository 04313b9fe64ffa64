package graph

import (
	"encoding/json"
	"sort"
	"sync"
)

// WarningKeyViewer marks warnings raised by a running viewer. They are
// dropped whenever a viewer (re)registers.
const WarningKeyViewer = "from-viewer"

// WarningRef addresses one warning slot.
type WarningRef struct {
	Component string
	NodeID    string
	Key       string
}

// Warning is a stored warning with its slot.
type Warning struct {
	Ref     WarningRef
	Payload json.RawMessage
}

// WarningStore keeps warnings keyed by component, node and key.
type WarningStore struct {
	mu       sync.RWMutex
	warnings map[WarningRef]json.RawMessage
}

// NewWarningStore creates an empty store.
func NewWarningStore() *WarningStore {
	return &WarningStore{warnings: make(map[WarningRef]json.RawMessage)}
}

// SetWarning stores payload under ref.
func (s *WarningStore) SetWarning(ref WarningRef, payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings[ref] = payload
}

// ClearWarning removes the warning under ref.
func (s *WarningStore) ClearWarning(ref WarningRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.warnings[ref]; !ok {
		return false
	}
	delete(s.warnings, ref)
	return true
}

// ClearWarningsWithKey removes every warning stored under key.
func (s *WarningStore) ClearWarningsWithKey(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for ref := range s.warnings {
		if ref.Key == key {
			delete(s.warnings, ref)
			removed++
		}
	}
	return removed
}

// Warnings lists stored warnings ordered by component, node, key.
func (s *WarningStore) Warnings() []Warning {
	s.mu.RLock()
	out := make([]Warning, 0, len(s.warnings))
	for ref, payload := range s.warnings {
		out = append(out, Warning{Ref: ref, Payload: payload})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Ref, out[j].Ref
		if a.Component != b.Component {
			return a.Component < b.Component
		}
		if a.NodeID != b.NodeID {
			return a.NodeID < b.NodeID
		}
		return a.Key < b.Key
	})
	return out
}
