package wizard

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/logger"
)

// Keys under which the wizard keeps its progress and the participant's
// entered fields.
const (
	StateKey = "cashback_wizard_state"
	DraftKey = "cashback_wizard_draft"
)

// Storage is durable key/value storage held by the participant's client.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
	Clear() error
}

// MemoryStorage is a Storage backed by a map.
type MemoryStorage struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{m: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *MemoryStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *MemoryStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[string]string)
	return nil
}

// Save writes the state under StateKey.
func Save(st Storage, s State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := st.Set(StateKey, string(raw)); err != nil {
		return fmt.Errorf("save wizard state: %w", err)
	}
	return nil
}

// Load reads the state saved under StateKey. Missing or unreadable state
// yields a fresh state at StepIdentify.
func Load(st Storage) State {
	raw, ok := st.Get(StateKey)
	if !ok || raw == "" {
		return State{Step: StepIdentify}
	}
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil || !s.Step.valid() {
		logger.Warningf("wizard: discarding unreadable saved state: %v", err)
		return State{Step: StepIdentify}
	}
	return s
}

// ClearState removes the saved state, keeping the draft.
func ClearState(st Storage) error {
	return st.Remove(StateKey)
}

// SaveDraft writes the entered fields under DraftKey.
func SaveDraft(st Storage, d Draft) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := st.Set(DraftKey, string(raw)); err != nil {
		return fmt.Errorf("save wizard draft: %w", err)
	}
	return nil
}

// LoadDraft reads the entered fields; missing or unreadable drafts are empty.
func LoadDraft(st Storage) Draft {
	var d Draft
	if raw, ok := st.Get(DraftKey); ok {
		_ = json.Unmarshal([]byte(raw), &d)
	}
	return d
}
