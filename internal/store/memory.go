package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zhouzirui/storyline/internal/model/session"
)

// MemoryStore implements Repository with an in-process map. Values are kept
// JSON-encoded so it behaves like the SQLite store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (s *MemoryStore) LoadSession(_ context.Context) (*session.Snapshot, error) {
	s.mu.RLock()
	raw, ok := s.items[SessionKey]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeSnapshot(raw)
}

func (s *MemoryStore) SaveSession(_ context.Context, snap session.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	s.mu.Lock()
	s.items[SessionKey] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ClearSession(_ context.Context) error {
	s.mu.Lock()
	delete(s.items, SessionKey)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func decodeSnapshot(raw []byte) (*session.Snapshot, error) {
	var snap session.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if !snap.Phase.Valid() {
		return nil, fmt.Errorf("%w: unknown phase %q", ErrCorruptRecord, snap.Phase)
	}
	return &snap, nil
}
