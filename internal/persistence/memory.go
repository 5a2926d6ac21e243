package persistence

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/inkroom/internal/drawing"
)

// MemoryStore keeps encoded snapshots in process memory. Rooms evicted from
// the registry are restored from it for the lifetime of the process.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string][]byte
	saves     map[string]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]byte),
		saves:     make(map[string]int),
	}
}

// Load returns the stored snapshot for roomID.
func (s *MemoryStore) Load(ctx context.Context, roomID string) (drawing.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return drawing.Snapshot{}, false, err
	}
	s.mu.Lock()
	payload, ok := s.snapshots[roomID]
	s.mu.Unlock()
	if !ok {
		return drawing.Snapshot{}, false, nil
	}
	snapshot, err := decodeSnapshot(payload)
	if err != nil {
		return drawing.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// Save replaces the stored snapshot for roomID.
func (s *MemoryStore) Save(ctx context.Context, roomID string, snapshot drawing.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snapshots[roomID] = payload
	s.saves[roomID]++
	s.mu.Unlock()
	return nil
}

// SaveCount returns how many times roomID has been saved.
func (s *MemoryStore) SaveCount(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[roomID]
}
