package household

import (
	"context"
	"sync"

	"hokhau/internal/registry/models"
	"hokhau/internal/registry/store"
)

// MemoryStore keeps households in a map. It favors clarity over performance
// and backs the unit tests.
type MemoryStore struct {
	mu         sync.RWMutex
	households map[int64]models.Household
	nextID     int64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{households: make(map[int64]models.Household), nextID: 1}
}

func (s *MemoryStore) Create(_ context.Context, h *models.Household) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	row := *h
	row.ID = id
	if h.HeadCode != nil {
		code := *h.HeadCode
		row.HeadCode = &code
	}
	s.households[id] = row
	return id, nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*models.Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.households[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := h
	if h.HeadCode != nil {
		code := *h.HeadCode
		out.HeadCode = &code
	}
	return &out, nil
}

func (s *MemoryStore) SetHead(_ context.Context, id int64, headCode *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.households[id]
	if !ok {
		return store.ErrNotFound
	}
	if headCode == nil {
		h.HeadCode = nil
	} else {
		code := *headCode
		h.HeadCode = &code
	}
	s.households[id] = h
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.households[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.households, id)
	return nil
}

// LockForUpdate only checks existence here; the memory transaction runner
// already serializes units of work.
func (s *MemoryStore) LockForUpdate(_ context.Context, id int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.households[id]; !ok {
		return store.ErrNotFound
	}
	return nil
}

// Snapshot and Restore let the memory transaction runner roll back failed
// units of work.
func (s *MemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make(map[int64]models.Household, len(s.households))
	for id, h := range s.households {
		row := h
		if h.HeadCode != nil {
			code := *h.HeadCode
			row.HeadCode = &code
		}
		copied[id] = row
	}
	return memorySnapshot{households: copied, nextID: s.nextID}
}

func (s *MemoryStore) Restore(snapshot any) {
	snap, ok := snapshot.(memorySnapshot)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.households = snap.households
	s.nextID = snap.nextID
}

type memorySnapshot struct {
	households map[int64]models.Household
	nextID     int64
}
