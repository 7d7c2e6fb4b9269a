package membership

import (
	"context"
	"sort"
	"sync"

	"hokhau/internal/registry/models"
	"hokhau/internal/registry/store"
)

// MemoryStore keeps memberships keyed by resident code.
type MemoryStore struct {
	mu     sync.RWMutex
	byCode map[string]models.Membership
}

func NewMemory() *MemoryStore {
	return &MemoryStore{byCode: make(map[string]models.Membership)}
}

func (s *MemoryStore) Insert(_ context.Context, m models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCode[m.ResidentCode]; ok {
		return store.ErrDuplicate
	}
	s.byCode[m.ResidentCode] = m
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, residentCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCode[residentCode]; !ok {
		return store.ErrNotFound
	}
	delete(s.byCode, residentCode)
	return nil
}

func (s *MemoryStore) GetByResident(_ context.Context, residentCode string) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byCode[residentCode]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := m
	return &out, nil
}

func (s *MemoryStore) ListByHousehold(_ context.Context, householdID int64) ([]models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var members []models.Membership
	for _, m := range s.byCode {
		if m.HouseholdID == householdID {
			members = append(members, m)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedOn.Equal(members[j].JoinedOn) {
			return members[i].JoinedOn.Before(members[j].JoinedOn)
		}
		return members[i].ResidentCode < members[j].ResidentCode
	})
	return members, nil
}

func (s *MemoryStore) CountByHousehold(_ context.Context, householdID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.byCode {
		if m.HouseholdID == householdID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) UpdateRelationship(_ context.Context, residentCode, relationship string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byCode[residentCode]
	if !ok {
		return store.ErrNotFound
	}
	m.Relationship = relationship
	s.byCode[residentCode] = m
	return nil
}

func (s *MemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make(map[string]models.Membership, len(s.byCode))
	for code, m := range s.byCode {
		copied[code] = m
	}
	return copied
}

func (s *MemoryStore) Restore(snapshot any) {
	snap, ok := snapshot.(map[string]models.Membership)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCode = snap
}
