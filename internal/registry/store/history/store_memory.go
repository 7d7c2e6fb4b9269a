package history

import (
	"context"
	"sort"
	"sync"

	"hokhau/internal/registry/models"
)

// MemoryStore accumulates change entries in order of insertion.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []models.ChangeEntry
}

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry models.ChangeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter models.HistoryFilter) ([]models.ChangeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.ChangeEntry
	for _, e := range s.entries {
		if filter.ResidentCode != "" && e.ResidentCode != filter.ResidentCode {
			continue
		}
		if filter.HouseholdID != 0 && e.HouseholdID != filter.HouseholdID {
			continue
		}
		if filter.From != nil && e.OccurredAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.OccurredAt.After(*filter.To) {
			continue
		}
		matched = append(matched, e)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// All returns every entry in insertion order. Test helper.
func (s *MemoryStore) All() []models.ChangeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChangeEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *MemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]models.ChangeEntry, len(s.entries))
	copy(copied, s.entries)
	return copied
}

func (s *MemoryStore) Restore(snapshot any) {
	snap, ok := snapshot.([]models.ChangeEntry)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = snap
}
