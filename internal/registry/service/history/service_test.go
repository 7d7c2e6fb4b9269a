package history

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"hokhau/internal/registry/models"
	"hokhau/internal/registry/outbox"
	historyStore "hokhau/internal/registry/store/history"
	dErrors "hokhau/pkg/domain-errors"
)

type HistoryServiceSuite struct {
	suite.Suite
	store   *historyStore.MemoryStore
	outbox  *outbox.MemoryStore
	service *Service
}

func TestHistoryServiceSuite(t *testing.T) {
	suite.Run(t, new(HistoryServiceSuite))
}

func (s *HistoryServiceSuite) SetupTest() {
	s.store = historyStore.NewMemory()
	s.outbox = outbox.NewMemory()
	s.service = New(s.store, s.outbox)
}

func (s *HistoryServiceSuite) TestAppend() {
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	id, err := s.service.Append(ctx, "A", 1, models.ChangeRemoved, at)
	s.Require().NoError(err)

	s.Run("entry is persisted", func() {
		entries := s.store.All()
		s.Require().Len(entries, 1)
		s.Equal(id, entries[0].ID)
		s.Equal("A", entries[0].ResidentCode)
		s.Equal(int64(1), entries[0].HouseholdID)
		s.Equal(models.ChangeRemoved, entries[0].Kind)
		s.Equal(at, entries[0].OccurredAt)
	})

	s.Run("outbox event shares the entry id", func() {
		events, err := s.outbox.FetchUnpublished(ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(id, events[0].ID)
		s.Equal(outbox.EventTypeMembershipChanged, events[0].EventType)

		var payload outbox.ChangePayload
		s.Require().NoError(json.Unmarshal(events[0].Payload, &payload))
		s.Equal(id, payload.EntryID)
		s.Equal("A", payload.ResidentCode)
		s.Equal(models.ChangeRemoved, payload.Kind)
	})
}

func (s *HistoryServiceSuite) TestAppendWithoutOutbox() {
	svc := New(s.store, nil)
	_, err := svc.Append(context.Background(), "A", 1, models.ChangeAdded, time.Now())
	s.NoError(err)
	s.Len(s.store.All(), 1)
}

func (s *HistoryServiceSuite) TestQuery() {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, e := range []struct {
		code string
		hid  int64
		kind models.ChangeKind
	}{
		{"A", 1, models.ChangeRemoved},
		{"A", 2, models.ChangeAdded},
		{"B", 1, models.ChangeAdded},
	} {
		_, err := s.service.Append(ctx, e.code, e.hid, e.kind, base.Add(time.Duration(i)*time.Hour))
		s.Require().NoError(err)
	}

	s.Run("by resident, newest first", func() {
		entries, err := s.service.ByResident(ctx, "A", 0, 0)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal(models.ChangeAdded, entries[0].Kind)
		s.Equal(models.ChangeRemoved, entries[1].Kind)
	})

	s.Run("by household", func() {
		entries, err := s.service.ByHousehold(ctx, 1, 0, 0)
		s.Require().NoError(err)
		s.Len(entries, 2)
	})

	s.Run("by date range is inclusive", func() {
		entries, err := s.service.ByDateRange(ctx, base, base.Add(time.Hour), 0, 0)
		s.Require().NoError(err)
		s.Len(entries, 2)
	})

	s.Run("inverted range is rejected", func() {
		_, err := s.service.ByDateRange(ctx, base.Add(time.Hour), base, 0, 0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("limit and offset page the result", func() {
		entries, err := s.service.Query(ctx, models.HistoryFilter{Limit: 2})
		s.Require().NoError(err)
		s.Len(entries, 2)

		entries, err = s.service.Query(ctx, models.HistoryFilter{Limit: 2, Offset: 2})
		s.Require().NoError(err)
		s.Len(entries, 1)
	})
}
