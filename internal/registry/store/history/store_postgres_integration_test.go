//go:build integration

package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"hokhau/internal/registry/models"
	"hokhau/internal/registry/store/history"
	"hokhau/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *history.PostgresStore

	base time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = history.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "change_history"))

	s.base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := []models.ChangeEntry{
		{ID: uuid.New(), ResidentCode: "100", HouseholdID: 1, Kind: models.ChangeRemoved, OccurredAt: s.base},
		{ID: uuid.New(), ResidentCode: "100", HouseholdID: 2, Kind: models.ChangeAdded, OccurredAt: s.base.Add(time.Hour)},
		{ID: uuid.New(), ResidentCode: "200", HouseholdID: 1, Kind: models.ChangeAdded, OccurredAt: s.base.Add(2 * time.Hour)},
	}
	for _, e := range seed {
		s.Require().NoError(s.store.Append(ctx, e))
	}
}

func (s *PostgresStoreSuite) list(filter models.HistoryFilter) []models.ChangeEntry {
	filter.Normalize()
	entries, err := s.store.List(context.Background(), filter)
	s.Require().NoError(err)
	return entries
}

func (s *PostgresStoreSuite) TestListFilters() {
	s.Run("no filter returns everything newest first", func() {
		entries := s.list(models.HistoryFilter{})
		s.Require().Len(entries, 3)
		s.Equal("200", entries[0].ResidentCode)
		s.Equal("100", entries[2].ResidentCode)
	})

	s.Run("by resident", func() {
		entries := s.list(models.HistoryFilter{ResidentCode: "100"})
		s.Require().Len(entries, 2)
		s.Equal(models.ChangeAdded, entries[0].Kind)
	})

	s.Run("by household", func() {
		entries := s.list(models.HistoryFilter{HouseholdID: 1})
		s.Len(entries, 2)
	})

	s.Run("by inclusive date range", func() {
		from := s.base
		to := s.base.Add(time.Hour)
		entries := s.list(models.HistoryFilter{From: &from, To: &to})
		s.Len(entries, 2)
	})

	s.Run("combined filters", func() {
		from := s.base.Add(30 * time.Minute)
		entries := s.list(models.HistoryFilter{ResidentCode: "100", From: &from})
		s.Require().Len(entries, 1)
		s.Equal(int64(2), entries[0].HouseholdID)
	})

	s.Run("limit and offset", func() {
		entries := s.list(models.HistoryFilter{Limit: 2})
		s.Len(entries, 2)
		entries = s.list(models.HistoryFilter{Limit: 2, Offset: 2})
		s.Len(entries, 1)
	})
}
