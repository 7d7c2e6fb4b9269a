package household

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"hokhau/internal/registry/models"
	householdStore "hokhau/internal/registry/store/household"
	membershipStore "hokhau/internal/registry/store/membership"
	dErrors "hokhau/pkg/domain-errors"
)

type HouseholdServiceSuite struct {
	suite.Suite
	households  *householdStore.MemoryStore
	memberships *membershipStore.MemoryStore
	service     *Service

	now time.Time
}

func TestHouseholdServiceSuite(t *testing.T) {
	suite.Run(t, new(HouseholdServiceSuite))
}

func (s *HouseholdServiceSuite) SetupTest() {
	s.households = householdStore.NewMemory()
	s.memberships = membershipStore.NewMemory()
	s.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.service = New(s.households, s.memberships,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.now }))
}

func (s *HouseholdServiceSuite) member(code string, householdID int64) {
	s.Require().NoError(s.memberships.Insert(context.Background(), models.Membership{
		ResidentCode: code,
		HouseholdID:  householdID,
		Relationship: models.RelationshipOther,
		JoinedOn:     s.now,
	}))
}

func (s *HouseholdServiceSuite) TestCreate() {
	ctx := context.Background()

	s.Run("normalizes and stamps registration time", func() {
		id, err := s.service.Create(ctx, models.Address{Line: "  A-1203, Tower A  ", Ward: "Ward 4"}, nil)
		s.Require().NoError(err)

		h, err := s.service.Get(ctx, id)
		s.Require().NoError(err)
		s.Equal("A-1203, Tower A", h.AddressLine)
		s.Equal("Ward 4", h.Ward)
		s.Equal(s.now, h.RegisteredOn)
		s.Nil(h.HeadCode)
	})

	s.Run("empty address line is invalid", func() {
		_, err := s.service.Create(ctx, models.Address{Ward: "Ward 4"}, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *HouseholdServiceSuite) TestSetHead() {
	ctx := context.Background()
	id, err := s.service.Create(ctx, models.Address{Line: "x"}, nil)
	s.Require().NoError(err)
	s.member("A", id)

	s.Run("head must be a member", func() {
		code := "B"
		err := s.service.SetHead(ctx, id, &code)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("member of another household cannot head this one", func() {
		s.member("C", id+100)
		code := "C"
		err := s.service.SetHead(ctx, id, &code)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("sets and clears the head", func() {
		code := "A"
		s.Require().NoError(s.service.SetHead(ctx, id, &code))
		h, err := s.service.Get(ctx, id)
		s.Require().NoError(err)
		s.Require().NotNil(h.HeadCode)
		s.Equal("A", *h.HeadCode)

		s.Require().NoError(s.service.SetHead(ctx, id, nil))
		h, err = s.service.Get(ctx, id)
		s.Require().NoError(err)
		s.Nil(h.HeadCode)
	})

	s.Run("unknown household", func() {
		err := s.service.SetHead(ctx, 999, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *HouseholdServiceSuite) TestDissolve() {
	ctx := context.Background()
	id, err := s.service.Create(ctx, models.Address{Line: "x"}, nil)
	s.Require().NoError(err)

	s.Run("occupied household cannot be dissolved", func() {
		s.member("A", id)
		err := s.service.Dissolve(ctx, id)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("empty household is deleted", func() {
		s.Require().NoError(s.memberships.Delete(ctx, "A"))
		s.Require().NoError(s.service.Dissolve(ctx, id))

		_, err := s.service.Get(ctx, id)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("already gone", func() {
		err := s.service.Dissolve(ctx, id)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *HouseholdServiceSuite) TestLock() {
	ctx := context.Background()
	id, err := s.service.Create(ctx, models.Address{Line: "x"}, nil)
	s.Require().NoError(err)

	s.NoError(s.service.Lock(ctx, id))

	err = s.service.Lock(ctx, 999)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
