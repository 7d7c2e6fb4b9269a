package separation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"hokhau/internal/registry/models"
	"hokhau/internal/registry/outbox"
	historyService "hokhau/internal/registry/service/history"
	householdService "hokhau/internal/registry/service/household"
	ledgerService "hokhau/internal/registry/service/ledger"
	historyStore "hokhau/internal/registry/store/history"
	householdStore "hokhau/internal/registry/store/household"
	membershipStore "hokhau/internal/registry/store/membership"
	"hokhau/internal/resident"
	dErrors "hokhau/pkg/domain-errors"
	"hokhau/pkg/platform/tx"
)

// =============================================================================
// Separation Workflow Test Suite
// =============================================================================
// Justification for unit tests: the workflow's atomicity and headship
// settlement cannot be exercised precisely through the HTTP layer. The memory
// transaction runner snapshots every store, so rollback behavior is observable
// without a database.

type SeparationServiceSuite struct {
	suite.Suite

	households  *householdStore.MemoryStore
	memberships *membershipStore.MemoryStore
	history     *historyStore.MemoryStore
	outbox      *outbox.MemoryStore
	residents   *resident.MemoryDirectory
	runner      *tx.MemoryRunner

	ledger   *ledgerService.Service
	registry *householdService.Service
	recorder *historyService.Service

	service *Service

	// fixture state
	familyID int64 // head "A", members "B" (earlier) and "C"
	soloID   int64 // sole member "D" who heads it
	now      time.Time
}

func TestSeparationServiceSuite(t *testing.T) {
	suite.Run(t, new(SeparationServiceSuite))
}

func (s *SeparationServiceSuite) SetupTest() {
	s.households = householdStore.NewMemory()
	s.memberships = membershipStore.NewMemory()
	s.history = historyStore.NewMemory()
	s.outbox = outbox.NewMemory()
	s.residents = resident.NewMemory("A", "B", "C", "D", "E")
	s.runner = tx.NewMemoryRunner(s.households, s.memberships, s.history, s.outbox)

	s.ledger = ledgerService.New(s.memberships, s.households)
	s.registry = householdService.New(s.households, s.memberships)
	s.recorder = historyService.New(s.history, s.outbox)

	s.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.service = New(s.ledger, s.registry, s.recorder, s.residents, s.runner,
		WithClock(func() time.Time { return s.now }))

	s.seed()
}

// seed builds two households: a three-member family headed by "A" and a
// single-member household headed by "D". Resident "E" exists but belongs
// nowhere.
func (s *SeparationServiceSuite) seed() {
	ctx := context.Background()
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	head := "A"
	id, err := s.registry.Create(ctx, models.Address{Line: "A-1203, Tower A", Ward: "Ward 4", District: "District 7"}, &head)
	s.Require().NoError(err)
	s.familyID = id
	s.Require().NoError(s.ledger.Join(ctx, "A", id, models.RelationshipHead, base))
	s.Require().NoError(s.ledger.Join(ctx, "B", id, "spouse", base.AddDate(0, 0, 1)))
	s.Require().NoError(s.ledger.Join(ctx, "C", id, "child", base.AddDate(0, 0, 2)))

	solo := "D"
	id, err = s.registry.Create(ctx, models.Address{Line: "B-0704, Tower B", Ward: "Ward 4", District: "District 7"}, &solo)
	s.Require().NoError(err)
	s.soloID = id
	s.Require().NoError(s.ledger.Join(ctx, "D", id, models.RelationshipHead, base))
}

func (s *SeparationServiceSuite) entriesFor(code string) []models.ChangeEntry {
	var out []models.ChangeEntry
	for _, e := range s.history.All() {
		if e.ResidentCode == code {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// Head Departs Tests
// =============================================================================

func (s *SeparationServiceSuite) TestSeparateHeadToNewHousehold() {
	ctx := context.Background()

	res, err := s.service.Separate(ctx, &models.SeparationRequest{
		ResidentCode: "A",
		TargetType:   models.TargetNew,
		NewAddress:   models.Address{Line: "C-0101, Tower C"},
		Reason:       "moved for work",
	})
	s.Require().NoError(err)

	s.Equal("A", res.ResidentCode)
	s.Equal(s.familyID, res.OldHouseholdID)
	s.False(res.OldHouseholdGone)
	s.Equal(s.now, res.CompletedAt)

	s.Run("earliest remaining member is promoted", func() {
		s.Require().NotNil(res.PromotedHeadCode)
		s.Equal("B", *res.PromotedHeadCode)

		old, err := s.registry.Get(ctx, s.familyID)
		s.Require().NoError(err)
		s.Require().NotNil(old.HeadCode)
		s.Equal("B", *old.HeadCode)

		m, err := s.ledger.MembershipOf(ctx, "B")
		s.Require().NoError(err)
		s.True(m.IsHead())
	})

	s.Run("mover heads the new household", func() {
		created, err := s.registry.Get(ctx, res.NewHouseholdID)
		s.Require().NoError(err)
		s.Require().NotNil(created.HeadCode)
		s.Equal("A", *created.HeadCode)
		s.Equal("C-0101, Tower C", created.AddressLine)

		m, err := s.ledger.MembershipOf(ctx, "A")
		s.Require().NoError(err)
		s.Equal(res.NewHouseholdID, m.HouseholdID)
		s.True(m.IsHead())
		s.Equal(s.now, m.JoinedOn)
	})

	s.Run("both sides of the move are recorded", func() {
		entries := s.entriesFor("A")
		s.Require().Len(entries, 2)
		s.Equal(models.ChangeRemoved, entries[0].Kind)
		s.Equal(s.familyID, entries[0].HouseholdID)
		s.Equal(models.ChangeAdded, entries[1].Kind)
		s.Equal(res.NewHouseholdID, entries[1].HouseholdID)
		s.Equal(s.now, entries[0].OccurredAt)
		s.Equal(s.now, entries[1].OccurredAt)
	})

	s.Run("change events are queued for publication", func() {
		events, err := s.outbox.FetchUnpublished(ctx, 10)
		s.Require().NoError(err)
		s.Len(events, 2)
	})
}

func (s *SeparationServiceSuite) TestSeparateSoleMemberDissolvesSource() {
	ctx := context.Background()

	res, err := s.service.Separate(ctx, &models.SeparationRequest{
		ResidentCode:      "D",
		TargetType:        models.TargetExisting,
		TargetHouseholdID: s.familyID,
		Reason:            "joined relatives",
	})
	s.Require().NoError(err)

	s.True(res.OldHouseholdGone)
	s.Nil(res.PromotedHeadCode)
	s.Equal(s.familyID, res.NewHouseholdID)

	s.Run("source household is gone", func() {
		_, err := s.registry.Get(ctx, s.soloID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("mover joins the target as an ordinary member", func() {
		m, err := s.ledger.MembershipOf(ctx, "D")
		s.Require().NoError(err)
		s.Equal(s.familyID, m.HouseholdID)
		s.Equal(models.RelationshipOther, m.Relationship)
	})

	s.Run("target head is untouched", func() {
		h, err := s.registry.Get(ctx, s.familyID)
		s.Require().NoError(err)
		s.Require().NotNil(h.HeadCode)
		s.Equal("A", *h.HeadCode)
	})
}

// =============================================================================
// Non-Head Departs Tests
// =============================================================================

func (s *SeparationServiceSuite) TestSeparateNonHeadLeavesHeadshipAlone() {
	ctx := context.Background()

	res, err := s.service.Separate(ctx, &models.SeparationRequest{
		ResidentCode:      "C",
		TargetType:        models.TargetExisting,
		TargetHouseholdID: s.soloID,
		Reason:            "marriage",
	})
	s.Require().NoError(err)

	s.Nil(res.PromotedHeadCode)
	s.False(res.OldHouseholdGone)

	h, err := s.registry.Get(ctx, s.familyID)
	s.Require().NoError(err)
	s.Require().NotNil(h.HeadCode)
	s.Equal("A", *h.HeadCode)

	members, err := s.ledger.MembersOf(ctx, s.familyID, "")
	s.Require().NoError(err)
	s.Len(members, 2)
}

// =============================================================================
// Validation Tests
// =============================================================================

func (s *SeparationServiceSuite) TestSeparateValidation() {
	ctx := context.Background()

	cases := []struct {
		name string
		req  models.SeparationRequest
		code dErrors.Code
	}{
		{
			name: "unknown resident",
			req:  models.SeparationRequest{ResidentCode: "Z", TargetType: models.TargetNew, NewAddress: models.Address{Line: "x"}, Reason: "r"},
			code: dErrors.CodeNotFound,
		},
		{
			name: "resident without membership",
			req:  models.SeparationRequest{ResidentCode: "E", TargetType: models.TargetNew, NewAddress: models.Address{Line: "x"}, Reason: "r"},
			code: dErrors.CodeNotAMember,
		},
		{
			name: "target equals current household",
			req:  models.SeparationRequest{ResidentCode: "B", TargetType: models.TargetExisting, TargetHouseholdID: s.familyID, Reason: "r"},
			code: dErrors.CodeValidation,
		},
		{
			name: "missing target household",
			req:  models.SeparationRequest{ResidentCode: "B", TargetType: models.TargetExisting, TargetHouseholdID: 99, Reason: "r"},
			code: dErrors.CodeNotFound,
		},
		{
			name: "missing reason",
			req:  models.SeparationRequest{ResidentCode: "B", TargetType: models.TargetNew, NewAddress: models.Address{Line: "x"}},
			code: dErrors.CodeValidation,
		},
		{
			name: "missing new address",
			req:  models.SeparationRequest{ResidentCode: "B", TargetType: models.TargetNew, Reason: "r"},
			code: dErrors.CodeValidation,
		},
		{
			name: "unknown target type",
			req:  models.SeparationRequest{ResidentCode: "B", TargetType: "merge", Reason: "r"},
			code: dErrors.CodeValidation,
		},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.service.Separate(ctx, &tc.req)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, tc.code), "want %s, got %v", tc.code, err)
		})
	}

	s.Run("no mutation on any validation failure", func() {
		s.Empty(s.history.All())
		m, err := s.ledger.MembershipOf(ctx, "B")
		s.Require().NoError(err)
		s.Equal(s.familyID, m.HouseholdID)
	})
}

// =============================================================================
// Atomicity Tests
// =============================================================================

// failingRecorder lets the first append through and fails the second, which
// lands mid-transaction after the remove, the headship settlement, and the
// attach have all happened.
type failingRecorder struct {
	inner *historyService.Service
	calls int
}

var errRecorderDown = errors.New("history store down")

func (r *failingRecorder) Append(ctx context.Context, residentCode string, householdID int64, kind models.ChangeKind, at time.Time) (uuid.UUID, error) {
	r.calls++
	if r.calls >= 2 {
		return uuid.Nil, errRecorderDown
	}
	return r.inner.Append(ctx, residentCode, householdID, kind, at)
}

func (s *SeparationServiceSuite) TestSeparateRollsBackOnMidTransactionFailure() {
	ctx := context.Background()

	rec := &failingRecorder{inner: s.recorder}
	svc := New(s.ledger, s.registry, rec, s.residents, s.runner,
		WithClock(func() time.Time { return s.now }))

	_, err := svc.Separate(ctx, &models.SeparationRequest{
		ResidentCode: "A",
		TargetType:   models.TargetNew,
		NewAddress:   models.Address{Line: "C-0101, Tower C"},
		Reason:       "moved for work",
	})
	s.Require().Error(err)
	s.True(errors.Is(err, errRecorderDown))
	s.Contains(err.Error(), "separation failed")

	s.Run("mover's membership is restored", func() {
		m, err := s.ledger.MembershipOf(ctx, "A")
		s.Require().NoError(err)
		s.Equal(s.familyID, m.HouseholdID)
		s.True(m.IsHead())
	})

	s.Run("source headship is restored", func() {
		h, err := s.registry.Get(ctx, s.familyID)
		s.Require().NoError(err)
		s.Require().NotNil(h.HeadCode)
		s.Equal("A", *h.HeadCode)

		m, err := s.ledger.MembershipOf(ctx, "B")
		s.Require().NoError(err)
		s.Equal("spouse", m.Relationship)
	})

	s.Run("no partial household, history, or events survive", func() {
		_, err := s.registry.Get(ctx, s.soloID+1)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Empty(s.history.All())
		events, err := s.outbox.FetchUnpublished(ctx, 10)
		s.Require().NoError(err)
		s.Empty(events)
	})
}

func (s *SeparationServiceSuite) TestSeparateValidationErrorsAreNotWrapped() {
	ctx := context.Background()

	// Precondition failures happen before the transaction opens, so they must
	// not carry the transaction-failure wrapping.
	_, err := s.service.Separate(ctx, &models.SeparationRequest{
		ResidentCode: "E",
		TargetType:   models.TargetNew,
		NewAddress:   models.Address{Line: "x"},
		Reason:       "r",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotAMember))
	s.NotContains(err.Error(), "separation failed")
	s.False(dErrors.IsRetryable(err))
}

// =============================================================================
// Concurrency Tests
// =============================================================================

// raceRunner runs a hook once, just before the unit of work starts, standing
// in for a concurrent writer that commits between validation and the
// transaction.
type raceRunner struct {
	inner  tx.Runner
	before func()
}

func (r *raceRunner) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.before != nil {
		before := r.before
		r.before = nil
		before()
	}
	return r.inner.Execute(ctx, fn)
}

func (s *SeparationServiceSuite) TestSeparateRelocksAfterConcurrentMove() {
	ctx := context.Background()

	// Between validation and the transaction, "B" moves out of the family and
	// ends up heading a household of their own. The workflow must settle that
	// household, not the one validation saw.
	var movedID int64
	moved := func() {
		_, _, err := s.ledger.Remove(ctx, "B")
		s.Require().NoError(err)
		head := "B"
		id, err := s.registry.Create(ctx, models.Address{Line: "D-0502, Tower D"}, &head)
		s.Require().NoError(err)
		s.Require().NoError(s.ledger.Join(ctx, "B", id, models.RelationshipHead, s.now))
		movedID = id
	}
	svc := New(s.ledger, s.registry, s.recorder, s.residents,
		&raceRunner{inner: s.runner, before: moved},
		WithClock(func() time.Time { return s.now }))

	res, err := svc.Separate(ctx, &models.SeparationRequest{
		ResidentCode: "B",
		TargetType:   models.TargetNew,
		NewAddress:   models.Address{Line: "E-1101, Tower E"},
		Reason:       "moved again",
	})
	s.Require().NoError(err)

	s.Equal(movedID, res.OldHouseholdID)
	s.True(res.OldHouseholdGone)

	s.Run("the household actually departed is dissolved", func() {
		_, err := s.registry.Get(ctx, movedID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("the household validation saw is untouched", func() {
		h, err := s.registry.Get(ctx, s.familyID)
		s.Require().NoError(err)
		s.Require().NotNil(h.HeadCode)
		s.Equal("A", *h.HeadCode)
		members, err := s.ledger.MembersOf(ctx, s.familyID, "")
		s.Require().NoError(err)
		s.Len(members, 2)
	})

	s.Run("mover heads the new household", func() {
		h, err := s.registry.Get(ctx, res.NewHouseholdID)
		s.Require().NoError(err)
		s.Require().NotNil(h.HeadCode)
		s.Equal("B", *h.HeadCode)
	})
}

func (s *SeparationServiceSuite) TestSeparateConflictsWhenMembershipVanishes() {
	ctx := context.Background()

	gone := func() {
		_, _, err := s.ledger.Remove(ctx, "C")
		s.Require().NoError(err)
	}
	svc := New(s.ledger, s.registry, s.recorder, s.residents,
		&raceRunner{inner: s.runner, before: gone},
		WithClock(func() time.Time { return s.now }))

	_, err := svc.Separate(ctx, &models.SeparationRequest{
		ResidentCode: "C",
		TargetType:   models.TargetNew,
		NewAddress:   models.Address{Line: "x"},
		Reason:       "r",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTxConflict))
	s.True(dErrors.IsRetryable(err))
	s.Empty(s.history.All())
}

func (s *SeparationServiceSuite) TestConcurrentSeparationsFromSameHousehold() {
	ctx := context.Background()

	done := make(chan error, 2)
	run := func(code string) {
		_, err := s.service.Separate(ctx, &models.SeparationRequest{
			ResidentCode: code,
			TargetType:   models.TargetNew,
			NewAddress:   models.Address{Line: code + " place"},
			Reason:       "split",
		})
		done <- err
	}
	go run("B")
	go run("C")
	s.NoError(<-done)
	s.NoError(<-done)

	// Both committed in some order; the source household still exists with
	// "A" as head and exactly one remaining member.
	h, err := s.registry.Get(ctx, s.familyID)
	s.Require().NoError(err)
	s.Require().NotNil(h.HeadCode)
	s.Equal("A", *h.HeadCode)

	members, err := s.ledger.MembersOf(ctx, s.familyID, "")
	s.Require().NoError(err)
	s.Len(members, 1)
	s.Equal("A", members[0].ResidentCode)

	s.Len(s.history.All(), 4)
}

func (s *SeparationServiceSuite) TestConcurrentDeparturesDissolveSource() {
	ctx := context.Background()

	// Shrink the family to its last two members first.
	_, err := s.service.Separate(ctx, &models.SeparationRequest{
		ResidentCode:      "C",
		TargetType:        models.TargetExisting,
		TargetHouseholdID: s.soloID,
		Reason:            "r",
	})
	s.Require().NoError(err)

	done := make(chan error, 2)
	run := func(code string) {
		_, err := s.service.Separate(ctx, &models.SeparationRequest{
			ResidentCode: code,
			TargetType:   models.TargetNew,
			NewAddress:   models.Address{Line: code + " place"},
			Reason:       "split",
		})
		done <- err
	}
	go run("A") // head departs
	go run("B")
	s.NoError(<-done)
	s.NoError(<-done)

	// Whichever order committed, the emptied household is gone and nobody's
	// headship dangles.
	_, err = s.registry.Get(ctx, s.familyID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	members, err := s.ledger.MembersOf(ctx, s.familyID, "")
	s.Require().NoError(err)
	s.Empty(members)

	for _, code := range []string{"A", "B"} {
		m, err := s.ledger.MembershipOf(ctx, code)
		s.Require().NoError(err)
		h, err := s.registry.Get(ctx, m.HouseholdID)
		s.Require().NoError(err)
		s.Require().NotNil(h.HeadCode)
		s.Equal(code, *h.HeadCode)
	}
}
