// Package household owns household records and the single-head invariant:
// at most one head per household, and the head must be a current member.
// Memberships themselves belong to the ledger; keeping the two apart keeps
// both invariants independently testable.
package household

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"hokhau/internal/registry/metrics"
	"hokhau/internal/registry/models"
	"hokhau/internal/registry/store"
	dErrors "hokhau/pkg/domain-errors"
)

// Store is the persistence the registry needs.
type Store interface {
	Create(ctx context.Context, h *models.Household) (int64, error)
	Get(ctx context.Context, id int64) (*models.Household, error)
	SetHead(ctx context.Context, id int64, headCode *string) error
	Delete(ctx context.Context, id int64) error
	LockForUpdate(ctx context.Context, id int64) error
}

// MembershipReader checks membership without owning it.
type MembershipReader interface {
	GetByResident(ctx context.Context, residentCode string) (*models.Membership, error)
	CountByHousehold(ctx context.Context, householdID int64) (int, error)
}

// Service enforces household invariants on top of the store.
type Service struct {
	households  Store
	memberships MembershipReader
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(households Store, memberships MembershipReader, opts ...Option) *Service {
	s := &Service{households: households, memberships: memberships, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a household. When initialHead is given the caller must
// separately create the matching membership through the ledger.
func (s *Service) Create(ctx context.Context, address models.Address, initialHead *string) (int64, error) {
	address = address.Normalize()
	if err := address.Validate(); err != nil {
		return 0, err
	}

	h := &models.Household{
		HeadCode:     initialHead,
		AddressLine:  address.Line,
		Ward:         address.Ward,
		District:     address.District,
		RegisteredOn: s.now(),
	}
	id, err := s.households.Create(ctx, h)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to create household")
	}
	if s.metrics != nil {
		s.metrics.HouseholdsCreated.Inc()
	}
	return id, nil
}

// SetHead points the household at a new head, or clears it with nil. A
// non-member head is an internal consistency bug, not a user error.
func (s *Service) SetHead(ctx context.Context, householdID int64, residentCode *string) error {
	if _, err := s.Get(ctx, householdID); err != nil {
		return err
	}

	if residentCode != nil {
		m, err := s.memberships.GetByResident(ctx, *residentCode)
		if errors.Is(err, store.ErrNotFound) || (err == nil && m.HouseholdID != householdID) {
			return dErrors.Newf(dErrors.CodeInvariantViolation,
				"resident %s is not a member of household %d", *residentCode, householdID)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to check membership")
		}
	}

	if err := s.households.SetHead(ctx, householdID, residentCode); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to set household head")
	}
	return nil
}

// Dissolve deletes an empty household.
func (s *Service) Dissolve(ctx context.Context, householdID int64) error {
	count, err := s.memberships.CountByHousehold(ctx, householdID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to count members")
	}
	if count > 0 {
		return dErrors.Newf(dErrors.CodeConflict,
			"household %d still has %d member(s)", householdID, count)
	}

	err = s.households.Delete(ctx, householdID)
	if errors.Is(err, store.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotFound, "household %d not found", householdID)
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to delete household")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "household dissolved", "household_id", householdID)
	}
	if s.metrics != nil {
		s.metrics.HouseholdsDissolved.Inc()
	}
	return nil
}

// Get returns a household by id.
func (s *Service) Get(ctx context.Context, householdID int64) (*models.Household, error) {
	h, err := s.households.Get(ctx, householdID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "household %d not found", householdID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load household")
	}
	return h, nil
}

// Lock serializes concurrent workflows departing from the same household.
// Must run inside a transaction.
func (s *Service) Lock(ctx context.Context, householdID int64) error {
	err := s.households.LockForUpdate(ctx, householdID)
	if errors.Is(err, store.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotFound, "household %d not found", householdID)
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to lock household")
	}
	return nil
}
