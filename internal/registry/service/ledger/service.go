// Package ledger owns the resident→household membership relation. It is the
// only writer of membership rows; everything else goes through it so the
// "at most one active membership per resident" rule holds even mid-workflow.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"hokhau/internal/registry/models"
	"hokhau/internal/registry/store"
	dErrors "hokhau/pkg/domain-errors"
)

// MembershipStore is the persistence the ledger needs.
type MembershipStore interface {
	Insert(ctx context.Context, m models.Membership) error
	Delete(ctx context.Context, residentCode string) error
	GetByResident(ctx context.Context, residentCode string) (*models.Membership, error)
	ListByHousehold(ctx context.Context, householdID int64) ([]models.Membership, error)
	UpdateRelationship(ctx context.Context, residentCode, relationship string) error
}

// HouseholdReader answers who currently heads a household.
type HouseholdReader interface {
	Get(ctx context.Context, id int64) (*models.Household, error)
}

// Service enforces membership uniqueness on top of the store.
type Service struct {
	memberships MembershipStore
	households  HouseholdReader
	logger      *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(memberships MembershipStore, households HouseholdReader, opts ...Option) *Service {
	s := &Service{memberships: memberships, households: households}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Join creates a membership. A resident with any active membership, in this
// household or another, must be removed before rejoining.
func (s *Service) Join(ctx context.Context, residentCode string, householdID int64, relationship string, joinedOn time.Time) error {
	existing, err := s.memberships.GetByResident(ctx, residentCode)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to check membership")
	}
	if existing != nil {
		return dErrors.Newf(dErrors.CodeAlreadyMember,
			"resident %s already belongs to household %d", residentCode, existing.HouseholdID)
	}

	m := models.Membership{
		ResidentCode: residentCode,
		HouseholdID:  householdID,
		Relationship: models.NormalizeRelationship(relationship),
		JoinedOn:     joinedOn,
	}
	if err := s.memberships.Insert(ctx, m); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// A concurrent writer inserted between the check and the insert;
			// the primary key backstops the uniqueness rule.
			return dErrors.Newf(dErrors.CodeAlreadyMember,
				"resident %s already belongs to a household", residentCode)
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to insert membership")
	}
	return nil
}

// Remove deletes the resident's membership and reports the vacated household
// and whether the resident headed it.
func (s *Service) Remove(ctx context.Context, residentCode string) (householdID int64, wasHead bool, err error) {
	m, err := s.memberships.GetByResident(ctx, residentCode)
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, dErrors.Newf(dErrors.CodeNotAMember,
			"resident %s has no active membership", residentCode)
	}
	if err != nil {
		return 0, false, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load membership")
	}

	h, err := s.households.Get(ctx, m.HouseholdID)
	if err != nil {
		return 0, false, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load household")
	}
	wasHead = h.HeadCode != nil && *h.HeadCode == residentCode

	if err := s.memberships.Delete(ctx, residentCode); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, false, dErrors.Newf(dErrors.CodeNotAMember,
				"resident %s has no active membership", residentCode)
		}
		return 0, false, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to delete membership")
	}
	return m.HouseholdID, wasHead, nil
}

// MembersOf lists current members, optionally excluding one resident code.
// Order is the resolver's: earliest join first, ties by code.
func (s *Service) MembersOf(ctx context.Context, householdID int64, excluding string) ([]models.Membership, error) {
	members, err := s.memberships.ListByHousehold(ctx, householdID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list members")
	}
	if excluding == "" {
		return members, nil
	}
	filtered := members[:0]
	for _, m := range members {
		if m.ResidentCode != excluding {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

// MembershipOf returns the resident's active membership.
func (s *Service) MembershipOf(ctx context.Context, residentCode string) (*models.Membership, error) {
	m, err := s.memberships.GetByResident(ctx, residentCode)
	if errors.Is(err, store.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound,
			"resident %s has no active membership", residentCode)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load membership")
	}
	return m, nil
}

// Relabel changes a membership's relationship label. The label change is a
// remove+add pair from the model's point of view, collapsed into one store
// update; the join date is untouched.
func (s *Service) Relabel(ctx context.Context, residentCode, relationship string) error {
	err := s.memberships.UpdateRelationship(ctx, residentCode, models.NormalizeRelationship(relationship))
	if errors.Is(err, store.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotAMember,
			"resident %s has no active membership", residentCode)
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to relabel membership")
	}
	return nil
}
