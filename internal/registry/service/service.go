// Package service is the registry facade the application layers call. It
// composes the ledger, the household registry, the separation workflow, and
// the change history recorder behind the four public operations.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"hokhau/internal/registry/models"
	dErrors "hokhau/pkg/domain-errors"
	"hokhau/pkg/platform/tx"
)

// Ledger is the membership surface the facade needs.
type Ledger interface {
	MembershipOf(ctx context.Context, residentCode string) (*models.Membership, error)
	MembersOf(ctx context.Context, householdID int64, excluding string) ([]models.Membership, error)
	Join(ctx context.Context, residentCode string, householdID int64, relationship string, joinedOn time.Time) error
}

// Households is the household surface the facade needs.
type Households interface {
	Get(ctx context.Context, householdID int64) (*models.Household, error)
	SetHead(ctx context.Context, householdID int64, residentCode *string) error
	Lock(ctx context.Context, householdID int64) error
}

// Separator runs the separation workflow.
type Separator interface {
	Separate(ctx context.Context, req *models.SeparationRequest) (*models.SeparationResult, error)
}

// Recorder is the change history surface the facade needs.
type Recorder interface {
	Append(ctx context.Context, residentCode string, householdID int64, kind models.ChangeKind, at time.Time) (uuid.UUID, error)
	Query(ctx context.Context, filter models.HistoryFilter) ([]models.ChangeEntry, error)
}

// ResidentDirectory is the externally-owned resident store.
type ResidentDirectory interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// InfoCache caches membership projections. Implementations must tolerate
// misses silently; the cache is an optimization, never a source of truth.
type InfoCache interface {
	Get(ctx context.Context, residentCode string) (*models.MembershipInfo, bool)
	Set(ctx context.Context, info *models.MembershipInfo)
	Invalidate(ctx context.Context, residentCodes ...string)
}

// Service is the registry facade.
type Service struct {
	ledger     Ledger
	households Households
	separator  Separator
	recorder   Recorder
	residents  ResidentDirectory
	runner     tx.Runner
	cache      InfoCache
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCache installs the membership projection cache.
func WithCache(cache InfoCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(ledger Ledger, households Households, separator Separator, recorder Recorder, residents ResidentDirectory, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		ledger:     ledger,
		households: households,
		separator:  separator,
		recorder:   recorder,
		residents:  residents,
		runner:     runner,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetMembershipInfo builds the projection a separation form needs. An
// existing but unaffiliated resident gets an empty projection rather than an
// error; a missing resident is NotFound.
func (s *Service) GetMembershipInfo(ctx context.Context, residentCode string) (*models.MembershipInfo, error) {
	residentCode = normalizeCode(residentCode)
	if s.cache != nil {
		if info, ok := s.cache.Get(ctx, residentCode); ok {
			return info, nil
		}
	}

	exists, err := s.residents.Exists(ctx, residentCode)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to check resident")
	}
	if !exists {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "resident %s not found", residentCode)
	}

	info := &models.MembershipInfo{ResidentCode: residentCode}

	m, err := s.ledger.MembershipOf(ctx, residentCode)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return info, nil
		}
		return nil, err
	}

	h, err := s.households.Get(ctx, m.HouseholdID)
	if err != nil {
		return nil, err
	}
	others, err := s.ledger.MembersOf(ctx, m.HouseholdID, residentCode)
	if err != nil {
		return nil, err
	}

	info.CurrentHousehold = h
	info.IsHead = h.HeadCode != nil && *h.HeadCode == residentCode
	info.OtherMembers = others
	info.CanSeparate = true

	if s.cache != nil {
		s.cache.Set(ctx, info)
	}
	return info, nil
}

// SeparateHousehold is the workflow entry point.
func (s *Service) SeparateHousehold(ctx context.Context, req *models.SeparationRequest) (*models.SeparationResult, error) {
	result, err := s.separator.Separate(ctx, req)
	if err != nil {
		return nil, err
	}
	s.invalidateHouseholds(ctx, result)
	return result, nil
}

// AddToHousehold joins a previously unaffiliated resident to an existing
// household directly, outside the separation workflow.
func (s *Service) AddToHousehold(ctx context.Context, residentCode string, householdID int64, relationship string) error {
	residentCode, relationship, err := s.validateAdd(ctx, residentCode, householdID, relationship)
	if err != nil {
		return err
	}

	err = s.runner.Execute(ctx, func(ctx context.Context) error {
		now := s.now()
		if relationship == models.RelationshipHead {
			// The headless pre-check ran outside the transaction; take the
			// row lock and confirm no concurrent add claimed headship first.
			if err := s.households.Lock(ctx, householdID); err != nil {
				return err
			}
			h, err := s.households.Get(ctx, householdID)
			if err != nil {
				return err
			}
			if h.HeadCode != nil {
				return dErrors.Newf(dErrors.CodeConflict,
					"household %d already has a head", householdID)
			}
		}
		if err := s.ledger.Join(ctx, residentCode, householdID, relationship, now); err != nil {
			return err
		}
		if relationship == models.RelationshipHead {
			code := residentCode
			if err := s.households.SetHead(ctx, householdID, &code); err != nil {
				return err
			}
		}
		_, err := s.recorder.Append(ctx, residentCode, householdID, models.ChangeAdded, now)
		return err
	})
	if err != nil {
		return err
	}

	s.invalidateMembers(ctx, householdID, residentCode)
	return nil
}

// GetChangeHistory serves the reporting queries.
func (s *Service) GetChangeHistory(ctx context.Context, filter models.HistoryFilter) ([]models.ChangeEntry, error) {
	return s.recorder.Query(ctx, filter)
}

// GetHousehold returns a household with its members, for detail views.
func (s *Service) GetHousehold(ctx context.Context, householdID int64) (*models.Household, []models.Membership, error) {
	h, err := s.households.Get(ctx, householdID)
	if err != nil {
		return nil, nil, err
	}
	members, err := s.ledger.MembersOf(ctx, householdID, "")
	if err != nil {
		return nil, nil, err
	}
	return h, members, nil
}

func (s *Service) validateAdd(ctx context.Context, residentCode string, householdID int64, relationship string) (string, string, error) {
	residentCode = normalizeCode(residentCode)
	relationship = models.NormalizeRelationship(relationship)
	if residentCode == "" {
		return "", "", dErrors.New(dErrors.CodeValidation, "resident code is required")
	}
	if relationship == "" {
		relationship = models.RelationshipOther
	}

	exists, err := s.residents.Exists(ctx, residentCode)
	if err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to check resident")
	}
	if !exists {
		return "", "", dErrors.Newf(dErrors.CodeNotFound, "resident %s not found", residentCode)
	}

	h, err := s.households.Get(ctx, householdID)
	if err != nil {
		return "", "", err
	}

	if m, err := s.ledger.MembershipOf(ctx, residentCode); err == nil {
		memberHousehold, err2 := s.households.Get(ctx, m.HouseholdID)
		if err2 == nil && memberHousehold.HeadCode != nil && *memberHousehold.HeadCode == residentCode && m.HouseholdID != householdID {
			return "", "", dErrors.Newf(dErrors.CodeAlreadyHead,
				"resident %s heads household %d", residentCode, m.HouseholdID)
		}
		return "", "", dErrors.Newf(dErrors.CodeAlreadyMember,
			"resident %s already belongs to household %d", residentCode, m.HouseholdID)
	} else if !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return "", "", err
	}

	if relationship == models.RelationshipHead && h.HeadCode != nil {
		return "", "", dErrors.Newf(dErrors.CodeConflict,
			"household %d already has a head", householdID)
	}
	return residentCode, relationship, nil
}

// invalidateHouseholds drops cached projections for everyone a separation
// touched: the mover and the members of both households.
func (s *Service) invalidateHouseholds(ctx context.Context, result *models.SeparationResult) {
	if s.cache == nil {
		return
	}
	codes := []string{result.ResidentCode}
	if !result.OldHouseholdGone {
		if members, err := s.ledger.MembersOf(ctx, result.OldHouseholdID, ""); err == nil {
			for _, m := range members {
				codes = append(codes, m.ResidentCode)
			}
		}
	}
	if members, err := s.ledger.MembersOf(ctx, result.NewHouseholdID, ""); err == nil {
		for _, m := range members {
			codes = append(codes, m.ResidentCode)
		}
	}
	s.cache.Invalidate(ctx, codes...)
}

func (s *Service) invalidateMembers(ctx context.Context, householdID int64, residentCode string) {
	if s.cache == nil {
		return
	}
	codes := []string{residentCode}
	if members, err := s.ledger.MembersOf(ctx, householdID, ""); err == nil {
		for _, m := range members {
			codes = append(codes, m.ResidentCode)
		}
	}
	s.cache.Invalidate(ctx, codes...)
}

func normalizeCode(code string) string {
	return strings.TrimSpace(code)
}
