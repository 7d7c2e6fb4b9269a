// Package separation coordinates the household split workflow ("tách hộ"):
// move a resident out of their current household into a new or existing one,
// settle the vacated headship, and record both sides of the move — all inside
// one transaction. Validation happens before any mutation; every mutation
// happens inside the unit of work, so a failure anywhere rolls the whole
// move back and the resident is never left without a household.
package separation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hokhau/internal/registry/metrics"
	"hokhau/internal/registry/models"
	"hokhau/internal/registry/service/headship"
	dErrors "hokhau/pkg/domain-errors"
	"hokhau/pkg/platform/tx"
)

// Ledger is the membership surface the workflow drives.
type Ledger interface {
	MembershipOf(ctx context.Context, residentCode string) (*models.Membership, error)
	Remove(ctx context.Context, residentCode string) (householdID int64, wasHead bool, err error)
	MembersOf(ctx context.Context, householdID int64, excluding string) ([]models.Membership, error)
	Join(ctx context.Context, residentCode string, householdID int64, relationship string, joinedOn time.Time) error
	Relabel(ctx context.Context, residentCode, relationship string) error
}

// Registry is the household surface the workflow drives.
type Registry interface {
	Get(ctx context.Context, householdID int64) (*models.Household, error)
	Create(ctx context.Context, address models.Address, initialHead *string) (int64, error)
	SetHead(ctx context.Context, householdID int64, residentCode *string) error
	Dissolve(ctx context.Context, householdID int64) error
	Lock(ctx context.Context, householdID int64) error
}

// Recorder appends change history entries.
type Recorder interface {
	Append(ctx context.Context, residentCode string, householdID int64, kind models.ChangeKind, at time.Time) (uuid.UUID, error)
}

// ResidentDirectory is the externally-owned resident store.
type ResidentDirectory interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// Service is the separation workflow orchestrator.
type Service struct {
	ledger    Ledger
	registry  Registry
	recorder  Recorder
	residents ResidentDirectory
	runner    tx.Runner
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
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

func New(ledger Ledger, registry Registry, recorder Recorder, residents ResidentDirectory, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		ledger:    ledger,
		registry:  registry,
		recorder:  recorder,
		residents: residents,
		runner:    runner,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Separate executes the workflow. Validation failures return before anything
// is written; once the transaction starts, any failure rolls back every step
// and surfaces as a single error wrapping the cause.
func (s *Service) Separate(ctx context.Context, req *models.SeparationRequest) (*models.SeparationResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	current, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &models.SeparationResult{
		ResidentCode:   req.ResidentCode,
		OldHouseholdID: current.HouseholdID,
	}

	err = s.runner.Execute(ctx, func(ctx context.Context) error {
		return s.execute(ctx, req, current.HouseholdID, result)
	})
	if err != nil {
		s.incrementFailed()
		// Keep the underlying classification so callers can tell a
		// retryable conflict from a permanent failure.
		return nil, dErrors.Wrap(err, dErrors.CodeOf(err), "separation failed")
	}

	s.incrementCompleted(result)
	s.logCommitted(ctx, req, result)
	return result, nil
}

// validate runs the read-only precondition checks. No mutation may have
// happened by the time any of these fail.
func (s *Service) validate(ctx context.Context, req *models.SeparationRequest) (*models.Membership, error) {
	exists, err := s.residents.Exists(ctx, req.ResidentCode)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to check resident")
	}
	if !exists {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "resident %s not found", req.ResidentCode)
	}

	current, err := s.ledger.MembershipOf(ctx, req.ResidentCode)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotAMember,
				"resident %s has no active membership", req.ResidentCode)
		}
		return nil, err
	}

	if req.TargetType == models.TargetExisting {
		if req.TargetHouseholdID == current.HouseholdID {
			return nil, dErrors.New(dErrors.CodeValidation,
				"target household must differ from the current one")
		}
		if _, err := s.registry.Get(ctx, req.TargetHouseholdID); err != nil {
			return nil, err
		}
	}
	return current, nil
}

// execute is the transactional core: remove, resolve headship, attach,
// record. The source household is locked first so concurrent separations
// departing from it serialize.
func (s *Service) execute(ctx context.Context, req *models.SeparationRequest, sourceID int64, result *models.SeparationResult) error {
	sourceID, err := s.lockSource(ctx, req.ResidentCode, sourceID)
	if err != nil {
		return err
	}
	result.OldHouseholdID = sourceID
	if req.TargetType == models.TargetExisting && req.TargetHouseholdID == sourceID {
		return dErrors.Newf(dErrors.CodeTxConflict,
			"resident %s moved into the target household concurrently", req.ResidentCode)
	}

	now := s.now()

	removedFrom, wasHead, err := s.ledger.Remove(ctx, req.ResidentCode)
	if err != nil {
		return err
	}
	if _, err := s.recorder.Append(ctx, req.ResidentCode, removedFrom, models.ChangeRemoved, now); err != nil {
		return err
	}

	// Headship is settled only when the departing resident held it; removal
	// happened first, so the departed resident can never be both "leaving
	// head" and "current head" in any committed state.
	if wasHead {
		remaining, err := s.ledger.MembersOf(ctx, removedFrom, "")
		if err != nil {
			return err
		}
		switch decision := headship.Resolve(remaining); decision.Outcome {
		case headship.OutcomePromote:
			if err := s.registry.SetHead(ctx, removedFrom, &decision.ResidentCode); err != nil {
				return err
			}
			if err := s.ledger.Relabel(ctx, decision.ResidentCode, models.RelationshipHead); err != nil {
				return err
			}
			code := decision.ResidentCode
			result.PromotedHeadCode = &code
		case headship.OutcomeDissolve:
			if err := s.registry.SetHead(ctx, removedFrom, nil); err != nil {
				return err
			}
			if err := s.registry.Dissolve(ctx, removedFrom); err != nil {
				return err
			}
			result.OldHouseholdGone = true
		}
	}

	var targetID int64
	switch req.TargetType {
	case models.TargetNew:
		targetID, err = s.registry.Create(ctx, req.NewAddress, &req.ResidentCode)
		if err != nil {
			return err
		}
		if err := s.ledger.Join(ctx, req.ResidentCode, targetID, models.RelationshipHead, now); err != nil {
			return err
		}
	case models.TargetExisting:
		targetID = req.TargetHouseholdID
		if err := s.ledger.Join(ctx, req.ResidentCode, targetID, models.RelationshipOther, now); err != nil {
			return err
		}
	}

	if _, err := s.recorder.Append(ctx, req.ResidentCode, targetID, models.ChangeAdded, now); err != nil {
		return err
	}

	result.NewHouseholdID = targetID
	result.CompletedAt = now
	return nil
}

// lockSource takes the row lock on the resident's current household. The
// household seen during validation may be stale by the time the transaction
// starts, so the membership is re-read under the lock and the lock is moved
// until it holds on the household the resident actually occupies. Without
// this, the departing-head check could run against a household the resident
// already left. A resident that keeps moving, or loses their membership
// entirely, surfaces as a retryable conflict.
func (s *Service) lockSource(ctx context.Context, residentCode string, sourceID int64) (int64, error) {
	for attempt := 0; attempt < 3; attempt++ {
		if err := s.registry.Lock(ctx, sourceID); err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				return 0, dErrors.Newf(dErrors.CodeTxConflict,
					"household %d was dissolved concurrently", sourceID)
			}
			return 0, err
		}
		current, err := s.ledger.MembershipOf(ctx, residentCode)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				return 0, dErrors.Newf(dErrors.CodeTxConflict,
					"resident %s left their household concurrently", residentCode)
			}
			return 0, err
		}
		if current.HouseholdID == sourceID {
			return sourceID, nil
		}
		sourceID = current.HouseholdID
	}
	return 0, dErrors.Newf(dErrors.CodeTxConflict,
		"resident %s kept changing households concurrently", residentCode)
}

func (s *Service) incrementCompleted(result *models.SeparationResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.SeparationsCompleted.Inc()
	if result.PromotedHeadCode != nil {
		s.metrics.HeadPromotions.Inc()
	}
}

func (s *Service) incrementFailed() {
	if s.metrics != nil {
		s.metrics.SeparationsFailed.Inc()
	}
}

func (s *Service) logCommitted(ctx context.Context, req *models.SeparationRequest, result *models.SeparationResult) {
	if s.logger == nil {
		return
	}
	attrs := []any{
		"resident_code", req.ResidentCode,
		"old_household_id", result.OldHouseholdID,
		"new_household_id", result.NewHouseholdID,
		"old_household_dissolved", result.OldHouseholdGone,
		"reason", req.Reason,
	}
	if result.PromotedHeadCode != nil {
		attrs = append(attrs, "promoted_head_code", *result.PromotedHeadCode)
	}
	s.logger.InfoContext(ctx, "household separation committed", attrs...)
}
