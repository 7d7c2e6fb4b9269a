// Package history records membership changes. Entries are append-only and
// immutable; an entry and its outbox event commit atomically with the
// mutation that caused them.
package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"hokhau/internal/registry/metrics"
	"hokhau/internal/registry/models"
	"hokhau/internal/registry/outbox"
	dErrors "hokhau/pkg/domain-errors"
)

// Store is the append-only persistence for change entries.
type Store interface {
	Append(ctx context.Context, entry models.ChangeEntry) error
	List(ctx context.Context, filter models.HistoryFilter) ([]models.ChangeEntry, error)
}

// OutboxAppender queues the matching change event for publication.
type OutboxAppender interface {
	Append(ctx context.Context, event outbox.Event) error
}

// Service is the change history recorder.
type Service struct {
	store   Store
	outbox  OutboxAppender
	metrics *metrics.Metrics
}

type Option func(s *Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs the recorder. The outbox appender may be nil when event
// publication is not configured.
func New(store Store, ob OutboxAppender, opts ...Option) *Service {
	s := &Service{store: store, outbox: ob}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append writes one change entry and its outbox event. Failure here is a
// storage fault; it is not recoverable by this component and aborts the
// surrounding transaction.
func (s *Service) Append(ctx context.Context, residentCode string, householdID int64, kind models.ChangeKind, at time.Time) (uuid.UUID, error) {
	entry := models.ChangeEntry{
		ID:           uuid.New(),
		ResidentCode: residentCode,
		HouseholdID:  householdID,
		Kind:         kind,
		OccurredAt:   at,
	}
	if err := s.store.Append(ctx, entry); err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to append change history")
	}

	if s.outbox != nil {
		payload, err := json.Marshal(outbox.ChangePayload{
			EntryID:      entry.ID,
			ResidentCode: residentCode,
			HouseholdID:  householdID,
			Kind:         kind,
			OccurredAt:   at,
		})
		if err != nil {
			return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode change event")
		}
		event := outbox.Event{
			ID:        entry.ID,
			EventType: outbox.EventTypeMembershipChanged,
			Payload:   payload,
			CreatedAt: at,
		}
		if err := s.outbox.Append(ctx, event); err != nil {
			return uuid.Nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to queue change event")
		}
	}

	if s.metrics != nil {
		s.metrics.HistoryEntries.Inc()
	}
	return entry.ID, nil
}

// Query returns entries matching the filter, newest first.
func (s *Service) Query(ctx context.Context, filter models.HistoryFilter) ([]models.ChangeEntry, error) {
	filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	entries, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to query change history")
	}
	return entries, nil
}

// ByResident returns a resident's change entries.
func (s *Service) ByResident(ctx context.Context, residentCode string, limit, offset int) ([]models.ChangeEntry, error) {
	return s.Query(ctx, models.HistoryFilter{ResidentCode: residentCode, Limit: limit, Offset: offset})
}

// ByHousehold returns a household's change entries.
func (s *Service) ByHousehold(ctx context.Context, householdID int64, limit, offset int) ([]models.ChangeEntry, error) {
	return s.Query(ctx, models.HistoryFilter{HouseholdID: householdID, Limit: limit, Offset: offset})
}

// ByDateRange returns entries between from and to inclusive.
func (s *Service) ByDateRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.ChangeEntry, error) {
	return s.Query(ctx, models.HistoryFilter{From: &from, To: &to, Limit: limit, Offset: offset})
}
