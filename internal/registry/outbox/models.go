// Package outbox publishes membership change events to Kafka through a
// transactional outbox: the event row commits atomically with the change
// history entry, and a background worker drains it.
package outbox

import (
	"time"

	"github.com/google/uuid"

	"hokhau/internal/registry/models"
)

// EventTypeMembershipChanged is the only event type the registry emits today.
const EventTypeMembershipChanged = "registry.membership-changed"

// Event is one undelivered outbox row.
type Event struct {
	ID        uuid.UUID
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// ChangePayload is the JSON body published to Kafka. Field names are part of
// the consumer contract.
type ChangePayload struct {
	EntryID      uuid.UUID         `json:"entry_id"`
	ResidentCode string            `json:"resident_code"`
	HouseholdID  int64             `json:"household_id"`
	Kind         models.ChangeKind `json:"kind"`
	OccurredAt   time.Time         `json:"occurred_at"`
}
