// Package models holds the household registry domain types. Residents are
// owned by an external directory; the registry references them only by their
// national-ID code.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "hokhau/pkg/domain-errors"
)

// Relationship labels are free text; these are the labels the registry
// assigns itself. "head" is special: it must match the household head field.
const (
	RelationshipHead  = "head"
	RelationshipOther = "other"
)

// Household is a registration unit ("hộ khẩu").
//
// Invariants:
//   - HeadCode, when set, names a current member of this household
//   - at most one member carries the "head" relationship at any time
//   - a household may be headless only inside an open transaction
type Household struct {
	ID           int64     `json:"id"`
	HeadCode     *string   `json:"head_code,omitempty"`
	AddressLine  string    `json:"address_line"`
	Ward         string    `json:"ward"`
	District     string    `json:"district"`
	RegisteredOn time.Time `json:"registered_on"`
}

// Address groups the postal fields used when registering a household.
type Address struct {
	Line     string `json:"line"`
	Ward     string `json:"ward"`
	District string `json:"district"`
}

func (a Address) Normalize() Address {
	return Address{
		Line:     strings.TrimSpace(a.Line),
		Ward:     strings.TrimSpace(a.Ward),
		District: strings.TrimSpace(a.District),
	}
}

func (a Address) Validate() error {
	if a.Line == "" {
		return dErrors.New(dErrors.CodeValidation, "address line is required")
	}
	return nil
}

// Membership links one resident to one household. A resident holds at most
// one active membership; the row is removed, never updated, when the resident
// leaves (a relabel is a remove+add pair).
type Membership struct {
	ResidentCode string    `json:"resident_code"`
	HouseholdID  int64     `json:"household_id"`
	Relationship string    `json:"relationship"`
	JoinedOn     time.Time `json:"joined_on"`
}

// IsHead reports whether this membership carries the head label.
func (m Membership) IsHead() bool { return m.Relationship == RelationshipHead }

// ChangeKind is the kind of a change history entry.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
)

// ChangeEntry is one immutable audit record of a membership mutation.
type ChangeEntry struct {
	ID           uuid.UUID  `json:"id"`
	ResidentCode string     `json:"resident_code"`
	HouseholdID  int64      `json:"household_id"`
	Kind         ChangeKind `json:"kind"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// TargetType selects where a separating resident lands.
type TargetType string

const (
	TargetNew      TargetType = "new"
	TargetExisting TargetType = "existing"
)

// SeparationRequest asks to move a resident out of their current household
// into a new or existing one.
type SeparationRequest struct {
	ResidentCode      string     `json:"resident_code"`
	TargetType        TargetType `json:"target_type"`
	TargetHouseholdID int64      `json:"target_household_id,omitempty"`
	NewAddress        Address    `json:"new_address,omitempty"`
	Reason            string     `json:"reason"`
}

func (r *SeparationRequest) Normalize() {
	r.ResidentCode = strings.TrimSpace(r.ResidentCode)
	r.Reason = strings.TrimSpace(r.Reason)
	r.NewAddress = r.NewAddress.Normalize()
}

// Validate checks the request shape only; existence checks belong to the
// orchestrator, which needs store access.
func (r *SeparationRequest) Validate() error {
	if r.ResidentCode == "" {
		return dErrors.New(dErrors.CodeValidation, "resident code is required")
	}
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "separation reason is required")
	}
	switch r.TargetType {
	case TargetNew:
		if err := r.NewAddress.Validate(); err != nil {
			return err
		}
	case TargetExisting:
		if r.TargetHouseholdID <= 0 {
			return dErrors.New(dErrors.CodeValidation, "target household id is required")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, "target type must be new or existing")
	}
	return nil
}

// SeparationResult reports a committed separation.
type SeparationResult struct {
	ResidentCode     string    `json:"resident_code"`
	OldHouseholdID   int64     `json:"old_household_id"`
	NewHouseholdID   int64     `json:"new_household_id"`
	OldHouseholdGone bool      `json:"old_household_dissolved"`
	PromotedHeadCode *string   `json:"promoted_head_code,omitempty"`
	CompletedAt      time.Time `json:"completed_at"`
}

// MembershipInfo is the read-only projection used to populate a separation
// form. CurrentHousehold is nil for an unaffiliated resident.
type MembershipInfo struct {
	ResidentCode     string       `json:"resident_code"`
	CurrentHousehold *Household   `json:"current_household,omitempty"`
	IsHead           bool         `json:"is_head"`
	OtherMembers     []Membership `json:"other_members,omitempty"`
	CanSeparate      bool         `json:"can_separate"`
}

// History pagination bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// HistoryFilter selects change history entries for reporting. Zero-valued
// fields are ignored.
type HistoryFilter struct {
	ResidentCode string     `json:"resident_code,omitempty"`
	HouseholdID  int64      `json:"household_id,omitempty"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

func (f *HistoryFilter) Normalize() {
	f.ResidentCode = strings.TrimSpace(f.ResidentCode)
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

func (f *HistoryFilter) Validate() error {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return dErrors.New(dErrors.CodeValidation, "history range end precedes start")
	}
	return nil
}

// NormalizeRelationship lowercases and trims a free-text relationship label.
func NormalizeRelationship(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
