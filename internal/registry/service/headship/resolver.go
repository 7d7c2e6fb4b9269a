// Package headship decides what happens to a household that just lost its
// head. The decision is a pure function of the remaining members so it can be
// tested, replayed, and reasoned about in isolation; the orchestrator applies
// whatever it returns.
package headship

import (
	"sort"

	"hokhau/internal/registry/models"
)

// Outcome is what the resolver decided.
type Outcome int

const (
	// OutcomePromote names a successor in Decision.ResidentCode.
	OutcomePromote Outcome = iota
	// OutcomeDissolve means no members remain and the household goes away.
	OutcomeDissolve
)

// Decision is the resolver's verdict for a vacated headship.
type Decision struct {
	Outcome      Outcome
	ResidentCode string
}

// Resolve picks the successor head from the remaining members, or dissolution
// when none remain. Callers invoke it only when the departing resident was
// the head; otherwise headship is untouched and there is nothing to resolve.
//
// The successor is deterministic: earliest join date wins, ties broken by the
// lowest resident code. Running Resolve twice on the same input always yields
// the same decision.
func Resolve(remaining []models.Membership) Decision {
	if len(remaining) == 0 {
		return Decision{Outcome: OutcomeDissolve}
	}

	members := make([]models.Membership, len(remaining))
	copy(members, remaining)
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedOn.Equal(members[j].JoinedOn) {
			return members[i].JoinedOn.Before(members[j].JoinedOn)
		}
		return members[i].ResidentCode < members[j].ResidentCode
	})

	return Decision{Outcome: OutcomePromote, ResidentCode: members[0].ResidentCode}
}
