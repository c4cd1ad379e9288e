// Package trust tracks per (member, group) standing: the onboarding sandbox,
// graduated promotion and demotion on violations. Transition logic is pure
// computation; persistence and locking live around it, not inside it.
package trust

import (
	"time"

	"github.com/nauanbek/saqshy/internal/signal"
)

// State is the member's trust lifecycle stage.
type State string

const (
	StateNew       State = "NEW"
	StateSandbox   State = "SANDBOX"
	StateSoftWatch State = "SOFT_WATCH"
	StateLimited   State = "LIMITED"
	StateTrusted   State = "TRUSTED"
)

// Modifier is the scoring contribution of the state. Always zero or
// negative: trust can only vouch for a member, never against.
func (s State) Modifier() int {
	switch s {
	case StateSoftWatch:
		return -5
	case StateLimited:
		return -10
	case StateTrusted:
		return -20
	default:
		return 0
	}
}

// Record is the persistent trust state of one member in one group. Mutated
// only by Machine.Apply under the arena lock for its key.
type Record struct {
	ChatID         int64     `db:"chat_id"`
	UserID         int64     `db:"user_id"`
	State          State     `db:"state"`
	EnteredAt      time.Time `db:"entered_at"`
	ApprovedCount  int       `db:"approved_count"`
	ViolationCount int       `db:"violation_count"`
	FirstSeenAt    time.Time `db:"first_seen_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// NewRecord creates the initial record for a first-observed member.
func NewRecord(key signal.MemberKey, now time.Time) *Record {
	return &Record{
		ChatID:      key.ChatID,
		UserID:      key.UserID,
		State:       StateNew,
		EnteredAt:   now,
		FirstSeenAt: now,
		UpdatedAt:   now,
	}
}

// Key returns the arena key of the record.
func (r *Record) Key() signal.MemberKey {
	return signal.MemberKey{ChatID: r.ChatID, UserID: r.UserID}
}
