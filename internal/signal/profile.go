package signal

import "time"

// GroupProfile is the per-group moderation configuration, loaded by the
// settings store and immutable for the duration of one decision.
type GroupProfile struct {
	ChatID          int64         `db:"chat_id"`
	Kind            GroupKind     `db:"kind"`
	Sensitivity     int           `db:"sensitivity"` // 1..10, 5 is neutral
	SandboxEnabled  bool          `db:"sandbox_enabled"`
	SandboxDuration time.Duration `db:"sandbox_duration"` // 0 means machine default
	TrustChannelID  int64         `db:"trust_channel_id"` // 0 means no trust channel
	Enabled         bool          `db:"enabled"`
	Language        string        `db:"language"`
}

// DefaultGroupProfile is the profile applied to groups that never saved
// settings.
func DefaultGroupProfile(chatID int64) *GroupProfile {
	return &GroupProfile{
		ChatID:         chatID,
		Kind:           KindGeneral,
		Sensitivity:    5,
		SandboxEnabled: true,
		Enabled:        true,
		Language:       "en",
	}
}
