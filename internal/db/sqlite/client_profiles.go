package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nauanbek/saqshy/internal/db"
	"github.com/nauanbek/saqshy/internal/signal"
)

// GroupProfile returns the group's saved moderation profile, or the stock
// default for a group that never saved one.
func (s *sqliteClient) GroupProfile(ctx context.Context, chatID int64) (*signal.GroupProfile, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var profile signal.GroupProfile
	err := s.db.GetContext(ctx, &profile, `
		SELECT chat_id, kind, sensitivity, sandbox_enabled, sandbox_duration, trust_channel_id, enabled, language
		FROM group_profiles
		WHERE chat_id = ?
	`, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return signal.DefaultGroupProfile(chatID), nil
		}
		return nil, fmt.Errorf("failed to get group profile for chat %d: %w", chatID, err)
	}
	if err := db.ValidateProfile(&profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *sqliteClient) SetGroupProfile(ctx context.Context, profile *signal.GroupProfile) error {
	if err := db.ValidateProfile(profile); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO group_profiles (chat_id, kind, sensitivity, sandbox_enabled, sandbox_duration, trust_channel_id, enabled, language)
		VALUES (:chat_id, :kind, :sensitivity, :sandbox_enabled, :sandbox_duration, :trust_channel_id, :enabled, :language)
		ON CONFLICT(chat_id) DO UPDATE SET
		kind = excluded.kind,
		sensitivity = excluded.sensitivity,
		sandbox_enabled = excluded.sandbox_enabled,
		sandbox_duration = excluded.sandbox_duration,
		trust_channel_id = excluded.trust_channel_id,
		enabled = excluded.enabled,
		language = excluded.language
	`
	if _, err := s.db.NamedExecContext(ctx, query, profile); err != nil {
		return fmt.Errorf("failed to set group profile for chat %d: %w", profile.ChatID, err)
	}
	return nil
}
