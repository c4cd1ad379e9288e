package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/trust"
)

// GetTrustRecord returns nil for a member that was never observed; the
// coordinator seeds a fresh record itself.
func (s *sqliteClient) GetTrustRecord(ctx context.Context, key signal.MemberKey) (*trust.Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var rec trust.Record
	err := s.db.GetContext(ctx, &rec, `
		SELECT chat_id, user_id, state, entered_at, approved_count, violation_count, first_seen_at, updated_at
		FROM trust_records
		WHERE chat_id = ? AND user_id = ?
	`, key.ChatID, key.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get trust record for user %d in chat %d: %w", key.UserID, key.ChatID, err)
	}
	return &rec, nil
}

func (s *sqliteClient) UpsertTrustRecord(ctx context.Context, rec *trust.Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// first_seen_at never changes after the first insert.
	query := `
		INSERT INTO trust_records (chat_id, user_id, state, entered_at, approved_count, violation_count, first_seen_at, updated_at)
		VALUES (:chat_id, :user_id, :state, :entered_at, :approved_count, :violation_count, :first_seen_at, :updated_at)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
		state = excluded.state,
		entered_at = excluded.entered_at,
		approved_count = excluded.approved_count,
		violation_count = excluded.violation_count,
		updated_at = excluded.updated_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to upsert trust record for user %d in chat %d: %w", rec.UserID, rec.ChatID, err)
	}
	return nil
}
