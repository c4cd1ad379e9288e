package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

func (s *sqliteClient) UpsertBanlist(ctx context.Context, userIDs []int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	rollback := true
	defer func() {
		if rollback {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.WithError(err).Error("failed to rollback transaction")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO banlist (user_id) VALUES (?)
		ON CONFLICT(user_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, userID := range userIDs {
		if _, err := stmt.ExecContext(ctx, userID); err != nil {
			return fmt.Errorf("failed to insert user %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	rollback = false
	return nil
}

func (s *sqliteClient) GetBanlist(ctx context.Context) (map[int64]struct{}, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var userIDs []int64
	err := s.db.SelectContext(ctx, &userIDs, `SELECT user_id FROM banlist`)
	if err != nil {
		return nil, fmt.Errorf("failed to get banlist: %w", err)
	}
	results := make(map[int64]struct{}, len(userIDs))
	for _, userID := range userIDs {
		results[userID] = struct{}{}
	}
	return results, nil
}

// UpsertAllowlist vouches for a user globally. Recorded when an operator
// approves a flagged message, so repeat false positives stop firing.
func (s *sqliteClient) UpsertAllowlist(ctx context.Context, userID int64, addedBy int64, note string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO allowlist (user_id, added_by, note, created_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(user_id) DO UPDATE SET
		added_by = excluded.added_by,
		note = excluded.note
	`
	if _, err := s.db.ExecContext(ctx, query, userID, addedBy, note); err != nil {
		return fmt.Errorf("failed to allowlist user %d: %w", userID, err)
	}
	return nil
}

func (s *sqliteClient) RemoveAllowlist(ctx context.Context, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM allowlist WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to remove user %d from allowlist: %w", userID, err)
	}
	return nil
}

func (s *sqliteClient) IsAllowlisted(ctx context.Context, userID int64) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM allowlist WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check allowlist for user %d: %w", userID, err)
	}
	return count > 0, nil
}
