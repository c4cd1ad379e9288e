package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nauanbek/saqshy/internal/db"
	"github.com/nauanbek/saqshy/internal/decision"
	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/trust"
)

// decisionRow flattens a decision for sqlite. Contributing signals and the
// collection report store as JSON text, so the audit trail keeps the full
// explanation without a table per signal.
type decisionRow struct {
	ID               string     `db:"id"`
	ChatID           int64      `db:"chat_id"`
	UserID           int64      `db:"user_id"`
	MessageID        int        `db:"message_id"`
	Verdict          string     `db:"verdict"`
	Score            int        `db:"score"`
	Threat           string     `db:"threat"`
	Contributing     string     `db:"contributing"`
	TrustStateAfter  string     `db:"trust_state_after"`
	Degraded         bool       `db:"degraded"`
	Report           string     `db:"report"`
	FailOpenReason   string     `db:"fail_open_reason"`
	ArbiterConsulted bool       `db:"arbiter_consulted"`
	ArbiterReason    string     `db:"arbiter_reason"`
	ArbiterOpinion   string     `db:"arbiter_opinion"`
	ArbiterError     string     `db:"arbiter_error"`
	ElapsedMS        int64      `db:"elapsed_ms"`
	Resolution       *string    `db:"resolution"`
	ResolvedAt       *time.Time `db:"resolved_at"`
	CreatedAt        time.Time  `db:"created_at"`
}

func newDecisionRow(d *decision.Decision) (*decisionRow, error) {
	contributing, err := json.Marshal(d.Contributing)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal contributing signals: %w", err)
	}
	report, err := json.Marshal(d.Report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal collection report: %w", err)
	}
	return &decisionRow{
		ID:               d.ID,
		ChatID:           d.ChatID,
		UserID:           d.UserID,
		MessageID:        d.MessageID,
		Verdict:          d.Verdict.String(),
		Score:            d.Score,
		Threat:           string(d.Threat),
		Contributing:     string(contributing),
		TrustStateAfter:  string(d.TrustStateAfter),
		Degraded:         d.Degraded,
		Report:           string(report),
		FailOpenReason:   d.FailOpenReason,
		ArbiterConsulted: d.ArbiterConsulted,
		ArbiterReason:    d.ArbiterReason,
		ArbiterOpinion:   d.ArbiterOpinion,
		ArbiterError:     d.ArbiterError,
		ElapsedMS:        d.Elapsed.Milliseconds(),
		CreatedAt:        d.CreatedAt,
	}, nil
}

func (r *decisionRow) toRecord() (*db.DecisionRecord, error) {
	verdict, err := scoring.ParseVerdict(r.Verdict)
	if err != nil {
		return nil, fmt.Errorf("failed to read decision %s: %w", r.ID, err)
	}
	var contributing signal.Set
	if r.Contributing != "" {
		if err := json.Unmarshal([]byte(r.Contributing), &contributing); err != nil {
			return nil, fmt.Errorf("failed to unmarshal contributing signals of decision %s: %w", r.ID, err)
		}
	}
	var report pipeline.Report
	if r.Report != "" {
		if err := json.Unmarshal([]byte(r.Report), &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal collection report of decision %s: %w", r.ID, err)
		}
	}

	rec := &db.DecisionRecord{
		Decision: &decision.Decision{
			ID:               r.ID,
			ChatID:           r.ChatID,
			UserID:           r.UserID,
			MessageID:        r.MessageID,
			Verdict:          verdict,
			Score:            r.Score,
			Threat:           signal.Threat(r.Threat),
			Contributing:     contributing,
			TrustStateAfter:  trust.State(r.TrustStateAfter),
			Degraded:         r.Degraded,
			Report:           report,
			FailOpenReason:   r.FailOpenReason,
			ArbiterConsulted: r.ArbiterConsulted,
			ArbiterReason:    r.ArbiterReason,
			ArbiterOpinion:   r.ArbiterOpinion,
			ArbiterError:     r.ArbiterError,
			Elapsed:          time.Duration(r.ElapsedMS) * time.Millisecond,
			CreatedAt:        r.CreatedAt,
		},
		ResolvedAt: r.ResolvedAt,
	}
	if r.Resolution != nil {
		rec.Resolution = *r.Resolution
	}
	return rec, nil
}

func (s *sqliteClient) InsertDecision(ctx context.Context, d *decision.Decision) error {
	row, err := newDecisionRow(d)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO decisions (id, chat_id, user_id, message_id, verdict, score, threat, contributing,
			trust_state_after, degraded, report, fail_open_reason, arbiter_consulted, arbiter_reason,
			arbiter_opinion, arbiter_error, elapsed_ms, resolution, resolved_at, created_at)
		VALUES (:id, :chat_id, :user_id, :message_id, :verdict, :score, :threat, :contributing,
			:trust_state_after, :degraded, :report, :fail_open_reason, :arbiter_consulted, :arbiter_reason,
			:arbiter_opinion, :arbiter_error, :elapsed_ms, :resolution, :resolved_at, :created_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to insert decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *sqliteClient) GetDecision(ctx context.Context, id string) (*db.DecisionRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var row decisionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM decisions WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get decision %s: %w", id, err)
	}
	return row.toRecord()
}

// UnresolvedReviews lists REVIEW decisions no operator has acted on yet,
// oldest first. The action service re-arms their timeouts after a restart.
func (s *sqliteClient) UnresolvedReviews(ctx context.Context) ([]*db.DecisionRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var rows []*decisionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM decisions
		WHERE verdict = ? AND resolution IS NULL
		ORDER BY created_at ASC
	`, scoring.VerdictReview.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved reviews: %w", err)
	}

	out := make([]*db.DecisionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ResolveReview closes a review exactly once. A second resolution attempt
// returns db.ErrNotFound, which makes operator double-clicks harmless.
func (s *sqliteClient) ResolveReview(ctx context.Context, id string, resolution string, resolvedAt time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE decisions
		SET resolution = ?, resolved_at = ?
		WHERE id = ? AND resolution IS NULL
	`, resolution, resolvedAt, id)
	if err != nil {
		return fmt.Errorf("failed to resolve review %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve review %s: %w", id, err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}
