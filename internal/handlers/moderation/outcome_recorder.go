package moderation

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nauanbek/saqshy/internal/decision"
	"github.com/nauanbek/saqshy/internal/event"
	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
)

// reputationRecorder updates the cross-group abuse history.
type reputationRecorder interface {
	banRecorder
	RecordFlag(ctx context.Context, chatID, userID int64) error
}

// RegisterOutcomeRecorder subscribes the learning sources to the decision
// stream. Every finalized verdict lands in the sender's per-member stats;
// LIMIT and BLOCK also flow into the cross-group reputation. REVIEW stays
// out of the shared history until an operator resolves it.
func RegisterOutcomeRecorder(behavior outcomeRecorder, reputation reputationRecorder) {
	event.Subscribe(decision.EventTypeDecision, func(e event.Queueable) {
		ev, ok := e.(*decision.Event)
		if !ok || ev.Decision == nil {
			e.Process()
			return
		}
		ev.Process()
		recordDecisionOutcome(ev.Decision, behavior, reputation)
	})
}

func recordDecisionOutcome(d *decision.Decision, behavior outcomeRecorder, reputation reputationRecorder) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := log.WithField("object", "OutcomeRecorder").WithField("decision_id", d.ID)

	if behavior != nil {
		key := signal.MemberKey{ChatID: d.ChatID, UserID: d.UserID}
		if err := behavior.RecordOutcome(ctx, key, d.Verdict); err != nil {
			entry.WithError(err).Warn("failed to record outcome")
		}
	}
	if reputation == nil {
		return
	}

	switch d.Verdict {
	case scoring.VerdictLimit:
		if err := reputation.RecordFlag(ctx, d.ChatID, d.UserID); err != nil {
			entry.WithError(err).Warn("failed to record flag")
		}
	case scoring.VerdictBlock:
		if err := reputation.RecordBan(ctx, d.ChatID, d.UserID); err != nil {
			entry.WithError(err).Warn("failed to record ban")
		}
	}
}
