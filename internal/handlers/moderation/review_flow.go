package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"

	"github.com/nauanbek/saqshy/internal/bot"
	"github.com/nauanbek/saqshy/internal/cache"
	"github.com/nauanbek/saqshy/internal/db"
	"github.com/nauanbek/saqshy/internal/policy/permissions"
	"github.com/nauanbek/saqshy/internal/scoring"
)

// HandleReviewCallback resolves a queued review from an operator button
// press. The callback data carries only "review:<decision id>:<action>";
// the case itself is loaded fresh, so a stale button can never act twice.
func (a *ActionService) HandleReviewCallback(ctx context.Context, cq *api.CallbackQuery) error {
	if cq == nil || cq.From == nil {
		return nil
	}
	entry := a.getLogEntry().WithField("method", "HandleReviewCallback")

	parts := strings.Split(cq.Data, ":")
	if len(parts) != 3 || parts[0] != reviewCallbackPrefix {
		return errors.Errorf("malformed review callback %q", cq.Data)
	}
	decisionID, action := parts[1], parts[2]
	entry = entry.WithField("decision_id", decisionID)

	rec, err := a.deps.Store.GetDecision(ctx, decisionID)
	if err != nil {
		return errors.WithMessage(err, "get reviewed decision")
	}
	if rec == nil {
		a.answerCallback(cq.ID, "Review not found")
		return nil
	}
	if rec.Resolution != "" {
		a.answerCallback(cq.ID, "Already handled")
		return nil
	}

	allowed, err := a.isOperator(ctx, rec.ChatID, cq.From.ID)
	if err != nil {
		entry.WithError(err).Warn("failed to verify operator rights")
	}
	if !allowed {
		a.answerCallback(cq.ID, "Moderators only")
		return nil
	}

	now := time.Now()
	operator := bot.GetUN(cq.From)

	switch action {
	case reviewActionApprove:
		if err := a.deps.Store.ResolveReview(ctx, rec.ID, db.ResolutionApproved, now); err != nil {
			return errors.WithMessage(err, "resolve review")
		}
		a.liftHold(ctx, rec.ChatID, rec.UserID)
		note := fmt.Sprintf("approved in review %s", rec.ID)
		if err := a.deps.Store.UpsertAllowlist(ctx, rec.UserID, cq.From.ID, note); err != nil {
			entry.WithError(err).Error("failed to allowlist approved member")
		}
		a.recordOutcome(ctx, rec.ChatID, rec.UserID, scoring.VerdictAllow)
		a.answerCallback(cq.ID, "Approved")
		a.sealReviewPost(cq, "✅ approved by "+operator)
		entry.Info("review approved")

	case reviewActionBan:
		if err := a.deps.Store.ResolveReview(ctx, rec.ID, db.ResolutionBanned, now); err != nil {
			return errors.WithMessage(err, "resolve review")
		}
		if err := a.deps.Enforcer.DeleteMessage(ctx, rec.ChatID, rec.MessageID); err != nil {
			entry.WithError(err).Error("failed to delete held message")
		}
		if err := a.deps.Enforcer.BanUser(ctx, rec.ChatID, rec.UserID, banDuration(rec.Score), true); err != nil {
			entry.WithError(err).Error("failed to ban reviewed member")
		}
		if a.deps.Reputation != nil {
			if err := a.deps.Reputation.RecordBan(ctx, rec.ChatID, rec.UserID); err != nil {
				entry.WithError(err).Warn("failed to record ban history")
			}
		}
		if text, found, err := a.deps.Cache.Get(ctx, cache.KeyReviewText(rec.ID)); err == nil && found {
			a.recordSample(ctx, rec.Decision, text, sampleSourceReview)
		}
		a.recordOutcome(ctx, rec.ChatID, rec.UserID, scoring.VerdictBlock)
		a.answerCallback(cq.ID, "Banned")
		a.sealReviewPost(cq, "🚫 banned by "+operator)
		entry.Info("review banned")

	default:
		return errors.Errorf("unknown review action %q", action)
	}
	return nil
}

// isOperator gates review buttons to moderators of the affected group with
// the restrict right, plus the configured debug operator.
func (a *ActionService) isOperator(ctx context.Context, chatID, userID int64) (bool, error) {
	if a.cfg.DebugUserID != 0 && userID == a.cfg.DebugUserID {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	member, err := a.deps.Bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
	})
	if err != nil {
		return false, errors.WithMessage(err, "get chat member")
	}
	return permissions.IsPrivilegedModerator(&member), nil
}

// expireReview closes a review the operators never touched. The hold is
// lifted: an unreviewed member stays limited by the trust machine, not by
// a forgotten restriction.
func (a *ActionService) expireReview(ctx context.Context, decisionID string) error {
	rec, err := a.deps.Store.GetDecision(ctx, decisionID)
	if err != nil {
		return errors.WithMessage(err, "get decision")
	}
	if rec == nil || rec.Resolution != "" {
		return nil
	}
	if err := a.deps.Store.ResolveReview(ctx, decisionID, db.ResolutionExpired, time.Now()); err != nil {
		return errors.WithMessage(err, "resolve review")
	}
	a.liftHold(ctx, rec.ChatID, rec.UserID)
	a.getLogEntry().WithField("method", "expireReview").WithField("decision_id", decisionID).Info("review expired unresolved")
	return nil
}

// rearmPendingReviews reschedules the expiry sweep for reviews that were
// pending at shutdown.
func (a *ActionService) rearmPendingReviews(ctx context.Context) error {
	pending, err := a.deps.Store.UnresolvedReviews(ctx)
	if err != nil {
		return errors.WithMessage(err, "list unresolved reviews")
	}
	for _, rec := range pending {
		remaining := a.cfg.ReviewTimeout - time.Since(rec.CreatedAt)
		if remaining < 0 {
			remaining = 0
		}
		id := rec.ID
		a.scheduleAfter(remaining, func(runCtx context.Context) {
			if err := a.expireReview(runCtx, id); err != nil && !errors.Is(err, context.Canceled) {
				a.getLogEntry().WithField("method", "rearmPendingReviews").WithError(err).Error("failed to expire review")
			}
		})
	}
	if len(pending) > 0 {
		a.getLogEntry().WithField("method", "rearmPendingReviews").Infof("re-armed %d pending reviews", len(pending))
	}
	return nil
}

// liftHold restores full member permissions and clears the marker.
func (a *ActionService) liftHold(ctx context.Context, chatID, userID int64) {
	entry := a.getLogEntry().WithField("method", "liftHold")
	if err := a.deps.Enforcer.RestrictUser(ctx, chatID, userID, permissions.Full(), time.Time{}); err != nil {
		entry.WithError(err).Error("failed to lift restriction")
	}
	if err := a.deps.Cache.Delete(ctx, cache.KeyRestricted(chatID, userID)); err != nil {
		entry.WithError(err).Debug("failed to clear restriction marker")
	}
}

func reviewKeyboard(decisionID string) *api.InlineKeyboardMarkup {
	markup := api.NewInlineKeyboardMarkup(
		api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonData("✅ Approve", fmt.Sprintf("%s:%s:%s", reviewCallbackPrefix, decisionID, reviewActionApprove)),
			api.NewInlineKeyboardButtonData("🚫 Ban", fmt.Sprintf("%s:%s:%s", reviewCallbackPrefix, decisionID, reviewActionBan)),
		),
	)
	return &markup
}

func (a *ActionService) answerCallback(callbackID, text string) {
	if _, err := a.deps.Bot.Request(api.NewCallback(callbackID, text)); err != nil {
		a.getLogEntry().WithField("method", "answerCallback").WithError(err).Error("failed to answer callback")
	}
}

// sealReviewPost appends the resolution under the review post and drops the
// buttons, so the case reads as closed in the history.
func (a *ActionService) sealReviewPost(cq *api.CallbackQuery, outcome string) {
	if cq.Message == nil {
		return
	}
	edit := api.NewEditMessageText(cq.Message.Chat.ID, cq.Message.MessageID, cq.Message.Text+"\n\n"+outcome)
	if _, err := a.deps.Bot.Send(edit); err != nil {
		a.getLogEntry().WithField("method", "sealReviewPost").WithError(err).Error("failed to seal review post")
	}
}
