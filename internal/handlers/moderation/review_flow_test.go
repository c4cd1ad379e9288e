package moderation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/nauanbek/saqshy/internal/cache"
	"github.com/nauanbek/saqshy/internal/config"
	"github.com/nauanbek/saqshy/internal/db"
	"github.com/nauanbek/saqshy/internal/scoring"
)

func testCallback(decisionID, action string, fromID int64) *api.CallbackQuery {
	return &api.CallbackQuery{
		ID:   "cb-1",
		From: &api.User{ID: fromID, UserName: "operator"},
		Data: fmt.Sprintf("%s:%s:%s", reviewCallbackPrefix, decisionID, action),
		Message: &api.Message{
			MessageID: 501,
			Chat:      api.Chat{ID: -100900, Type: "channel"},
			Text:      "REVIEW 55 in test group",
		},
	}
}

func TestHandleReviewCallbackRejectsMalformedData(t *testing.T) {
	t.Parallel()

	svc := newTestActionService(t, config.Moderation{}, ActionDeps{})
	cq := testCallback("x", "approve", 99)
	cq.Data = "garbage"

	err := svc.HandleReviewCallback(context.Background(), cq)
	if err == nil || !strings.Contains(err.Error(), "malformed") {
		t.Fatalf("expected malformed callback error, got %v", err)
	}
}

func TestHandleReviewCallbackUnknownCase(t *testing.T) {
	t.Parallel()

	store := &storeStub{decisions: map[string]*db.DecisionRecord{}}
	msgr := &messengerStub{}
	svc := newTestActionService(t, config.Moderation{}, ActionDeps{Bot: msgr, Store: store})

	if err := svc.HandleReviewCallback(context.Background(), testCallback("missing", "approve", 99)); err != nil {
		t.Fatalf("handle callback: %v", err)
	}

	if len(store.resolutions) != 0 {
		t.Fatalf("unknown case must not resolve anything")
	}
	if len(msgr.requests) != 1 {
		t.Fatalf("expected 1 callback answer, got %d", len(msgr.requests))
	}
	answer, ok := msgr.requests[0].(api.CallbackConfig)
	if !ok {
		t.Fatalf("unexpected request type %T", msgr.requests[0])
	}
	if answer.Text != "Review not found" {
		t.Fatalf("unexpected answer: %q", answer.Text)
	}
}

func TestHandleReviewCallbackAlreadyHandled(t *testing.T) {
	t.Parallel()

	d := testDecision(scoring.VerdictReview, 55)
	store := &storeStub{decisions: map[string]*db.DecisionRecord{
		d.ID: {Decision: d, Resolution: db.ResolutionApproved},
	}}
	msgr := &messengerStub{}
	svc := newTestActionService(t, config.Moderation{}, ActionDeps{Bot: msgr, Store: store})

	if err := svc.HandleReviewCallback(context.Background(), testCallback(d.ID, "ban", 99)); err != nil {
		t.Fatalf("handle callback: %v", err)
	}

	if len(store.resolutions) != 0 {
		t.Fatalf("resolved case must not be resolved again")
	}
	answer := msgr.requests[0].(api.CallbackConfig)
	if answer.Text != "Already handled" {
		t.Fatalf("unexpected answer: %q", answer.Text)
	}
}

func TestHandleReviewCallbackRequiresOperator(t *testing.T) {
	t.Parallel()

	d := testDecision(scoring.VerdictReview, 55)
	store := &storeStub{decisions: map[string]*db.DecisionRecord{d.ID: {Decision: d}}}
	msgr := &messengerStub{member: api.ChatMember{Status: "member", User: &api.User{ID: 5}}}
	svc := newTestActionService(t, config.Moderation{}, ActionDeps{Bot: msgr, Store: store})

	if err := svc.HandleReviewCallback(context.Background(), testCallback(d.ID, "approve", 5)); err != nil {
		t.Fatalf("handle callback: %v", err)
	}

	if len(store.resolutions) != 0 {
		t.Fatalf("non-operator must not resolve a review")
	}
	answer := msgr.requests[0].(api.CallbackConfig)
	if answer.Text != "Moderators only" {
		t.Fatalf("unexpected answer: %q", answer.Text)
	}
}

func TestHandleReviewCallbackApprove(t *testing.T) {
	t.Parallel()

	d := testDecision(scoring.VerdictReview, 55)
	store := &storeStub{decisions: map[string]*db.DecisionRecord{d.ID: {Decision: d}}}
	enf := &enforcerStub{}
	msgr := &messengerStub{}
	behavior := &behaviorStub{}
	svc := newTestActionService(t, config.Moderation{DebugUserID: 99}, ActionDeps{
		Bot:      msgr,
		Enforcer: enf,
		Store:    store,
		Behavior: behavior,
	})

	if err := svc.HandleReviewCallback(context.Background(), testCallback(d.ID, "approve", 99)); err != nil {
		t.Fatalf("handle callback: %v", err)
	}

	if got := store.resolutionOf(d.ID); got != db.ResolutionApproved {
		t.Fatalf("unexpected resolution: got %q want %q", got, db.ResolutionApproved)
	}
	if len(enf.restricts) != 1 {
		t.Fatalf("approve should lift the hold, got %d restricts", len(enf.restricts))
	}
	lift := enf.restricts[0]
	if !lift.perms.CanSendMessages || !lift.perms.CanSendPhotos || !lift.until.IsZero() {
		t.Fatalf("unexpected lift call: %+v", lift)
	}
	if len(store.allowlisted) != 1 || store.allowlisted[0] != d.UserID {
		t.Fatalf("approved member should be allowlisted, got %v", store.allowlisted)
	}
	if len(behavior.outcomes) != 1 || behavior.outcomes[0].verdict != scoring.VerdictAllow {
		t.Fatalf("approve should record an ALLOW outcome, got %v", behavior.outcomes)
	}
	if len(msgr.sent) != 1 {
		t.Fatalf("approve should seal the review post, got %d sends", len(msgr.sent))
	}
}

func TestHandleReviewCallbackBan(t *testing.T) {
	t.Parallel()

	d := testDecision(scoring.VerdictReview, 88)
	store := &storeStub{decisions: map[string]*db.DecisionRecord{d.ID: {Decision: d}}}
	enf := &enforcerStub{}
	behavior := &behaviorStub{}
	reputation := &reputationStub{}
	mem := cache.NewMemory()
	svc := newTestActionService(t, config.Moderation{DebugUserID: 99}, ActionDeps{
		Enforcer:   enf,
		Store:      store,
		Cache:      mem,
		Behavior:   behavior,
		Reputation: reputation,
	})

	heldText := "click t.me/fast_money"
	if err := mem.Set(context.Background(), cache.KeyReviewText(d.ID), heldText, time.Hour); err != nil {
		t.Fatalf("seed held text: %v", err)
	}

	if err := svc.HandleReviewCallback(context.Background(), testCallback(d.ID, "ban", 99)); err != nil {
		t.Fatalf("handle callback: %v", err)
	}

	if got := store.resolutionOf(d.ID); got != db.ResolutionBanned {
		t.Fatalf("unexpected resolution: got %q want %q", got, db.ResolutionBanned)
	}
	if len(enf.deleted) != 1 || enf.deleted[0] != d.MessageID {
		t.Fatalf("ban should delete the held message, got %v", enf.deleted)
	}
	if len(enf.bans) != 1 {
		t.Fatalf("expected 1 ban, got %d", len(enf.bans))
	}
	if enf.bans[0].duration != 30*24*time.Hour {
		t.Fatalf("unexpected ban duration for score %d: %v", d.Score, enf.bans[0].duration)
	}
	if len(reputation.bans) != 1 || reputation.bans[0] != d.UserID {
		t.Fatalf("ban should land in the reputation history, got %v", reputation.bans)
	}
	if len(store.samples) != 1 {
		t.Fatalf("ban should record the held text as a sample, got %d", len(store.samples))
	}
	if store.samples[0].Text != heldText || store.samples[0].Source != sampleSourceReview {
		t.Fatalf("unexpected sample: %+v", store.samples[0])
	}
	if len(behavior.outcomes) != 1 || behavior.outcomes[0].verdict != scoring.VerdictBlock {
		t.Fatalf("ban should record a BLOCK outcome, got %v", behavior.outcomes)
	}
}

func TestExpireReviewSkipsResolved(t *testing.T) {
	t.Parallel()

	d := testDecision(scoring.VerdictReview, 55)
	store := &storeStub{decisions: map[string]*db.DecisionRecord{
		d.ID: {Decision: d, Resolution: db.ResolutionApproved},
	}}
	enf := &enforcerStub{}
	svc := newTestActionService(t, config.Moderation{}, ActionDeps{Enforcer: enf, Store: store})

	if err := svc.expireReview(context.Background(), d.ID); err != nil {
		t.Fatalf("expire review: %v", err)
	}

	if len(store.resolutions) != 0 {
		t.Fatalf("resolved review must not expire")
	}
	if len(enf.restricts) != 0 {
		t.Fatalf("resolved review must not be lifted again")
	}
}

func TestReviewKeyboardCarriesDecisionID(t *testing.T) {
	t.Parallel()

	markup := reviewKeyboard("abc")
	if len(markup.InlineKeyboard) != 1 || len(markup.InlineKeyboard[0]) != 2 {
		t.Fatalf("unexpected keyboard shape: %+v", markup.InlineKeyboard)
	}

	approve := markup.InlineKeyboard[0][0]
	if approve.CallbackData == nil || *approve.CallbackData != "review:abc:approve" {
		t.Fatalf("unexpected approve callback: %v", approve.CallbackData)
	}
	ban := markup.InlineKeyboard[0][1]
	if ban.CallbackData == nil || *ban.CallbackData != "review:abc:ban" {
		t.Fatalf("unexpected ban callback: %v", ban.CallbackData)
	}
}
