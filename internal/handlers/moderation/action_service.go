// Package moderation is the enforcement layer. The guard handler feeds
// group traffic through the decision pipeline, the action service turns
// verdicts into Bot API calls and runs the operator review flow, and the
// outcome recorder feeds finalized decisions back into the learning
// sources.
package moderation

import (
	"context"
	"strings"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/nauanbek/saqshy/internal/bot"
	"github.com/nauanbek/saqshy/internal/cache"
	"github.com/nauanbek/saqshy/internal/config"
	"github.com/nauanbek/saqshy/internal/db"
	"github.com/nauanbek/saqshy/internal/decision"
	"github.com/nauanbek/saqshy/internal/infrastructure/telegram"
	"github.com/nauanbek/saqshy/internal/policy/permissions"
	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/sources"
	"github.com/nauanbek/saqshy/internal/trust"
)

const (
	reviewCallbackPrefix = "review"
	reviewActionApprove  = "approve"
	reviewActionBan      = "ban"

	// reviewHoldDuration outlives the review timeout so the expiry sweep,
	// not Telegram, decides when the hold ends. If the sweep ever dies,
	// Telegram still lifts the hold on its own.
	reviewHoldDuration = time.Hour

	blockFallbackMute   = 7 * 24 * time.Hour
	rightsNoticeTimeout = 5 * time.Minute

	sampleSourceDecision = "decision"
	sampleSourceReview   = "review"
)

// restrictDuration scales the LIMIT restriction with the score.
func restrictDuration(score int) time.Duration {
	switch {
	case score >= 80:
		return 7 * 24 * time.Hour
	case score >= 60:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// banDuration scales the BLOCK ban with the score. Zero means permanent.
func banDuration(score int) time.Duration {
	switch {
	case score >= 95:
		return 0
	case score >= 85:
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

type (
	// reviewStore is the slice of storage the action layer needs. The
	// decision audit doubles as the review queue; resolving is idempotent
	// in the store, so a second button press is a no-op there.
	reviewStore interface {
		GetDecision(ctx context.Context, id string) (*db.DecisionRecord, error)
		UnresolvedReviews(ctx context.Context) ([]*db.DecisionRecord, error)
		ResolveReview(ctx context.Context, id string, resolution string, resolvedAt time.Time) error
		UpsertAllowlist(ctx context.Context, userID int64, addedBy int64, note string) error
		AddSpamSample(ctx context.Context, sample *db.SpamSample) error
	}

	// enforcer is the outbound moderation surface. telegram.Operations
	// implements it.
	enforcer interface {
		DeleteMessage(ctx context.Context, chatID int64, messageID int) error
		BanUser(ctx context.Context, chatID, userID int64, duration time.Duration, revokeMessages bool) error
		RestrictUser(ctx context.Context, chatID, userID int64, perms *api.ChatPermissions, until time.Time) error
		DeclineJoinRequest(ctx context.Context, chatID, userID int64) error
	}

	// messenger is the slice of the Bot API the notification paths use.
	messenger interface {
		Send(c api.Chattable) (api.Message, error)
		Request(c api.Chattable) (*api.APIResponse, error)
		GetChatAdministrators(config api.ChatAdministratorsConfig) ([]api.ChatMember, error)
		GetChatMember(config api.GetChatMemberConfig) (api.ChatMember, error)
	}

	// outcomeRecorder feeds operator resolutions into the per-member stats.
	outcomeRecorder interface {
		RecordOutcome(ctx context.Context, key signal.MemberKey, verdict scoring.Verdict) error
	}

	// banRecorder updates the cross-group ban history.
	banRecorder interface {
		RecordBan(ctx context.Context, chatID, userID int64) error
	}

	// embedder vectorizes confirmed samples when one is configured; without
	// it samples land hash-only and still serve the exact-duplicate path.
	embedder interface {
		Embed(ctx context.Context, text string) ([]float32, error)
	}
)

// ActionDeps are the action service's collaborators. Behavior, Reputation
// and Embedder are optional; missing recorders skip bookkeeping, never fail
// an action.
type ActionDeps struct {
	Bot        messenger
	Enforcer   enforcer
	Store      reviewStore
	Cache      cache.Store
	Behavior   outcomeRecorder
	Reputation banRecorder
	Embedder   embedder
}

// ActionService executes verdicts: deletions, restrictions, bans, the
// operator review flow and moderator notifications. Execute is idempotent
// per message, so a redelivered update never punishes twice.
type ActionService struct {
	cfg  config.Moderation
	deps ActionDeps

	runtimeCtx context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	started    bool
}

func NewActionService(cfg config.Moderation, deps ActionDeps) (*ActionService, error) {
	if deps.Bot == nil || deps.Enforcer == nil || deps.Store == nil || deps.Cache == nil {
		return nil, errors.New("action service needs a bot, an enforcer, a store and a cache")
	}
	if cfg.ReviewTimeout <= 0 {
		cfg.ReviewTimeout = 10 * time.Minute
	}
	return &ActionService{cfg: cfg, deps: deps}, nil
}

// Start arms the expiry schedule for reviews that were pending at the last
// shutdown. Overdue ones expire right away.
func (a *ActionService) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.runtimeCtx, a.cancel = context.WithCancel(ctx)
	a.started = true
	a.mu.Unlock()

	return a.rearmPendingReviews(ctx)
}

func (a *ActionService) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Execute applies one decision to the chat. The returned error is the
// primary enforcement failure; secondary failures are logged and absorbed.
func (a *ActionService) Execute(ctx context.Context, d *decision.Decision, msg *api.Message, profile *signal.GroupProfile) error {
	if d == nil || msg == nil {
		return nil
	}
	entry := a.getLogEntry().WithField("method", "Execute").WithField("decision_id", d.ID)

	fresh, err := a.deps.Cache.SetIfAbsent(ctx, cache.KeyActionGuard(d.ChatID, d.MessageID), d.Verdict.String(), cache.TTLActionGuard)
	if err != nil {
		entry.WithError(err).Warn("failed to mark action guard")
	} else if !fresh {
		entry.Debug("message already enforced, skipping")
		return nil
	}

	if a.cfg.Verbose || d.Verdict >= scoring.VerdictLimit {
		a.debugReport(d, msg)
	}

	switch d.Verdict {
	case scoring.VerdictAllow, scoring.VerdictWatch:
		a.reconcileRestriction(ctx, d, profile)
		return nil
	case scoring.VerdictLimit:
		return a.executeLimit(ctx, d, msg)
	case scoring.VerdictReview:
		return a.executeReview(ctx, d, msg)
	case scoring.VerdictBlock:
		return a.executeBlock(ctx, d, msg)
	}
	return nil
}

func (a *ActionService) executeLimit(ctx context.Context, d *decision.Decision, msg *api.Message) error {
	entry := a.getLogEntry().WithField("method", "executeLimit").WithField("decision_id", d.ID)

	if err := a.deps.Enforcer.DeleteMessage(ctx, d.ChatID, d.MessageID); err != nil {
		entry.WithError(err).Error("failed to delete message")
	}

	duration := restrictDuration(d.Score)
	restrictErr := a.deps.Enforcer.RestrictUser(ctx, d.ChatID, d.UserID, permissions.Mute(), time.Now().Add(duration))
	if restrictErr != nil {
		if errors.Is(restrictErr, telegram.ErrNoPrivileges) {
			a.reportMissingRights(d.ChatID, d.MessageID)
		}
		entry.WithError(restrictErr).Error("failed to restrict user")
	} else {
		a.markRestricted(ctx, d, "mute", duration)
	}

	a.notify(d, msg, nil)
	return restrictErr
}

func (a *ActionService) executeReview(ctx context.Context, d *decision.Decision, msg *api.Message) error {
	entry := a.getLogEntry().WithField("method", "executeReview").WithField("decision_id", d.ID)

	text := bot.ExtractContentFromMessage(msg)
	if err := a.deps.Cache.Set(ctx, cache.KeyReviewText(d.ID), text, cache.TTLReviewText); err != nil {
		entry.WithError(err).Warn("failed to stash held text")
	}

	holdErr := a.deps.Enforcer.RestrictUser(ctx, d.ChatID, d.UserID, permissions.TextOnly(), time.Now().Add(reviewHoldDuration))
	if holdErr != nil {
		if errors.Is(holdErr, telegram.ErrNoPrivileges) {
			a.reportMissingRights(d.ChatID, d.MessageID)
		}
		entry.WithError(holdErr).Error("failed to hold user for review")
	} else {
		a.markRestricted(ctx, d, "hold", reviewHoldDuration)
	}

	a.notify(d, msg, reviewKeyboard(d.ID))

	a.scheduleAfter(a.cfg.ReviewTimeout, func(runCtx context.Context) {
		if err := a.expireReview(runCtx, d.ID); err != nil && !errors.Is(err, context.Canceled) {
			entry.WithError(err).Error("failed to expire review")
		}
	})
	return holdErr
}

func (a *ActionService) executeBlock(ctx context.Context, d *decision.Decision, msg *api.Message) error {
	entry := a.getLogEntry().WithField("method", "executeBlock").WithField("decision_id", d.ID)

	if err := a.deps.Enforcer.DeleteMessage(ctx, d.ChatID, d.MessageID); err != nil {
		entry.WithError(err).Error("failed to delete message")
		// The spam stays visible: at least mute the sender so it cannot
		// repeat while the ban is attempted.
		if rerr := a.deps.Enforcer.RestrictUser(ctx, d.ChatID, d.UserID, permissions.Mute(), time.Now().Add(blockFallbackMute)); rerr != nil {
			entry.WithError(rerr).Error("failed to apply fallback restriction")
		}
	}

	banErr := a.deps.Enforcer.BanUser(ctx, d.ChatID, d.UserID, banDuration(d.Score), true)
	if banErr != nil {
		if errors.Is(banErr, telegram.ErrNoPrivileges) {
			a.reportMissingRights(d.ChatID, d.MessageID)
		}
		entry.WithError(banErr).Error("failed to ban user")
	}

	a.recordSample(ctx, d, bot.ExtractContentFromMessage(msg), sampleSourceDecision)
	a.notify(d, msg, nil)
	return banErr
}

// reconcileRestriction keeps the applied permission set in step with the
// trust state. Entering the sandbox restricts to text; leaving it, or any
// promotion past it, lifts whatever the bot applied earlier.
func (a *ActionService) reconcileRestriction(ctx context.Context, d *decision.Decision, profile *signal.GroupProfile) {
	entry := a.getLogEntry().WithField("method", "reconcileRestriction")

	_, marked, err := a.deps.Cache.Get(ctx, cache.KeyRestricted(d.ChatID, d.UserID))
	if err != nil {
		entry.WithError(err).Warn("failed to read restriction marker")
		return
	}

	wanted := permissions.ForTrustState(d.TrustStateAfter)
	if d.TrustStateAfter == trust.StateSandbox && (profile == nil || !profile.SandboxEnabled) {
		wanted = nil
	}

	switch {
	case wanted != nil && !marked:
		duration := 24 * time.Hour
		if profile != nil && profile.SandboxDuration > 0 {
			duration = profile.SandboxDuration
		}
		if err := a.deps.Enforcer.RestrictUser(ctx, d.ChatID, d.UserID, wanted, time.Now().Add(duration)); err != nil {
			entry.WithError(err).Error("failed to apply sandbox restriction")
			return
		}
		a.markRestricted(ctx, d, "sandbox", duration)
	case wanted == nil && marked:
		a.liftHold(ctx, d.ChatID, d.UserID)
	}
}

func (a *ActionService) markRestricted(ctx context.Context, d *decision.Decision, preset string, ttl time.Duration) {
	if err := a.deps.Cache.Set(ctx, cache.KeyRestricted(d.ChatID, d.UserID), preset, ttl); err != nil {
		a.getLogEntry().WithField("method", "markRestricted").WithError(err).Debug("failed to mark restriction")
	}
}

// recordSample stores confirmed spam for the similarity source. The hash is
// the dedup key, so repeats of one blast collapse into one row.
func (a *ActionService) recordSample(ctx context.Context, d *decision.Decision, text, source string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	sample := &db.SpamSample{
		ID:        uuid.New(),
		Hash:      sources.HashMessage(text),
		Text:      text,
		Threat:    d.Threat,
		Source:    source,
		ChatID:    d.ChatID,
		CreatedAt: time.Now(),
	}
	if a.deps.Embedder != nil {
		ectx, cancel := context.WithTimeout(ctx, 2*time.Second)
		vector, err := a.deps.Embedder.Embed(ectx, text)
		cancel()
		if err != nil {
			a.getLogEntry().WithField("method", "recordSample").WithError(err).Debug("failed to embed sample, storing hash only")
		} else {
			sample.Vector = vector
		}
	}
	if err := a.deps.Store.AddSpamSample(ctx, sample); err != nil {
		a.getLogEntry().WithField("method", "recordSample").WithError(err).Error("failed to record spam sample")
	}
}

func (a *ActionService) recordOutcome(ctx context.Context, chatID, userID int64, verdict scoring.Verdict) {
	if a.deps.Behavior == nil {
		return
	}
	key := signal.MemberKey{ChatID: chatID, UserID: userID}
	if err := a.deps.Behavior.RecordOutcome(ctx, key, verdict); err != nil {
		a.getLogEntry().WithField("method", "recordOutcome").WithError(err).Warn("failed to record outcome")
	}
}

func (a *ActionService) scheduleAfter(delay time.Duration, task func(ctx context.Context)) {
	runCtx := a.getRuntimeContext()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-runCtx.Done():
			return
		case <-timer.C:
			task(runCtx)
		}
	}()
}

func (a *ActionService) getRuntimeContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx != nil {
		return a.runtimeCtx
	}
	return context.Background()
}

func (a *ActionService) getLogEntry() *log.Entry {
	return log.WithField("object", "ActionService")
}
