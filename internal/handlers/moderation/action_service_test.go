package moderation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/nauanbek/saqshy/internal/cache"
	"github.com/nauanbek/saqshy/internal/config"
	"github.com/nauanbek/saqshy/internal/db"
	"github.com/nauanbek/saqshy/internal/decision"
	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/sources"
	"github.com/nauanbek/saqshy/internal/trust"
)

type banCall struct {
	chatID, userID int64
	duration       time.Duration
	revoke         bool
}

type restrictCall struct {
	chatID, userID int64
	perms          *api.ChatPermissions
	until          time.Time
}

type enforcerStub struct {
	mu sync.Mutex

	deleteErr   error
	banErr      error
	restrictErr error

	deleted   []int
	bans      []banCall
	restricts []restrictCall
	declined  []int64
}

func (e *enforcerStub) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = append(e.deleted, messageID)
	return e.deleteErr
}

func (e *enforcerStub) BanUser(_ context.Context, chatID, userID int64, duration time.Duration, revokeMessages bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bans = append(e.bans, banCall{chatID, userID, duration, revokeMessages})
	return e.banErr
}

func (e *enforcerStub) RestrictUser(_ context.Context, chatID, userID int64, perms *api.ChatPermissions, until time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restricts = append(e.restricts, restrictCall{chatID, userID, perms, until})
	return e.restrictErr
}

func (e *enforcerStub) DeclineJoinRequest(_ context.Context, _ int64, userID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.declined = append(e.declined, userID)
	return nil
}

func (e *enforcerStub) restrictCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.restricts)
}

type messengerStub struct {
	mu sync.Mutex

	sent     []api.Chattable
	requests []api.Chattable
	admins   []api.ChatMember
	member   api.ChatMember
}

func (m *messengerStub) Send(c api.Chattable) (api.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, c)
	return api.Message{MessageID: 900 + len(m.sent)}, nil
}

func (m *messengerStub) Request(c api.Chattable) (*api.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, c)
	return &api.APIResponse{Ok: true}, nil
}

func (m *messengerStub) GetChatAdministrators(_ api.ChatAdministratorsConfig) ([]api.ChatMember, error) {
	return m.admins, nil
}

func (m *messengerStub) GetChatMember(_ api.GetChatMemberConfig) (api.ChatMember, error) {
	return m.member, nil
}

type resolutionCall struct {
	id         string
	resolution string
}

type storeStub struct {
	mu sync.Mutex

	decisions  map[string]*db.DecisionRecord
	unresolved []*db.DecisionRecord

	resolutions []resolutionCall
	allowlisted []int64
	samples     []*db.SpamSample
}

func (s *storeStub) GetDecision(_ context.Context, id string) (*db.DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decisions[id], nil
}

func (s *storeStub) UnresolvedReviews(_ context.Context) ([]*db.DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unresolved, nil
}

func (s *storeStub) ResolveReview(_ context.Context, id string, resolution string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolutions = append(s.resolutions, resolutionCall{id, resolution})
	if rec, ok := s.decisions[id]; ok {
		rec.Resolution = resolution
	}
	return nil
}

func (s *storeStub) UpsertAllowlist(_ context.Context, userID int64, _ int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowlisted = append(s.allowlisted, userID)
	return nil
}

func (s *storeStub) AddSpamSample(_ context.Context, sample *db.SpamSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

func (s *storeStub) resolutionOf(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.resolutions {
		if r.id == id {
			return r.resolution
		}
	}
	return ""
}

type outcomeCall struct {
	key     signal.MemberKey
	verdict scoring.Verdict
}

type behaviorStub struct {
	mu       sync.Mutex
	outcomes []outcomeCall
}

func (b *behaviorStub) RecordOutcome(_ context.Context, key signal.MemberKey, verdict scoring.Verdict) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outcomes = append(b.outcomes, outcomeCall{key, verdict})
	return nil
}

type reputationStub struct {
	mu    sync.Mutex
	bans  []int64
	flags []int64
}

func (r *reputationStub) RecordBan(_ context.Context, _ int64, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bans = append(r.bans, userID)
	return nil
}

func (r *reputationStub) RecordFlag(_ context.Context, _ int64, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags = append(r.flags, userID)
	return nil
}

func testDecision(verdict scoring.Verdict, score int) *decision.Decision {
	return &decision.Decision{
		ID:        "dec-" + verdict.String(),
		ChatID:    -100200300,
		UserID:    42,
		MessageID: 7,
		Verdict:   verdict,
		Score:     score,
		Threat:    signal.ThreatSpam,
		Contributing: signal.Set{
			{Name: "known_spam_exact", Category: signal.CategoryContent, Weight: 60},
			{Name: "link_shortener", Category: signal.CategoryContent, Weight: 15},
		},
		TrustStateAfter: trust.StateSoftWatch,
		CreatedAt:       time.Now(),
	}
}

func testMessage(text string) *api.Message {
	return &api.Message{
		MessageID: 7,
		Chat:      api.Chat{ID: -100200300, Title: "test group", Type: "supergroup"},
		From:      &api.User{ID: 42, UserName: "suspect"},
		Text:      text,
	}
}

func newTestActionService(t *testing.T, cfg config.Moderation, deps ActionDeps) *ActionService {
	t.Helper()
	if deps.Bot == nil {
		deps.Bot = &messengerStub{}
	}
	if deps.Enforcer == nil {
		deps.Enforcer = &enforcerStub{}
	}
	if deps.Store == nil {
		deps.Store = &storeStub{decisions: map[string]*db.DecisionRecord{}}
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemory()
	}
	svc, err := NewActionService(cfg, deps)
	if err != nil {
		t.Fatalf("new action service: %v", err)
	}
	return svc
}

func TestRestrictDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score int
		want  time.Duration
	}{
		{95, 7 * 24 * time.Hour},
		{80, 7 * 24 * time.Hour},
		{79, 24 * time.Hour},
		{60, 24 * time.Hour},
		{59, time.Hour},
		{0, time.Hour},
	}
	for _, tt := range tests {
		if got := restrictDuration(tt.score); got != tt.want {
			t.Fatalf("restrictDuration(%d) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestBanDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score int
		want  time.Duration
	}{
		{100, 0},
		{95, 0},
		{94, 30 * 24 * time.Hour},
		{85, 30 * 24 * time.Hour},
		{84, 7 * 24 * time.Hour},
		{40, 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := banDuration(tt.score); got != tt.want {
			t.Fatalf("banDuration(%d) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestExecuteSkipsRepeatedMessage(t *testing.T) {
	t.Parallel()

	enf := &enforcerStub{}
	svc := newTestActionService(t, config.Moderation{}, ActionDeps{Enforcer: enf})
	d := testDecision(scoring.VerdictBlock, 96)
	msg := testMessage("buy followers now")

	if err := svc.Execute(context.Background(), d, msg, nil); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if err := svc.Execute(context.Background(), d, msg, nil); err != nil {
		t.Fatalf("second execute: %v", err)
	}

	if len(enf.deleted) != 1 {
		t.Fatalf("expected 1 delete, got %d", len(enf.deleted))
	}
	if len(enf.bans) != 1 {
		t.Fatalf("expected 1 ban, got %d", len(enf.bans))
	}
}

func TestExecuteBlockBansAndRecordsSample(t *testing.T) {
	t.Parallel()

	enf := &enforcerStub{}
	store := &storeStub{decisions: map[string]*db.DecisionRecord{}}
	svc := newTestActionService(t, config.Moderation{}, ActionDeps{Enforcer: enf, Store: store})
	d := testDecision(scoring.VerdictBlock, 96)
	msg := testMessage("crypto doubling, dm me")

	if err := svc.Execute(context.Background(), d, msg, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(enf.deleted) != 1 || enf.deleted[0] != d.MessageID {
		t.Fatalf("expected message %d deleted, got %v", d.MessageID, enf.deleted)
	}
	if len(enf.bans) != 1 {
		t.Fatalf("expected 1 ban, got %d", len(enf.bans))
	}
	ban := enf.bans[0]
	if ban.userID != d.UserID || ban.duration != 0 || !ban.revoke {
		t.Fatalf("unexpected ban call: %+v", ban)
	}

	if len(store.samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(store.samples))
	}
	sample := store.samples[0]
	if sample.Hash != sources.HashMessage(msg.Text) {
		t.Fatalf("sample hash mismatch")
	}
	if sample.Source != sampleSourceDecision {
		t.Fatalf("unexpected sample source: %q", sample.Source)
	}
	if sample.Threat != d.Threat {
		t.Fatalf("unexpected sample threat: %q", sample.Threat)
	}
}

func TestExecuteBlockFallsBackToMuteWhenDeleteFails(t *testing.T) {
	t.Parallel()

	enf := &enforcerStub{deleteErr: context.DeadlineExceeded}
	svc := newTestActionService(t, config.Moderation{}, ActionDeps{Enforcer: enf})
	d := testDecision(scoring.VerdictBlock, 90)

	if err := svc.Execute(context.Background(), d, testMessage("spam"), nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(enf.restricts) != 1 {
		t.Fatalf("expected fallback restriction, got %d restricts", len(enf.restricts))
	}
	if enf.restricts[0].perms.CanSendMessages {
		t.Fatalf("fallback restriction should mute")
	}
	if len(enf.bans) != 1 {
		t.Fatalf("ban should still be attempted, got %d", len(enf.bans))
	}
	if enf.bans[0].duration != 30*24*time.Hour {
		t.Fatalf("unexpected ban duration: %v", enf.bans[0].duration)
	}
}

func TestExecuteLimitMutesSender(t *testing.T) {
	t.Parallel()

	enf := &enforcerStub{}
	mem := cache.NewMemory()
	svc := newTestActionService(t, config.Moderation{}, ActionDeps{Enforcer: enf, Cache: mem})
	d := testDecision(scoring.VerdictLimit, 70)

	if err := svc.Execute(context.Background(), d, testMessage("cheap watches"), nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(enf.deleted) != 1 {
		t.Fatalf("expected message deleted, got %d deletes", len(enf.deleted))
	}
	if len(enf.restricts) != 1 {
		t.Fatalf("expected 1 restriction, got %d", len(enf.restricts))
	}
	if enf.restricts[0].perms.CanSendMessages {
		t.Fatalf("LIMIT restriction should mute")
	}

	preset, found, err := mem.Get(context.Background(), cache.KeyRestricted(d.ChatID, d.UserID))
	if err != nil || !found {
		t.Fatalf("restriction marker missing: found=%v err=%v", found, err)
	}
	if preset != "mute" {
		t.Fatalf("unexpected marker preset: %q", preset)
	}
}

func TestExecuteReviewHoldsAndStashesText(t *testing.T) {
	t.Parallel()

	enf := &enforcerStub{}
	msgr := &messengerStub{}
	mem := cache.NewMemory()
	svc := newTestActionService(t, config.Moderation{ReviewChannelUsername: "reviews"}, ActionDeps{
		Bot:      msgr,
		Enforcer: enf,
		Cache:    mem,
	})
	d := testDecision(scoring.VerdictReview, 55)
	msg := testMessage("is this allowed here?")

	if err := svc.Execute(context.Background(), d, msg, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(enf.restricts) != 1 {
		t.Fatalf("expected hold restriction, got %d", len(enf.restricts))
	}
	perms := enf.restricts[0].perms
	if !perms.CanSendMessages || perms.CanSendPhotos {
		t.Fatalf("hold should allow text only, got %+v", perms)
	}

	text, found, err := mem.Get(context.Background(), cache.KeyReviewText(d.ID))
	if err != nil || !found {
		t.Fatalf("held text missing: found=%v err=%v", found, err)
	}
	if text != msg.Text {
		t.Fatalf("held text mismatch: got %q want %q", text, msg.Text)
	}

	if len(msgr.sent) != 1 {
		t.Fatalf("expected 1 channel post, got %d", len(msgr.sent))
	}
	post, ok := msgr.sent[0].(api.MessageConfig)
	if !ok {
		t.Fatalf("unexpected notification type %T", msgr.sent[0])
	}
	if post.ReplyMarkup == nil {
		t.Fatalf("review post should carry the approve/ban keyboard")
	}
}

func TestExecuteAllowSkipsEnforcement(t *testing.T) {
	t.Parallel()

	enf := &enforcerStub{}
	svc := newTestActionService(t, config.Moderation{}, ActionDeps{Enforcer: enf})
	d := testDecision(scoring.VerdictAllow, 5)
	d.TrustStateAfter = trust.StateTrusted

	if err := svc.Execute(context.Background(), d, testMessage("hello"), nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(enf.deleted) != 0 || len(enf.bans) != 0 || len(enf.restricts) != 0 {
		t.Fatalf("ALLOW must not enforce: %+v", enf)
	}
}

func TestReconcileRestrictionAppliesSandbox(t *testing.T) {
	t.Parallel()

	enf := &enforcerStub{}
	mem := cache.NewMemory()
	svc := newTestActionService(t, config.Moderation{}, ActionDeps{Enforcer: enf, Cache: mem})
	d := testDecision(scoring.VerdictAllow, 10)
	d.TrustStateAfter = trust.StateSandbox
	profile := signal.DefaultGroupProfile(d.ChatID)
	profile.SandboxDuration = 2 * time.Hour

	if err := svc.Execute(context.Background(), d, testMessage("first message"), profile); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(enf.restricts) != 1 {
		t.Fatalf("expected sandbox restriction, got %d", len(enf.restricts))
	}
	perms := enf.restricts[0].perms
	if !perms.CanSendMessages || perms.CanSendPhotos {
		t.Fatalf("sandbox should allow text only, got %+v", perms)
	}

	preset, found, _ := mem.Get(context.Background(), cache.KeyRestricted(d.ChatID, d.UserID))
	if !found || preset != "sandbox" {
		t.Fatalf("sandbox marker missing: found=%v preset=%q", found, preset)
	}
}

func TestReconcileRestrictionSkipsDisabledSandbox(t *testing.T) {
	t.Parallel()

	enf := &enforcerStub{}
	svc := newTestActionService(t, config.Moderation{}, ActionDeps{Enforcer: enf})
	d := testDecision(scoring.VerdictAllow, 10)
	d.TrustStateAfter = trust.StateSandbox
	profile := signal.DefaultGroupProfile(d.ChatID)
	profile.SandboxEnabled = false

	if err := svc.Execute(context.Background(), d, testMessage("hi"), profile); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(enf.restricts) != 0 {
		t.Fatalf("disabled sandbox must not restrict, got %d restricts", len(enf.restricts))
	}
}

func TestReconcileRestrictionLiftsOnPromotion(t *testing.T) {
	t.Parallel()

	enf := &enforcerStub{}
	mem := cache.NewMemory()
	svc := newTestActionService(t, config.Moderation{}, ActionDeps{Enforcer: enf, Cache: mem})
	d := testDecision(scoring.VerdictAllow, 0)
	d.TrustStateAfter = trust.StateSoftWatch

	if err := mem.Set(context.Background(), cache.KeyRestricted(d.ChatID, d.UserID), "sandbox", time.Hour); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	if err := svc.Execute(context.Background(), d, testMessage("promoted"), signal.DefaultGroupProfile(d.ChatID)); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(enf.restricts) != 1 {
		t.Fatalf("expected lift restriction call, got %d", len(enf.restricts))
	}
	perms := enf.restricts[0].perms
	if !perms.CanSendMessages || !perms.CanSendPhotos || !perms.CanSendOtherMessages {
		t.Fatalf("lift should restore full permissions, got %+v", perms)
	}
	if !enf.restricts[0].until.IsZero() {
		t.Fatalf("lift should not carry an until date")
	}

	if _, found, _ := mem.Get(context.Background(), cache.KeyRestricted(d.ChatID, d.UserID)); found {
		t.Fatalf("marker should be cleared after lift")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()

	svc := newTestActionService(t, config.Moderation{}, ActionDeps{})
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestRearmPendingReviewsExpiresOverdue(t *testing.T) {
	t.Parallel()

	d := testDecision(scoring.VerdictReview, 55)
	d.CreatedAt = time.Now().Add(-time.Hour)
	store := &storeStub{
		decisions:  map[string]*db.DecisionRecord{d.ID: {Decision: d}},
		unresolved: []*db.DecisionRecord{{Decision: d}},
	}
	enf := &enforcerStub{}
	svc := newTestActionService(t, config.Moderation{ReviewTimeout: 10 * time.Minute}, ActionDeps{
		Enforcer: enf,
		Store:    store,
	})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	deadline := time.Now().Add(2 * time.Second)
	for store.resolutionOf(d.ID) == "" {
		if time.Now().After(deadline) {
			t.Fatalf("overdue review was not expired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := store.resolutionOf(d.ID); got != db.ResolutionExpired {
		t.Fatalf("unexpected resolution: got %q want %q", got, db.ResolutionExpired)
	}
	if enf.restrictCount() != 1 {
		t.Fatalf("expired review should lift the hold")
	}
}

func TestPreviewClipsLongText(t *testing.T) {
	t.Parallel()

	short := preview("  hello  ")
	if short != "hello" {
		t.Fatalf("preview should trim, got %q", short)
	}

	long := preview(strings.Repeat("я", 150))
	runes := []rune(long)
	if len(runes) != previewMaxRunes+1 {
		t.Fatalf("unexpected clipped length: %d", len(runes))
	}
	if runes[len(runes)-1] != '…' {
		t.Fatalf("clipped preview should end with ellipsis")
	}
}

func TestTopFactorsOrdersByWeight(t *testing.T) {
	t.Parallel()

	set := signal.Set{
		{Name: "low", Weight: 5},
		{Name: "high", Weight: 60},
		{Name: "mid", Weight: 20},
	}
	got := topFactors(set, 2)
	if got != "high (+60), mid (+20)" {
		t.Fatalf("unexpected factors: %q", got)
	}

	if topFactors(nil, 5) != "none" {
		t.Fatalf("empty set should render as none")
	}
}
