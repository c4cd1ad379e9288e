package moderation

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/nauanbek/saqshy/internal/bot"
	"github.com/nauanbek/saqshy/internal/decision"
	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
)

type (
	// decider runs the decision pipeline. *decision.Coordinator implements
	// it.
	decider interface {
		Decide(ctx context.Context, msg signal.MessageContext, profile *signal.GroupProfile) (*decision.Decision, error)
	}

	// contextBuilder resolves raw messages into pipeline input.
	// *bot.ContextBuilder implements it.
	contextBuilder interface {
		Build(ctx context.Context, msg *api.Message) signal.MessageContext
		IsAdmin(ctx context.Context, chatID, userID int64) bool
	}

	// actionExecutor applies decisions. *ActionService implements it.
	actionExecutor interface {
		Execute(ctx context.Context, d *decision.Decision, msg *api.Message, profile *signal.GroupProfile) error
		HandleReviewCallback(ctx context.Context, cq *api.CallbackQuery) error
	}

	// memberJournal records joins and message stamps for the behavior
	// source. *sources.Behavior implements it.
	memberJournal interface {
		RecordJoin(ctx context.Context, key signal.MemberKey, at time.Time) error
		RecordMessage(ctx context.Context, key signal.MemberKey, at time.Time) error
	}

	// listChecker consults the global reputation lists. *lists.Service
	// implements it.
	listChecker interface {
		IsBanlisted(ctx context.Context, userID int64) (bool, error)
		IsAllowlisted(ctx context.Context, userID int64) (bool, error)
	}
)

// GuardDeps are the guard's collaborators. Journal and Lists are optional;
// without them the guard still decides and enforces, it just skips the
// bookkeeping and the fast-ban shortcut.
type GuardDeps struct {
	Service  bot.Service
	Builder  contextBuilder
	Decider  decider
	Actions  actionExecutor
	Journal  memberJournal
	Lists    listChecker
	Enforcer enforcer
}

// Guard is the moderation entrypoint: every group update flows through it
// before any other handler sees the update.
type Guard struct {
	deps GuardDeps
}

func NewGuard(deps GuardDeps) (*Guard, error) {
	if deps.Service == nil || deps.Builder == nil || deps.Decider == nil || deps.Actions == nil || deps.Enforcer == nil {
		return nil, errors.New("guard needs a service, a builder, a decider, an action service and an enforcer")
	}
	return &Guard{deps: deps}, nil
}

// Handle implements bot.Handler. Review callbacks and moderated messages
// are consumed; everything else proceeds down the handler chain.
func (g *Guard) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil {
		return true, nil
	}

	if u.CallbackQuery != nil {
		return g.handleCallback(ctx, u.CallbackQuery)
	}
	if u.MyChatMember != nil {
		return true, g.handleBotMembership(ctx, u.MyChatMember)
	}
	if u.ChatJoinRequest != nil {
		return true, g.handleJoinRequest(ctx, u.ChatJoinRequest)
	}
	if u.ChatMember != nil {
		return true, g.handleMemberJoin(ctx, u.ChatMember)
	}

	msg := u.Message
	if msg == nil || chat == nil || user == nil {
		return true, nil
	}
	return g.handleGroupMessage(ctx, msg, chat, user)
}

func (g *Guard) handleCallback(ctx context.Context, cq *api.CallbackQuery) (bool, error) {
	if !strings.HasPrefix(cq.Data, reviewCallbackPrefix+":") {
		return true, nil
	}
	if err := g.deps.Actions.HandleReviewCallback(ctx, cq); err != nil {
		g.getLogEntry().WithField("method", "handleCallback").WithError(err).Error("failed to handle review callback")
	}
	return false, nil
}

func (g *Guard) handleGroupMessage(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) (bool, error) {
	entry := g.getLogEntry().WithFields(log.Fields{
		"method":  "handleGroupMessage",
		"chat_id": chat.ID,
		"user_id": user.ID,
	})

	if chat.IsPrivate() || user.IsBot || isLinkedChannelAutoForward(msg) {
		return true, nil
	}
	if len(msg.NewChatMembers) > 0 {
		g.journalNewMembers(ctx, msg)
		return true, nil
	}
	if g.deps.Builder.IsAdmin(ctx, chat.ID, user.ID) {
		return true, nil
	}

	profile, err := g.deps.Service.GetProfile(ctx, chat.ID)
	if err != nil {
		return true, errors.WithMessage(err, "get group profile")
	}
	if !profile.Enabled {
		return true, nil
	}

	if g.fastBan(ctx, msg, chat, user) {
		return false, nil
	}

	mctx := g.deps.Builder.Build(ctx, msg)
	d, err := g.deps.Decider.Decide(ctx, mctx, profile)
	if err != nil {
		return true, errors.WithMessage(err, "decide")
	}

	// Journal after deciding so the stamp never counts against its own
	// message's frequency signals.
	g.recordMessage(ctx, chat.ID, user.ID, mctx.SentAt)

	if err := g.deps.Actions.Execute(ctx, d, msg, profile); err != nil {
		entry.WithError(err).Error("failed to execute decision")
	}

	return d.Verdict < scoring.VerdictLimit, nil
}

// fastBan short-circuits the pipeline for IDs already on the global
// banlist. The allowlist wins: operator judgment outranks the feeds.
func (g *Guard) fastBan(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) bool {
	if g.deps.Lists == nil {
		return false
	}
	banned, err := g.deps.Lists.IsBanlisted(ctx, user.ID)
	if err != nil || !banned {
		return false
	}
	if allowed, aerr := g.deps.Lists.IsAllowlisted(ctx, user.ID); aerr == nil && allowed {
		return false
	}

	entry := g.getLogEntry().WithFields(log.Fields{
		"method":  "fastBan",
		"chat_id": chat.ID,
		"user_id": user.ID,
	})
	if err := g.deps.Enforcer.DeleteMessage(ctx, chat.ID, msg.MessageID); err != nil {
		entry.WithError(err).Error("failed to delete banlisted message")
	}
	if err := g.deps.Enforcer.BanUser(ctx, chat.ID, user.ID, 0, true); err != nil {
		entry.WithError(err).Error("failed to ban banlisted user")
	}
	entry.Info("banned banlisted member")
	return true
}

// handleBotMembership seeds the group profile when the bot joins a chat, so
// operators see editable defaults instead of an absent row.
func (g *Guard) handleBotMembership(ctx context.Context, upd *api.ChatMemberUpdated) error {
	member := upd.NewChatMember
	if member.HasLeft() || member.WasKicked() {
		return nil
	}
	profile, err := g.deps.Service.GetProfile(ctx, upd.Chat.ID)
	if err != nil {
		return errors.WithMessage(err, "get group profile")
	}
	g.getLogEntry().WithField("method", "handleBotMembership").WithField("chat_id", upd.Chat.ID).Info("joined chat, seeding profile")
	return errors.WithMessage(g.deps.Service.SetProfile(ctx, profile), "persist group profile")
}

// handleJoinRequest declines joiners already on the global banlist before
// they ever enter the group.
func (g *Guard) handleJoinRequest(ctx context.Context, req *api.ChatJoinRequest) error {
	if g.deps.Lists == nil {
		return nil
	}
	banned, err := g.deps.Lists.IsBanlisted(ctx, req.From.ID)
	if err != nil {
		return errors.WithMessage(err, "check banlist")
	}
	if !banned {
		return nil
	}
	if allowed, aerr := g.deps.Lists.IsAllowlisted(ctx, req.From.ID); aerr == nil && allowed {
		return nil
	}
	g.getLogEntry().WithField("method", "handleJoinRequest").WithField("user_id", req.From.ID).Info("declining banlisted join request")
	return g.deps.Enforcer.DeclineJoinRequest(ctx, req.Chat.ID, req.From.ID)
}

// handleMemberJoin journals the join time the behavior source reads and
// screens the joiner against the global banlist.
func (g *Guard) handleMemberJoin(ctx context.Context, upd *api.ChatMemberUpdated) error {
	member := upd.NewChatMember
	if member.User == nil || member.User.IsBot {
		return nil
	}
	nowIn := !member.HasLeft() && !member.WasKicked()
	wasOut := upd.OldChatMember.HasLeft() || upd.OldChatMember.WasKicked()
	if !nowIn || !wasOut {
		return nil
	}

	if g.deps.Journal != nil {
		key := signal.MemberKey{ChatID: upd.Chat.ID, UserID: member.User.ID}
		if err := g.deps.Journal.RecordJoin(ctx, key, time.Unix(int64(upd.Date), 0)); err != nil {
			g.getLogEntry().WithField("method", "handleMemberJoin").WithError(err).Warn("failed to record join")
		}
	}

	if g.deps.Lists == nil {
		return nil
	}
	banned, err := g.deps.Lists.IsBanlisted(ctx, member.User.ID)
	if err != nil || !banned {
		return nil
	}
	if allowed, aerr := g.deps.Lists.IsAllowlisted(ctx, member.User.ID); aerr == nil && allowed {
		return nil
	}
	g.getLogEntry().WithField("method", "handleMemberJoin").WithField("user_id", member.User.ID).Info("banning banlisted joiner")
	return g.deps.Enforcer.BanUser(ctx, upd.Chat.ID, member.User.ID, 0, true)
}

// journalNewMembers covers deployments without chat_member updates allowed:
// the service message still carries the joiners.
func (g *Guard) journalNewMembers(ctx context.Context, msg *api.Message) {
	if g.deps.Journal == nil {
		return
	}
	at := time.Unix(int64(msg.Date), 0)
	for i := range msg.NewChatMembers {
		member := &msg.NewChatMembers[i]
		if member.IsBot {
			continue
		}
		key := signal.MemberKey{ChatID: msg.Chat.ID, UserID: member.ID}
		if err := g.deps.Journal.RecordJoin(ctx, key, at); err != nil {
			g.getLogEntry().WithField("method", "journalNewMembers").WithError(err).Warn("failed to record join")
		}
	}
}

func (g *Guard) recordMessage(ctx context.Context, chatID, userID int64, at time.Time) {
	if g.deps.Journal == nil {
		return
	}
	key := signal.MemberKey{ChatID: chatID, UserID: userID}
	if err := g.deps.Journal.RecordMessage(ctx, key, at); err != nil {
		g.getLogEntry().WithField("method", "recordMessage").WithError(err).Warn("failed to record message stamp")
	}
}

// isLinkedChannelAutoForward reports whether the message is the linked
// channel's auto-forward into the discussion group. Those posts carry the
// channel as sender and are never member traffic.
func isLinkedChannelAutoForward(msg *api.Message) bool {
	return msg != nil && msg.IsAutomaticForward && msg.SenderChat != nil && msg.SenderChat.Type == "channel"
}

func (g *Guard) getLogEntry() *log.Entry {
	return log.WithField("object", "Guard")
}
