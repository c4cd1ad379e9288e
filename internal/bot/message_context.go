package bot

import (
	"context"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/nauanbek/saqshy/internal/cache"
	"github.com/nauanbek/saqshy/internal/signal"
)

// forwardOriginChannel is the message origin type for posts forwarded out
// of a channel.
const forwardOriginChannel = "channel"

// ContextBuilder turns an incoming message into the immutable context the
// decision pipeline consumes. Sender fields that need extra API calls (bio,
// avatar, the admin list for reply targets) are resolved here and memoized
// in the cache, so signal collection never talks to the chat platform.
type ContextBuilder struct {
	bot   *api.BotAPI
	store cache.Store
}

func NewContextBuilder(bot *api.BotAPI, store cache.Store) *ContextBuilder {
	return &ContextBuilder{
		bot:   bot,
		store: store,
	}
}

func (cb *ContextBuilder) Build(ctx context.Context, msg *api.Message) signal.MessageContext {
	mc := signal.MessageContext{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      ExtractContentFromMessage(msg),
		SentAt:    time.Unix(int64(msg.Date), 0),
	}

	if msg.From != nil {
		mc.Sender = cb.ResolveSender(ctx, msg.From)
	}

	if origin := msg.ForwardOrigin; origin != nil {
		mc.IsForward = true
		mc.ForwardFromChannel = origin.Type == forwardOriginChannel
	}

	if reply := msg.ReplyToMessage; reply != nil {
		mc.IsReply = true
		if reply.From != nil && !reply.From.IsBot {
			mc.ReplyToAdmin = cb.IsAdmin(ctx, msg.Chat.ID, reply.From.ID)
		}
	}

	return mc
}

// ResolveSender expands a bare API user into the sender profile the signal
// sources read. Bio and avatar lookups fail independently; a failed avatar
// lookup leaves the photo state unknown rather than claiming no photo.
func (cb *ContextBuilder) ResolveSender(ctx context.Context, user *api.User) signal.Sender {
	sender := signal.Sender{
		ID:        user.ID,
		Username:  user.UserName,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		IsBot:     user.IsBot,
		IsPremium: user.IsPremium,
	}

	select {
	case <-ctx.Done():
		return sender
	default:
	}

	chatInfo, err := cb.bot.GetChat(api.ChatInfoConfig{
		ChatConfig: api.ChatConfig{ChatID: user.ID},
	})
	if err != nil {
		cb.getLogEntry().WithError(err).WithField("user_id", user.ID).Debug("cant fetch user bio")
	} else {
		sender.Bio = chatInfo.Bio
	}

	photos, err := cb.bot.GetUserProfilePhotos(api.NewUserProfilePhotos(user.ID))
	if err != nil {
		cb.getLogEntry().WithError(err).WithField("user_id", user.ID).Debug("cant fetch profile photos")
	} else {
		sender.PhotoKnown = true
		sender.HasPhoto = photos.TotalCount > 0
	}

	return sender
}

// Admins returns the administrator IDs of a chat from a short-lived cached
// snapshot, refreshing it on miss.
func (cb *ContextBuilder) Admins(ctx context.Context, chatID int64) ([]int64, error) {
	key := cache.KeyAdmins(chatID)
	if raw, ok, err := cb.store.Get(ctx, key); err == nil && ok {
		return parseIDList(raw), nil
	}

	members, err := cb.bot.GetChatAdministrators(api.ChatAdministratorsConfig{
		ChatConfig: api.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "cant get chat administrators")
	}
	ids := make([]int64, 0, len(members))
	for i := range members {
		if members[i].User == nil {
			continue
		}
		ids = append(ids, members[i].User.ID)
	}
	if err := cb.store.Set(ctx, key, joinIDList(ids), cache.TTLAdmins); err != nil {
		cb.getLogEntry().WithError(err).WithField("chat_id", chatID).Debug("cant cache admin list")
	}
	return ids, nil
}

func (cb *ContextBuilder) IsAdmin(ctx context.Context, chatID, userID int64) bool {
	ids, err := cb.Admins(ctx, chatID)
	if err != nil {
		cb.getLogEntry().WithError(err).WithField("chat_id", chatID).Debug("cant resolve admins")
		return false
	}
	return tool.In(userID, ids...)
}

func joinIDList(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

func parseIDList(raw string) []int64 {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (cb *ContextBuilder) getLogEntry() *log.Entry {
	return log.WithField("object", "ContextBuilder")
}
