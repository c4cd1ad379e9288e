package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
)

// MsgNoPrivileges is the Bot API error text returned when the bot lacks the
// restrict right in a chat.
const MsgNoPrivileges = "not enough rights"

// ErrNoPrivileges marks operations that failed because the bot is not an
// admin with the restrict right. Callers match it to fall back instead of
// retrying.
var ErrNoPrivileges = fmt.Errorf("no privileges")

// Operations is the outbound moderation surface. Every method maps to one
// Bot API request; durations and permission sets are the caller's decision.
type Operations struct {
	bot *api.BotAPI
}

func NewOperations(bot *api.BotAPI) *Operations {
	return &Operations{bot: bot}
}

// DeleteMessage removes a message from a chat.
func (o *Operations) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := o.bot.Request(api.NewDeleteMessage(chatID, messageID)); err != nil {
		return withPrivilegeError(err, "delete message")
	}
	return nil
}

// BanUser bans a member. A non-positive duration bans permanently;
// revokeMessages wipes the member's recent history in the chat.
func (o *Operations) BanUser(ctx context.Context, chatID, userID int64, duration time.Duration, revokeMessages bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var until int64
	if duration > 0 {
		until = time.Now().Add(duration).Unix()
	}
	config := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		UntilDate:      until,
		RevokeMessages: revokeMessages,
	}
	if _, err := o.bot.Request(config); err != nil {
		return withPrivilegeError(err, "ban user")
	}
	return nil
}

// RestrictUser applies a permission set to a member. A zero until keeps the
// restriction in place until it is explicitly replaced.
func (o *Operations) RestrictUser(ctx context.Context, chatID, userID int64, perms *api.ChatPermissions, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var untilUnix int64
	if !until.IsZero() {
		untilUnix = until.Unix()
	}
	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		UntilDate:                     untilUnix,
		Permissions:                   perms,
		UseIndependentChatPermissions: true,
	}
	if _, err := o.bot.Request(config); err != nil {
		return withPrivilegeError(err, "restrict user")
	}
	return nil
}

// DeclineJoinRequest rejects a pending join request.
func (o *Operations) DeclineJoinRequest(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	config := api.DeclineChatJoinRequest{
		ChatConfig: api.ChatConfig{
			ChatID: chatID,
		},
		UserID: userID,
	}
	if _, err := o.bot.Request(config); err != nil {
		return withPrivilegeError(err, "decline join request")
	}
	return nil
}

func withPrivilegeError(err error, operation string) error {
	msg := err.Error()
	if strings.Contains(msg, MsgNoPrivileges) || strings.Contains(msg, "CHAT_ADMIN_REQUIRED") {
		return ErrNoPrivileges
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}
