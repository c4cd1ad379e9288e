package moderation

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"

	"github.com/nauanbek/saqshy/internal/bot"
	"github.com/nauanbek/saqshy/internal/cache"
	"github.com/nauanbek/saqshy/internal/decision"
	"github.com/nauanbek/saqshy/internal/signal"
)

const (
	previewMaxRunes  = 100
	notifyTopFactors = 5
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// notify posts the case to the review channel when one is configured,
// otherwise to the first human admin's DMs. FYI notices are rate limited
// per chat; review requests always go out because they carry the buttons
// that unblock the member.
func (a *ActionService) notify(d *decision.Decision, msg *api.Message, markup *api.InlineKeyboardMarkup) {
	entry := a.getLogEntry().WithField("method", "notify").WithField("decision_id", d.ID)
	ctx := a.getRuntimeContext()

	if markup == nil {
		fresh, err := a.deps.Cache.SetIfAbsent(ctx, cache.KeyNotifyLimit(d.ChatID), d.ID, cache.TTLNotifyLimit)
		if err != nil {
			entry.WithError(err).Debug("failed to check notify limit")
		} else if !fresh {
			return
		}
	}

	var notifMsg api.Chattable
	if a.cfg.ReviewChannelUsername != "" {
		notifMsg = a.buildChannelPost(d, msg, markup)
	} else {
		adminID := a.firstHumanAdmin(d.ChatID)
		if adminID == 0 {
			entry.Debug("no admin to notify")
			return
		}
		dm := api.NewMessage(adminID, a.buildReport(d, msg))
		dm.DisableNotification = true
		dm.LinkPreviewOptions.IsDisabled = true
		if markup != nil {
			dm.ReplyMarkup = markup
		}
		notifMsg = dm
	}

	if _, err := a.deps.Bot.Send(notifMsg); err != nil {
		entry.WithError(err).Error("failed to send moderator notification")
	}
}

// buildChannelPost renders the case for the review channel. The message text
// is redacted the way channel reposts must be: links and handles neutered so
// the channel itself never amplifies the spam.
func (a *ActionService) buildChannelPost(d *decision.Decision, msg *api.Message, markup *api.InlineKeyboardMarkup) api.Chattable {
	header := fmt.Sprintf("%s %d in %s from %s: %s",
		d.Verdict, d.Score, msg.Chat.Title, bot.GetUN(msg.From), topFactors(d.Contributing, notifyTopFactors))

	textSlice := strings.Split(preview(bot.ExtractContentFromMessage(msg)), "\n")
	for i, line := range textSlice {
		line = strings.ReplaceAll(line, "http", "_ttp")
		line = strings.ReplaceAll(line, "+7", "+*")

		line = api.EscapeText(api.ModeMarkdownV2, line)
		line = mentionPattern.ReplaceAllString(line, "@**")
		textSlice[i] = line
	}
	text := fmt.Sprintf(">%s\n**>%s",
		api.EscapeText(api.ModeMarkdownV2, header),
		strings.Join(textSlice, "\n>"),
	)
	channelMsg := api.NewMessageToChannel("@"+strings.TrimPrefix(a.cfg.ReviewChannelUsername, "@"), text)
	channelMsg.ParseMode = api.ModeMarkdownV2
	if markup != nil {
		channelMsg.ReplyMarkup = markup
	}
	return channelMsg
}

// buildReport renders the plain-text case summary for admin DMs.
func (a *ActionService) buildReport(d *decision.Decision, msg *api.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %s (score %d, threat %s) in %s\n", d.Verdict, d.Score, d.Threat, msg.Chat.Title)
	fmt.Fprintf(&b, "From: %s (%d)\n", bot.GetUN(msg.From), d.UserID)
	fmt.Fprintf(&b, "Signals: %s\n", topFactors(d.Contributing, notifyTopFactors))
	if d.ArbiterOpinion != "" {
		fmt.Fprintf(&b, "Arbiter: %s\n", d.ArbiterOpinion)
	}
	fmt.Fprintf(&b, "Message: %s", preview(bot.ExtractContentFromMessage(msg)))
	return b.String()
}

// reportMissingRights posts a short self-destructing notice when the bot
// lacks the restrict right, so admins learn why nothing happened.
func (a *ActionService) reportMissingRights(chatID int64, messageID int) {
	reply := api.NewMessage(chatID, "I don't have enough rights to moderate here")
	reply.ReplyParameters = api.ReplyParameters{
		ChatID:                   chatID,
		MessageID:                messageID,
		AllowSendingWithoutReply: true,
	}
	reply.DisableNotification = true
	reply.LinkPreviewOptions.IsDisabled = true
	sent, err := a.deps.Bot.Send(reply)
	if err != nil {
		a.getLogEntry().WithField("method", "reportMissingRights").WithError(err).Error("failed to send rights notice")
		return
	}
	if sent.MessageID != 0 {
		a.scheduleAfter(rightsNoticeTimeout, func(runCtx context.Context) {
			select {
			case <-runCtx.Done():
				return
			default:
			}
			if _, err := a.deps.Bot.Request(api.NewDeleteMessage(chatID, sent.MessageID)); err != nil {
				a.getLogEntry().WithField("method", "reportMissingRights").WithError(err).Error("failed to delete rights notice")
			}
		})
	}
}

// firstHumanAdmin picks a DM target when no review channel is configured.
func (a *ActionService) firstHumanAdmin(chatID int64) int64 {
	admins, err := a.deps.Bot.GetChatAdministrators(api.ChatAdministratorsConfig{
		ChatConfig: api.ChatConfig{
			ChatID: chatID,
		},
	})
	if err != nil {
		a.getLogEntry().WithField("method", "firstHumanAdmin").WithError(err).Error("failed to list admins")
		return 0
	}
	for _, admin := range admins {
		if admin.User != nil && !admin.User.IsBot {
			return admin.User.ID
		}
	}
	return 0
}

func (a *ActionService) debugReport(d *decision.Decision, msg *api.Message) {
	if a.cfg.DebugUserID == 0 {
		return
	}
	debugMsg := tool.ExecTemplate(`{{ .verdict }} {{ .score }} for {{ .user_name }} ({{ .user_id }}) in {{ .chat_id }}
Signals: {{ .signals }}`, map[string]any{
		"verdict":   d.Verdict.String(),
		"score":     d.Score,
		"user_name": bot.GetUN(msg.From),
		"user_id":   d.UserID,
		"chat_id":   d.ChatID,
		"signals":   topFactors(d.Contributing, notifyTopFactors),
	})
	if _, err := a.deps.Bot.Send(api.NewMessage(a.cfg.DebugUserID, debugMsg)); err != nil {
		a.getLogEntry().WithField("method", "debugReport").WithError(err).Error("failed to send debug report")
	}
}

// topFactors lists the heaviest contributing signals, strongest first.
func topFactors(set signal.Set, limit int) string {
	if len(set) == 0 {
		return "none"
	}
	sorted := make(signal.Set, len(set))
	copy(sorted, set)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Weight > sorted[j].Weight })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	names := make([]string, 0, len(sorted))
	for _, sig := range sorted {
		names = append(names, fmt.Sprintf("%s (%+d)", sig.Name, sig.Weight))
	}
	return strings.Join(names, ", ")
}

// preview clips message text for notifications.
func preview(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= previewMaxRunes {
		return text
	}
	return string(runes[:previewMaxRunes]) + "…"
}
