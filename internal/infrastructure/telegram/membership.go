package telegram

import (
	"context"
	"strconv"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/nauanbek/saqshy/internal/cache"
)

// MembershipChecker resolves trust-channel membership with a cached
// snapshot. One resolver serves both the decision path's yes/no probe and
// the behavior source's subscription-age signals, so a single API call per
// member per hour covers everything.
type MembershipChecker struct {
	bot   *api.BotAPI
	store cache.Store
}

func NewMembershipChecker(bot *api.BotAPI, store cache.Store) *MembershipChecker {
	return &MembershipChecker{
		bot:   bot,
		store: store,
	}
}

// IsMember reports current membership in the channel.
func (m *MembershipChecker) IsMember(ctx context.Context, channelID, userID int64) (bool, error) {
	subscribed, _, err := m.Subscription(ctx, channelID, userID)
	return subscribed, err
}

// Subscription reports membership and the first moment this deployment saw
// the member subscribed. A zero since means the duration is unknown.
func (m *MembershipChecker) Subscription(ctx context.Context, channelID, userID int64) (bool, time.Time, error) {
	key := cache.KeySubscription(channelID, userID)
	if raw, ok, err := m.store.Get(ctx, key); err == nil && ok {
		subscribed := raw == "1"
		if !subscribed {
			return false, time.Time{}, nil
		}
		return true, m.subscribedSince(ctx, channelID, userID), nil
	}

	if err := ctx.Err(); err != nil {
		return false, time.Time{}, err
	}
	member, err := m.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{
				ChatID: channelID,
			},
			UserID: userID,
		},
	})
	if err != nil {
		return false, time.Time{}, errors.WithMessage(err, "cant get channel member")
	}

	subscribed := !member.HasLeft() && !member.WasKicked()
	value := "0"
	if subscribed {
		value = "1"
	}
	if err := m.store.Set(ctx, key, value, cache.TTLSubscription); err != nil {
		m.getLogEntry().WithError(err).Debug("cant cache subscription")
	}
	if !subscribed {
		return false, time.Time{}, nil
	}

	since := m.subscribedSince(ctx, channelID, userID)
	if since.IsZero() {
		since = time.Now()
		sinceKey := cache.KeySubscriptionSince(channelID, userID)
		raw := strconv.FormatInt(since.UnixNano(), 10)
		if _, err := m.store.SetIfAbsent(ctx, sinceKey, raw, cache.TTLSubSince); err != nil {
			m.getLogEntry().WithError(err).Debug("cant record subscription start")
		}
	}
	return true, since, nil
}

// subscribedSince reads the recorded first observation, zero when absent.
func (m *MembershipChecker) subscribedSince(ctx context.Context, channelID, userID int64) time.Time {
	raw, ok, err := m.store.Get(ctx, cache.KeySubscriptionSince(channelID, userID))
	if err != nil || !ok {
		return time.Time{}
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (m *MembershipChecker) getLogEntry() *log.Entry {
	return log.WithField("object", "MembershipChecker")
}
