package sources

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/nauanbek/saqshy/internal/cache"
	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
)

// SourceBehavior names the member-history source.
const SourceBehavior = "behavior"

// Outcome classes tracked in the member stats hash.
const (
	OutcomeApproved = "approved"
	OutcomeFlagged  = "flagged"
	OutcomeBlocked  = "blocked"
)

// SubscriptionChecker resolves trust-channel membership. since is the first
// moment this deployment saw the member subscribed; the zero value means the
// duration is unknown.
type SubscriptionChecker interface {
	Subscription(ctx context.Context, channelID, userID int64) (subscribed bool, since time.Time, err error)
}

// Behavior reads the member's message history out of the cache and the
// trust-channel subscription through the checker. Both dependencies are
// optional; a missing one just silences its signal family.
type Behavior struct {
	catalog *signal.Catalog
	store   cache.Store
	subs    SubscriptionChecker
}

func NewBehavior(catalog *signal.Catalog, store cache.Store, subs SubscriptionChecker) *Behavior {
	if catalog == nil {
		catalog = signal.NewCatalog()
	}
	return &Behavior{catalog: catalog, store: store, subs: subs}
}

func (b *Behavior) getLogEntry() *log.Entry {
	return log.WithField("object", "BehaviorSource")
}

func (b *Behavior) Collect(ctx context.Context, req pipeline.Request) (signal.Set, error) {
	msg := &req.Message
	kind := req.Profile.Kind
	key := msg.Key()

	var out signal.Set
	emit := func(name string) { out = append(out, b.catalog.Make(kind, name)) }

	// Reply facts come resolved on the context, no lookup needed.
	if msg.IsReply {
		emit(signal.IsReply)
		if msg.ReplyToAdmin {
			emit(signal.IsReplyToAdmin)
		}
	}

	joinedAt, joinKnown := b.joinTime(ctx, msg)
	if joinKnown {
		age := msg.SentAt.Sub(joinedAt)
		switch {
		case age >= 90*24*time.Hour:
			emit(signal.GroupMember90Days)
		case age >= 30*24*time.Hour:
			emit(signal.GroupMember30Days)
		case age >= 7*24*time.Hour:
			emit(signal.GroupMember7Days)
		}
	}

	if b.store != nil {
		if err := b.historySignals(ctx, key, msg, joinedAt, joinKnown, emit); err != nil {
			return out, err
		}
	}

	if b.subs != nil && req.Profile.TrustChannelID != 0 {
		subscribed, since, err := b.subs.Subscription(ctx, req.Profile.TrustChannelID, msg.Sender.ID)
		if err != nil {
			// Subscription is a pure trust signal; history already made it
			// into the set, so surface the partial set instead of an error.
			b.getLogEntry().WithField("method", "Collect").WithError(err).Warn("subscription check failed")
			return out, nil
		}
		if subscribed {
			emit(signal.IsChannelSubscriber)
			if !since.IsZero() {
				switch dur := msg.SentAt.Sub(since); {
				case dur >= 30*24*time.Hour:
					emit(signal.ChannelSub30Days)
				case dur >= 7*24*time.Hour:
					emit(signal.ChannelSub7Days)
				}
			}
		}
	}

	return out, nil
}

func (b *Behavior) historySignals(ctx context.Context, key signal.MemberKey, msg *signal.MessageContext, joinedAt time.Time, joinKnown bool, emit func(string)) error {
	stats, err := b.stats(ctx, key)
	if err != nil {
		return err
	}

	firstMessage := stats.Total == 0
	if firstMessage {
		emit(signal.IsFirstMessage)
		if len(extractURLs(msg.Text)) > 0 {
			emit(signal.LinkInFirstMessage)
		}
	}

	switch {
	case stats.Approved >= 10:
		emit(signal.PreviousMessagesApproved10Plus)
	case stats.Approved >= 5:
		emit(signal.PreviousMessagesApproved5Plus)
	case stats.Approved >= 1:
		emit(signal.PreviousMessagesApproved1Plus)
	}
	if stats.Blocked > 0 {
		emit(signal.PreviousMessagesBlocked)
	}
	if stats.Flagged > 0 {
		emit(signal.PreviousMessagesFlagged)
	}

	lastHour, err := b.store.CountStampsSince(ctx, cache.KeyMessageStamps(key.ChatID, key.UserID), msg.SentAt.Add(-time.Hour))
	if err != nil {
		return err
	}
	switch {
	case lastHour >= 10:
		emit(signal.MessagesInHour10Plus)
	case lastHour >= 5:
		emit(signal.MessagesInHour5Plus)
	}

	if joinKnown {
		if clampGap(msg.SentAt.Sub(joinedAt)) < 10*time.Second {
			emit(signal.JoinToMessageUnder10Seconds)
		}
		ttfm, ok := b.timeToFirstMessage(ctx, key, msg, joinedAt, firstMessage)
		if ok {
			switch {
			case ttfm < 30*time.Second:
				emit(signal.TTFMUnder30Seconds)
			case ttfm < 5*time.Minute:
				emit(signal.TTFMUnder5Minutes)
			}
		}
	}

	return nil
}

// timeToFirstMessage is the join-to-first-message gap. For the first
// message it is simply now minus join; afterwards the recorded first stamp
// keeps the signal stable for the member's whole tenure.
func (b *Behavior) timeToFirstMessage(ctx context.Context, key signal.MemberKey, msg *signal.MessageContext, joinedAt time.Time, firstMessage bool) (time.Duration, bool) {
	if firstMessage {
		return clampGap(msg.SentAt.Sub(joinedAt)), true
	}
	raw, ok, err := b.store.Get(ctx, cache.KeyFirstMessage(key.ChatID, key.UserID))
	if err != nil || !ok {
		return 0, false
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return clampGap(time.Unix(0, nanos).Sub(joinedAt)), true
}

// clampGap floors a join gap at zero. Join events can arrive after the
// member's first message, which would otherwise read as a negative gap.
func clampGap(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// joinTime prefers the join date the transport put on the context and falls
// back to the recorded join stamp.
func (b *Behavior) joinTime(ctx context.Context, msg *signal.MessageContext) (time.Time, bool) {
	if msg.JoinedAt != nil {
		return *msg.JoinedAt, true
	}
	if b.store == nil {
		return time.Time{}, false
	}
	raw, ok, err := b.store.Get(ctx, cache.KeyJoinTime(msg.ChatID, msg.Sender.ID))
	if err != nil || !ok {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// MemberStats is the decoded member stats hash.
type MemberStats struct {
	Total    int
	Approved int
	Flagged  int
	Blocked  int
}

func (b *Behavior) stats(ctx context.Context, key signal.MemberKey) (MemberStats, error) {
	fields, err := b.store.Fields(ctx, cache.KeyMemberStats(key.ChatID, key.UserID))
	if err != nil {
		return MemberStats{}, err
	}
	atoi := func(field string) int {
		n, _ := strconv.Atoi(fields[field])
		return n
	}
	return MemberStats{
		Total:    atoi("total_messages"),
		Approved: atoi(OutcomeApproved),
		Flagged:  atoi(OutcomeFlagged),
		Blocked:  atoi(OutcomeBlocked),
	}, nil
}

// RecordMessage journals a message stamp, the first-message time and the
// total counter. The action layer calls it after each decision so the next
// pass sees fresh history.
func (b *Behavior) RecordMessage(ctx context.Context, key signal.MemberKey, at time.Time) error {
	if b.store == nil {
		return nil
	}
	if err := b.store.RecordStamp(ctx, cache.KeyMessageStamps(key.ChatID, key.UserID), at, cache.TTLMessageStamps); err != nil {
		return err
	}
	stamp := strconv.FormatInt(at.UnixNano(), 10)
	if _, err := b.store.SetIfAbsent(ctx, cache.KeyFirstMessage(key.ChatID, key.UserID), stamp, cache.TTLFirstMessage); err != nil {
		return err
	}
	_, err := b.store.IncrementField(ctx, cache.KeyMemberStats(key.ChatID, key.UserID), "total_messages", 1, cache.TTLMemberStats)
	return err
}

// RecordOutcome bumps the stats class a verdict maps to: allow and watch
// count as approved, limit and review as flagged, block as blocked.
func (b *Behavior) RecordOutcome(ctx context.Context, key signal.MemberKey, verdict scoring.Verdict) error {
	if b.store == nil {
		return nil
	}
	var class string
	switch verdict {
	case scoring.VerdictAllow, scoring.VerdictWatch:
		class = OutcomeApproved
	case scoring.VerdictLimit, scoring.VerdictReview:
		class = OutcomeFlagged
	case scoring.VerdictBlock:
		class = OutcomeBlocked
	default:
		return errors.Errorf("unknown verdict %d", verdict)
	}
	_, err := b.store.IncrementField(ctx, cache.KeyMemberStats(key.ChatID, key.UserID), class, 1, cache.TTLMemberStats)
	return err
}

// RecordJoin stores the join stamp consulted when the transport cannot
// supply one on the message context.
func (b *Behavior) RecordJoin(ctx context.Context, key signal.MemberKey, at time.Time) error {
	if b.store == nil {
		return nil
	}
	stamp := strconv.FormatInt(at.UnixNano(), 10)
	return b.store.Set(ctx, cache.KeyJoinTime(key.ChatID, key.UserID), stamp, cache.TTLJoinTime)
}
