// Package cache is the expiring key-value substrate behind the signal
// sources: member message history, cross-group counters and memoized
// membership lookups. Redis backs it in production; the in-process store
// keeps single-node deployments and tests running without one.
//
// The package stays deliberately dumb. Retries, circuit breaking and
// fallbacks belong to the pipeline layer wrapping each source, so a dead
// cache degrades the decision instead of failing it.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Retention windows. Values match the production cache schema; changing one
// silently changes how long history signals keep firing.
const (
	TTLMessageStamps = 24 * time.Hour
	TTLMemberStats   = 30 * 24 * time.Hour
	TTLFirstMessage  = 7 * 24 * time.Hour
	TTLJoinTime      = 7 * 24 * time.Hour
	TTLSubscription  = time.Hour
	TTLSubSince      = 30 * 24 * time.Hour
	TTLAdmins        = 5 * time.Minute
	TTLMessageGroups = 24 * time.Hour
	TTLMemberGroups  = 7 * 24 * time.Hour
	TTLBanHistory    = 30 * 24 * time.Hour
	TTLFlagHistory   = 14 * 24 * time.Hour
	TTLActionGuard   = 5 * time.Minute
	TTLNotifyLimit   = 5 * time.Minute
	TTLReviewText    = time.Hour
)

// Store is the operation surface the sources build on. Get reports a miss
// via the bool, never through an error; errors mean the backend itself is
// unhealthy.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error

	// IncrementField bumps one hash field and refreshes the hash TTL.
	IncrementField(ctx context.Context, key, field string, delta int64, ttl time.Duration) (int64, error)
	// Fields returns the whole hash, empty map for a missing key.
	Fields(ctx context.Context, key string) (map[string]string, error)

	// RecordStamp appends a timestamp to a sliding window, trimming entries
	// older than the retention.
	RecordStamp(ctx context.Context, key string, at time.Time, retention time.Duration) error
	// CountStampsSince counts window entries at or after since.
	CountStampsSince(ctx context.Context, key string, since time.Time) (int, error)

	// AddToSet inserts a member and returns the resulting set size.
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) (int, error)
	// SetSize returns the set cardinality, zero for a missing key.
	SetSize(ctx context.Context, key string) (int, error)
}

const prefix = "saqshy"

// Key builders. Every consumer goes through these so the schema lives in
// one place.

func KeyMessageStamps(chatID, userID int64) string {
	return fmt.Sprintf("%s:msg_ts:%d:%d", prefix, chatID, userID)
}

func KeyMemberStats(chatID, userID int64) string {
	return fmt.Sprintf("%s:member_stats:%d:%d", prefix, chatID, userID)
}

func KeyFirstMessage(chatID, userID int64) string {
	return fmt.Sprintf("%s:first_msg:%d:%d", prefix, chatID, userID)
}

func KeyJoinTime(chatID, userID int64) string {
	return fmt.Sprintf("%s:join_time:%d:%d", prefix, chatID, userID)
}

func KeySubscription(channelID, userID int64) string {
	return fmt.Sprintf("%s:sub:%d:%d", prefix, channelID, userID)
}

func KeySubscriptionSince(channelID, userID int64) string {
	return fmt.Sprintf("%s:sub_since:%d:%d", prefix, channelID, userID)
}

func KeyAdmins(chatID int64) string {
	return fmt.Sprintf("%s:admins:%d", prefix, chatID)
}

// KeyMessageGroups tracks which groups have seen a normalized message hash.
func KeyMessageGroups(messageHash string) string {
	return fmt.Sprintf("%s:msg_groups:%s", prefix, messageHash)
}

func KeyMemberGroups(userID int64) string {
	return fmt.Sprintf("%s:member_groups:%d", prefix, userID)
}

func KeyBanHistory(userID int64) string {
	return fmt.Sprintf("%s:bans:%d", prefix, userID)
}

func KeyFlagHistory(userID int64) string {
	return fmt.Sprintf("%s:flags:%d", prefix, userID)
}

// KeyActionGuard deduplicates enforcement for one message, so a retried
// update never punishes twice.
func KeyActionGuard(chatID int64, messageID int) string {
	return fmt.Sprintf("%s:action_guard:%d:%d", prefix, chatID, messageID)
}

// KeyRestricted marks a member the bot restricted, with the applied set as
// the value. Promotion paths read it to know a lift is due.
func KeyRestricted(chatID, userID int64) string {
	return fmt.Sprintf("%s:restricted:%d:%d", prefix, chatID, userID)
}

func KeyNotifyLimit(chatID int64) string {
	return fmt.Sprintf("%s:notify_limit:%d", prefix, chatID)
}

// KeyReviewText keeps the held message text while a review waits on an
// operator, so a ban resolution can record the sample verbatim.
func KeyReviewText(decisionID string) string {
	return fmt.Sprintf("%s:review_text:%s", prefix, decisionID)
}
