package db

import (
	"context"
	"time"

	"github.com/nauanbek/saqshy/internal/decision"
	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/sources"
	"github.com/nauanbek/saqshy/internal/trust"
)

// Client is the full storage contract. Consumers depend on the narrow
// interfaces declared next to them; this one exists for wiring and for the
// compile-time promise that a single client serves them all.
type Client interface {
	Close() error

	// GroupProfile returns the stock default for a group that never saved
	// settings, never an error.
	GroupProfile(ctx context.Context, chatID int64) (*signal.GroupProfile, error)
	SetGroupProfile(ctx context.Context, profile *signal.GroupProfile) error

	// GetTrustRecord returns (nil, nil) for a member never observed.
	GetTrustRecord(ctx context.Context, key signal.MemberKey) (*trust.Record, error)
	UpsertTrustRecord(ctx context.Context, rec *trust.Record) error

	InsertDecision(ctx context.Context, d *decision.Decision) error
	GetDecision(ctx context.Context, id string) (*DecisionRecord, error)
	UnresolvedReviews(ctx context.Context) ([]*DecisionRecord, error)
	ResolveReview(ctx context.Context, id string, resolution string, resolvedAt time.Time) error

	AddSpamSample(ctx context.Context, sample *SpamSample) error
	ByHash(ctx context.Context, hash string) (bool, error)
	Search(ctx context.Context, vector []float32, minScore float64, limit int) ([]sources.Match, error)

	UpsertBanlist(ctx context.Context, userIDs []int64) error
	GetBanlist(ctx context.Context) (map[int64]struct{}, error)
	UpsertAllowlist(ctx context.Context, userID int64, addedBy int64, note string) error
	RemoveAllowlist(ctx context.Context, userID int64) error
	IsAllowlisted(ctx context.Context, userID int64) (bool, error)

	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}
