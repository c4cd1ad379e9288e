package decision

import (
	"context"

	"github.com/nauanbek/saqshy/internal/arbiter"
	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/trust"
)

// Collector is the signal orchestrator as the coordinator sees it.
type Collector interface {
	Collect(ctx context.Context, req pipeline.Request) (signal.Set, pipeline.Report, error)
}

// TrustStore persists member trust records. Get returns (nil, nil) for a
// member that was never observed.
type TrustStore interface {
	GetTrustRecord(ctx context.Context, key signal.MemberKey) (*trust.Record, error)
	UpsertTrustRecord(ctx context.Context, rec *trust.Record) error
}

// AuditStore records finalized decisions for the explainability trail.
type AuditStore interface {
	InsertDecision(ctx context.Context, d *Decision) error
}

// MembershipChecker verifies trust-channel membership. Implementations
// cache aggressively; the coordinator gives them a short budget.
type MembershipChecker interface {
	IsMember(ctx context.Context, channelID, userID int64) (bool, error)
}

// Arbiter is the gray-zone second opinion.
type Arbiter interface {
	Gate() arbiter.GateParams
	Consult(ctx context.Context, text string, candidates signal.Set, profile *signal.GroupProfile) (*arbiter.Opinion, error)
}
