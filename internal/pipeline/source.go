// Package pipeline fans a message out to the configured signal sources,
// isolates their failures behind per-source timeouts, fallbacks and circuit
// breakers, and reports the degradation level the rest of the decision has
// to respect.
package pipeline

import (
	"context"
	"time"

	"github.com/nauanbek/saqshy/internal/signal"
)

// Request carries everything a source may inspect. Prior holds the merged
// stage-one signals and is empty for sources without dependencies.
type Request struct {
	Message signal.MessageContext
	Profile *signal.GroupProfile
	Prior   signal.Set
}

// Source produces named observations about one message. Implementations
// must honor ctx cancellation; the orchestrator abandons calls that do not.
type Source interface {
	Collect(ctx context.Context, req Request) (signal.Set, error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func(ctx context.Context, req Request) (signal.Set, error)

func (f SourceFunc) Collect(ctx context.Context, req Request) (signal.Set, error) {
	return f(ctx, req)
}

// Fallback tells the orchestrator what to substitute when a source fails
// or times out.
type Fallback string

const (
	// FallbackSkip contributes nothing; the gap is visible in the report.
	FallbackSkip Fallback = "skip"
	// FallbackAssumeNegative contributes nothing and stands for an explicit
	// "no findings" answer.
	FallbackAssumeNegative Fallback = "assume-negative"
	// FallbackAssumePositive substitutes the spec's Assumption signals.
	FallbackAssumePositive Fallback = "assume-positive"
)

// Spec binds one source to its execution policy.
type Spec struct {
	Name     string
	Source   Source
	Timeout  time.Duration
	Required bool // failure fails the whole decision fast, fallback ignored
	Fallback Fallback
	// Assumption is substituted when Fallback is assume-positive.
	Assumption signal.Set
	// DependsOn lists stage-one sources whose output this source wants as
	// prior context. Non-empty moves the source to stage two.
	DependsOn []string
	// MinLevel is the weakest degradation level that still includes this
	// source. The zero value (LevelMinimal) means the source always runs.
	MinLevel Level
	// Breaker overrides the orchestrator-wide breaker parameters for this
	// source. A Threshold <= 0 disables the breaker entirely.
	Breaker *BreakerParams
}
