package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nauanbek/saqshy/internal/arbiter"
	"github.com/nauanbek/saqshy/internal/event"
	"github.com/nauanbek/saqshy/internal/observability"
	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/trust"
)

// Params bound the coordinator's latency and throughput.
type Params struct {
	Deadline          time.Duration // hard per-decision deadline
	MaxConcurrent     int64         // backpressure: concurrent decisions
	AcquireTimeout    time.Duration // slot wait before shedding the message
	MembershipTimeout time.Duration // trust-channel verification budget
}

func DefaultParams() Params {
	return Params{
		Deadline:          5 * time.Second,
		MaxConcurrent:     100,
		AcquireTimeout:    10 * time.Millisecond,
		MembershipTimeout: 300 * time.Millisecond,
	}
}

// Deps are the coordinator's collaborators. Arbiter, Audit and Membership
// are optional; the rest are required.
type Deps struct {
	Collector  Collector
	Engine     *scoring.Engine
	Machine    *trust.Machine
	Arbiter    Arbiter
	Trust      TrustStore
	Audit      AuditStore
	Membership MembershipChecker
}

// Coordinator runs the decision pipeline end to end. Decisions for the same
// (member, group) pair are serialized by the arena for the whole pass, so
// trust transitions apply in arrival order; unrelated members proceed in
// parallel up to MaxConcurrent.
type Coordinator struct {
	deps   Deps
	arena  *trust.Arena
	sem    *semaphore.Weighted
	params Params
}

func NewCoordinator(deps Deps, params Params) (*Coordinator, error) {
	if deps.Collector == nil || deps.Engine == nil || deps.Machine == nil || deps.Trust == nil {
		return nil, fmt.Errorf("coordinator needs a collector, an engine, a machine and a trust store")
	}
	def := DefaultParams()
	if params.Deadline <= 0 {
		params.Deadline = def.Deadline
	}
	if params.MaxConcurrent <= 0 {
		params.MaxConcurrent = def.MaxConcurrent
	}
	if params.AcquireTimeout <= 0 {
		params.AcquireTimeout = def.AcquireTimeout
	}
	if params.MembershipTimeout <= 0 {
		params.MembershipTimeout = def.MembershipTimeout
	}
	return &Coordinator{
		deps:   deps,
		arena:  trust.NewArena(),
		sem:    semaphore.NewWeighted(params.MaxConcurrent),
		params: params,
	}, nil
}

// Decide classifies one message. Infrastructure failures degrade or fail
// open, never error; the returned error is reserved for configuration and
// caller bugs.
func (c *Coordinator) Decide(ctx context.Context, msg signal.MessageContext, profile *signal.GroupProfile) (*Decision, error) {
	start := time.Now()
	finish := observability.StartDecision()

	if profile == nil {
		finish("hard_error")
		return nil, fmt.Errorf("nil group profile for chat %d", msg.ChatID)
	}
	if !signal.ValidKind(profile.Kind) {
		finish("hard_error")
		return nil, fmt.Errorf("unknown group kind %q for chat %d", profile.Kind, msg.ChatID)
	}
	if msg.ChatID == 0 || msg.Sender.ID == 0 {
		finish("hard_error")
		return nil, fmt.Errorf("malformed message context: chat %d, sender %d", msg.ChatID, msg.Sender.ID)
	}

	ctx, span := otel.Tracer("decision-coordinator").Start(ctx, "Decide")
	defer span.End()

	// Backpressure: when the pipeline is saturated the message passes as a
	// degraded ALLOW instead of queueing behind the deadline.
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, c.params.AcquireTimeout)
	acquireErr := c.sem.Acquire(acquireCtx, 1)
	cancelAcquire()
	if acquireErr != nil {
		d := c.failOpen(msg, scoring.VerdictAllow, "backpressure", pipeline.Report{}, trust.StateNew, start)
		c.emit(ctx, d)
		finish("fail_open")
		return d, nil
	}
	defer c.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.params.Deadline)
	defer cancel()

	key := msg.Key()
	release := c.arena.Lock(key)
	defer release()

	degraded := false
	rec, err := c.deps.Trust.GetTrustRecord(ctx, key)
	if err != nil {
		c.getLogEntry().WithField("method", "Decide").WithError(err).Error("failed to load trust record")
		degraded = true
		rec = nil
	}
	firstMessage := rec == nil
	if rec == nil {
		rec = trust.NewRecord(key, start)
	}

	trustChannel := c.checkTrustChannel(ctx, profile, rec)

	set, report, err := c.deps.Collector.Collect(ctx, pipeline.Request{Message: msg, Profile: profile})
	if err != nil {
		// A required source failed: conservative fail-open, the message
		// passes under observation and the trust record stays untouched.
		c.getLogEntry().WithField("method", "Decide").WithError(err).Error("failed to collect signals")
		d := c.failOpen(msg, scoring.VerdictWatch, "collect_failed", report, rec.State, start)
		c.emit(ctx, d)
		finish("fail_open")
		return d, nil
	}
	degraded = degraded || report.Degraded()

	result, err := c.deps.Engine.Score(scoring.Input{
		Signals:       set,
		Kind:          profile.Kind,
		Sensitivity:   profile.Sensitivity,
		TrustModifier: rec.State.Modifier(),
		Degraded:      degraded,
	})
	if err != nil {
		finish("hard_error")
		return nil, err
	}

	d := &Decision{
		ID:           uuid.New(),
		ChatID:       msg.ChatID,
		UserID:       msg.Sender.ID,
		MessageID:    msg.MessageID,
		Verdict:      result.Verdict,
		Score:        result.Score,
		Threat:       result.Threat,
		Contributing: result.Contributing,
		Degraded:     result.Degraded,
		Report:       report,
		CreatedAt:    start,
	}

	if c.deps.Arbiter != nil {
		gate := c.deps.Arbiter.Gate()
		consult, reason := gate.ShouldConsult(arbiter.GateInput{
			Score:          result.Score,
			Level:          report.Level,
			FirstMessage:   firstMessage,
			ApprovedCount:  rec.ApprovedCount,
			TrustState:     rec.State,
			HighSimilarity: arbiter.HasHighSimilarity(set),
		})
		if consult {
			d.ArbiterConsulted = true
			d.ArbiterReason = reason
			opinion, aerr := c.deps.Arbiter.Consult(ctx, msg.Text, set, profile)
			switch {
			case aerr != nil:
				d.ArbiterError = aerr.Error()
			case opinion != nil:
				d.ArbiterOpinion = fmt.Sprintf("%s %.2f %s", opinion.Verdict, opinion.Confidence, opinion.Reason)
				d.Verdict = gate.ApplyOpinion(result.Verdict, opinion)
			}
		}
	}

	c.deps.Machine.Apply(rec, d.Verdict, trust.Facts{
		Kind:               profile.Kind,
		TrustChannelMember: trustChannel,
		SandboxEnabled:     profile.SandboxEnabled,
		SandboxDuration:    profile.SandboxDuration,
		Now:                start,
	})
	d.TrustStateAfter = rec.State

	uctx, ucancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	if err := c.deps.Trust.UpsertTrustRecord(uctx, rec); err != nil {
		c.getLogEntry().WithField("method", "Decide").WithError(err).Error("failed to persist trust record")
	}
	ucancel()

	d.Elapsed = time.Since(start)
	c.emit(ctx, d)
	finish("ok")
	return d, nil
}

// checkTrustChannel verifies membership in the group's trust channel within
// its short budget. Verification failure means "not confirmed", never an
// error: membership can be proven again on the next message.
func (c *Coordinator) checkTrustChannel(ctx context.Context, profile *signal.GroupProfile, rec *trust.Record) bool {
	if c.deps.Membership == nil || profile.TrustChannelID == 0 || rec.State == trust.StateTrusted {
		return false
	}
	mctx, cancel := context.WithTimeout(ctx, c.params.MembershipTimeout)
	defer cancel()
	ok, err := c.deps.Membership.IsMember(mctx, profile.TrustChannelID, rec.UserID)
	if err != nil {
		c.getLogEntry().WithField("method", "checkTrustChannel").WithError(err).Warn("failed to verify trust-channel membership")
		return false
	}
	return ok
}

func (c *Coordinator) failOpen(msg signal.MessageContext, verdict scoring.Verdict, reason string, report pipeline.Report, state trust.State, start time.Time) *Decision {
	return &Decision{
		ID:              uuid.New(),
		ChatID:          msg.ChatID,
		UserID:          msg.Sender.ID,
		MessageID:       msg.MessageID,
		Verdict:         verdict,
		Threat:          signal.ThreatNone,
		TrustStateAfter: state,
		Degraded:        true,
		Report:          report,
		FailOpenReason:  reason,
		Elapsed:         time.Since(start),
		CreatedAt:       start,
	}
}

// emit fans the finalized decision out to metrics, the audit trail and the
// event bus. None of these can fail the decision.
func (c *Coordinator) emit(ctx context.Context, d *Decision) {
	observability.RecordDecision(d.Verdict.String(), d.Degraded)
	if c.deps.Audit != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		if err := c.deps.Audit.InsertDecision(actx, d); err != nil {
			c.getLogEntry().WithField("method", "emit").WithError(err).Error("failed to insert decision audit")
		}
		cancel()
	}
	event.Bus.NQ(NewEvent(d))
	if observability.Logger != nil {
		observability.Logger.Info("decision",
			zap.String("id", d.ID),
			zap.Int64("chat_id", d.ChatID),
			zap.Int64("user_id", d.UserID),
			zap.String("verdict", d.Verdict.String()),
			zap.Int("score", d.Score),
			zap.String("threat", string(d.Threat)),
			zap.Bool("degraded", d.Degraded),
			zap.String("trust_state", string(d.TrustStateAfter)),
			zap.Duration("elapsed", d.Elapsed),
		)
	}
}

func (c *Coordinator) getLogEntry() *log.Entry {
	return log.WithField("object", "Coordinator")
}
