package trust

import (
	"time"

	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
)

// Transition reasons, written to the audit trail.
const (
	ReasonEntry           = "entry"
	ReasonTrustChannel    = "trust_channel"
	ReasonSandboxRestart  = "sandbox_restart"
	ReasonViolation       = "violation_demotion"
	ReasonDurationElapsed = "duration_elapsed"
	ReasonApprovedCount   = "approved_threshold"
)

// Params tune the promotion ladder.
type Params struct {
	SandboxDuration  time.Duration // default sandbox length, groups may override
	MinSandboxAge    time.Duration // youngest a sandbox may be for a count-based exit
	PromoteApprovals int           // SANDBOX/SOFT_WATCH -> LIMITED
	TrustApprovals   int           // LIMITED -> TRUSTED
}

func DefaultParams() Params {
	return Params{
		SandboxDuration:  24 * time.Hour,
		MinSandboxAge:    time.Hour,
		PromoteApprovals: 3,
		TrustApprovals:   10,
	}
}

// Facts are the per-message inputs to one transition, resolved by the
// coordinator before Apply is called.
type Facts struct {
	Kind               signal.GroupKind
	TrustChannelMember bool // membership in the group's trust channel, verified this pass
	SandboxEnabled     bool
	SandboxDuration    time.Duration // per-group override, 0 means Params default
	Now                time.Time
}

// Transition describes what Apply did to the record.
type Transition struct {
	From   State
	To     State
	Reason string
}

// Changed reports whether the member moved to a different state.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Machine applies verdicts to trust records. It holds no per-member state
// itself; callers must serialize Apply per record key (see Arena).
type Machine struct {
	params Params
}

func NewMachine(params Params) *Machine {
	if params.SandboxDuration <= 0 {
		params.SandboxDuration = DefaultParams().SandboxDuration
	}
	if params.MinSandboxAge < 0 {
		params.MinSandboxAge = 0
	}
	if params.PromoteApprovals <= 0 {
		params.PromoteApprovals = DefaultParams().PromoteApprovals
	}
	if params.TrustApprovals <= 0 {
		params.TrustApprovals = DefaultParams().TrustApprovals
	}
	return &Machine{params: params}
}

// Apply folds one finalized verdict into the record and performs at most one
// state transition. Evaluation order is part of the contract: trust-channel
// proof beats everything, a violation beats time- and count-based exits, and
// the sandbox duration check runs before the approved-count check.
func (m *Machine) Apply(rec *Record, verdict scoring.Verdict, f Facts) Transition {
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}
	from := rec.State
	rec.UpdatedAt = now

	// Count the verdict first so exit checks see the current message.
	switch {
	case verdict == scoring.VerdictAllow:
		rec.ApprovedCount++
	case verdict.IsViolation():
		rec.ViolationCount++
	}

	if from == StateNew {
		return m.enter(rec, f, now)
	}

	if f.TrustChannelMember && from != StateTrusted {
		rec.move(StateTrusted, now)
		return Transition{From: from, To: StateTrusted, Reason: ReasonTrustChannel}
	}

	if verdict.IsViolation() {
		return m.punish(rec, verdict, f, now)
	}

	switch from {
	case StateSandbox:
		duration := f.SandboxDuration
		if duration <= 0 {
			duration = m.params.SandboxDuration
		}
		age := now.Sub(rec.EnteredAt)
		if age >= duration && rec.ViolationCount == 0 {
			rec.move(StateLimited, now)
			return Transition{From: from, To: StateLimited, Reason: ReasonDurationElapsed}
		}
		if rec.ApprovedCount >= m.params.PromoteApprovals && age >= m.params.MinSandboxAge {
			rec.move(StateLimited, now)
			return Transition{From: from, To: StateLimited, Reason: ReasonApprovedCount}
		}
	case StateSoftWatch:
		if rec.ApprovedCount >= m.params.PromoteApprovals {
			rec.move(StateLimited, now)
			return Transition{From: from, To: StateLimited, Reason: ReasonApprovedCount}
		}
	case StateLimited:
		if rec.ApprovedCount >= m.params.TrustApprovals {
			rec.move(StateTrusted, now)
			return Transition{From: from, To: StateTrusted, Reason: ReasonApprovedCount}
		}
	}
	return Transition{From: from, To: from}
}

// enter routes a first-observed member to their starting state.
func (m *Machine) enter(rec *Record, f Facts, now time.Time) Transition {
	to := StateSandbox
	switch {
	case f.TrustChannelMember:
		to = StateTrusted
	case f.Kind == signal.KindDeals:
		to = StateSoftWatch
	case !f.SandboxEnabled:
		to = StateLimited
	}
	rec.move(to, now)
	reason := ReasonEntry
	if f.TrustChannelMember {
		reason = ReasonTrustChannel
	}
	return Transition{From: StateNew, To: to, Reason: reason}
}

// punish handles a violation verdict. SOFT_WATCH only counts; SANDBOX
// restarts; LIMITED drops back into the sandbox; TRUSTED survives anything
// short of BLOCK. Groups with the sandbox disabled demote to LIMITED
// instead, there is no sandbox to fall into.
func (m *Machine) punish(rec *Record, verdict scoring.Verdict, f Facts, now time.Time) Transition {
	from := rec.State
	switch from {
	case StateSandbox:
		rec.ApprovedCount = 0
		rec.EnteredAt = now
		return Transition{From: from, To: StateSandbox, Reason: ReasonSandboxRestart}
	case StateLimited:
		if !f.SandboxEnabled {
			return Transition{From: from, To: from}
		}
		rec.ApprovedCount = 0
		rec.move(StateSandbox, now)
		return Transition{From: from, To: StateSandbox, Reason: ReasonViolation}
	case StateTrusted:
		if verdict != scoring.VerdictBlock {
			return Transition{From: from, To: from}
		}
		rec.ApprovedCount = 0
		to := StateSandbox
		if !f.SandboxEnabled {
			to = StateLimited
		}
		rec.move(to, now)
		return Transition{From: from, To: to, Reason: ReasonViolation}
	default: // SOFT_WATCH observes without restricting.
		return Transition{From: from, To: from}
	}
}

func (r *Record) move(to State, now time.Time) {
	r.State = to
	r.EnteredAt = now
}
