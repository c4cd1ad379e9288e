// Package arbiter owns the gray zone: deciding when the rule-based verdict
// is not trusted alone, consulting the language model about it, and folding
// the model's opinion back into the verdict without ever letting a garbled
// reply harden into a BLOCK.
package arbiter

import (
	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/trust"
)

// GateParams name the tunables of the gray zone. The band is asymmetric on
// purpose and applies as [Low, High).
type GateParams struct {
	BandLow              int
	BandHigh             int
	FirstMessageFloor    int     // consult first messages scoring at least this
	EstablishedApprovals int     // approvals below this keep a member "unestablished"
	ConfidenceFloor      float64 // opinions below this are advisory only
}

func DefaultGateParams() GateParams {
	return GateParams{
		BandLow:              60,
		BandHigh:             80,
		FirstMessageFloor:    25,
		EstablishedApprovals: 3,
		ConfidenceFloor:      0.8,
	}
}

// Consultation reasons, used as audit and metric labels.
const (
	ReasonGrayBand          = "gray_band"
	ReasonFirstMessage      = "first_message"
	ReasonTrustedSimilarity = "trusted_similarity"
)

// GateInput is the shape of one scored message as the gate sees it.
type GateInput struct {
	Score          int
	Level          pipeline.Level
	FirstMessage   bool
	ApprovedCount  int
	TrustState     trust.State
	HighSimilarity bool
}

// ShouldConsult reports whether the arbiter gets a say, and why. Degraded
// passes never consult: with sources missing, the candidate signals would
// misrepresent the message.
func (p GateParams) ShouldConsult(in GateInput) (bool, string) {
	if in.Level != pipeline.LevelFull {
		return false, ""
	}
	if in.Score >= p.BandLow && in.Score < p.BandHigh {
		return true, ReasonGrayBand
	}
	if in.FirstMessage && in.ApprovedCount < p.EstablishedApprovals && in.Score >= p.FirstMessageFloor {
		return true, ReasonFirstMessage
	}
	if in.TrustState == trust.StateTrusted && in.HighSimilarity {
		return true, ReasonTrustedSimilarity
	}
	return false, ""
}

// HasHighSimilarity reports whether the set carries a strong spam-corpus
// match, the shape that makes a trusted member worth a second opinion.
func HasHighSimilarity(set signal.Set) bool {
	return set.Has(signal.SpamDBSimilarity95Plus) || set.Has(signal.SpamDBSimilarity88Plus)
}

// ApplyOpinion folds the arbiter's opinion into the rule-based verdict. A
// confident BLOCK blocks, a hesitant BLOCK queues for human review but
// never softens the rule, and a confident ALLOW relaxes a restrictive rule
// verdict to WATCH. Everything else leaves the rule verdict standing.
func (p GateParams) ApplyOpinion(rule scoring.Verdict, op *Opinion) scoring.Verdict {
	if op == nil {
		return rule
	}
	switch op.Verdict {
	case scoring.VerdictBlock:
		if op.Confidence >= p.ConfidenceFloor {
			return scoring.VerdictBlock
		}
		if rule < scoring.VerdictReview {
			return scoring.VerdictReview
		}
		return rule
	case scoring.VerdictAllow:
		if op.Confidence >= p.ConfidenceFloor && rule >= scoring.VerdictLimit {
			return scoring.VerdictWatch
		}
	}
	return rule
}
