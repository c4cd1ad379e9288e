// Package scoring turns a collected signal set into a score, a verdict and
// an explainable breakdown. Score is a pure function over its inputs so the
// whole weight model stays unit-testable without any infrastructure.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/nauanbek/saqshy/internal/signal"
)

// Thresholds are the ascending verdict boundaries for one group kind.
// Boundaries are inclusive-lower: a score exactly at a boundary takes the
// higher-severity verdict.
type Thresholds struct {
	Watch  int
	Limit  int
	Review int
	Block  int
}

func (t Thresholds) verdict(score int) Verdict {
	switch {
	case score >= t.Block:
		return VerdictBlock
	case score >= t.Review:
		return VerdictReview
	case score >= t.Limit:
		return VerdictLimit
	case score >= t.Watch:
		return VerdictWatch
	default:
		return VerdictAllow
	}
}

func (t Thresholds) valid() bool {
	return t.Watch < t.Limit && t.Limit < t.Review && t.Review < t.Block
}

// defaultThresholds is the calibrated verdict table. Reproduced exactly
// from production calibration; changes go through the config overlay.
var defaultThresholds = map[signal.GroupKind]Thresholds{
	signal.KindGeneral: {Watch: 30, Limit: 50, Review: 75, Block: 92},
	signal.KindTech:    {Watch: 30, Limit: 50, Review: 75, Block: 92},
	signal.KindDeals:   {Watch: 40, Limit: 60, Review: 80, Block: 95},
	signal.KindCrypto:  {Watch: 25, Limit: 45, Review: 70, Block: 90},
}

// threatPriority breaks weight ties between contributing signals. Higher
// wins.
var threatPriority = map[signal.Threat]int{
	signal.ThreatScam:       4,
	signal.ThreatPhishing:   3,
	signal.ThreatCryptoScam: 2,
	signal.ThreatSpam:       1,
	signal.ThreatNone:       0,
}

// Input is everything one scoring pass depends on.
type Input struct {
	Signals       signal.Set
	Kind          signal.GroupKind
	Sensitivity   int // 1..10, 0 means default (5)
	TrustModifier int // <= 0, supplied by the trust machine
	Degraded      bool
}

// Result is the full outcome of one scoring pass. Subtotals holds the raw
// per-category weight sums before sensitivity scaling and the trust modifier.
type Result struct {
	Score        int                     `json:"score"`
	Verdict      Verdict                 `json:"verdict"`
	Threat       signal.Threat           `json:"threat_category"`
	Contributing signal.Set              `json:"contributing"`
	Subtotals    map[signal.Category]int `json:"subtotals,omitempty"`
	Degraded     bool                    `json:"degraded"`
}

// Engine resolves signal names through its catalog and maps totals to
// verdicts. The catalog and threshold table are fixed after construction;
// Score itself never mutates anything.
type Engine struct {
	catalog    *signal.Catalog
	thresholds map[signal.GroupKind]Thresholds
}

func NewEngine(catalog *signal.Catalog) *Engine {
	if catalog == nil {
		catalog = signal.NewCatalog()
	}
	thresholds := make(map[signal.GroupKind]Thresholds, len(defaultThresholds))
	for kind, t := range defaultThresholds {
		thresholds[kind] = t
	}
	return &Engine{catalog: catalog, thresholds: thresholds}
}

// Catalog exposes the engine's weight tables for the calibration overlay.
func (e *Engine) Catalog() *signal.Catalog {
	return e.catalog
}

// SetThresholds replaces the verdict boundaries for one kind. Used by the
// calibration overlay only.
func (e *Engine) SetThresholds(kind signal.GroupKind, t Thresholds) error {
	if !signal.ValidKind(kind) {
		return fmt.Errorf("unknown group kind %q", kind)
	}
	if !t.valid() {
		return fmt.Errorf("thresholds for %q are not strictly ascending: %+v", kind, t)
	}
	e.thresholds[kind] = t
	return nil
}

// Score computes the risk result for one message. It is deterministic: the
// same input always yields the same result. The only error condition is an
// unknown group kind, which indicates a configuration bug and fails hard.
func (e *Engine) Score(in Input) (Result, error) {
	thresholds, ok := e.thresholds[in.Kind]
	if !ok {
		return Result{}, fmt.Errorf("unknown group kind %q", in.Kind)
	}

	// Resolve every present signal through the merged table. The weight
	// carried on the input signal is advisory; the catalog is authoritative.
	resolved := make(signal.Set, 0, len(in.Signals))
	subtotals := make(map[signal.Category]int)
	total := 0
	for _, s := range in.Signals {
		merged := e.catalog.Make(in.Kind, s.Name)
		total += merged.Weight
		if merged.Weight != 0 {
			resolved = append(resolved, merged)
			subtotals[merged.Category] += merged.Weight
		}
	}
	total += in.TrustModifier

	sensitivity := in.Sensitivity
	if sensitivity == 0 {
		sensitivity = 5
	}
	if sensitivity < 1 {
		sensitivity = 1
	}
	if sensitivity > 10 {
		sensitivity = 10
	}
	multiplier := 0.8 + float64(sensitivity)*0.04

	score := int(math.Round(float64(total) * multiplier))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Result{
		Score:        score,
		Verdict:      thresholds.verdict(score),
		Threat:       e.inferThreat(resolved),
		Contributing: topContributing(resolved, 3),
		Subtotals:    subtotals,
		Degraded:     in.Degraded,
	}, nil
}

// inferThreat picks the threat tag of the highest-weighted aggravating
// signal. Mitigating signals never define the threat. Ties at the top
// weight resolve by fixed threat priority.
func (e *Engine) inferThreat(resolved signal.Set) signal.Threat {
	threat := signal.ThreatNone
	best := 0
	for _, s := range resolved {
		if s.Weight <= 0 {
			continue
		}
		candidate := e.catalog.Threat(s.Name)
		switch {
		case s.Weight > best:
			best, threat = s.Weight, candidate
		case s.Weight == best && threatPriority[candidate] > threatPriority[threat]:
			threat = candidate
		}
	}
	return threat
}

// topContributing returns the n strongest signals by absolute weight. Ties
// resolve by name so the breakdown is stable across runs.
func topContributing(resolved signal.Set, n int) signal.Set {
	out := make(signal.Set, len(resolved))
	copy(out, resolved)
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := abs(out[i].Weight), abs(out[j].Weight)
		if ai != aj {
			return ai > aj
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
