package pipeline

// Level is the pipeline degradation level. Ordering matters: full > reduced
// > minimal. The active level decides which optional sources are skipped
// and whether gray-zone arbitration is permitted at all.
type Level int

const (
	// LevelMinimal runs content inspection only.
	LevelMinimal Level = iota
	// LevelReduced runs local sources, skipping network lookups.
	LevelReduced
	// LevelFull runs everything, arbitration included.
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelReduced:
		return "reduced"
	default:
		return "minimal"
	}
}

// BranchStatus is the per-source outcome recorded in the report.
type BranchStatus string

const (
	BranchOK              BranchStatus = "ok"
	BranchSkipped         BranchStatus = "skipped"
	BranchAssumedNegative BranchStatus = "assumed_negative"
	BranchAssumedPositive BranchStatus = "assumed_positive"
	BranchBreakerOpen     BranchStatus = "breaker_open"
	BranchExcluded        BranchStatus = "excluded"
)

// BranchReport is the auditable outcome of one source within one pass.
type BranchReport struct {
	Source  string       `json:"source"`
	Status  BranchStatus `json:"status"`
	Elapsed string       `json:"elapsed,omitempty"`
	Err     string       `json:"error,omitempty"`
}

// Report describes how a collection pass went: the level it ran at and what
// happened to each source. Administrators see this in the decision audit
// trail; end users never do.
type Report struct {
	Level    Level          `json:"level"`
	Branches []BranchReport `json:"branches"`
}

// Degraded reports whether any configured signal could have been missing
// from the pass. A degraded result is still a valid verdict, never an
// error.
func (r Report) Degraded() bool {
	if r.Level != LevelFull {
		return true
	}
	for _, b := range r.Branches {
		if b.Status != BranchOK {
			return true
		}
	}
	return false
}

// Failed lists sources that did not produce a real answer.
func (r Report) Failed() []string {
	var out []string
	for _, b := range r.Branches {
		if b.Status != BranchOK && b.Status != BranchExcluded {
			out = append(out, b.Source)
		}
	}
	return out
}
