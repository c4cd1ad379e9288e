package scoring

import "fmt"

// Verdict is the five-level decision severity. Values are ordered so that
// severity comparisons read naturally (v >= VerdictLimit).
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictWatch
	VerdictLimit
	VerdictReview
	VerdictBlock
)

var verdictNames = map[Verdict]string{
	VerdictAllow:  "ALLOW",
	VerdictWatch:  "WATCH",
	VerdictLimit:  "LIMIT",
	VerdictReview: "REVIEW",
	VerdictBlock:  "BLOCK",
}

func (v Verdict) String() string {
	if name, ok := verdictNames[v]; ok {
		return name
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// IsViolation reports whether the verdict counts against the member's
// trust record. WATCH observes without penalizing.
func (v Verdict) IsViolation() bool {
	return v >= VerdictLimit
}

// ParseVerdict maps the wire representation back to a Verdict. The arbiter
// response parser relies on this being strict: anything but the five known
// names is an error, never a silent default.
func ParseVerdict(s string) (Verdict, error) {
	for v, name := range verdictNames {
		if name == s {
			return v, nil
		}
	}
	return VerdictAllow, fmt.Errorf("unknown verdict %q", s)
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

func (v *Verdict) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("verdict must be a JSON string, got %s", b)
	}
	parsed, err := ParseVerdict(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
