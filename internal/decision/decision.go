// Package decision ties the pipeline together: one bounded-latency call
// that collects signals, scores them, maybe consults the arbiter, applies
// the trust transition and emits a fully explained verdict.
package decision

import (
	"time"

	"github.com/nauanbek/saqshy/internal/event"
	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/trust"
)

// Decision is the final, auditable outcome for one message.
type Decision struct {
	ID              string          `json:"id" db:"id"`
	ChatID          int64           `json:"chat_id" db:"chat_id"`
	UserID          int64           `json:"user_id" db:"user_id"`
	MessageID       int             `json:"message_id" db:"message_id"`
	Verdict         scoring.Verdict `json:"verdict"`
	Score           int             `json:"score" db:"score"`
	Threat          signal.Threat   `json:"threat_category"`
	Contributing    signal.Set      `json:"contributing"`
	TrustStateAfter trust.State     `json:"trust_state_after"`
	Degraded        bool            `json:"degraded" db:"degraded"`
	Report          pipeline.Report `json:"report"`
	FailOpenReason  string          `json:"fail_open_reason,omitempty"`

	ArbiterConsulted bool   `json:"arbiter_consulted,omitempty"`
	ArbiterReason    string `json:"arbiter_reason,omitempty"`
	ArbiterOpinion   string `json:"arbiter_opinion,omitempty"`
	ArbiterError     string `json:"arbiter_error,omitempty"`

	Elapsed   time.Duration `json:"elapsed"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// EventTypeDecision is published on the event bus for every finalized
// decision. Subscribers handle review-queue notifications and sample
// recording without sitting on the hot path.
const EventTypeDecision = "decision"

// Event wraps a Decision for the bus.
type Event struct {
	*event.Base
	Decision *Decision
}

func NewEvent(d *Decision) *Event {
	return &Event{
		Base:     event.CreateBase(EventTypeDecision, time.Now().Add(time.Minute)),
		Decision: d,
	}
}
