package arbiter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/nauanbek/saqshy/internal/adapters"
	"github.com/nauanbek/saqshy/internal/adapters/llm"
	"github.com/nauanbek/saqshy/internal/observability"
	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
)

// Opinion is the arbiter's parsed answer. The wire contract admits only
// ALLOW and BLOCK; everything else is treated as no opinion.
type Opinion struct {
	Verdict    scoring.Verdict `json:"verdict"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
}

var (
	// ErrNoOpinion covers every recovered arbiter failure: the rule-based
	// verdict stands.
	ErrNoOpinion = errors.New("arbiter: no opinion")
)

const (
	defaultTimeout = 10 * time.Second
	maxRetries     = 2
	retryBackoff   = 250 * time.Millisecond
	maxPromptRunes = 2000

	systemPrompt = `You are the second-opinion moderator of a chat group. You receive one message that the rule engine could not classify confidently, together with the rule engine's observations. Judge whether the message is abusive content (spam, scam, phishing) or a legitimate message.

Respond with a single JSON object and nothing else:
{"verdict":"ALLOW"|"BLOCK","confidence":<number 0..1>,"reason":"<one short sentence>"}

Rules: prefer ALLOW when in doubt. Promotional tone alone is not abuse in marketplace groups. Links are not abuse by themselves. BLOCK only for content that tries to defraud, redirect or mass-solicit group members.`
)

// Params tune the consultation transport around the model call.
type Params struct {
	Timeout    time.Duration
	RatePerMin float64
	Burst      int
	Breaker    pipeline.BreakerParams
	Gate       GateParams
}

func DefaultParams() Params {
	return Params{
		Timeout:    defaultTimeout,
		RatePerMin: 50,
		Burst:      5,
		Breaker:    pipeline.BreakerParams{Threshold: 3, Window: time.Minute, Cooldown: time.Minute},
		Gate:       DefaultGateParams(),
	}
}

// Arbiter wraps one LLM adapter with the gray-zone transport policy:
// rate limit, circuit breaker, per-call timeout, bounded retries and the
// strict response parser.
type Arbiter struct {
	model   adapters.LLM
	limiter *rate.Limiter
	breaker *pipeline.Breaker
	params  Params
}

func New(model adapters.LLM, params Params) *Arbiter {
	if params.Timeout <= 0 {
		params.Timeout = defaultTimeout
	}
	if params.RatePerMin <= 0 {
		params.RatePerMin = DefaultParams().RatePerMin
	}
	if params.Burst <= 0 {
		params.Burst = DefaultParams().Burst
	}
	if params.Breaker.Threshold <= 0 {
		params.Breaker = DefaultParams().Breaker
	}
	return &Arbiter{
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(params.RatePerMin/60.0), params.Burst),
		breaker: pipeline.NewBreaker(params.Breaker),
		params:  params,
	}
}

// Gate exposes the gate parameters for the coordinator.
func (a *Arbiter) Gate() GateParams {
	return a.params.Gate
}

// Consult asks the model about one message. Any failure, rate limit, open
// breaker or malformed reply returns ErrNoOpinion wrapped with the cause;
// callers keep the rule-based verdict in that case.
func (a *Arbiter) Consult(ctx context.Context, text string, candidates signal.Set, profile *signal.GroupProfile) (*Opinion, error) {
	entry := a.getLogEntry().WithField("method", "Consult")

	if !a.limiter.Allow() {
		observability.RecordArbitration("rate_limited")
		return nil, errors.WithMessage(ErrNoOpinion, "rate limited")
	}
	if !a.breaker.Allow() {
		observability.RecordArbitration("breaker_open")
		return nil, errors.WithMessage(ErrNoOpinion, "breaker open")
	}

	messages := []llm.ChatCompletionMessage{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: buildPrompt(text, candidates, profile)},
	}

	var resp llm.ChatCompletionResponse
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * retryBackoff):
			case <-ctx.Done():
				a.breaker.Failure()
				observability.RecordArbitration("timeout")
				return nil, errors.WithMessage(ErrNoOpinion, ctx.Err().Error())
			}
		}
		cctx, cancel := context.WithTimeout(ctx, a.params.Timeout)
		resp, err = a.model.ChatCompletion(cctx, messages)
		cancel()
		if err == nil {
			break
		}
	}
	if err != nil {
		a.breaker.Failure()
		observability.RecordArbitration("error")
		entry.WithError(err).Error("failed to get arbiter completion")
		return nil, errors.WithMessage(ErrNoOpinion, err.Error())
	}
	a.breaker.Success()

	if len(resp.Choices) == 0 {
		observability.RecordArbitration("empty")
		return nil, errors.WithMessage(ErrNoOpinion, "empty completion")
	}
	opinion, perr := parseOpinion(resp.Choices[0].Message.Content)
	if perr != nil {
		observability.RecordArbitration("malformed")
		entry.WithError(perr).Warn("arbiter reply did not parse, ignoring it")
		return nil, errors.WithMessage(ErrNoOpinion, perr.Error())
	}
	observability.RecordArbitration("opinion")
	return opinion, nil
}

// buildPrompt renders the message and the rule engine's observations. The
// text is sanitized first so the quoted message cannot smuggle instructions
// or blow the token budget.
func buildPrompt(text string, candidates signal.Set, profile *signal.GroupProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Group kind: %s\n", profile.Kind)
	if profile.Language != "" {
		fmt.Fprintf(&b, "Group language: %s\n", profile.Language)
	}
	if len(candidates) > 0 {
		b.WriteString("Rule engine observations:\n")
		for _, s := range candidates {
			fmt.Fprintf(&b, "- %s (%+d)\n", s.Name, s.Weight)
		}
	}
	b.WriteString("Message:\n")
	b.WriteString(sanitize(text))
	return b.String()
}

// sanitize clamps length, drops control characters and neutralizes code
// fences inside the quoted message.
func sanitize(text string) string {
	runes := []rune(text)
	if len(runes) > maxPromptRunes {
		runes = runes[:maxPromptRunes]
	}
	var b strings.Builder
	b.Grow(len(runes))
	for _, r := range runes {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			// dropped
		case r == '`':
			b.WriteRune('\'')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// parseOpinion enforces the strict response contract. It tolerates code
// fences and leading chatter around the JSON object, nothing else.
func parseOpinion(raw string) (*Opinion, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var wire struct {
		Verdict    string  `json:"verdict"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		start := strings.IndexByte(cleaned, '{')
		end := strings.LastIndexByte(cleaned, '}')
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON object in reply: %w", err)
		}
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &wire); err != nil {
			return nil, fmt.Errorf("reply is not the expected object: %w", err)
		}
	}

	verdict, err := scoring.ParseVerdict(wire.Verdict)
	if err != nil {
		return nil, err
	}
	if verdict != scoring.VerdictAllow && verdict != scoring.VerdictBlock {
		return nil, fmt.Errorf("arbiter may only answer ALLOW or BLOCK, got %s", verdict)
	}
	if wire.Confidence < 0 || wire.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range", wire.Confidence)
	}
	return &Opinion{Verdict: verdict, Confidence: wire.Confidence, Reason: wire.Reason}, nil
}

func (a *Arbiter) getLogEntry() *log.Entry {
	return log.WithField("object", "Arbiter")
}
