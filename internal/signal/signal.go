// Package signal defines the named, weighted observations the pipeline
// collects about a message and its sender, together with the declarative
// weight catalog behind them.
package signal

import "time"

type (
	// Category partitions the weight tables and tells the orchestrator
	// which source family produced an observation.
	Category string

	// Threat is the catalog's sparse per-signal threat tag, used to infer
	// the threat category of a scored result.
	Threat string

	// GroupKind selects the weight overrides and verdict thresholds of a
	// group's moderation profile.
	GroupKind string

	// Signal is a single observation. Produced once, never mutated.
	// Name is the stable identity used for explainability and regression
	// testing; Weight is the merged catalog weight at production time.
	Signal struct {
		Name     string   `json:"name"`
		Category Category `json:"category"`
		Weight   int      `json:"weight"`
	}

	// Set is the aggregated output of one collection pass.
	Set []Signal
)

const (
	CategoryProfile  Category = "profile"
	CategoryContent  Category = "content"
	CategoryBehavior Category = "behavior"
	CategoryNetwork  Category = "network"
)

const (
	ThreatNone       Threat = "none"
	ThreatSpam       Threat = "spam"
	ThreatScam       Threat = "scam"
	ThreatCryptoScam Threat = "crypto_scam"
	ThreatPhishing   Threat = "phishing"
)

const (
	KindGeneral GroupKind = "general"
	KindTech    GroupKind = "tech"
	KindDeals   GroupKind = "deals"
	KindCrypto  GroupKind = "crypto"
)

// Kinds lists every known group kind, in threshold-table order.
func Kinds() []GroupKind {
	return []GroupKind{KindGeneral, KindTech, KindDeals, KindCrypto}
}

// ValidKind reports whether k names a known group kind. An unknown kind is
// a configuration bug and must fail hard, never fall back.
func ValidKind(k GroupKind) bool {
	switch k {
	case KindGeneral, KindTech, KindDeals, KindCrypto:
		return true
	}
	return false
}

// Has reports whether the set contains a signal with the given name.
func (s Set) Has(name string) bool {
	for i := range s {
		if s[i].Name == name {
			return true
		}
	}
	return false
}

// Names returns the signal names in production order.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for i := range s {
		out = append(out, s[i].Name)
	}
	return out
}

type (
	// Sender carries everything the profile source needs, resolved by the
	// transport layer up front so signal collection stays free of chat
	// platform calls.
	Sender struct {
		ID         int64
		Username   string
		FirstName  string
		LastName   string
		Bio        string
		IsBot      bool
		IsPremium  bool
		HasPhoto   bool
		PhotoKnown bool
	}

	// MessageContext is the immutable input of one decision pass.
	MessageContext struct {
		ChatID    int64
		MessageID int
		Sender    Sender
		Text      string

		IsForward          bool
		ForwardFromChannel bool
		IsReply            bool
		ReplyToAdmin       bool

		SentAt   time.Time
		JoinedAt *time.Time
	}
)

// Key identifies the (member, group) pair a trust record belongs to.
func (mc *MessageContext) Key() MemberKey {
	return MemberKey{ChatID: mc.ChatID, UserID: mc.Sender.ID}
}

// MemberKey addresses one member inside one group.
type MemberKey struct {
	ChatID int64
	UserID int64
}
