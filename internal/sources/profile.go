package sources

import (
	"context"
	"regexp"
	"strings"

	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/utils/text"
)

// SourceProfile names the sender-profile source.
const SourceProfile = "profile"

// idAgeLadder estimates account age in days from the sequential user id
// space. A heuristic, superseded whenever the transport learns a real join
// date, but good enough to tier brand-new accounts.
var idAgeLadder = []struct {
	maxID int64
	days  int
}{
	{100_000_000, 3650},
	{500_000_000, 2555},
	{1_000_000_000, 1825},
	{2_000_000_000, 1095},
	{3_500_000_000, 730},
	{5_000_000_000, 365},
	{6_000_000_000, 180},
	{6_500_000_000, 90},
	{7_000_000_000, 30},
	{7_500_000_000, 14},
}

// newestAccountDays is assumed for ids past the ladder's end: young enough
// to land in the under-a-week tier.
const newestAccountDays = 6

var randomUsernamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^user_?\d{5,}$`),
	regexp.MustCompile(`(?i)^[a-z]{2,8}\d{6,}$`),
	regexp.MustCompile(`(?i)^[a-z]{1,3}_\d{5,}$`),
	regexp.MustCompile(`(?i)^[a-f0-9]{10,}$`),
	regexp.MustCompile(`^[A-Z][a-z]+\d{5,}$`),
	regexp.MustCompile(`(?i)^\d{2,}[a-z]+\d{2,}$`),
	regexp.MustCompile(`(?i)^[a-z]{18,}$`),
}

var bioURLPattern = regexp.MustCompile(
	`(?i)https?://\S+|www\.\S+|t\.me/\S+|\w+\.(?:com|ru|org|net|io|me|cc|xyz|link|top)[/\s]?`)

// Crypto vocabulary shared by the bio check and the message-text check.
// Terms of three letters and under anchor on word boundaries; longer ones
// match as substrings. The Cyrillic terms go through the same fold the
// haystack does.
var (
	cryptoShortTerms = regexp.MustCompile(`\b(?:ada|bnb|btc|dao|eth|ltc|nft|roi|sol|xrp)\b`)
	cryptoLongTerms  = foldTerms([]string{
		"bitcoin", "ethereum", "usdt", "solana", "doge", "shib", "cardano",
		"avax", "matic",
		"crypto", "defi", "token", "airdrop", "staking", "hodl",
		"blockchain", "web3", "yield",
		"trading", "trader", "invest", "investor", "profit", "forex",
		"portfolio",
		"binance", "coinbase", "kraken", "metamask", "trustwallet",
		"wallet", "exchange",
		"крипто", "биткоин", "эфир", "трейдинг", "инвест",
	})
)

func hasCryptoTerms(folded string) bool {
	if cryptoShortTerms.MatchString(folded) {
		return true
	}
	return containsAny(folded, cryptoLongTerms)
}

// scamEmojiClusters are combinations common in scam display names. Two or
// more from the same cluster is the tell; a single emoji is normal.
var scamEmojiClusters = []map[rune]struct{}{
	{'💰': {}, '🚀': {}, '📈': {}, '💵': {}, '💸': {}, '🤑': {}, '💲': {}},
	{'🎁': {}, '🎉': {}, '🏆': {}, '🎊': {}, '🥇': {}, '🎯': {}, '✨': {}},
	{'⚠': {}, '🔴': {}, '❗': {}, '‼': {}, '❌': {}, '🚨': {}, '⛔': {}},
	{'✅': {}, '💯': {}, '🔒': {}, '✔': {}, '🛡': {}, '👍': {}, '🔐': {}},
	{'🔥': {}, '💥': {}, '⚡': {}, '💎': {}, '🌟': {}, '⭐': {}, '★': {}},
}

// Profile inspects the resolved sender. No I/O: the transport layer fetches
// bio and photo before the pipeline runs, so a decision never waits on the
// chat platform here.
type Profile struct {
	catalog *signal.Catalog
}

func NewProfile(catalog *signal.Catalog) *Profile {
	if catalog == nil {
		catalog = signal.NewCatalog()
	}
	return &Profile{catalog: catalog}
}

func (p *Profile) Collect(_ context.Context, req pipeline.Request) (signal.Set, error) {
	sender := &req.Message.Sender
	kind := req.Profile.Kind

	var out signal.Set
	emit := func(name string) { out = append(out, p.catalog.Make(kind, name)) }

	if sender.ID > 0 {
		if name := ageSignal(accountAgeDays(sender.ID)); name != "" {
			emit(name)
		}
	}

	if sender.Username != "" {
		emit(signal.HasUsername)
		if randomUsername(sender.Username) {
			emit(signal.UsernameRandomChars)
		}
	} else {
		emit(signal.NoUsername)
	}

	// Photo presence is only scored when the transport actually resolved
	// it; an unresolved photo must not read as a missing one.
	if sender.PhotoKnown {
		if sender.HasPhoto {
			emit(signal.HasProfilePhoto)
		} else {
			emit(signal.NoProfilePhoto)
		}
	}

	if bio := strings.TrimSpace(sender.Bio); bio != "" {
		emit(signal.HasBio)
		if bioURLPattern.MatchString(bio) {
			emit(signal.BioHasLinks)
		}
		if hasCryptoTerms(text.NormalizeForMatch(bio)) {
			emit(signal.BioHasCryptoTerms)
		}
	}

	if strings.TrimSpace(sender.FirstName) != "" {
		emit(signal.HasFirstName)
	}
	if strings.TrimSpace(sender.LastName) != "" {
		emit(signal.HasLastName)
	}
	if sender.IsPremium {
		emit(signal.IsPremium)
	}
	if sender.IsBot {
		emit(signal.IsBot)
	}

	fullName := strings.TrimSpace(sender.FirstName + " " + sender.LastName)
	if nameHasEmojiSpam(fullName) {
		emit(signal.NameHasEmojiSpam)
	}

	return out, nil
}

func accountAgeDays(userID int64) int {
	for _, rung := range idAgeLadder {
		if userID < rung.maxID {
			return rung.days
		}
	}
	return newestAccountDays
}

// ageSignal tiers the estimated age: the youngest accounts are risk, old
// accounts are trust, everything from a week to a month is neutral ground.
func ageSignal(days int) string {
	switch {
	case days < 1:
		return signal.AccountAgeUnder24Hours
	case days < 7:
		return signal.AccountAgeUnder7Days
	case days >= 3*365:
		return signal.AccountAge3Years
	case days >= 365:
		return signal.AccountAge1Year
	case days >= 180:
		return signal.AccountAge6Months
	case days >= 30:
		return signal.AccountAge1Month
	default:
		return ""
	}
}

func randomUsername(username string) bool {
	username = strings.TrimPrefix(username, "@")
	if username == "" {
		return false
	}
	for _, p := range randomUsernamePatterns {
		if p.MatchString(username) {
			return true
		}
	}
	// Alternating letter-digit noise: mostly digits, or at least six digits
	// mixed through twelve plus alphanumerics.
	digits := 0
	alnum := true
	for _, r := range username {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		default:
			alnum = false
		}
	}
	if len(username) >= 8 && float64(digits)/float64(len(username)) > 0.6 {
		return true
	}
	if alnum && len(username) >= 12 && digits >= 6 && digits < len(username) {
		return true
	}
	return false
}

// nameHasEmojiSpam flags three or more emojis, or two from the same scam
// cluster. Unrelated single emojis stay unflagged.
func nameHasEmojiSpam(name string) bool {
	if name == "" {
		return false
	}
	total := text.CountEmoji(name)
	if total >= 3 {
		return true
	}
	if total < 2 {
		return false
	}
	seen := make(map[rune]struct{})
	for _, r := range name {
		seen[r] = struct{}{}
	}
	for _, cluster := range scamEmojiClusters {
		matches := 0
		for r := range cluster {
			if _, ok := seen[r]; ok {
				matches++
			}
		}
		if matches >= 2 {
			return true
		}
	}
	return false
}
