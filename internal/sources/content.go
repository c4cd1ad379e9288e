// Package sources ships the built-in signal sources the orchestrator fans
// out to. Profile and content are pure in-memory analysis; behavior,
// similarity and reputation lean on the cache, the sample store and the
// banlist feeds, and surface partial signal sets when those are unhealthy.
package sources

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/utils/text"
)

// SourceContent names the required text-analysis source.
const SourceContent = "content"

// urlStop is the character class ending a URL token.
const urlStop = `\s<>\[\]()"'{}|\\^` + "`"

var (
	urlPattern = regexp.MustCompile(
		`(?i)https?://[^` + urlStop + `]+` +
			`|www\.[^` + urlStop + `]+` +
			`|[a-z0-9][-a-z0-9]*\.[a-z]{2,}(?:/[^` + urlStop + `]*)?`)

	moneyPattern = regexp.MustCompile(
		`(?i)\$\s?\d+(?:[.,]\d+)?(?:\s?(?:k|m|usd|usdt))?\b` +
			`|\d+\s?(?:dollars?|usd|usdt)\b` +
			`|(?:earn|make|get|win|receive)\s+(?:easy\s+)?money` +
			`|(?:зарабо|получ|выигр)\p{L}*\s+(?:деньги|денег)` +
			`|\d+\s?(?:руб|рублей|rub)\b` +
			`|₽\s?\d+` +
			`|€\s?\d+|\d+\s?€` +
			`|£\s?\d+|\d+\s?£` +
			`|\d+(?:,\d{3})*(?:\.\d{2})?\s*(?:usd|eur|rub|usdt|btc|eth)\b`)

	urgencyPattern = regexp.MustCompile(
		`(?i)\b(?:limited\s+(?:time|spots?|offer)` +
			`|act\s+now` +
			`|hurry\s+up` +
			`|don'?t\s+miss` +
			`|last\s+chance` +
			`|only\s+\d+\s+(?:left|remaining|spots?)` +
			`|expires?\s+(?:soon|today|tomorrow)` +
			`|urgent` +
			`|fast\s+(?:money|cash|profit))\b` +
			`|(?:ограничен|успей|торопи|срочно|быстр)` +
			`|не\s+упусти` +
			`|последний\s+шанс`)

	phonePattern = regexp.MustCompile(
		`\+?\d{1,4}[-.\s]?\(?\d{1,4}\)?[-.\s]?\d{1,4}[-.\s]?\d{1,9}` +
			`|\+7\s?\(?\d{3}\)?\s?\d{3}[-\s]?\d{2}[-\s]?\d{2}` +
			`|\+1\s?\(?\d{3}\)?\s?\d{3}[-\s]?\d{4}` +
			`|\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`)

	// Wallet formats are case sensitive on purpose: base58 and bech32
	// alphabets exclude specific letter cases.
	walletPattern = regexp.MustCompile(
		`\b[13][a-km-zA-HJ-NP-Z1-9]{25,34}\b` +
			`|\bbc1[a-zA-HJ-NP-Z0-9]{25,90}\b` +
			`|\b0x[a-fA-F0-9]{40}\b` +
			`|\bT[A-Za-z1-9]{33}\b` +
			`|\b[LM3][a-km-zA-HJ-NP-Z1-9]{26,33}\b` +
			`|\bbnb1[a-z0-9]{38}\b` +
			`|\b[45][0-9AB][1-9A-HJ-NP-Za-km-z]{93}\b`)

	nonDigits = regexp.MustCompile(`\D`)
)

// scamPhrases strongly indicate scam activity. Matched over the normalized
// (lowercased, homoglyph-folded) text with explicit boundary classes, so
// both Latin and Cyrillic phrases anchor on punctuation and whitespace.
var scamPhrases = []string{
	"guaranteed profit", "100% profit", "double your", "triple your",
	"10x return", "100x return", "instant profit", "passive income crypto",
	"free mining", "cloud mining invest", "mining pool invest",
	"dm me for", "message me for", "contact admin", "write to manager",
	"recover lost crypto", "recover stolen", "crypto recovery",
	"airdrop", "free airdrop", "airdrop claim", "claim airdrop",
	"get airdrop", "free tokens", "free tokens claim", "claim your reward",
	"claim reward", "free crypto", "free nft",
	"join channel", "join our channel", "join now", "join t.me",
	"join telegram",
	"limited time", "hurry up", "act now", "don't miss",
	"гарантированный доход", "пассивный доход", "удвоить депозит",
	"написать в лс", "вступай в канал", "бесплатный аирдроп",
	"бесплатные токены",
}

// marketplaceTerms are ordinary promo vocabulary in deals groups, where the
// catalog rewards them instead of the usual link penalties.
var marketplaceTerms = foldTerms([]string{
	"скидка", "промокод", "кэшбэк", "распродажа", "купон",
	"discount", "promo code", "coupon", "cashback", "flash sale",
	"deal of the day", "wildberries", "ozon", "aliexpress",
})

// knownShorteners is the superset of shortener domains; deals groups allow
// the affiliate subset below.
var knownShorteners = map[string]struct{}{
	"bit.ly": {}, "goo.gl": {}, "tinyurl.com": {}, "t.co": {}, "ow.ly": {},
	"is.gd": {}, "buff.ly": {}, "j.mp": {}, "tr.im": {}, "su.pr": {},
	"cli.gs": {}, "short.to": {}, "cutt.ly": {}, "rb.gy": {},
	"shorturl.at": {}, "rebrand.ly": {}, "adf.ly": {},
	"clck.ru": {}, "fas.st": {}, "got.by": {}, "ali.ski": {},
	"s.click.aliexpress.com": {}, "trk.mail.ru": {}, "amzn.to": {},
}

var allowedDealShorteners = map[string]struct{}{
	"clck.ru": {}, "fas.st": {}, "bit.ly": {}, "t.co": {}, "amzn.to": {},
}

var suspiciousTLDs = map[string]struct{}{
	".xyz": {}, ".top": {}, ".work": {}, ".click": {}, ".link": {},
	".tk": {}, ".ml": {}, ".ga": {}, ".cf": {}, ".gq": {}, ".pw": {},
	".cc": {}, ".ws": {},
}

var whitelistGeneral = []string{
	"youtube.com", "youtu.be", "twitter.com", "x.com", "instagram.com",
	"facebook.com", "linkedin.com", "reddit.com", "telegram.org", "t.me",
	"bbc.com", "cnn.com", "reuters.com",
	"github.com", "gitlab.com", "stackoverflow.com", "medium.com", "dev.to",
}

var whitelistTech = append([]string{
	"docs.python.org", "developer.mozilla.org", "kubernetes.io", "docker.com",
	"pypi.org", "npmjs.com", "crates.io",
	"aws.amazon.com", "cloud.google.com", "azure.microsoft.com",
}, whitelistGeneral...)

var whitelistDeals = append([]string{
	"amazon.com", "amazon.co.uk", "ebay.com", "walmart.com", "target.com",
	"bestbuy.com", "newegg.com", "aliexpress.com", "ozon.ru", "wildberries.ru",
}, whitelistGeneral...)

// Content analyzes the message text itself. It is stateless and performs no
// I/O, which is why it can be the pipeline's required source.
type Content struct {
	catalog     *signal.Catalog
	scamPattern *regexp.Regexp
}

func NewContent(catalog *signal.Catalog) *Content {
	if catalog == nil {
		catalog = signal.NewCatalog()
	}
	return &Content{
		catalog:     catalog,
		scamPattern: compilePhrasePattern(scamPhrases),
	}
}

// compilePhrasePattern anchors every phrase between punctuation-or-edge
// boundaries. \b is useless for Cyrillic, hence the explicit classes. The
// phrases are folded the same way the message is, so Cyrillic phrases keep
// matching after homoglyph folding.
func compilePhrasePattern(phrases []string) *regexp.Regexp {
	quoted := make([]string, 0, len(phrases))
	for _, p := range phrases {
		quoted = append(quoted, regexp.QuoteMeta(text.NormalizeForMatch(p)))
	}
	const boundary = `[\s.,!?:;\-"'()\[\]]`
	return regexp.MustCompile(`(?:^|` + boundary + `)(?:` + strings.Join(quoted, "|") + `)(?:` + boundary + `|$)`)
}

// foldTerms pre-normalizes needles destined for a folded haystack.
func foldTerms(terms []string) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = text.NormalizeForMatch(t)
	}
	return out
}

func (c *Content) Collect(_ context.Context, req pipeline.Request) (signal.Set, error) {
	msg := &req.Message
	kind := req.Profile.Kind

	var out signal.Set
	emit := func(name string) { out = append(out, c.catalog.Make(kind, name)) }

	// Forward metadata carries signal even for media-only messages.
	if msg.ForwardFromChannel {
		emit(signal.IsForwardFromChannel)
	} else if msg.IsForward {
		emit(signal.IsForward)
	}

	raw := msg.Text
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	folded := text.NormalizeForMatch(raw)

	if c.scamPattern.MatchString(folded) {
		emit(signal.CryptoScamPhrase)
	}
	if walletPattern.MatchString(raw) {
		emit(signal.WalletAddress)
	}

	urls := extractURLs(raw)
	if len(urls) > 0 {
		emit(signal.HasURLs)
		if len(urls) >= 3 {
			emit(signal.MultipleURLs3Plus)
		}
		domains := extractDomains(urls)
		if hasShortener(domains, kind) {
			emit(signal.HasShortenedURLs)
		}
		if hasSuspiciousTLD(domains) {
			emit(signal.HasSuspiciousTLD)
		}
		if hasWhitelisted(domains, kind) {
			emit(signal.HasWhitelistedDomains)
		}
	}

	letters := countLetters(raw)
	ratio := text.CapsRatio(raw)
	switch {
	case letters >= 10 && ratio > 0.8:
		emit(signal.ExcessiveCaps80Percent)
	case letters >= 10 && ratio > 0.5:
		emit(signal.ExcessiveCaps50Percent)
	}

	switch emoji := text.CountEmoji(raw); {
	case emoji >= 20:
		emit(signal.ExcessiveEmoji20Plus)
	case emoji >= 10:
		emit(signal.ExcessiveEmoji10Plus)
	}

	switch length := utf8.RuneCountInString(raw); {
	case length < 10:
		emit(signal.VeryShortMessage)
	case length > 1000:
		emit(signal.VeryLongMessage)
	}

	if moneyPattern.MatchString(raw) {
		emit(signal.MoneyPattern)
	}
	if urgencyPattern.MatchString(raw) {
		emit(signal.UrgencyPattern)
	}
	if hasPhoneNumber(raw) {
		emit(signal.PhoneNumber)
	}
	if text.HasHomoglyphMix(raw) {
		emit(signal.HomoglyphSubstitution)
	}
	if hasCryptoTerms(folded) {
		emit(signal.CryptoVocabulary)
	}
	if containsAny(folded, marketplaceTerms) {
		emit(signal.MarketplaceMention)
	}

	return out, nil
}

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || (r >= 0x0400 && r <= 0x04FF) {
			n++
		}
	}
	return n
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func extractURLs(s string) []string {
	matches := urlPattern.FindAllString(s, -1)
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:!?)'\"")
		if m != "" {
			urls = append(urls, m)
		}
	}
	return urls
}

// extractDomains lowercases hosts and strips the www prefix and port.
func extractDomains(urls []string) map[string]struct{} {
	domains := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			u = "https://" + u
		}
		parsed, err := url.Parse(u)
		if err != nil {
			continue
		}
		host := strings.ToLower(parsed.Hostname())
		host = strings.TrimPrefix(host, "www.")
		if host != "" {
			domains[host] = struct{}{}
		}
	}
	return domains
}

func hasShortener(domains map[string]struct{}, kind signal.GroupKind) bool {
	for d := range domains {
		if _, ok := knownShorteners[d]; !ok {
			continue
		}
		if kind == signal.KindDeals {
			if _, allowed := allowedDealShorteners[d]; allowed {
				continue
			}
		}
		return true
	}
	return false
}

func hasSuspiciousTLD(domains map[string]struct{}) bool {
	for d := range domains {
		if i := strings.LastIndex(d, "."); i >= 0 {
			if _, ok := suspiciousTLDs[d[i:]]; ok {
				return true
			}
		}
	}
	return false
}

func hasWhitelisted(domains map[string]struct{}, kind signal.GroupKind) bool {
	var whitelist []string
	switch kind {
	case signal.KindDeals:
		whitelist = whitelistDeals
	case signal.KindTech:
		whitelist = whitelistTech
	default:
		whitelist = whitelistGeneral
	}
	for d := range domains {
		for _, w := range whitelist {
			if d == w || strings.HasSuffix(d, "."+w) {
				return true
			}
		}
	}
	return false
}

// hasPhoneNumber requires a plausible digit count so dates and prices do
// not register as phone numbers.
func hasPhoneNumber(s string) bool {
	for _, m := range phonePattern.FindAllString(s, -1) {
		digits := nonDigits.ReplaceAllString(m, "")
		if len(digits) >= 7 && len(digits) <= 15 {
			return true
		}
	}
	return false
}
