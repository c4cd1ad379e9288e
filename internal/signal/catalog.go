package signal

import "fmt"

// Entry is one catalog row: the base weight of a named signal, its category,
// and its threat tag. Threat defaults to ThreatNone.
type Entry struct {
	Category Category
	Weight   int
	Threat   Threat
}

// Catalog is the merged weight model: a base table plus sparse per-kind
// override tables. It is read-only during a decision pass; calibration
// overlays mutate it once at startup, before any decision runs.
type Catalog struct {
	entries   map[string]Entry
	overrides map[GroupKind]map[string]int
}

// baseEntries holds the calibrated production weights. The values are load
// bearing: they were tuned against live traffic and regression corpora, so
// any change here must go through the calibration overlay, not an edit.
var baseEntries = map[string]Entry{
	// Profile.
	AccountAgeUnder24Hours: {CategoryProfile, 25, ThreatNone},
	AccountAgeUnder7Days:   {CategoryProfile, 15, ThreatNone},
	AccountAge1Month:       {CategoryProfile, -2, ThreatNone},
	AccountAge6Months:      {CategoryProfile, -5, ThreatNone},
	AccountAge1Year:        {CategoryProfile, -10, ThreatNone},
	AccountAge3Years:       {CategoryProfile, -15, ThreatNone},
	HasUsername:            {CategoryProfile, -3, ThreatNone},
	HasProfilePhoto:        {CategoryProfile, -5, ThreatNone},
	HasBio:                 {CategoryProfile, -3, ThreatNone},
	HasFirstName:           {CategoryProfile, -2, ThreatNone},
	HasLastName:            {CategoryProfile, -2, ThreatNone},
	IsPremium:              {CategoryProfile, -10, ThreatNone},
	NoProfilePhoto:         {CategoryProfile, 8, ThreatNone},
	NoUsername:             {CategoryProfile, 5, ThreatNone},
	UsernameRandomChars:    {CategoryProfile, 12, ThreatNone},
	BioHasLinks:            {CategoryProfile, 8, ThreatNone},
	BioHasCryptoTerms:      {CategoryProfile, 10, ThreatCryptoScam},
	NameHasEmojiSpam:       {CategoryProfile, 15, ThreatNone},
	IsBot:                  {CategoryProfile, 5, ThreatNone},

	// Content.
	ExcessiveCaps50Percent: {CategoryContent, 8, ThreatNone},
	ExcessiveCaps80Percent: {CategoryContent, 15, ThreatNone},
	ExcessiveEmoji10Plus:   {CategoryContent, 10, ThreatNone},
	ExcessiveEmoji20Plus:   {CategoryContent, 18, ThreatNone},
	VeryShortMessage:       {CategoryContent, 3, ThreatNone},
	VeryLongMessage:        {CategoryContent, 5, ThreatNone},
	HasURLs:                {CategoryContent, 5, ThreatNone},
	MultipleURLs3Plus:      {CategoryContent, 12, ThreatSpam},
	HasShortenedURLs:       {CategoryContent, 15, ThreatPhishing},
	HasSuspiciousTLD:       {CategoryContent, 18, ThreatPhishing},
	HasWhitelistedDomains:  {CategoryContent, -8, ThreatNone},
	LinkInFirstMessage:     {CategoryContent, 10, ThreatSpam},
	MarketplaceMention:     {CategoryContent, 0, ThreatNone},
	CryptoVocabulary:       {CategoryContent, 8, ThreatCryptoScam},
	CryptoScamPhrase:       {CategoryContent, 35, ThreatCryptoScam},
	MoneyPattern:           {CategoryContent, 12, ThreatScam},
	UrgencyPattern:         {CategoryContent, 10, ThreatScam},
	PhoneNumber:            {CategoryContent, 8, ThreatNone},
	WalletAddress:          {CategoryContent, 20, ThreatScam},
	HomoglyphSubstitution:  {CategoryContent, 12, ThreatPhishing},
	IsForward:              {CategoryContent, 5, ThreatNone},
	IsForwardFromChannel:   {CategoryContent, 12, ThreatSpam},
	ClassifierFlagged:      {CategoryContent, 15, ThreatSpam},

	// Behavior.
	IsChannelSubscriber:            {CategoryBehavior, -25, ThreatNone},
	ChannelSub30Days:               {CategoryBehavior, -10, ThreatNone},
	ChannelSub7Days:                {CategoryBehavior, -5, ThreatNone},
	PreviousMessagesApproved10Plus: {CategoryBehavior, -15, ThreatNone},
	PreviousMessagesApproved5Plus:  {CategoryBehavior, -10, ThreatNone},
	PreviousMessagesApproved1Plus:  {CategoryBehavior, -5, ThreatNone},
	IsReply:                        {CategoryBehavior, -3, ThreatNone},
	IsReplyToAdmin:                 {CategoryBehavior, -5, ThreatNone},
	GroupMember7Days:               {CategoryBehavior, -5, ThreatNone},
	GroupMember30Days:              {CategoryBehavior, -10, ThreatNone},
	GroupMember90Days:              {CategoryBehavior, -15, ThreatNone},
	IsFirstMessage:                 {CategoryBehavior, 8, ThreatNone},
	TTFMUnder30Seconds:             {CategoryBehavior, 15, ThreatNone},
	TTFMUnder5Minutes:              {CategoryBehavior, 8, ThreatNone},
	MessagesInHour5Plus:            {CategoryBehavior, 12, ThreatSpam},
	MessagesInHour10Plus:           {CategoryBehavior, 20, ThreatSpam},
	JoinToMessageUnder10Seconds:    {CategoryBehavior, 18, ThreatNone},
	PreviousMessagesFlagged:        {CategoryBehavior, 15, ThreatNone},
	PreviousMessagesBlocked:        {CategoryBehavior, 25, ThreatNone},

	// Network.
	IsInGlobalWhitelist:    {CategoryNetwork, -30, ThreatNone},
	IsInGlobalBlocklist:    {CategoryNetwork, 50, ThreatSpam},
	GroupsInCommon5Plus:    {CategoryNetwork, -5, ThreatNone},
	SpamDBSimilarity95Plus: {CategoryNetwork, 50, ThreatSpam},
	SpamDBSimilarity88Plus: {CategoryNetwork, 45, ThreatSpam},
	SpamDBSimilarity80Plus: {CategoryNetwork, 35, ThreatSpam},
	SpamDBSimilarity70Plus: {CategoryNetwork, 25, ThreatSpam},
	DuplicateIn2Groups:     {CategoryNetwork, 20, ThreatSpam},
	DuplicateIn3Groups:     {CategoryNetwork, 35, ThreatSpam},
	DuplicateIn5PlusGroups: {CategoryNetwork, 50, ThreatSpam},
	FlaggedInOtherGroups:   {CategoryNetwork, 25, ThreatSpam},
	BlockedInOtherGroups:   {CategoryNetwork, 40, ThreatSpam},
}

// baseOverrides is the sparse per-kind table merged over baseEntries at
// lookup time. Unlisted signals keep their base weight.
//
// deals groups live off promotional traffic: link and money penalties are
// tamed, the first-message link rule is disabled outright, and marketplace
// vocabulary counts in the member's favor. crypto groups neutralize plain
// crypto vocabulary but punish scam phrasing harder. tech groups tolerate
// link sharing.
var baseOverrides = map[GroupKind]map[string]int{
	KindDeals: {
		HasURLs:              2,
		MultipleURLs3Plus:    5,
		HasShortenedURLs:     5,
		MoneyPattern:         3,
		UrgencyPattern:       3,
		IsForwardFromChannel: 5,
		LinkInFirstMessage:   0,
		MarketplaceMention:   -5,
	},
	KindCrypto: {
		BioHasCryptoTerms: 3,
		CryptoVocabulary:  0,
		WalletAddress:     5,
		CryptoScamPhrase:  45,
		MoneyPattern:      18,
	},
	KindTech: {
		HasURLs:           2,
		MultipleURLs3Plus: 5,
	},
}

// NewCatalog builds a catalog from the production tables. The returned
// value owns copies, so overlays never leak between instances.
func NewCatalog() *Catalog {
	entries := make(map[string]Entry, len(baseEntries))
	for name, e := range baseEntries {
		entries[name] = e
	}
	overrides := make(map[GroupKind]map[string]int, len(baseOverrides))
	for kind, table := range baseOverrides {
		dst := make(map[string]int, len(table))
		for name, w := range table {
			dst[name] = w
		}
		overrides[kind] = dst
	}
	return &Catalog{entries: entries, overrides: overrides}
}

// Entry returns the catalog row for name.
func (c *Catalog) Entry(name string) (Entry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

// Weight returns the merged weight of name under kind: the override cell
// when present, the base weight otherwise.
func (c *Catalog) Weight(kind GroupKind, name string) (int, bool) {
	e, ok := c.entries[name]
	if !ok {
		return 0, false
	}
	if table, ok := c.overrides[kind]; ok {
		if w, ok := table[name]; ok {
			return w, true
		}
	}
	return e.Weight, true
}

// Make produces a Signal with the merged weight for kind. Unknown names
// yield a zero-weight signal so a misbehaving source cannot skew a score.
func (c *Catalog) Make(kind GroupKind, name string) Signal {
	e, ok := c.entries[name]
	if !ok {
		return Signal{Name: name}
	}
	w := e.Weight
	if table, ok := c.overrides[kind]; ok {
		if ow, ok := table[name]; ok {
			w = ow
		}
	}
	return Signal{Name: name, Category: e.Category, Weight: w}
}

// Threat returns the threat tag of name, ThreatNone for unknown names.
func (c *Catalog) Threat(name string) Threat {
	if e, ok := c.entries[name]; ok && e.Threat != "" {
		return e.Threat
	}
	return ThreatNone
}

// Names returns every catalog signal name, unordered.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.entries))
	for name := range c.entries {
		out = append(out, name)
	}
	return out
}

// SetBaseWeight replaces the base weight of a known signal. Used by the
// calibration overlay only.
func (c *Catalog) SetBaseWeight(name string, weight int) error {
	e, ok := c.entries[name]
	if !ok {
		return fmt.Errorf("unknown signal %q", name)
	}
	e.Weight = weight
	c.entries[name] = e
	return nil
}

// SetOverride replaces or adds one override cell. Used by the calibration
// overlay only.
func (c *Catalog) SetOverride(kind GroupKind, name string, weight int) error {
	if !ValidKind(kind) {
		return fmt.Errorf("unknown group kind %q", kind)
	}
	if _, ok := c.entries[name]; !ok {
		return fmt.Errorf("unknown signal %q", name)
	}
	table, ok := c.overrides[kind]
	if !ok {
		table = make(map[string]int)
		c.overrides[kind] = table
	}
	table[name] = weight
	return nil
}
