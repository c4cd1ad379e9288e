package signal

// Canonical signal names. These are wire- and storage-stable: renaming one
// breaks regression baselines and stored explainability payloads.

// Profile signals.
const (
	AccountAgeUnder24Hours = "account_age_under_24_hours"
	AccountAgeUnder7Days   = "account_age_under_7_days"
	AccountAge1Month       = "account_age_1_month"
	AccountAge6Months      = "account_age_6_months"
	AccountAge1Year        = "account_age_1_year"
	AccountAge3Years       = "account_age_3_years"
	HasUsername            = "has_username"
	HasProfilePhoto        = "has_profile_photo"
	HasBio                 = "has_bio"
	HasFirstName           = "has_first_name"
	HasLastName            = "has_last_name"
	IsPremium              = "is_premium"
	NoProfilePhoto         = "no_profile_photo"
	NoUsername             = "no_username"
	UsernameRandomChars    = "username_random_chars"
	BioHasLinks            = "bio_has_links"
	BioHasCryptoTerms      = "bio_has_crypto_terms"
	NameHasEmojiSpam       = "name_has_emoji_spam"
	IsBot                  = "is_bot"
)

// Content signals.
const (
	ExcessiveCaps50Percent = "excessive_caps_50_percent"
	ExcessiveCaps80Percent = "excessive_caps_80_percent"
	ExcessiveEmoji10Plus   = "excessive_emoji_10_plus"
	ExcessiveEmoji20Plus   = "excessive_emoji_20_plus"
	VeryShortMessage       = "very_short_message"
	VeryLongMessage        = "very_long_message"
	HasURLs                = "has_urls"
	MultipleURLs3Plus      = "multiple_urls_3_plus"
	HasShortenedURLs       = "has_shortened_urls"
	HasSuspiciousTLD       = "has_suspicious_tld"
	HasWhitelistedDomains  = "has_whitelisted_domains"
	LinkInFirstMessage     = "link_in_first_message"
	MarketplaceMention     = "marketplace_mention"
	CryptoVocabulary       = "crypto_vocabulary"
	CryptoScamPhrase       = "crypto_scam_phrase"
	MoneyPattern           = "money_pattern"
	UrgencyPattern         = "urgency_pattern"
	PhoneNumber            = "phone_number"
	WalletAddress          = "wallet_address"
	HomoglyphSubstitution  = "homoglyph_substitution"
	IsForward              = "is_forward"
	IsForwardFromChannel   = "is_forward_from_channel"
	ClassifierFlagged      = "classifier_flagged"
)

// Behavior signals.
const (
	IsChannelSubscriber            = "is_channel_subscriber"
	ChannelSub30Days               = "channel_sub_30_days"
	ChannelSub7Days                = "channel_sub_7_days"
	PreviousMessagesApproved10Plus = "previous_messages_approved_10_plus"
	PreviousMessagesApproved5Plus  = "previous_messages_approved_5_plus"
	PreviousMessagesApproved1Plus  = "previous_messages_approved_1_plus"
	IsReply                        = "is_reply"
	IsReplyToAdmin                 = "is_reply_to_admin"
	GroupMember7Days               = "group_member_7_days"
	GroupMember30Days              = "group_member_30_days"
	GroupMember90Days              = "group_member_90_days"
	IsFirstMessage                 = "is_first_message"
	TTFMUnder30Seconds             = "ttfm_under_30_seconds"
	TTFMUnder5Minutes              = "ttfm_under_5_minutes"
	MessagesInHour5Plus            = "messages_in_hour_5_plus"
	MessagesInHour10Plus           = "messages_in_hour_10_plus"
	JoinToMessageUnder10Seconds    = "join_to_message_under_10_seconds"
	PreviousMessagesFlagged        = "previous_messages_flagged"
	PreviousMessagesBlocked        = "previous_messages_blocked"
)

// Network signals.
const (
	IsInGlobalWhitelist    = "is_in_global_whitelist"
	IsInGlobalBlocklist    = "is_in_global_blocklist"
	GroupsInCommon5Plus    = "groups_in_common_5_plus"
	SpamDBSimilarity95Plus = "spam_db_similarity_95_plus"
	SpamDBSimilarity88Plus = "spam_db_similarity_88_plus"
	SpamDBSimilarity80Plus = "spam_db_similarity_80_plus"
	SpamDBSimilarity70Plus = "spam_db_similarity_70_plus"
	DuplicateIn2Groups     = "duplicate_in_2_groups"
	DuplicateIn3Groups     = "duplicate_in_3_groups"
	DuplicateIn5PlusGroups = "duplicate_in_5_plus_groups"
	FlaggedInOtherGroups   = "flagged_in_other_groups"
	BlockedInOtherGroups   = "blocked_in_other_groups"
)
