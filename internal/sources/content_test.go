package sources

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/signal"
)

func collectRequest(msg signal.MessageContext, kind signal.GroupKind) pipeline.Request {
	profile := signal.DefaultGroupProfile(msg.ChatID)
	profile.Kind = kind
	return pipeline.Request{Message: msg, Profile: profile}
}

func textMessage(msgText string) signal.MessageContext {
	return signal.MessageContext{
		ChatID:    -100,
		MessageID: 1,
		Sender:    signal.Sender{ID: 42},
		Text:      msgText,
		SentAt:    time.Now(),
	}
}

func assertSignals(t *testing.T, got signal.Set, want, notWant []string) {
	t.Helper()
	for _, name := range want {
		if !got.Has(name) {
			t.Errorf("missing %s in %v", name, got.Names())
		}
	}
	for _, name := range notWant {
		if got.Has(name) {
			t.Errorf("unexpected %s in %v", name, got.Names())
		}
	}
}

func TestContentCollect(t *testing.T) {
	t.Parallel()
	src := NewContent(nil)
	for _, tc := range []struct {
		name    string
		msg     signal.MessageContext
		kind    signal.GroupKind
		want    []string
		notWant []string
	}{
		{
			name: "plain message stays quiet",
			msg:  textMessage("thanks, that fixed my problem"),
			kind: signal.KindGeneral,
			notWant: []string{
				signal.CryptoScamPhrase, signal.HasURLs, signal.MoneyPattern,
				signal.UrgencyPattern, signal.VeryShortMessage,
			},
		},
		{
			name: "english scam phrase",
			msg:  textMessage("Guaranteed profit every single day, trust me"),
			kind: signal.KindGeneral,
			want: []string{signal.CryptoScamPhrase},
		},
		{
			name: "russian scam phrase survives homoglyph folding",
			msg:  textMessage("Гарантированный доход без рисков для всех"),
			kind: signal.KindGeneral,
			want: []string{signal.CryptoScamPhrase},
		},
		{
			name: "disguised scam phrase folds back",
			msg:  textMessage("frее сrурtо for the first hundred members"),
			kind: signal.KindGeneral,
			want: []string{signal.CryptoScamPhrase, signal.HomoglyphSubstitution},
		},
		{
			name: "phrase needs a boundary",
			msg:  textMessage("the airdropped supplies reached the village"),
			kind: signal.KindGeneral,
			notWant: []string{
				signal.CryptoScamPhrase,
			},
		},
		{
			name: "single url",
			msg:  textMessage("source is here: https://example-blog.dev/post/12"),
			kind: signal.KindGeneral,
			want: []string{signal.HasURLs},
			notWant: []string{
				signal.MultipleURLs3Plus, signal.HasShortenedURLs,
				signal.HasSuspiciousTLD, signal.HasWhitelistedDomains,
			},
		},
		{
			name: "three urls",
			msg:  textMessage("https://a-site.dev https://b-site.dev https://c-site.dev"),
			kind: signal.KindGeneral,
			want: []string{signal.HasURLs, signal.MultipleURLs3Plus},
		},
		{
			name:    "shortener in a general group",
			msg:     textMessage("look what i found bit.ly/3xyzABC today"),
			kind:    signal.KindGeneral,
			want:    []string{signal.HasURLs, signal.HasShortenedURLs},
			notWant: []string{signal.HasSuspiciousTLD},
		},
		{
			name:    "affiliate shortener allowed in deals",
			msg:     textMessage("look what i found bit.ly/3xyzABC today"),
			kind:    signal.KindDeals,
			want:    []string{signal.HasURLs},
			notWant: []string{signal.HasShortenedURLs},
		},
		{
			name:    "non affiliate shortener still flagged in deals",
			msg:     textMessage("grab it via tinyurl.com/abcd before it is gone"),
			kind:    signal.KindDeals,
			want:    []string{signal.HasURLs, signal.HasShortenedURLs},
			notWant: []string{},
		},
		{
			name: "suspicious tld",
			msg:  textMessage("register on win-prizes.xyz right away"),
			kind: signal.KindGeneral,
			want: []string{signal.HasURLs, signal.HasSuspiciousTLD},
		},
		{
			name:    "whitelisted domain",
			msg:     textMessage("patch is on github.com/foo/bar already"),
			kind:    signal.KindGeneral,
			want:    []string{signal.HasURLs, signal.HasWhitelistedDomains},
			notWant: []string{signal.HasSuspiciousTLD},
		},
		{
			name: "marketplace whitelist only in deals",
			msg:  textMessage("cheaper on ozon.ru/product/123 right now"),
			kind: signal.KindDeals,
			want: []string{signal.HasURLs, signal.HasWhitelistedDomains},
		},
		{
			name:    "caps above eighty",
			msg:     textMessage("STOP SCROLLING READ THIS RIGHT NOW"),
			kind:    signal.KindGeneral,
			want:    []string{signal.ExcessiveCaps80Percent},
			notWant: []string{signal.ExcessiveCaps50Percent},
		},
		{
			name:    "caps above fifty",
			msg:     textMessage("BIG NEWS TODAY friends, really BIG"),
			kind:    signal.KindGeneral,
			want:    []string{signal.ExcessiveCaps50Percent},
			notWant: []string{signal.ExcessiveCaps80Percent},
		},
		{
			name:    "short shouting is not a caps signal",
			msg:     textMessage("WAT"),
			kind:    signal.KindGeneral,
			notWant: []string{signal.ExcessiveCaps80Percent, signal.ExcessiveCaps50Percent},
		},
		{
			name:    "ten emojis",
			msg:     textMessage("nice 🔥🔥🔥🔥🔥🔥🔥🔥🔥🔥"),
			kind:    signal.KindGeneral,
			want:    []string{signal.ExcessiveEmoji10Plus},
			notWant: []string{signal.ExcessiveEmoji20Plus},
		},
		{
			name: "twenty emojis",
			msg:  textMessage("wow " + strings.Repeat("🎉", 20)),
			kind: signal.KindGeneral,
			want: []string{signal.ExcessiveEmoji20Plus},
		},
		{
			name:    "very short message",
			msg:     textMessage("ok sure"),
			kind:    signal.KindGeneral,
			want:    []string{signal.VeryShortMessage},
			notWant: []string{signal.VeryLongMessage},
		},
		{
			name: "very long message",
			msg:  textMessage(strings.Repeat("word ", 250)),
			kind: signal.KindGeneral,
			want: []string{signal.VeryLongMessage},
		},
		{
			name: "money pattern",
			msg:  textMessage("you can earn money from home, $500 weekly"),
			kind: signal.KindGeneral,
			want: []string{signal.MoneyPattern},
		},
		{
			name: "russian money pattern",
			msg:  textMessage("заработай деньги не выходя из дома"),
			kind: signal.KindGeneral,
			want: []string{signal.MoneyPattern},
		},
		{
			name:    "urgency pattern",
			msg:     textMessage("offer expires today, register and win"),
			kind:    signal.KindGeneral,
			want:    []string{signal.UrgencyPattern},
			notWant: []string{signal.CryptoScamPhrase},
		},
		{
			name: "phone number",
			msg:  textMessage("call me +7 (905) 123-45-67 anytime"),
			kind: signal.KindGeneral,
			want: []string{signal.PhoneNumber},
		},
		{
			name:    "sparse digits are not a phone number",
			msg:     textMessage("meeting at 12:30 in room 4 as usual"),
			kind:    signal.KindGeneral,
			notWant: []string{signal.PhoneNumber},
		},
		{
			name: "ethereum wallet",
			msg:  textMessage("send it to 0x52908400098527886E0F7030069857D2E4169EE7 please"),
			kind: signal.KindGeneral,
			want: []string{signal.WalletAddress},
		},
		{
			name:    "lowercase hex of same width is not a tron wallet",
			msg:     textMessage("commit f3a9b2c1d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9 broke the build"),
			kind:    signal.KindGeneral,
			notWant: []string{signal.WalletAddress},
		},
		{
			name: "crypto vocabulary",
			msg:  textMessage("какая биржа лучше для трейдинга?"),
			kind: signal.KindGeneral,
			want: []string{signal.CryptoVocabulary},
		},
		{
			name:    "crypto vocabulary neutral but still emitted in crypto groups",
			msg:     textMessage("is btc worth holding this year?"),
			kind:    signal.KindCrypto,
			want:    []string{signal.CryptoVocabulary},
			notWant: []string{signal.CryptoScamPhrase},
		},
		{
			name: "marketplace mention",
			msg:  textMessage("скидка по промокоду на wildberries сегодня"),
			kind: signal.KindDeals,
			want: []string{signal.MarketplaceMention},
		},
		{
			name: "forwarded from channel with media only",
			msg: signal.MessageContext{
				ChatID: -100, Sender: signal.Sender{ID: 42},
				ForwardFromChannel: true, IsForward: true, SentAt: time.Now(),
			},
			kind:    signal.KindGeneral,
			want:    []string{signal.IsForwardFromChannel},
			notWant: []string{signal.IsForward, signal.VeryShortMessage},
		},
		{
			name: "plain forward",
			msg: func() signal.MessageContext {
				m := textMessage("interesting read about compilers")
				m.IsForward = true
				return m
			}(),
			kind:    signal.KindGeneral,
			want:    []string{signal.IsForward},
			notWant: []string{signal.IsForwardFromChannel},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := src.Collect(context.Background(), collectRequest(tc.msg, tc.kind))
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			assertSignals(t, got, tc.want, tc.notWant)
		})
	}
}

func TestContentWeightsFollowGroupKind(t *testing.T) {
	t.Parallel()
	src := NewContent(nil)
	msg := textMessage("full guide at example-blog.dev/setup for everyone")

	general, err := src.Collect(context.Background(), collectRequest(msg, signal.KindGeneral))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	deals, err := src.Collect(context.Background(), collectRequest(msg, signal.KindDeals))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	weightOf := func(s signal.Set, name string) int {
		for _, sig := range s {
			if sig.Name == name {
				return sig.Weight
			}
		}
		t.Fatalf("signal %s not found in %v", name, s.Names())
		return 0
	}
	if g, d := weightOf(general, signal.HasURLs), weightOf(deals, signal.HasURLs); g <= d {
		t.Errorf("general url weight %d should exceed deals weight %d", g, d)
	}
}
