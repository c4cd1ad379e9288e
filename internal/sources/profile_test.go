package sources

import (
	"context"
	"testing"
	"time"

	"github.com/nauanbek/saqshy/internal/signal"
)

func profileMessage(sender signal.Sender) signal.MessageContext {
	return signal.MessageContext{
		ChatID: -100,
		Sender: sender,
		Text:   "hello everyone, glad to be here",
		SentAt: time.Now(),
	}
}

func TestAccountAgeLadder(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name   string
		userID int64
		want   string
	}{
		{"early adopter", 50_000_000, signal.AccountAge3Years},
		{"three year boundary", 1_500_000_000, signal.AccountAge3Years},
		{"two year id", 3_000_000_000, signal.AccountAge1Year},
		{"one year boundary", 4_000_000_000, signal.AccountAge1Year},
		{"six month id", 5_500_000_000, signal.AccountAge6Months},
		{"three month id", 6_200_000_000, signal.AccountAge1Month},
		{"one month id", 6_800_000_000, signal.AccountAge1Month},
		{"two week id has no tier", 7_200_000_000, ""},
		{"past the ladder", 8_000_000_000, signal.AccountAgeUnder7Days},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := ageSignal(accountAgeDays(tc.userID)); got != tc.want {
				t.Errorf("ageSignal(accountAgeDays(%d)) = %q, want %q", tc.userID, got, tc.want)
			}
		})
	}
}

func TestProfileCollect(t *testing.T) {
	t.Parallel()
	src := NewProfile(nil)
	for _, tc := range []struct {
		name    string
		sender  signal.Sender
		want    []string
		notWant []string
	}{
		{
			name: "complete trusted profile",
			sender: signal.Sender{
				ID: 200_000_000, Username: "regular_person",
				FirstName: "Dana", LastName: "Lee",
				Bio: "I like long walks and compilers", IsPremium: true,
				HasPhoto: true, PhotoKnown: true,
			},
			want: []string{
				signal.AccountAge3Years, signal.HasUsername, signal.HasProfilePhoto,
				signal.HasBio, signal.HasFirstName, signal.HasLastName, signal.IsPremium,
			},
			notWant: []string{
				signal.UsernameRandomChars, signal.NoProfilePhoto, signal.NoUsername,
				signal.BioHasLinks, signal.BioHasCryptoTerms, signal.IsBot,
			},
		},
		{
			name:   "bare newcomer",
			sender: signal.Sender{ID: 7_900_000_000, FirstName: "X", PhotoKnown: true},
			want: []string{
				signal.AccountAgeUnder7Days, signal.NoUsername,
				signal.NoProfilePhoto, signal.HasFirstName,
			},
			notWant: []string{signal.HasUsername, signal.HasLastName, signal.HasBio},
		},
		{
			name:    "unresolved photo is not a missing photo",
			sender:  signal.Sender{ID: 200_000_000, Username: "someone"},
			notWant: []string{signal.HasProfilePhoto, signal.NoProfilePhoto},
		},
		{
			name:    "unknown sender id claims no age",
			sender:  signal.Sender{ID: 0, Username: "ghost_from_nowhere"},
			notWant: []string{signal.AccountAgeUnder24Hours, signal.AccountAgeUnder7Days},
		},
		{
			name: "generated username",
			sender: signal.Sender{
				ID: 7_900_000_000, Username: "user_8841234",
			},
			want: []string{signal.HasUsername, signal.UsernameRandomChars},
		},
		{
			name: "bio with link and crypto vocabulary",
			sender: signal.Sender{
				ID: 200_000_000, Username: "promoter",
				Bio: "Signals daily, join t.me/fastprofit, crypto trading",
			},
			want: []string{signal.HasBio, signal.BioHasLinks, signal.BioHasCryptoTerms},
		},
		{
			name: "cyrillic crypto bio",
			sender: signal.Sender{
				ID: 200_000_000, Username: "promoter",
				Bio: "инвестиции и трейдинг, пишите в лс",
			},
			want:    []string{signal.HasBio, signal.BioHasCryptoTerms},
			notWant: []string{signal.BioHasLinks},
		},
		{
			name: "emoji spam name",
			sender: signal.Sender{
				ID: 200_000_000, FirstName: "Alex", LastName: "💰🚀 Profit",
			},
			want: []string{signal.NameHasEmojiSpam},
		},
		{
			name: "single emoji name is fine",
			sender: signal.Sender{
				ID: 200_000_000, FirstName: "Maria 🌸",
			},
			notWant: []string{signal.NameHasEmojiSpam},
		},
		{
			name:   "bot account",
			sender: signal.Sender{ID: 200_000_000, Username: "helper_bot", IsBot: true},
			want:   []string{signal.IsBot},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := src.Collect(context.Background(), collectRequest(profileMessage(tc.sender), signal.KindGeneral))
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			assertSignals(t, got, tc.want, tc.notWant)
		})
	}
}

func TestRandomUsername(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		username string
		want     bool
	}{
		{"user_8841234", true},
		{"user88412345", true},
		{"ab123456", true},
		{"xy_54321", true},
		{"deadbeef42aa", true},
		{"Kevin99421", true},
		{"42abc77", true},
		{"qwertyuiopasdfghjkl", true},
		{"8812374922", true},
		{"a1b2c3d4e5f6", true},
		{"regular_person", false},
		{"dana", false},
		{"code_reviewer", false},
		{"jane2024", false},
	} {
		t.Run(tc.username, func(t *testing.T) {
			if got := randomUsername(tc.username); got != tc.want {
				t.Errorf("randomUsername(%q) = %v, want %v", tc.username, got, tc.want)
			}
		})
	}
}

func TestNameHasEmojiSpam(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", false},
		{"plain", "Dana Lee", false},
		{"single emoji", "Maria 🌸", false},
		{"two unrelated emojis", "Sam 🌸🧩", false},
		{"two from money cluster", "Invest 💰🚀", true},
		{"two from alert cluster", "READ 🚨⛔ NOW", true},
		{"three of anything", "Win 🌸🧩🎈", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := nameHasEmojiSpam(tc.in); got != tc.want {
				t.Errorf("nameHasEmojiSpam(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
