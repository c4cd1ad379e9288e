package bot_test

import (
	"context"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/nauanbek/saqshy/internal/bot"
	"github.com/nauanbek/saqshy/internal/cache"
)

func TestContextBuilderBuildMapsMessageFields(t *testing.T) {
	t.Parallel()

	sentAt := time.Now().Add(-time.Minute).Truncate(time.Second)
	msg := &api.Message{
		MessageID: 42,
		Chat:      api.Chat{ID: -100123},
		Date:      int(sentAt.Unix()),
		Text:      "check this out",
		ForwardOrigin: &api.MessageOrigin{
			Type: "channel",
		},
		ReplyToMessage: &api.Message{
			MessageID: 41,
			From:      &api.User{ID: 300, IsBot: true},
		},
	}

	builder := bot.NewContextBuilder(&api.BotAPI{}, cache.NewMemory())
	mc := builder.Build(context.Background(), msg)

	if mc.ChatID != -100123 {
		t.Fatalf("unexpected chat ID: %d", mc.ChatID)
	}
	if mc.MessageID != 42 {
		t.Fatalf("unexpected message ID: %d", mc.MessageID)
	}
	if mc.Text != "check this out" {
		t.Fatalf("unexpected text: %q", mc.Text)
	}
	if !mc.SentAt.Equal(sentAt) {
		t.Fatalf("unexpected sent time: got %v want %v", mc.SentAt, sentAt)
	}
	if !mc.IsForward || !mc.ForwardFromChannel {
		t.Fatalf("expected channel forward, got forward=%v channel=%v", mc.IsForward, mc.ForwardFromChannel)
	}
	if !mc.IsReply {
		t.Fatalf("expected reply flag")
	}
	if mc.ReplyToAdmin {
		t.Fatalf("reply to a bot must not count as reply to admin")
	}
	if mc.JoinedAt != nil {
		t.Fatalf("join time is resolved by the history source, not the builder")
	}
}

func TestContextBuilderBuildForwardFromUser(t *testing.T) {
	t.Parallel()

	msg := &api.Message{
		MessageID: 7,
		Chat:      api.Chat{ID: -100123},
		Date:      int(time.Now().Unix()),
		Text:      "fwd",
		ForwardOrigin: &api.MessageOrigin{
			Type: "user",
		},
	}

	builder := bot.NewContextBuilder(&api.BotAPI{}, cache.NewMemory())
	mc := builder.Build(context.Background(), msg)

	if !mc.IsForward {
		t.Fatalf("expected forward flag")
	}
	if mc.ForwardFromChannel {
		t.Fatalf("user forward must not count as channel forward")
	}
}

func TestContextBuilderIsAdminUsesCachedSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := cache.NewMemory()
	if err := store.Set(ctx, cache.KeyAdmins(-100123), "10,20", cache.TTLAdmins); err != nil {
		t.Fatalf("seed admin cache: %v", err)
	}

	builder := bot.NewContextBuilder(&api.BotAPI{}, store)
	if !builder.IsAdmin(ctx, -100123, 10) {
		t.Fatalf("expected user 10 to be admin")
	}
	if builder.IsAdmin(ctx, -100123, 30) {
		t.Fatalf("user 30 is not in the cached admin list")
	}
}

func TestExtractContentFromMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  *api.Message
		want string
	}{
		{
			name: "plain text",
			msg:  &api.Message{Text: "hello there"},
			want: "hello there",
		},
		{
			name: "photo caption",
			msg: &api.Message{
				Photo:   []api.PhotoSize{{FileID: "x"}},
				Caption: "look at this",
			},
			want: "look at this",
		},
		{
			name: "contact attachment",
			msg: &api.Message{
				Contact: &api.Contact{PhoneNumber: "+15551234567"},
			},
			want: "[contact] +15551234567",
		},
		{
			name: "video tagged without payload",
			msg: &api.Message{
				Video:   &api.Video{FileID: "v"},
				Caption: "promo",
			},
			want: "promo [video]",
		},
		{
			name: "inline keyboard labels appended",
			msg: &api.Message{
				Text: "hello",
				ReplyMarkup: &api.InlineKeyboardMarkup{
					InlineKeyboard: [][]api.InlineKeyboardButton{
						{{Text: "Claim bonus"}, {Text: "Join now"}},
					},
				},
			},
			want: "hello Claim bonus Join now",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := bot.ExtractContentFromMessage(tt.msg)
			if got != tt.want {
				t.Fatalf("ExtractContentFromMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetUN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		user *api.User
		want string
	}{
		{name: "nil user", user: nil, want: ""},
		{name: "username wins", user: &api.User{UserName: "spammy", FirstName: "Spam"}, want: "spammy"},
		{name: "falls back to names", user: &api.User{FirstName: "Aidar", LastName: "N"}, want: "Aidar N"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := bot.GetUN(tt.user); got != tt.want {
				t.Fatalf("GetUN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetFullName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		user *api.User
		want string
	}{
		{name: "nil user", user: nil, want: ""},
		{name: "names win", user: &api.User{UserName: "spammy", FirstName: "Aidar"}, want: "Aidar"},
		{name: "falls back to username", user: &api.User{UserName: "spammy"}, want: "spammy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := bot.GetFullName(tt.user); got != tt.want {
				t.Fatalf("GetFullName() = %q, want %q", got, tt.want)
			}
		})
	}
}
