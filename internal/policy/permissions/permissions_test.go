package permissions

import (
	"testing"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/nauanbek/saqshy/internal/trust"
)

func TestIsManager(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		member *api.ChatMember
		want   bool
	}{
		{name: "nil member", member: nil, want: false},
		{name: "creator", member: &api.ChatMember{Status: "creator"}, want: true},
		{
			name:   "admin with manage chat",
			member: &api.ChatMember{Status: "administrator", CanManageChat: true},
			want:   true,
		},
		{
			name:   "admin with promote",
			member: &api.ChatMember{Status: "administrator", CanPromoteMembers: true},
			want:   true,
		},
		{
			name:   "admin without management rights",
			member: &api.ChatMember{Status: "administrator"},
			want:   false,
		},
		{name: "regular member", member: &api.ChatMember{Status: "member"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsManager(tt.member); got != tt.want {
				t.Fatalf("IsManager() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsPrivilegedModerator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		member *api.ChatMember
		want   bool
	}{
		{name: "nil member", member: nil, want: false},
		{name: "creator", member: &api.ChatMember{Status: "creator"}, want: true},
		{
			name:   "admin with restrict",
			member: &api.ChatMember{Status: "administrator", CanRestrictMembers: true},
			want:   true,
		},
		{
			name:   "admin without restrict",
			member: &api.ChatMember{Status: "administrator"},
			want:   false,
		},
		{name: "regular member", member: &api.ChatMember{Status: "member"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsPrivilegedModerator(tt.member); got != tt.want {
				t.Fatalf("IsPrivilegedModerator() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPermissionSets(t *testing.T) {
	t.Parallel()

	textOnly := TextOnly()
	if !textOnly.CanSendMessages {
		t.Fatalf("text-only set must allow plain messages")
	}
	if textOnly.CanSendPhotos || textOnly.CanSendOtherMessages || textOnly.CanAddWebPagePreviews {
		t.Fatalf("text-only set must not allow media or previews")
	}

	mute := Mute()
	if mute.CanSendMessages {
		t.Fatalf("mute set must block messages")
	}

	full := Full()
	if !full.CanSendMessages || !full.CanSendPhotos || !full.CanInviteUsers {
		t.Fatalf("full set must restore member permissions")
	}
	if full.CanChangeInfo || full.CanPinMessages || full.CanManageTopics {
		t.Fatalf("full set must not grant chat management rights")
	}
}

func TestForTrustState(t *testing.T) {
	t.Parallel()

	if got := ForTrustState(trust.StateSandbox); got == nil || !got.CanSendMessages || got.CanSendPhotos {
		t.Fatalf("sandbox state must map to the text-only set, got %+v", got)
	}
	for _, state := range []trust.State{trust.StateNew, trust.StateSoftWatch, trust.StateLimited, trust.StateTrusted} {
		if got := ForTrustState(state); got != nil {
			t.Fatalf("state %s must not enforce permissions, got %+v", state, got)
		}
	}
}
