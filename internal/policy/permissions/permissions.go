// Package permissions maps moderation policy onto Telegram's member rights:
// who counts as a manager, and which permission set each enforcement level
// applies.
package permissions

import (
	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/nauanbek/saqshy/internal/trust"
)

func IsManager(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	return member.IsAdministrator() && (member.CanManageChat || member.CanPromoteMembers)
}

func IsPrivilegedModerator(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if IsManager(member) {
		return true
	}
	return member.IsAdministrator() && member.CanRestrictMembers
}

// TextOnly lets a member write plain text and nothing else. Applied to
// sandboxed members and to REVIEW holds.
func TextOnly() *api.ChatPermissions {
	return &api.ChatPermissions{
		CanSendMessages: true,
	}
}

// Mute blocks all posting.
func Mute() *api.ChatPermissions {
	return &api.ChatPermissions{}
}

// Full restores regular member permissions. Chat management bits stay off;
// those belong to admins.
func Full() *api.ChatPermissions {
	return &api.ChatPermissions{
		CanSendMessages:       true,
		CanSendAudios:         true,
		CanSendDocuments:      true,
		CanSendPhotos:         true,
		CanSendVideos:         true,
		CanSendVideoNotes:     true,
		CanSendVoiceNotes:     true,
		CanSendPolls:          true,
		CanSendOtherMessages:  true,
		CanAddWebPagePreviews: true,
		CanInviteUsers:        true,
	}
}

// ForTrustState returns the permission set enforced while a member sits in
// the given trust state, nil when the state carries no enforcement.
// SOFT_WATCH deliberately maps to nil: it observes without restricting.
func ForTrustState(state trust.State) *api.ChatPermissions {
	if state == trust.StateSandbox {
		return TextOnly()
	}
	return nil
}
