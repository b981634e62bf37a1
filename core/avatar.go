package orchestration

import "strings"

const roomPrefix = "liveavatar-"

// AvatarIDFromRoom extracts the avatar id from a room named
// liveavatar-<avatar-id>-<a>-<b>. The avatar id itself may contain dashes.
func AvatarIDFromRoom(room string) (string, bool) {
	if !strings.HasPrefix(room, roomPrefix) {
		return "", false
	}

	parts := strings.Split(room, "-")
	if len(parts) < 4 {
		return "", false
	}

	avatarID := strings.Join(parts[1:len(parts)-2], "-")
	return avatarID, avatarID != ""
}

func resolveAvatarID(options StartOptions, fallback string) string {
	if options.AvatarID != "" {
		return options.AvatarID
	}
	if avatarID, ok := AvatarIDFromRoom(options.RoomName); ok {
		return avatarID
	}
	return fallback
}
