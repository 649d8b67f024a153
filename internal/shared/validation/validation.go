// Package validation holds the input checks shared by the REST surface.
// Limits are deliberately tight: these strings end up in broadcast
// payloads and on-disk documents.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String length limits
const (
	MinNicknameLength = 1
	MaxNicknameLength = 32
	MaxRoomNameLength = 128
	MaxTabIDLength    = 64
)

// safeIDPattern allows alphanumeric, hyphens, underscores.
var safeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Nickname validates a display name for room membership.
func Nickname(nickname string) error {
	if err := checkString(nickname, "nickname", MinNicknameLength, MaxNicknameLength); err != nil {
		return err
	}
	if strings.TrimSpace(nickname) == "" {
		return fmt.Errorf("nickname must not be blank")
	}
	return nil
}

// RoomName validates a room's display name.
func RoomName(name string) error {
	return checkString(name, "room name", 1, MaxRoomNameLength)
}

// TabID validates a tab or sub-tab identifier.
func TabID(id string) error {
	if err := checkString(id, "tab id", 1, MaxTabIDLength); err != nil {
		return err
	}
	if !safeIDPattern.MatchString(id) {
		return fmt.Errorf("tab id contains invalid characters (only alphanumeric, hyphens, and underscores allowed)")
	}
	return nil
}

func checkString(value, fieldName string, minLen, maxLen int) error {
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	return nil
}
