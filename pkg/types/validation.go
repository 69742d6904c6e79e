package types

import "strings"

const maxContentBytes = 65536

// ValidateOutgoing checks a user-authored message body before either send
// path accepts it. The trimmed body must be non-empty and within the size
// limit; kind must be one of the known message kinds.
func ValidateOutgoing(roomID int64, content, kind string) error {
	if roomID <= 0 {
		return ErrInvalidRoomID
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if len(content) > maxContentBytes {
		return ErrContentTooLarge
	}
	if !IsValidKind(kind) {
		return ErrInvalidKind
	}
	return nil
}

// IsValidKind reports whether kind is one of the allowed message kinds.
func IsValidKind(kind string) bool {
	switch kind {
	case MessageKindText, MessageKindImage, MessageKindSystem:
		return true
	default:
		return false
	}
}
