package types

import "errors"

var (
	ErrEmptyContent    = errors.New("message content cannot be empty")
	ErrContentTooLarge = errors.New("message content exceeds 64KB limit")
	ErrInvalidKind     = errors.New("invalid message kind")
	ErrInvalidRoomID   = errors.New("room ID must be positive")
)
