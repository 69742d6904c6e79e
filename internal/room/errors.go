package room

import "errors"

var (
	ErrViewClosed           = errors.New("room view is closed")
	ErrHistoryAlreadyMerged = errors.New("historical page already merged")
)
