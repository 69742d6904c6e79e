package transport

import "errors"

var (
	ErrSessionClosed = errors.New("transport session closed")
	ErrWriteTimeout  = errors.New("transport write timed out")
)
