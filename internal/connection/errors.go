package connection

import "errors"

var (
	ErrAlreadyStarted   = errors.New("connection manager already started")
	ErrNotStarted       = errors.New("connection manager not started")
	ErrNotConnected     = errors.New("realtime session not connected")
	ErrIdentityRequired = errors.New("resolved identity required before connecting")
)
