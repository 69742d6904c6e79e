package app

import "errors"

var (
	ErrAlreadyEntered = errors.New("room already entered")
	ErrNotEntered     = errors.New("room not entered")
)
