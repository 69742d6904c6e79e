package rest

import "errors"

var (
	ErrRequestFailed   = errors.New("request failed")
	ErrInvalidResponse = errors.New("invalid response body")
)
