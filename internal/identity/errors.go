package identity

import "errors"

var ErrUnresolved = errors.New("local identity unresolved")
