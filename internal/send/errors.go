package send

import "errors"

var ErrSendInFlight = errors.New("a send is already in flight")
