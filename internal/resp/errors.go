package resp

import "errors"

// ErrProtocol is wrapped by every decode failure caused by malformed input.
// A protocol error is fatal to the connection it occurred on (spec §7).
var ErrProtocol = errors.New("resp: protocol error")

// ErrTooLarge is wrapped when an array count or bulk length exceeds the
// configured bound.
var ErrTooLarge = errors.New("resp: request exceeds configured limit")
