package wire

import "errors"

// Protocol errors: per spec.md §7, unknown types and malformed payloads
// are logged and ignored, never propagated to the user.
var (
	ErrUnknownType = errors.New("wire: unknown message type")
	ErrMalformed   = errors.New("wire: malformed message")
)
