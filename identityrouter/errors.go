package identityrouter

import "errors"

var (
	// ErrUnknownContact is returned when an operation needs a contact's
	// public key (e.g. to derive its shared key) but none is on file.
	ErrUnknownContact = errors.New("identityrouter: unknown contact")
)
