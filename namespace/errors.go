package namespace

import "errors"

// ErrNotRouter / ErrNotMember are returned by role-specific send helpers
// when called in the wrong role, per spec.md §5's precondition
// re-validation discipline ("still router?", "still member?").
var (
	ErrNotRouter    = errors.New("namespace: not router")
	ErrNotMember    = errors.New("namespace: not member")
	ErrUnknownPeer  = errors.New("namespace: unknown peer")
	ErrEngineClosed = errors.New("namespace: engine closed")
)
