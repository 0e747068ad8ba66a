package group

import "errors"

var (
	// ErrNotAdmin is returned by admin-only operations (invite, kick)
	// when called by a non-admin member.
	ErrNotAdmin = errors.New("group: not the admin")
	// ErrUnknownMember is returned when an operation names a
	// fingerprint not present in the group's membership.
	ErrUnknownMember = errors.New("group: unknown member")
	// ErrNoKey is returned when an operation needs the current group
	// key but none has been established yet (shouldn't happen outside
	// a malformed invite).
	ErrNoKey = errors.New("group: no group key available")
	// ErrCallInProgress is returned when starting a call while one is
	// already active.
	ErrCallInProgress = errors.New("group: call already in progress")
	// ErrNoSuchCall is returned when joining or leaving a call that
	// doesn't match the one currently in progress.
	ErrNoSuchCall = errors.New("group: no such call")
)
