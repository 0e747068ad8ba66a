// Package chat implements the Chat message data model of spec.md §3.
package chat

import (
	"errors"
	"time"
)

// Direction of a message relative to the local user.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// Status tracks delivery progress. Per spec.md §3's invariant, a message
// only ever transitions waiting -> sent -> delivered, with a retry after
// a missed delivery ack resetting sent -> waiting.
type Status int

const (
	StatusWaiting Status = iota
	StatusSent
	StatusDelivered
	StatusFailed
)

// Kind of message body.
type Kind int

const (
	KindText Kind = iota
	KindFile
	KindCallLog
)

// ErrInvalidTransition is returned by Message.Advance when the
// requested status change isn't one of the allowed edges.
var ErrInvalidTransition = errors.New("chat: invalid status transition")

// Message mirrors spec.md §3's Chat message.
type Message struct {
	ID         string
	Direction  Direction
	Kind       Kind
	Body       string // text content, or a human label for file/call-log
	TransferID string // set iff Kind == KindFile
	Timestamp  time.Time
	Status     Status
	Edited     bool
	Deleted    bool
}

// Advance applies a status transition, enforcing spec.md §3's ordering
// invariant. Retrying from Sent back to Waiting (a missed delivery ack)
// is the one allowed backward edge.
func (m *Message) Advance(next Status) error {
	switch {
	case m.Status == StatusWaiting && next == StatusSent:
	case m.Status == StatusSent && next == StatusDelivered:
	case m.Status == StatusSent && next == StatusWaiting: // retry on missed ack
	case m.Status == StatusWaiting && next == StatusFailed:
	case m.Status == StatusSent && next == StatusFailed:
	default:
		return ErrInvalidTransition
	}
	m.Status = next
	return nil
}
