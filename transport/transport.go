// Package transport defines the narrow, abstract surface that the rest
// of the module uses to create signaling endpoints and exchange bytes
// with peers. Per spec.md §9 ("Signaling-library coupling"), no
// namespace or identity-router logic may depend on a concrete transport
// implementation; everything goes through these interfaces.
package transport

import (
	"context"
	"errors"
)

// Sentinel errors surfaced by Dialer/Endpoint implementations. These map
// onto the "Signaling errors" taxonomy of spec.md §7.
var (
	ErrAddressTaken       = errors.New("transport: address taken")
	ErrAddressUnavailable = errors.New("transport: address unavailable")
	ErrNetworkDown        = errors.New("transport: network down")
	ErrTimeout            = errors.New("transport: timeout")
	ErrRateLimited        = errors.New("transport: rate limited")
	ErrClosed             = errors.New("transport: closed")
)

// Channel is a reliable, ordered, bidirectional byte-message pipe to a
// single remote peer, opened either by claiming/joining a signaling id
// or by a direct Connect. It is the "transport handle" referred to
// throughout spec.md §3/§9: owned by whoever opened it, invalidated on
// Close.
type Channel interface {
	// Send transmits one message. Implementations MUST preserve send
	// order per spec.md §5 ordering guarantee (i).
	Send(payload []byte) error
	// OnMessage registers the callback invoked for each inbound message.
	// Only one callback may be registered; registering a second replaces
	// the first.
	OnMessage(func(payload []byte))
	// OnClose registers the callback invoked once when the channel is
	// closed, locally or remotely.
	OnClose(func(err error))
	Close() error
}

// Endpoint is a claimed signaling identity: either we are the first (and
// only) claimant — in which case we are the "router" role for whatever
// id we claimed — or the claim was refused because someone else holds
// it. Endpoint also accepts inbound connections from peers that dial our
// id.
type Endpoint interface {
	// ID is the signaling identity this endpoint claimed.
	ID() string
	// Accept registers the callback invoked for each inbound Channel
	// opened by a remote peer dialing this endpoint's ID.
	Accept(func(Channel))
	Close() error
}

// Dialer is the narrow factory the signaling gate and namespace engine
// use to talk to the outside world. A concrete implementation might be
// backed by a WebSocket-based signaling relay (see the default
// implementation in this package) or, in tests, an in-memory switchboard.
type Dialer interface {
	// CreateEndpoint attempts to claim id as a signaling endpoint. It
	// returns ErrAddressTaken if another live endpoint already holds id.
	CreateEndpoint(ctx context.Context, id string) (Endpoint, error)
	// Connect opens a reliable Channel to whoever currently holds id. It
	// returns ErrAddressUnavailable if nobody holds id right now.
	Connect(ctx context.Context, id string) (Channel, error)
	// Probe performs a cheap reachability check independent of the
	// signaling protocol (used by the signaling gate to distinguish
	// throttling from a dead network, spec.md §4.2).
	Probe(ctx context.Context) error
}
