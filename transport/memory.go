package transport

import (
	"context"
	"sync"
)

// Switchboard is an in-memory Dialer used by tests to drive several
// namespace engines against each other in one process, the same way the
// teacher's gyre_test.go/node_test.go spin up several *Node values and
// let them discover each other without a real network. Every Peer()
// call returns a Dialer sharing the same switchboard, so claims and
// connects are visible across all of them.
type Switchboard struct {
	mu        sync.Mutex
	endpoints map[string]*memEndpoint
	down      bool
}

// NewSwitchboard creates an empty in-memory signaling fabric.
func NewSwitchboard() *Switchboard {
	return &Switchboard{endpoints: make(map[string]*memEndpoint)}
}

// SetNetworkDown flips whether Probe and further claims/connects fail
// with ErrNetworkDown, letting tests exercise the SG/NE "network is
// down, pause everything" path from spec.md §4.3.
func (s *Switchboard) SetNetworkDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// Peer returns a Dialer view of this switchboard for one participant.
func (s *Switchboard) Peer(name string) Dialer {
	return &memDialer{board: s, name: name}
}

type memDialer struct {
	board *Switchboard
	name  string
}

func (d *memDialer) CreateEndpoint(ctx context.Context, id string) (Endpoint, error) {
	b := d.board
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.down {
		return nil, ErrNetworkDown
	}
	if existing, ok := b.endpoints[id]; ok && !existing.closed {
		return nil, ErrAddressTaken
	}

	ep := &memEndpoint{board: b, id: id, owner: d.name}
	b.endpoints[id] = ep
	return ep, nil
}

func (d *memDialer) Connect(ctx context.Context, id string) (Channel, error) {
	b := d.board
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return nil, ErrNetworkDown
	}
	ep, ok := b.endpoints[id]
	b.mu.Unlock()
	if !ok || ep.closed {
		return nil, ErrAddressUnavailable
	}

	local, remote := newMemChannelPair()
	ep.mu.Lock()
	accept := ep.onAccept
	ep.mu.Unlock()
	if accept != nil {
		accept(remote)
	}
	return local, nil
}

func (d *memDialer) Probe(ctx context.Context) error {
	d.board.mu.Lock()
	down := d.board.down
	d.board.mu.Unlock()
	if down {
		return ErrNetworkDown
	}
	return nil
}

type memEndpoint struct {
	board *Switchboard
	id    string
	owner string

	mu       sync.Mutex
	onAccept func(Channel)
	closed   bool
}

func (e *memEndpoint) ID() string { return e.id }

func (e *memEndpoint) Accept(fn func(Channel)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAccept = fn
}

func (e *memEndpoint) Close() error {
	e.board.mu.Lock()
	defer e.board.mu.Unlock()
	e.closed = true
	if cur, ok := e.board.endpoints[e.id]; ok && cur == e {
		delete(e.board.endpoints, e.id)
	}
	return nil
}

// memChannel is one end of an in-memory pipe.
type memChannel struct {
	mu       sync.Mutex
	peer     *memChannel
	onMsg    func([]byte)
	onClose  func(error)
	closed   bool
}

func newMemChannelPair() (*memChannel, *memChannel) {
	a := &memChannel{}
	b := &memChannel{}
	a.peer = b
	b.peer = a
	return a, b
}

func (c *memChannel) Send(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	peer := c.peer
	c.mu.Unlock()

	peer.mu.Lock()
	cb := peer.onMsg
	peer.mu.Unlock()
	if cb != nil {
		cp := append([]byte(nil), payload...)
		cb(cp)
	}
	return nil
}

func (c *memChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = fn
}

func (c *memChannel) OnClose(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *memChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		peerClosed := peer.closed
		peerCb := peer.onClose
		peer.closed = true
		peer.mu.Unlock()
		if !peerClosed && peerCb != nil {
			peerCb(nil)
		}
	}
	return nil
}
