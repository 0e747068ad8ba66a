package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wireFrame is the control envelope spoken to the signaling relay this
// default Dialer expects on the other end: a small WebSocket server that
// brokers "claim this id" / "dial this id" requests and then pipes raw
// frames between the two matched sockets. The relay itself holds no
// message state once two sides are paired, per spec.md §1's "no
// persistent server holds message state."
type wireFrame struct {
	Kind string `json:"kind"` // "claim", "claimed", "taken", "dial", "dialed", "unavailable", "incoming", "data"
	ID   string `json:"id,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// WebSocketDialer is the default transport.Dialer, backed by a
// WebSocket connection to a configurable signaling relay URL. It is the
// one place in this module that imports github.com/gorilla/websocket;
// every other component talks to the Dialer/Endpoint/Channel interfaces.
type WebSocketDialer struct {
	URL        string
	HTTPClient *http.Client
	Dial       func(url string) (*websocket.Conn, *http.Response, error)
}

// NewWebSocketDialer builds a dialer against a signaling relay URL (for
// example "wss://relay.example.com/signal").
func NewWebSocketDialer(url string) *WebSocketDialer {
	return &WebSocketDialer{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		Dial:       websocket.DefaultDialer.Dial,
	}
}

func (d *WebSocketDialer) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := d.Dial(d.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAddressUnavailable, err)
	}
	return conn, nil
}

// CreateEndpoint claims id on the relay. The relay replies "claimed" or
// "taken"; a "taken" reply maps to ErrAddressTaken per spec.md §4.3's
// election-refusal path.
func (d *WebSocketDialer) CreateEndpoint(ctx context.Context, id string) (Endpoint, error) {
	conn, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.WriteJSON(wireFrame{Kind: "claim", ID: id}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var reply wireFrame
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	switch reply.Kind {
	case "claimed":
		ep := &wsEndpoint{id: id, conn: conn}
		go ep.readLoop()
		return ep, nil
	case "taken":
		conn.Close()
		return nil, ErrAddressTaken
	default:
		conn.Close()
		return nil, ErrTimeout
	}
}

// Connect opens a channel to whoever holds id.
func (d *WebSocketDialer) Connect(ctx context.Context, id string) (Channel, error) {
	conn, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.WriteJSON(wireFrame{Kind: "dial", ID: id}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var reply wireFrame
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	switch reply.Kind {
	case "dialed":
		ch := &wsChannel{conn: conn}
		go ch.readLoop()
		return ch, nil
	case "unavailable":
		conn.Close()
		return nil, ErrAddressUnavailable
	default:
		conn.Close()
		return nil, ErrTimeout
	}
}

// Probe performs a cheap, non-signaling reachability check: a plain HTTP
// HEAD against the relay URL with its ws(s) scheme swapped for
// http(s). This is deliberately NOT a
// WebSocket upgrade, so a signaling-layer rate limit never taints the
// network-health signal the gate relies on (spec.md §4.2).
func (d *WebSocketDialer) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.probeURL(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkDown, err)
	}
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkDown, err)
	}
	defer resp.Body.Close()
	return nil
}

func (d *WebSocketDialer) probeURL() string {
	// Swap ws(s):// for http(s):// for the plain reachability check.
	switch {
	case len(d.URL) >= 6 && d.URL[:6] == "wss://":
		return "https://" + d.URL[6:]
	case len(d.URL) >= 5 && d.URL[:5] == "ws://":
		return "http://" + d.URL[5:]
	default:
		return d.URL
	}
}

type wsEndpoint struct {
	id       string
	conn     *websocket.Conn
	onAccept func(Channel)
}

func (e *wsEndpoint) ID() string { return e.id }

func (e *wsEndpoint) Accept(fn func(Channel)) { e.onAccept = fn }

func (e *wsEndpoint) Close() error { return e.conn.Close() }

// readLoop watches for inbound "incoming" notifications from the relay
// and surfaces each as a new Channel that writes over this endpoint's
// own connection. The loop handles no other frame kind, so such a
// Channel's OnMessage callback is never invoked.
func (e *wsEndpoint) readLoop() {
	for {
		var frame wireFrame
		if err := e.conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Kind == "incoming" && e.onAccept != nil {
			e.onAccept(&wsChannel{conn: e.conn, inboundID: frame.ID})
		}
	}
}

type wsChannel struct {
	conn      *websocket.Conn
	inboundID string
	onMsg     func([]byte)
	onClose   func(error)
}

func (c *wsChannel) Send(payload []byte) error {
	return c.conn.WriteJSON(wireFrame{Kind: "data", Data: payload})
}

func (c *wsChannel) OnMessage(fn func([]byte)) { c.onMsg = fn }

func (c *wsChannel) OnClose(fn func(error)) { c.onClose = fn }

func (c *wsChannel) Close() error { return c.conn.Close() }

func (c *wsChannel) readLoop() {
	for {
		var frame wireFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if c.onClose != nil {
				c.onClose(err)
			}
			return
		}
		if frame.Kind == "data" && c.onMsg != nil {
			c.onMsg(frame.Data)
		}
	}
}
