package wire

func init() {
	register("request", func() Message { return &Request{} })
	register("accepted", func() Message { return &Accepted{} })
	register("rejected", func() Message { return &Rejected{} })
	register("confirm", func() Message { return &Confirm{} })
}

// Request opens a handshake: "I am this public key, reachable at this
// address, and here is proof I hold the matching private key."
type Request struct {
	FriendlyName string `json:"friendly_name"`
	PublicKey    []byte `json:"public_key"`
	Address      string `json:"address"`
	Ts           int64  `json:"ts"`
	Signature    []byte `json:"signature"`
}

func (*Request) Kind() string { return "request" }

// Accepted is the positive handshake reply.
type Accepted struct {
	Address       string `json:"address"`
	DiscoveryUUID string `json:"discovery_uuid"`
}

func (*Accepted) Kind() string { return "accepted" }

// Rejected is the negative handshake reply.
type Rejected struct{}

func (*Rejected) Kind() string { return "rejected" }

// Confirm finalizes a handshake after Accepted.
type Confirm struct {
	Address       string `json:"address"`
	FriendlyName  string `json:"friendly_name"`
	DiscoveryUUID string `json:"discovery_uuid"`
	PublicKey     []byte `json:"public_key"`
}

func (*Confirm) Kind() string { return "confirm" }
