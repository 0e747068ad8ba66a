package wire

func init() {
	register("checkin", func() Message { return &Checkin{} })
	register("registry", func() Message { return &Registry{} })
	register("ping", func() Message { return &Ping{} })
	register("pong", func() Message { return &Pong{} })
	register("migrate", func() Message { return &Migrate{} })
	register("reverse-welcome", func() Message { return &ReverseWelcome{} })
	register("app-data", func() Message { return &AppData{} })
}

// Checkin is sent by a joining member to the namespace router (spec.md
// §4.3). It carries no backfill cursor: spec.md §4.7's group-checkin is
// the distinct, richer GroupCheckin message — see group.go.
type Checkin struct {
	DiscoveryID  string `json:"discovery_id"`
	FriendlyName string `json:"friendly_name"`
	PublicKey    []byte `json:"public_key"`
}

func (*Checkin) Kind() string { return "checkin" }

// RegistryPeerEntry is one opaque entry in a broadcast Registry.
type RegistryPeerEntry struct {
	DiscoveryAddress string `json:"discovery_address"`
	FriendlyName     string `json:"friendly_name"`
	PublicKey        []byte `json:"public_key,omitempty"`
	LastSeen         int64  `json:"last_seen"`
}

// Registry is the router's full, opaque peer list, broadcast to every
// member after every checkin, member disconnect and TTL eviction
// (spec.md §4.3 merge rules); pings do not trigger it.
type Registry struct {
	Peers []RegistryPeerEntry `json:"peers"`
}

func (*Registry) Kind() string { return "registry" }

// Ping/Pong are the router's liveness probe and the member's reply.
type Ping struct{}

func (*Ping) Kind() string { return "ping" }

type Pong struct{}

func (*Pong) Kind() string { return "pong" }

// Migrate tells members that a lower level is now available, per
// spec.md §4.3's level-escalation/de-escalation logic.
type Migrate struct {
	Level int `json:"level"`
}

func (*Migrate) Kind() string { return "migrate" }

// ReverseWelcome is sent by the router to a peer-slot waiter it
// successfully dialed (spec.md §4.3 peer-slot reverse connect).
type ReverseWelcome struct{}

func (*ReverseWelcome) Kind() string { return "reverse-welcome" }

// AppData carries an opaque higher-layer payload (group relay, rendezvous
// exchange bootstrapping, etc.) over a namespace channel without the
// namespace engine needing to know its shape.
type AppData struct {
	Payload []byte `json:"payload"`
}

func (*AppData) Kind() string { return "app-data" }
