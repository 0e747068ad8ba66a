package namespace

// EventType enumerates the kinds of events an Engine publishes to its
// observers (the identity router and, transitively, the UI), per
// spec.md §4.3's merge rules: registry changes drive contact presence
// and discovery-candidate surfacing in the outer system.
type EventType int

const (
	// EventRoleChanged fires whenever Role or Level changes.
	EventRoleChanged EventType = iota
	// EventPeerKnown stands for a registry entry that maps to a local
	// contact (by public key) — spec.md §4.3 "marked on network". The
	// Engine itself never publishes it: it reports every new entry as
	// EventPeerDiscovered and leaves that mapping to its observers.
	EventPeerKnown
	// EventPeerDiscovered fires for a registry entry with no known
	// contact mapping — a discovery candidate.
	EventPeerDiscovered
	// EventPeerLost fires when a previously known/discovered entry
	// disappears from the merged registry.
	EventPeerLost
	// EventMessage fires for an inbound application payload riding the
	// namespace's direct peer channels (used by the rendezvous
	// subsystem's rvz-exchange and by group routing).
	EventMessage
	// EventOffline fires once MAX_LEVEL is exhausted with no router
	// found and no peer-slot accepted.
	EventOffline
)

// Event is the engine's single outward notification type.
type Event struct {
	Type EventType

	Role       Role
	Level      int
	JoinStatus JoinStatus

	Entry RegistryEntry // EventPeerKnown / EventPeerDiscovered / EventPeerLost

	From    string // discovery address of the sender, EventMessage
	Payload []byte // EventMessage
}
