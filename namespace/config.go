package namespace

// Config is the generic per-namespace-flavor configuration: four
// closures that let one Engine drive every namespace flavor in
// spec.md §4.4 (public-IP, custom, geo, group, rendezvous).
type Config struct {
	// Label names this namespace flavor for logging, e.g. "public-ip",
	// "custom:family-room", "geo:9q8yyk8", "group:<gid>", "rvz:<fp>".
	Label string
	// RouterID returns the signaling id claimed by the router at a
	// given election level.
	RouterID func(level int) string
	// DiscoveryID returns the signaling id this process advertises for
	// direct inbound connects (independent of router/member role).
	DiscoveryID func(uuid string) string
	// PeerSlotID returns the fixed signaling id reserved for peer-slot
	// reverse-connect waiters. Its value MUST end in "-p1" per spec.md
	// §6 so that signaling errors against it can be suppressed as
	// expected misses.
	PeerSlotID func() string
}
