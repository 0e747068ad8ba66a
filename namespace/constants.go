package namespace

import "time"

// Default timers, per spec.md §5's "Timers (design-level)" contract.
// These are part of the wire contract: peers configured with wildly
// different values will drop each other, so an embedding application
// should only change them cluster-wide.
const (
	DefaultTTL             = 90 * time.Second
	DefaultTTLGrace        = 10 * time.Second
	DefaultPingInterval    = 60 * time.Second
	DefaultMonitorInterval = 30 * time.Second // monitor-for-L1
	DefaultPeerSlotProbe   = 30 * time.Second
	DefaultMaxLevel        = 5

	// checkinTimeout is the "hangs beyond 8s" bound from spec.md §4.3's
	// election protocol before a joining attempt is retried.
	checkinTimeout = 8 * time.Second
	// checkinRetries is the number of join attempts at one level before
	// the engine escalates to the next level; the peer slot is tried
	// only after every level up to MaxLevel has been exhausted.
	checkinRetries = 3

	// peerSlotRetries and its jitter bounds come from spec.md §4.3's
	// peer-slot retry policy.
	peerSlotRetries  = 5
	peerSlotJitterLo = 3 * time.Second
	peerSlotJitterHi = 5 * time.Second

	// failoverJitterMax bounds the tie-break wait before a member
	// re-attempts a claim after its router disappears (spec.md §4.3).
	failoverJitterMax = 3 * time.Second
)

// Constants bundles the tunable timers so tests can shrink them; the
// zero value is NOT usable, use DefaultConstants(). The engine's
// maintenance tick runs every PingInterval; MonitorInterval and
// PeerSlotProbe are not read by the engine.
type Constants struct {
	TTL             time.Duration
	TTLGrace        time.Duration
	PingInterval    time.Duration
	MonitorInterval time.Duration
	PeerSlotProbe   time.Duration
	MaxLevel        int
}

// DefaultConstants returns the spec.md §5 timer contract.
func DefaultConstants() Constants {
	return Constants{
		TTL:             DefaultTTL,
		TTLGrace:        DefaultTTLGrace,
		PingInterval:    DefaultPingInterval,
		MonitorInterval: DefaultMonitorInterval,
		PeerSlotProbe:   DefaultPeerSlotProbe,
		MaxLevel:        DefaultMaxLevel,
	}
}
