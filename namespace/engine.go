// Package namespace implements the generic namespace engine (NE), the
// component spec.md §4.3 describes once and reuses for all five
// namespace flavors: public-IP, custom, geo, group, and rendezvous
// (spec.md §4.4). One Engine drives exactly one namespace; an embedder
// that needs several namespaces at once (e.g. public-IP plus N groups)
// runs one Engine per namespace and fans their Events out itself.
//
// The Engine is a single-owner actor, grounded on the teacher's
// node.go handler() loop: one goroutine owns all mutable state and
// every external call — Start/SendAppTo/BroadcastApp/Snapshot/Close — is a message sent
// over a channel rather than a direct field access, so nothing needs a
// mutex (spec.md §5 "single actor goroutine per namespace engine").
package namespace

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/peermesh/peermesh/signaling"
	"github.com/peermesh/peermesh/transport"
)

// Engine drives one namespace's election/join/router/member lifecycle.
// Every exported method is safe to call from any goroutine; all of
// them hand work to the single loop goroutine.
type Engine struct {
	cfg       Config
	cst       Constants
	dialer    transport.Dialer
	gate      *signaling.Gate
	selfUUID  string
	selfFP    string
	selfName  string
	selfPub   []byte

	actions   chan func()
	events    chan Event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// loop-owned state below; never touched outside the loop goroutine.
	role       Role
	level      int
	joinStatus JoinStatus
	registry   map[string]RegistryEntry // keyed by discovery address

	routerEndpoint    transport.Endpoint           // set iff role == RoleRouter
	routerMembers     map[string]transport.Channel // discovery address -> channel, router-side
	memberChannel     transport.Channel            // set iff role == RoleMember, channel to our router
	peerSlotEP        transport.Endpoint           // set iff role == RolePeerSlotWaiter
	discoveryEndpoint transport.Endpoint           // persistent, role-independent

	// rawDiscoveryHandler, if set, takes over every inbound channel
	// accepted on the discovery endpoint instead of the default
	// AppData-only EventMessage path — used by the rendezvous
	// subsystem, which needs the raw Channel itself to run a
	// bidirectional signed handshake (spec.md §4.6). Set it before
	// Start; it is read only from the loop goroutine afterwards.
	rawDiscoveryHandler func(transport.Channel, []byte)

	lastRouterSeen time.Time
	attemptSeq     int
}

// New constructs an Engine for one namespace flavor. The engine is
// idle until Start is called.
func New(cfg Config, cst Constants, dialer transport.Dialer, gate *signaling.Gate, selfUUID, selfFP, selfName string, selfPub []byte) *Engine {
	return &Engine{
		cfg:           cfg,
		cst:           cst,
		dialer:        dialer,
		gate:          gate,
		selfUUID:      selfUUID,
		selfFP:        selfFP,
		selfName:      selfName,
		selfPub:       selfPub,
		actions:       make(chan func(), 64),
		events:        make(chan Event, 256),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
		registry:      make(map[string]RegistryEntry),
		routerMembers: make(map[string]transport.Channel),
	}
}

// SetRawDiscoveryHandler installs fn to handle every inbound channel
// accepted on this engine's discovery endpoint, bypassing the default
// AppData/EventMessage surfacing in discovery.go. Call it before Start;
// it is not safe to change once the engine is running.
func (e *Engine) SetRawDiscoveryHandler(fn func(transport.Channel, []byte)) {
	e.rawDiscoveryHandler = fn
}

// Start launches the engine's loop goroutine and begins the election
// at level 1 (spec.md §4.3 "Joining a namespace").
func (e *Engine) Start() {
	go e.loop()
	e.actions <- func() { e.attempt(1) }
	e.actions <- func() { e.maintainDiscoveryEndpoint() }
}

// Events returns the channel of outward notifications (spec.md §5
// "external observers receive immutable snapshots").
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Snapshot returns a point-in-time copy of the engine's state.
func (e *Engine) Snapshot() State {
	reply := make(chan State, 1)
	select {
	case e.actions <- func() { reply <- e.snapshotLocked() }:
	case <-e.quit:
		reply <- State{}
	}
	select {
	case s := <-reply:
		return s
	case <-e.quit:
		return State{}
	}
}

func (e *Engine) snapshotLocked() State {
	reg := make(map[string]RegistryEntry, len(e.registry))
	for k, v := range e.registry {
		reg[k] = v
	}
	return State{
		Role:       e.role,
		Level:      e.level,
		JoinStatus: e.joinStatus,
		Registry:   reg,
	}
}

// SendAppTo delivers an opaque application payload to one peer
// currently present in the registry, riding the namespace's existing
// channels (used by the rendezvous subsystem and by group relay per
// spec.md §4.7/§4.6). It is a best-effort send: as router it returns
// ErrUnknownPeer if no member channel is open for discoveryAddr; as a
// member it hands the payload to its router whatever discoveryAddr is
// (see memberSendTo).
func (e *Engine) SendAppTo(discoveryAddr string, payload []byte) error {
	reply := make(chan error, 1)
	e.actions <- func() { reply <- e.sendAppTo(discoveryAddr, payload) }
	return <-reply
}

// BroadcastApp delivers payload to every peer currently in the
// registry (router fan-out if we're router, single send to our router
// otherwise — the router is expected to re-broadcast, mirroring the
// teacher's shout()/group broadcast pattern).
func (e *Engine) BroadcastApp(payload []byte) error {
	reply := make(chan error, 1)
	e.actions <- func() { reply <- e.broadcastApp(payload) }
	return <-reply
}

// Close stops the engine and releases any claimed signaling endpoints.
// Safe to call more than once, and safe to register with t.Cleanup
// even after an explicit mid-test Close.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.quit)
		<-e.done
	})
}

func (e *Engine) loop() {
	defer close(e.done)
	defer close(e.events)

	ticker := time.NewTicker(e.cst.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.quit:
			e.teardown()
			return
		case fn := <-e.actions:
			fn()
		case now := <-ticker.C:
			e.onTick(now)
		}
	}
}

func (e *Engine) teardown() {
	if e.routerEndpoint != nil {
		e.routerEndpoint.Close()
	}
	if e.memberChannel != nil {
		e.memberChannel.Close()
	}
	if e.peerSlotEP != nil {
		e.peerSlotEP.Close()
	}
	if e.discoveryEndpoint != nil {
		e.discoveryEndpoint.Close()
	}
}

// onTick runs the periodic maintenance, once every PingInterval: a
// router evicts stale members, pings the rest and runs monitor-for-L1;
// a member checks its router against TTL+TTLGrace. Nothing here
// probes the peer slot.
func (e *Engine) onTick(now time.Time) {
	switch e.role {
	case RoleRouter:
		e.evictStale(now)
		e.pingMembers()
		e.monitorForEscalation(now)
	case RoleMember:
		if now.Sub(e.lastRouterSeen) > e.cst.TTL+e.cst.TTLGrace {
			e.log("router %s silent past TTL, re-electing", e.cfg.RouterID(e.level))
			e.onRouterLost()
		}
		e.monitorForEscalation(now)
	case RolePeerSlotWaiter:
		// nothing to do: the waiter holds the slot until a peer
		// connects to it, and no role in this package dials that id.
	}
}

func (e *Engine) publish(ev Event) {
	ev.Role = e.role
	ev.Level = e.level
	ev.JoinStatus = e.joinStatus
	select {
	case e.events <- ev:
	default:
		log.Printf("W: [namespace:%s] event channel full, dropping %v", e.cfg.Label, ev.Type)
	}
}

func (e *Engine) setRole(role Role, level int, status JoinStatus) {
	changed := role != e.role || level != e.level || status != e.joinStatus
	e.role = role
	e.level = level
	e.joinStatus = status
	if changed {
		e.publish(Event{Type: EventRoleChanged})
	}
}

func (e *Engine) log(format string, args ...interface{}) {
	log.Printf("I: [namespace:%s] "+format, append([]interface{}{e.cfg.Label}, args...)...)
}

// jitter returns a random duration in [lo, hi), grounded on the
// teacher's beacon interval jitter.
func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}
