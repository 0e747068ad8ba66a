package namespace

import (
	"time"

	"github.com/peermesh/peermesh/transport"
	"github.com/peermesh/peermesh/wire"
)

// becomeMember is entered once a channel to a router is open, whether
// reached by a normal join or by a peer-slot reverse connect (spec.md
// §4.3). It sends the initial Checkin and starts tracking router
// liveness for the TTL watchdog in engine.go's onTick.
func (e *Engine) becomeMember(level int, ch transport.Channel) {
	e.memberChannel = ch
	e.lastRouterSeen = time.Now()
	e.setRole(RoleMember, level, JoinSettled)
	e.log("joined as member at level %d", level)

	ch.OnClose(func(err error) {
		e.actions <- func() {
			if e.memberChannel == ch {
				e.memberChannel = nil
				e.onRouterLost()
			}
		}
	})
	ch.OnMessage(func(raw []byte) {
		e.actions <- func() { e.onMemberInbound(ch, raw) }
	})

	raw, err := wire.Encode(&wire.Checkin{
		DiscoveryID:  e.cfg.DiscoveryID(e.selfUUID),
		FriendlyName: e.selfName,
		PublicKey:    e.selfPub,
	})
	if err != nil {
		e.log("member: failed to encode checkin: %v", err)
		return
	}
	if err := ch.Send(raw); err != nil {
		e.log("member: checkin send failed: %v", err)
	}
}

func (e *Engine) onMemberInbound(ch transport.Channel, raw []byte) {
	if e.memberChannel != ch {
		return // stale callback from a channel we've already abandoned
	}
	msg, err := wire.Decode(raw)
	if err != nil {
		e.log("member: malformed frame from router: %v", err)
		return
	}
	e.lastRouterSeen = time.Now()

	switch m := msg.(type) {
	case *wire.Ping:
		pong, err := wire.Encode(&wire.Pong{})
		if err == nil {
			ch.Send(pong)
		}
	case *wire.Registry:
		e.mergeRegistry(m.Peers)
	case *wire.Migrate:
		e.onMigrateNotice(m.Level, ch)
	case *wire.ReverseWelcome:
		// informational only; the channel is already live.
	case *wire.AppData:
		e.publish(Event{Type: EventMessage, From: e.cfg.RouterID(e.level), Payload: m.Payload})
	default:
		e.log("member: unexpected message %T from router", msg)
	}
}

// mergeRegistry replaces the member's view of the namespace with the
// router's broadcast, keeping the member's own self-entry, and diffs
// the other entries against the previous view to emit
// peer-discovered/peer-lost events (spec.md §4.3 merge rules). A
// registry entry whose PublicKey matches a local contact is "known";
// otherwise it's a discovery candidate — that classification happens
// one layer up (identity router), so here every entry not previously
// seen is reported as EventPeerDiscovered and let the identity router
// reclassify it. No event is published for the self-entry.
func (e *Engine) mergeRegistry(peers []wire.RegistryPeerEntry) {
	self := e.cfg.DiscoveryID(e.selfUUID)
	next := make(map[string]RegistryEntry, len(peers)+1)
	for _, p := range peers {
		if p.DiscoveryAddress == self {
			continue
		}
		next[p.DiscoveryAddress] = RegistryEntry{
			DiscoveryAddress: p.DiscoveryAddress,
			FriendlyName:     p.FriendlyName,
			PublicKey:        p.PublicKey,
			LastSeen:         time.Unix(p.LastSeen, 0),
		}
	}
	next[self] = RegistryEntry{
		DiscoveryAddress: self,
		FriendlyName:     e.selfName,
		PublicKey:        e.selfPub,
		ContactFP:        e.selfFP,
		LastSeen:         time.Now(),
	}

	for addr, entry := range next {
		if addr == self {
			continue
		}
		if _, existed := e.registry[addr]; !existed {
			e.publish(Event{Type: EventPeerDiscovered, Entry: entry})
		}
	}
	for addr, entry := range e.registry {
		if _, still := next[addr]; !still {
			e.publish(Event{Type: EventPeerLost, Entry: entry})
		}
	}
	e.registry = next
}

// onMigrateNotice follows the router down to a lower level, per
// spec.md §4.3's namespace-wide migration. The old channel is left for
// the router to close; we immediately attempt to join at the new
// level.
func (e *Engine) onMigrateNotice(level int, old transport.Channel) {
	if level >= e.level {
		return
	}
	e.log("router migrating namespace from level %d to %d", e.level, level)
	if e.memberChannel == old {
		e.memberChannel = nil
	}
	e.attemptSeq++
	e.joinAtLevelTry(level, 1)
}

func (e *Engine) memberSendToRouter(payload []byte) error {
	if e.memberChannel == nil {
		return ErrNotMember
	}
	raw, err := wire.Encode(&wire.AppData{Payload: payload})
	if err != nil {
		return err
	}
	return e.memberChannel.Send(raw)
}

// memberSendTo ignores discoveryAddr: a member has no direct channel
// to arbitrary peers, only to its router, which is expected to relay
// or broadcast (spec.md §4.6 group relay). Callers that need a true
// direct channel to a specific peer use the identity router instead.
func (e *Engine) memberSendTo(discoveryAddr string, payload []byte) error {
	return e.memberSendToRouter(payload)
}
