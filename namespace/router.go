package namespace

import (
	"bytes"
	"context"
	"time"

	"github.com/peermesh/peermesh/signaling"
	"github.com/peermesh/peermesh/transport"
	"github.com/peermesh/peermesh/wire"
)

// becomeRouter is entered once this process has successfully claimed
// the router id at level, per spec.md §4.3. It accepts inbound member
// connections on the router endpoint. The persistent discovery
// endpoint for direct peer connects (the "discovery id") is not
// started here: maintainDiscoveryEndpoint, queued by Start, keeps it
// up in every role, mirroring the teacher's beacon-plus-ROUTER-socket
// split: one endpoint for cluster membership, one for discovery.
func (e *Engine) becomeRouter(level int, ep transport.Endpoint) {
	e.routerEndpoint = ep
	e.routerMembers = make(map[string]transport.Channel)
	self := RegistryEntry{
		DiscoveryAddress: e.cfg.DiscoveryID(e.selfUUID),
		FriendlyName:     e.selfName,
		LastSeen:         time.Now(),
		PublicKey:        e.selfPub,
		ContactFP:        e.selfFP,
	}
	e.registry = map[string]RegistryEntry{self.DiscoveryAddress: self}
	e.setRole(RoleRouter, level, JoinSettled)
	e.log("became router at level %d", level)

	ep.Accept(func(ch transport.Channel) {
		e.actions <- func() { e.onRouterAccept(ch) }
	})
}

// onRouterAccept wires a freshly-accepted member channel; the peer's
// identity isn't known until its first Checkin arrives.
func (e *Engine) onRouterAccept(ch transport.Channel) {
	pending := true
	var addr string

	ch.OnClose(func(err error) {
		e.actions <- func() {
			if !pending {
				e.onMemberDisconnected(addr)
			}
		}
	})
	ch.OnMessage(func(raw []byte) {
		e.actions <- func() {
			msg, err := wire.Decode(raw)
			if err != nil {
				e.log("router: malformed frame from new member: %v", err)
				return
			}
			if pending {
				ci, ok := msg.(*wire.Checkin)
				if !ok {
					e.log("router: expected checkin, got %T", msg)
					ch.Close()
					return
				}
				pending = false
				addr = ci.DiscoveryID
				e.onMemberCheckin(ch, ci)
				return
			}
			e.onRouterInbound(addr, msg)
		}
	})
}

func (e *Engine) onMemberCheckin(ch transport.Channel, ci *wire.Checkin) {
	entry := RegistryEntry{
		DiscoveryAddress: ci.DiscoveryID,
		FriendlyName:     ci.FriendlyName,
		LastSeen:         time.Now(),
		PublicKey:        ci.PublicKey,
	}

	// spec.md §4.3: dedupe by public key on every checkin. A peer that
	// reconnected under a new discovery address still holds the same
	// key, so its old entry (and the now-dead channel it pointed at)
	// would otherwise linger until TTL eviction.
	if len(entry.PublicKey) > 0 {
		for addr, old := range e.registry {
			if addr == entry.DiscoveryAddress || !bytes.Equal(old.PublicKey, entry.PublicKey) {
				continue
			}
			delete(e.registry, addr)
			delete(e.routerMembers, addr)
			e.publish(Event{Type: EventPeerLost, Entry: old})
		}
	}

	_, existed := e.registry[entry.DiscoveryAddress]
	e.registry[entry.DiscoveryAddress] = entry
	e.routerMembers[entry.DiscoveryAddress] = ch

	if !existed {
		e.publish(Event{Type: EventPeerDiscovered, Entry: entry})
	}
	e.broadcastRegistry()
}

func (e *Engine) onRouterInbound(addr string, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.Checkin:
		// a member re-checking in (e.g. after its own reconnect) refreshes
		// liveness the same way a Ping reply would.
		if entry, ok := e.registry[addr]; ok {
			entry.LastSeen = time.Now()
			e.registry[addr] = entry
		}
	case *wire.Pong:
		if entry, ok := e.registry[addr]; ok {
			entry.LastSeen = time.Now()
			e.registry[addr] = entry
		}
	case *wire.AppData:
		e.publish(Event{Type: EventMessage, From: addr, Payload: m.Payload})
	default:
		e.log("router: unexpected message %T from %s", msg, addr)
	}
}

func (e *Engine) onMemberDisconnected(addr string) {
	delete(e.routerMembers, addr)
	if entry, ok := e.registry[addr]; ok {
		delete(e.registry, addr)
		e.publish(Event{Type: EventPeerLost, Entry: entry})
		e.broadcastRegistry()
	}
}

// evictStale drops members that haven't pinged within TTL+grace,
// per spec.md §5's TTL contract.
func (e *Engine) evictStale(now time.Time) {
	cutoff := now.Add(-(e.cst.TTL + e.cst.TTLGrace))
	self := e.cfg.DiscoveryID(e.selfUUID)
	changed := false
	for addr, entry := range e.registry {
		if addr == self {
			continue
		}
		if entry.LastSeen.Before(cutoff) {
			if ch, ok := e.routerMembers[addr]; ok {
				ch.Close()
				delete(e.routerMembers, addr)
			}
			delete(e.registry, addr)
			e.publish(Event{Type: EventPeerLost, Entry: entry})
			changed = true
		}
	}
	if changed {
		e.broadcastRegistry()
	}
}

// pingMembers sends a liveness Ping to every member, per spec.md §5's
// PING_INTERVAL contract.
func (e *Engine) pingMembers() {
	for addr, ch := range e.routerMembers {
		raw, err := wire.Encode(&wire.Ping{})
		if err != nil {
			continue
		}
		if err := ch.Send(raw); err != nil {
			e.log("router: ping to %s failed: %v", addr, err)
		}
	}
}

func (e *Engine) broadcastRegistry() {
	peers := make([]wire.RegistryPeerEntry, 0, len(e.registry))
	for _, entry := range e.registry {
		peers = append(peers, wire.RegistryPeerEntry{
			DiscoveryAddress: entry.DiscoveryAddress,
			FriendlyName:     entry.FriendlyName,
			PublicKey:        entry.PublicKey,
			LastSeen:         entry.LastSeen.Unix(),
		})
	}
	raw, err := wire.Encode(&wire.Registry{Peers: peers})
	if err != nil {
		return
	}
	for addr, ch := range e.routerMembers {
		if err := ch.Send(raw); err != nil {
			e.log("router: registry push to %s failed: %v", addr, err)
		}
	}
}

// monitorForEscalation probes whether a lower level has freed up, per
// spec.md §4.3's "monitor-for-L1": a router sitting at level > 1
// periodically tries to claim the router id one level down; if it
// succeeds, it migrates the whole namespace there and tells every
// member to follow via Migrate.
func (e *Engine) monitorForEscalation(now time.Time) {
	if e.role != RoleRouter || e.level <= 1 {
		return
	}
	targetLevel := e.level - 1
	targetID := e.cfg.RouterID(targetLevel)
	seq := e.attemptSeq

	e.gate.Schedule(func(ctx context.Context) {
		ep, err := e.dialer.CreateEndpoint(ctx, targetID)
		if err != nil {
			e.gate.ReportFailure()
			return
		}
		e.gate.ReportSuccess()
		e.actions <- func() {
			if seq != e.attemptSeq || e.role != RoleRouter {
				ep.Close()
				return
			}
			e.migrateRouterTo(targetLevel, ep)
		}
	}, signaling.PriorityNormal)
}

func (e *Engine) migrateRouterTo(level int, ep transport.Endpoint) {
	old := e.routerEndpoint
	oldLevel := e.level
	e.routerEndpoint = ep
	e.level = level
	e.log("migrated router from level %d to %d", oldLevel, level)

	raw, err := wire.Encode(&wire.Migrate{Level: level})
	if err == nil {
		for addr, ch := range e.routerMembers {
			if err := ch.Send(raw); err != nil {
				e.log("router: migrate notice to %s failed: %v", addr, err)
			}
		}
	}
	ep.Accept(func(ch transport.Channel) {
		e.actions <- func() { e.onRouterAccept(ch) }
	})
	if old != nil {
		old.Close()
	}
	e.publish(Event{Type: EventRoleChanged})
}

func (e *Engine) routerSendTo(discoveryAddr string, payload []byte) error {
	ch, ok := e.routerMembers[discoveryAddr]
	if !ok {
		return ErrUnknownPeer
	}
	raw, err := wire.Encode(&wire.AppData{Payload: payload})
	if err != nil {
		return err
	}
	return ch.Send(raw)
}

func (e *Engine) routerBroadcast(payload []byte) error {
	raw, err := wire.Encode(&wire.AppData{Payload: payload})
	if err != nil {
		return err
	}
	var firstErr error
	for _, ch := range e.routerMembers {
		if err := ch.Send(raw); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
