package group

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/peermesh/peermesh/chat"
	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/namespace"
	"github.com/peermesh/peermesh/wire"
)

// onWireMessage is the single dispatch point for every payload riding
// the group's namespace engine, whether we're currently its router or
// an ordinary member (spec.md §4.7's membership-independent-of-router
// design: the same Manager code runs regardless of role, branching on
// m.role only where the relay path actually differs).
func (m *Manager) onWireMessage(from string, raw []byte) {
	msg, err := wire.Decode(raw)
	if err != nil {
		log.Printf("W: [group:%s] malformed frame from %s: %v", m.info.GroupID, from, err)
		return
	}
	switch mm := msg.(type) {
	case *wire.GroupCheckin:
		m.onCheckin(from, mm)
	case *wire.GroupMessage:
		m.onMemberMessage(from, mm)
	case *wire.GroupRelay:
		m.onRelay(mm)
	case *wire.GroupMessageAck:
		m.onMessageAck(mm)
	case *wire.GroupAckRelay:
		m.onAckRelay(mm)
	case *wire.GroupBackfill:
		m.onBackfill(mm)
	case *wire.GroupKeyDistribute:
		m.onKeyMessage(mm.To, mm.From, mm.IV, mm.CT, mm, false)
	case *wire.GroupKeyRotate:
		m.onKeyMessage(mm.To, mm.From, mm.IV, mm.CT, mm, true)
	case *wire.GroupKicked:
		m.onKicked(mm)
	case *wire.GroupLeave:
		m.onLeave(mm)
	case *wire.GroupInfoUpdate:
		m.onInfoUpdate(mm)
	case *wire.FileStart:
		m.onFileStart(mm)
	case *wire.FileChunk:
		m.onFileChunk(mm)
	case *wire.FileEnd:
		m.onFileEnd(mm)
	case *wire.GroupCallStart:
		m.onCallStart(mm)
	case *wire.GroupCallJoin:
		m.onCallJoin(mm)
	case *wire.GroupCallLeave:
		m.onCallLeave(mm)
	case *wire.GroupCallSignal:
		m.onCallSignal(mm)
	default:
		log.Printf("I: [group:%s] unhandled message %T from %s", m.info.GroupID, msg, from)
	}
}

// SendText encrypts body under the current group key and either
// relays it directly (if we're the group's elected router) or hands it
// to our router to relay (if we're a member), per spec.md §4.7's
// message paths.
func (m *Manager) SendText(body string) (*chat.Message, error) {
	type result struct {
		msg *chat.Message
		err error
	}
	reply := make(chan result, 1)
	m.actions <- func() {
		msg, err := m.sendText(body)
		reply <- result{msg, err}
	}
	r := <-reply
	return r.msg, r.err
}

func (m *Manager) sendText(body string) (*chat.Message, error) {
	if len(m.info.CurrentKey) == 0 {
		return nil, ErrNoKey
	}
	iv, ct, err := identity.Encrypt(m.info.CurrentKey, []byte(body))
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ts := time.Now()
	gm := wire.GroupMessage{ID: id, Ts: ts.Unix(), IV: iv, CT: ct, KeyFP: identity.FingerprintKey(m.info.CurrentKey)}
	cm := &chat.Message{ID: id, Direction: chat.Outgoing, Kind: chat.KindText, Body: body, Timestamp: ts, Status: chat.StatusWaiting}

	if m.role == namespace.RoleRouter {
		m.appendLog(gm)
		m.relayOrigin[id] = m.selfAddress
		m.deliveredTo[id] = []string{m.selfFP}
		if err := m.broadcastWire(&wire.GroupRelay{GroupMessage: gm, From: m.selfAddress}); err != nil {
			log.Printf("W: [group:%s] broadcasting own message: %v", m.info.GroupID, err)
		}
	} else if err := m.broadcastWire(&gm); err != nil {
		return nil, err
	}

	if err := cm.Advance(chat.StatusSent); err != nil {
		log.Printf("W: [group:%s] %v", m.info.GroupID, err)
	}
	return cm, nil
}

// onMemberMessage handles a GroupMessage we received as router:
// decrypt a copy to store and surface locally, opaquely re-broadcast
// to every other member, and ack the sender.
func (m *Manager) onMemberMessage(from string, gm *wire.GroupMessage) {
	key, ok := m.keyForFingerprint(gm.KeyFP)
	if !ok {
		log.Printf("W: [group:%s] unknown key epoch %q from %s", m.info.GroupID, gm.KeyFP, from)
		return
	}
	plaintext, err := identity.Decrypt(key, gm.IV, gm.CT)
	if err != nil {
		log.Printf("W: [group:%s] decrypting message from %s: %v", m.info.GroupID, from, err)
		return
	}
	m.appendLog(*gm)
	m.relayOrigin[gm.ID] = from
	m.deliveredTo[gm.ID] = appendUnique(m.deliveredTo[gm.ID], m.selfFP)

	if err := m.broadcastWire(&wire.GroupRelay{GroupMessage: *gm, From: from}); err != nil {
		log.Printf("W: [group:%s] relaying message %s: %v", m.info.GroupID, gm.ID, err)
	}
	if err := m.engine.SendAppTo(from, encodeOrNil(&wire.GroupMessageAck{ID: gm.ID, Fingerprint: m.selfFP})); err != nil {
		log.Printf("W: [group:%s] acking %s to %s: %v", m.info.GroupID, gm.ID, from, err)
	}

	m.publish(Event{Type: EventMessage, Message: &chat.Message{
		ID: gm.ID, Direction: chat.Incoming, Kind: chat.KindText,
		Body: string(plaintext), Timestamp: time.Unix(gm.Ts, 0), Status: chat.StatusDelivered,
	}})
}

// onRelay handles the router's fan-out of someone else's message
// (or, for the sender themselves, the harmless echo of their own).
func (m *Manager) onRelay(relay *wire.GroupRelay) {
	if relay.From == m.selfAddress {
		return
	}
	m.appendLog(relay.GroupMessage)
	key, ok := m.keyForFingerprint(relay.KeyFP)
	if !ok {
		log.Printf("W: [group:%s] unknown key epoch %q in relay", m.info.GroupID, relay.KeyFP)
		return
	}
	plaintext, err := identity.Decrypt(key, relay.IV, relay.CT)
	if err != nil {
		log.Printf("W: [group:%s] decrypting relayed message: %v", m.info.GroupID, err)
		return
	}
	if err := m.broadcastWire(&wire.GroupMessageAck{ID: relay.ID, Fingerprint: m.selfFP}); err != nil {
		log.Printf("W: [group:%s] acking relay %s: %v", m.info.GroupID, relay.ID, err)
	}
	m.publish(Event{Type: EventMessage, Message: &chat.Message{
		ID: relay.ID, Direction: chat.Incoming, Kind: chat.KindText,
		Body: string(plaintext), Timestamp: time.Unix(relay.Ts, 0), Status: chat.StatusDelivered,
	}})
}

// onMessageAck accumulates delivery acknowledgments (router-side) and
// relays the growing delivered-to list back to whoever originated the
// message, per spec.md §4.7's read-receipt-style delivery tracking.
func (m *Manager) onMessageAck(ack *wire.GroupMessageAck) {
	m.deliveredTo[ack.ID] = appendUnique(m.deliveredTo[ack.ID], ack.Fingerprint)
	origin, ok := m.relayOrigin[ack.ID]
	if !ok || origin == m.selfAddress {
		m.publish(Event{Type: EventInfoChanged})
		return
	}
	relay := &wire.GroupAckRelay{ID: ack.ID, DeliveredTo: append([]string(nil), m.deliveredTo[ack.ID]...)}
	if err := m.engine.SendAppTo(origin, encodeOrNil(relay)); err != nil {
		log.Printf("W: [group:%s] relaying ack for %s to %s: %v", m.info.GroupID, ack.ID, origin, err)
	}
}

func (m *Manager) onAckRelay(relay *wire.GroupAckRelay) {
	m.deliveredTo[relay.ID] = relay.DeliveredTo
	m.publish(Event{Type: EventInfoChanged})
}

// onCheckin handles a member's (re)connect announcement. As router we
// refresh its address/pubkey, answer with anything it missed since
// SinceTs, and unconditionally resend the current key — not just on a
// fresh join, but on every checkin, since a member who was offline
// through a rotation has no other way to learn the new key (spec.md
// §4.7's key lifecycle has no separate "catch up on rotations" path).
// An unrecognized fingerprint — most likely someone we kicked who still
// has the namespace slug — gets rejected rather than silently admitted.
func (m *Manager) onCheckin(from string, ci *wire.GroupCheckin) {
	if m.role != namespace.RoleRouter {
		return
	}
	mem, known := m.info.Members[ci.Fingerprint]
	if !known {
		m.deliverDirected(ci.Address, &wire.GroupKicked{To: ci.Address})
		return
	}
	addressChanged := mem.Address != ci.Address
	mem.Address = ci.Address
	mem.Name = ci.Name
	if len(mem.PublicKey) == 0 {
		mem.PublicKey = ci.PublicKey
	}
	m.info.Members[ci.Fingerprint] = mem
	if addressChanged {
		// Everyone else, including a non-router admin, only learns
		// current addresses through the router's roster broadcasts —
		// a checkin by itself only updates the router's own view.
		m.broadcastInfoLocked()
	}

	var backfill []wire.GroupMessage
	for _, gm := range m.log {
		if gm.Ts > ci.SinceTs {
			backfill = append(backfill, gm)
		}
	}
	if len(backfill) > 0 {
		if err := m.engine.SendAppTo(from, encodeOrNil(&wire.GroupBackfill{Messages: backfill})); err != nil {
			log.Printf("W: [group:%s] sending backfill to %s: %v", m.info.GroupID, ci.Fingerprint, err)
		}
	}
	if ci.Fingerprint != m.selfFP {
		m.distributeKeyTo(mem, m.info.CurrentKey, false)
	}
	m.publish(Event{Type: EventInfoChanged})
}

// onBackfill applies a router's reply to our checkin: every message we
// missed gets appended to our own log and decrypted for display, in
// timestamp order as received.
func (m *Manager) onBackfill(bf *wire.GroupBackfill) {
	for _, gm := range bf.Messages {
		gm := gm
		if m.hasLogged(gm.ID) {
			continue
		}
		m.appendLog(gm)
		key, ok := m.keyForFingerprint(gm.KeyFP)
		if !ok {
			continue
		}
		plaintext, err := identity.Decrypt(key, gm.IV, gm.CT)
		if err != nil {
			log.Printf("W: [group:%s] decrypting backfilled message %s: %v", m.info.GroupID, gm.ID, err)
			continue
		}
		m.publish(Event{Type: EventMessage, Message: &chat.Message{
			ID: gm.ID, Direction: chat.Incoming, Kind: chat.KindText,
			Body: string(plaintext), Timestamp: time.Unix(gm.Ts, 0), Status: chat.StatusDelivered,
		}})
	}
}

// appendLog records gm in our backfill log if we haven't already seen
// it (both router and member keep one, so either can serve a later
// backfill after an election failover changes who's router).
func (m *Manager) appendLog(gm wire.GroupMessage) {
	if m.hasLogged(gm.ID) {
		return
	}
	m.log = append(m.log, gm)
	if gm.Ts > m.lastTs {
		m.lastTs = gm.Ts
	}
}

func (m *Manager) hasLogged(id string) bool {
	for _, gm := range m.log {
		if gm.ID == id {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// encodeOrNil is a small convenience for fire-and-forget sends where a
// marshal failure is already logged by the caller's error check on the
// subsequent Send call.
func encodeOrNil(msg wire.Message) []byte {
	raw, err := wire.Encode(msg)
	if err != nil {
		return nil
	}
	return raw
}
