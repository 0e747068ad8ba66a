package group

import (
	"log"
	"time"

	"github.com/peermesh/peermesh/namespace"
	"github.com/peermesh/peermesh/wire"
)

// Kick removes a member from the group, forcing a key rotation so they
// lose access to anything sent afterward (spec.md §4.7). Admin-only,
// and independent of which process currently holds the namespace's
// elected router role.
func (m *Manager) Kick(fingerprint string) error {
	reply := make(chan error, 1)
	m.actions <- func() { reply <- m.kick(fingerprint) }
	return <-reply
}

func (m *Manager) kick(fingerprint string) error {
	if m.selfFP != m.info.Admin {
		return ErrNotAdmin
	}
	mem, ok := m.info.Members[fingerprint]
	if !ok {
		return ErrUnknownMember
	}
	delete(m.info.Members, fingerprint)
	m.deliverDirected(mem.Address, &wire.GroupKicked{To: mem.Address})
	m.rotateKeyLocked()
	m.broadcastInfoLocked()
	m.publish(Event{Type: EventMemberLeft, Member: mem})
	return nil
}

// onKicked handles being told we were removed from the group: nothing
// further can be decrypted or sent, so we surface the event and let
// the embedder tear the Manager down.
func (m *Manager) onKicked(msg *wire.GroupKicked) {
	if m.forwardIfNotOurs(msg.To, msg) {
		return
	}
	m.publish(Event{Type: EventKicked})
}

// Leave announces a voluntary departure and removes our own entry from
// the local view of membership. Unlike Kick this is self-service and
// available to any member, including the admin (who remains the
// group's Admin field historically, since admin never transfers).
func (m *Manager) Leave() {
	reply := make(chan struct{}, 1)
	m.actions <- func() {
		m.leave()
		reply <- struct{}{}
	}
	<-reply
}

func (m *Manager) leave() {
	if err := m.broadcastWire(&wire.GroupLeave{Fingerprint: m.selfFP, Name: m.selfName}); err != nil {
		log.Printf("W: [group:%s] announcing leave: %v", m.info.GroupID, err)
	}
	delete(m.info.Members, m.selfFP)
}

// onLeave handles another member's voluntary departure: drop them from
// our membership view and, if we're router, relay the notice onward
// so every member converges on the same roster.
func (m *Manager) onLeave(msg *wire.GroupLeave) {
	mem, ok := m.info.Members[msg.Fingerprint]
	if !ok {
		return
	}
	delete(m.info.Members, msg.Fingerprint)
	if m.role == namespace.RoleRouter {
		if err := m.broadcastWire(msg); err != nil {
			log.Printf("W: [group:%s] relaying leave notice: %v", m.info.GroupID, err)
		}
	}
	m.publish(Event{Type: EventMemberLeft, Member: mem})
}

// Rename changes the group's display name. Admin-only; broadcasts the
// new metadata to every member.
func (m *Manager) Rename(name string) error {
	reply := make(chan error, 1)
	m.actions <- func() { reply <- m.rename(name) }
	return <-reply
}

func (m *Manager) rename(name string) error {
	if m.selfFP != m.info.Admin {
		return ErrNotAdmin
	}
	m.info.Name = name
	m.broadcastInfoLocked()
	m.publish(Event{Type: EventInfoChanged})
	return nil
}

// broadcastInfoLocked announces the current membership/name snapshot
// to everyone, used after a kick or rename, on becoming router, and when
// a member's address changes at checkin. A leave is relayed as the
// GroupLeave notice itself, not through this snapshot.
func (m *Manager) broadcastInfoLocked() {
	if err := m.broadcastWire(&wire.GroupInfoUpdate{Info: m.inviteInfoLocked()}); err != nil {
		log.Printf("W: [group:%s] broadcasting info update: %v", m.info.GroupID, err)
	}
}

// onInfoUpdate applies an authoritative membership/name snapshot
// received from the router.
func (m *Manager) onInfoUpdate(msg *wire.GroupInfoUpdate) {
	m.info.Name = msg.Info.Name
	m.info.Admin = msg.Info.Admin
	members := make(map[string]Member, len(msg.Info.Members))
	for _, wm := range msg.Info.Members {
		mem := Member{
			Fingerprint: wm.Fingerprint,
			Name:        wm.Name,
			Role:        Role(wm.Role),
			PublicKey:   wm.PublicKey,
			Address:     wm.Address,
			JoinedAt:    time.Unix(wm.JoinedAt, 0),
		}
		members[wm.Fingerprint] = mem
	}
	m.info.Members = members
	m.publish(Event{Type: EventInfoChanged})
}
