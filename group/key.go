package group

import (
	"crypto/rand"
	"log"

	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/namespace"
	"github.com/peermesh/peermesh/wire"
)

// forwardIfNotOurs relays a directed control message (GroupKeyDistribute/
// GroupKeyRotate/GroupKicked, all of which carry a To discovery
// address) on to its recipient when we're the group's router but
// aren't ourselves the intended recipient — the admin that originated
// it may not be router, so it reaches its target over one extra router
// hop, the same way GroupRelay carries an ordinary message one hop
// further than the sender could reach alone. Returns true if the
// message was (or should have been) forwarded rather than handled
// locally.
func (m *Manager) forwardIfNotOurs(to string, msg wire.Message) bool {
	if to == "" || to == m.selfAddress {
		return false
	}
	if m.role == namespace.RoleRouter {
		raw, err := wire.Encode(msg)
		if err != nil {
			log.Printf("W: [group:%s] re-encoding forwarded frame: %v", m.info.GroupID, err)
			return true
		}
		if err := m.engine.SendAppTo(to, raw); err != nil {
			log.Printf("W: [group:%s] forwarding directed frame to %s: %v", m.info.GroupID, to, err)
		}
	}
	return true
}

// deliverDirected sends msg addressed to a member's discovery address:
// straight there if we're router, via our own router's relay
// otherwise.
func (m *Manager) deliverDirected(to string, msg wire.Message) {
	if to == "" || to == m.selfAddress {
		return
	}
	raw, err := wire.Encode(msg)
	if err != nil {
		log.Printf("W: [group:%s] encoding directed frame to %s: %v", m.info.GroupID, to, err)
		return
	}
	if m.role == namespace.RoleRouter {
		if err := m.engine.SendAppTo(to, raw); err != nil {
			log.Printf("W: [group:%s] direct send to %s: %v", m.info.GroupID, to, err)
		}
		return
	}
	if err := m.engine.BroadcastApp(raw); err != nil {
		log.Printf("W: [group:%s] relay-via-router send: %v", m.info.GroupID, err)
	}
}

// distributeKeyTo encrypts key under the pairwise key between us and
// mem and sends it as either an initial distribution or a rotation
// notice, stamped with our own fingerprint as From so the recipient
// derives the matching pairwise key regardless of whether we're
// currently the admin or just the router resending a key the recipient
// missed (spec.md §4.7 "or with the router").
func (m *Manager) distributeKeyTo(mem Member, key []byte, rotate bool) {
	if len(mem.PublicKey) == 0 || mem.Address == "" {
		return
	}
	pairKey, err := m.im.DeriveShared(mem.PublicKey)
	if err != nil {
		log.Printf("W: [group:%s] deriving pairwise key for %s: %v", m.info.GroupID, mem.Fingerprint, err)
		return
	}
	iv, ct, err := identity.Encrypt(pairKey, key)
	if err != nil {
		log.Printf("W: [group:%s] encrypting key for %s: %v", m.info.GroupID, mem.Fingerprint, err)
		return
	}
	if rotate {
		m.deliverDirected(mem.Address, &wire.GroupKeyRotate{To: mem.Address, From: m.selfFP, IV: iv, CT: ct})
	} else {
		m.deliverDirected(mem.Address, &wire.GroupKeyDistribute{To: mem.Address, From: m.selfFP, IV: iv, CT: ct})
	}
}

// rotateKeyLocked generates a fresh group key, archives the old one so
// history already relayed under it stays decryptable, and redistributes
// the new key to every remaining member (spec.md §4.7: kicking a member
// forces a rotation so they can't decrypt anything sent afterward).
func (m *Manager) rotateKeyLocked() {
	old := m.info.CurrentKey
	newKey := make([]byte, groupKeySize)
	if _, err := rand.Read(newKey); err != nil {
		log.Printf("E: [group:%s] generating rotated key: %v", m.info.GroupID, err)
		return
	}
	m.info.KeyHistory = append([][]byte{old}, m.info.KeyHistory...)
	m.info.CurrentKey = newKey

	for fp, mem := range m.info.Members {
		if fp == m.selfFP {
			continue
		}
		m.distributeKeyTo(mem, newKey, true)
	}
	m.publish(Event{Type: EventKeyRotated})
}

// onKeyMessage applies an inbound GroupKeyDistribute/GroupKeyRotate
// addressed to us, or relays it onward if we're router for someone
// else. from identifies whoever actually encrypted the payload — the
// admin normally, but possibly a non-admin router resending a key on
// our behalf after a failover — so we derive the matching pairwise key
// against from's public key rather than always the admin's.
func (m *Manager) onKeyMessage(to, from string, iv, ct []byte, msg wire.Message, rotate bool) {
	if m.forwardIfNotOurs(to, msg) {
		return
	}
	senderPub := m.info.Members[from].PublicKey
	if len(senderPub) == 0 {
		log.Printf("W: [group:%s] received key message from unknown sender %s", m.info.GroupID, from)
		return
	}
	pairKey, err := m.im.DeriveShared(senderPub)
	if err != nil {
		log.Printf("W: [group:%s] deriving sender pairwise key: %v", m.info.GroupID, err)
		return
	}
	key, err := identity.Decrypt(pairKey, iv, ct)
	if err != nil {
		log.Printf("W: [group:%s] decrypting key message: %v", m.info.GroupID, err)
		return
	}
	if rotate {
		m.info.KeyHistory = append([][]byte{m.info.CurrentKey}, m.info.KeyHistory...)
	}
	m.info.CurrentKey = key
	m.publish(Event{Type: EventKeyRotated})
}

// keyForFingerprint returns the key that should decrypt a message
// tagged keyFP: the current key if it matches, otherwise a search
// through history (spec.md §4.7: old messages stay decryptable across
// a rotation).
func (m *Manager) keyForFingerprint(keyFP string) ([]byte, bool) {
	if identity.FingerprintKey(m.info.CurrentKey) == keyFP {
		return m.info.CurrentKey, true
	}
	for _, k := range m.info.KeyHistory {
		if identity.FingerprintKey(k) == keyFP {
			return k, true
		}
	}
	return nil, false
}
