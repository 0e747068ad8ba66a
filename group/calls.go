package group

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/peermesh/peermesh/namespace"
	"github.com/peermesh/peermesh/wire"
)

// StartGroupCall announces a new mesh call to the group; participants
// join the mesh directly with each other once signaled, the router
// only ever relaying opaque signaling payloads (spec.md §4.7 Calls:
// "no media relay, mesh-only").
func (m *Manager) StartGroupCall(kind wire.CallKind) (string, error) {
	reply := make(chan struct {
		id  string
		err error
	}, 1)
	m.actions <- func() {
		id, err := m.startGroupCall(kind)
		reply <- struct {
			id  string
			err error
		}{id, err}
	}
	r := <-reply
	return r.id, r.err
}

func (m *Manager) startGroupCall(kind wire.CallKind) (string, error) {
	if m.call != nil {
		return "", ErrCallInProgress
	}
	id := uuid.NewString()
	m.call = &CallState{
		CallID: id,
		Kind:   kind,
		Participants: map[string]Participant{
			m.selfFP: {Fingerprint: m.selfFP, Name: m.selfName, JoinedAt: time.Now()},
		},
	}
	if err := m.broadcastWire(&wire.GroupCallStart{CallID: id, MediaKind: kind}); err != nil {
		return "", err
	}
	m.publish(Event{Type: EventCallUpdated, Call: m.call})
	return id, nil
}

func (m *Manager) onCallStart(msg *wire.GroupCallStart) {
	if m.call != nil {
		return
	}
	m.call = &CallState{CallID: msg.CallID, Kind: msg.MediaKind, Participants: map[string]Participant{}}
	if m.role == namespace.RoleRouter {
		if err := m.broadcastWire(msg); err != nil {
			log.Printf("W: [group:%s] relaying call start %s: %v", m.info.GroupID, msg.CallID, err)
		}
	}
	m.publish(Event{Type: EventCallUpdated, Call: m.call})
}

// JoinGroupCall joins the currently announced call.
func (m *Manager) JoinGroupCall(callID string) error {
	reply := make(chan error, 1)
	m.actions <- func() { reply <- m.joinGroupCall(callID) }
	return <-reply
}

func (m *Manager) joinGroupCall(callID string) error {
	if m.call == nil || m.call.CallID != callID {
		return ErrNoSuchCall
	}
	m.call.Participants[m.selfFP] = Participant{Fingerprint: m.selfFP, Name: m.selfName, JoinedAt: time.Now(), Connecting: true}
	if err := m.broadcastWire(&wire.GroupCallJoin{CallID: callID, Fingerprint: m.selfFP}); err != nil {
		return err
	}
	m.publish(Event{Type: EventCallUpdated, Call: m.call})
	return nil
}

func (m *Manager) onCallJoin(msg *wire.GroupCallJoin) {
	if m.call == nil || m.call.CallID != msg.CallID {
		return
	}
	mem := m.info.Members[msg.Fingerprint]
	m.call.Participants[msg.Fingerprint] = Participant{Fingerprint: msg.Fingerprint, Name: mem.Name, Address: mem.Address, JoinedAt: time.Now(), Connecting: true}
	if m.role == namespace.RoleRouter {
		if err := m.broadcastWire(msg); err != nil {
			log.Printf("W: [group:%s] relaying call join %s: %v", m.info.GroupID, msg.CallID, err)
		}
	}
	m.publish(Event{Type: EventCallUpdated, Call: m.call})
}

// LeaveGroupCall leaves the call currently in progress, tearing it
// down entirely if we were its last participant.
func (m *Manager) LeaveGroupCall() error {
	reply := make(chan error, 1)
	m.actions <- func() { reply <- m.leaveGroupCall() }
	return <-reply
}

func (m *Manager) leaveGroupCall() error {
	if m.call == nil {
		return ErrNoSuchCall
	}
	id := m.call.CallID
	delete(m.call.Participants, m.selfFP)
	if err := m.broadcastWire(&wire.GroupCallLeave{CallID: id, Fingerprint: m.selfFP}); err != nil {
		return err
	}
	if len(m.call.Participants) == 0 {
		m.call = nil
		m.publish(Event{Type: EventCallUpdated, Call: nil})
		return nil
	}
	m.publish(Event{Type: EventCallUpdated, Call: m.call})
	return nil
}

func (m *Manager) onCallLeave(msg *wire.GroupCallLeave) {
	if m.call == nil || m.call.CallID != msg.CallID {
		return
	}
	delete(m.call.Participants, msg.Fingerprint)
	if m.role == namespace.RoleRouter {
		if err := m.broadcastWire(msg); err != nil {
			log.Printf("W: [group:%s] relaying call leave %s: %v", m.info.GroupID, msg.CallID, err)
		}
	}
	if len(m.call.Participants) == 0 {
		m.call = nil
	}
	m.publish(Event{Type: EventCallUpdated, Call: m.call})
}

// SignalGroupCall forwards mesh negotiation data (offer/answer/ICE-
// equivalent) to one participant, addressed by fingerprint rather than
// discovery address — the router resolves it from current membership,
// a distinct addressing scheme from the key/kick control messages
// (which already carry the resolved address since the admin knows it).
func (m *Manager) SignalGroupCall(callID, signalType, to string, payload []byte) error {
	reply := make(chan error, 1)
	m.actions <- func() {
		reply <- m.broadcastWire(&wire.GroupCallSignal{CallID: callID, SignalType: signalType, From: m.selfFP, To: to, Payload: payload})
	}
	return <-reply
}

func (m *Manager) onCallSignal(msg *wire.GroupCallSignal) {
	if msg.To != "" && msg.To != m.selfFP {
		if m.role == namespace.RoleRouter {
			if target, ok := m.info.Members[msg.To]; ok && target.Address != "" {
				if err := m.engine.SendAppTo(target.Address, encodeOrNil(msg)); err != nil {
					log.Printf("W: [group:%s] forwarding call signal to %s: %v", m.info.GroupID, msg.To, err)
				}
			}
		}
		return
	}
	m.publish(Event{Type: EventCallSignal, Signal: msg})
}
