// Package group implements the group subsystem (GS) of spec.md §4.7: a
// group is itself a namespace (the "group" flavor of namespace/drivers),
// whose elected router relays member traffic star-style and whose
// membership survives that router's failover.
//
// Manager is a single-owner actor, grounded on the same pattern as
// namespace.Engine and identityrouter.Router: one goroutine owns all
// group state (membership, key history, the backfill log, call state)
// and every external call is a message sent over actions.
package group

import (
	"log"
	"sync"
	"time"

	"github.com/peermesh/peermesh/chat"
	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/namespace"
	"github.com/peermesh/peermesh/namespace/drivers"
	"github.com/peermesh/peermesh/signaling"
	"github.com/peermesh/peermesh/transport"
	"github.com/peermesh/peermesh/wire"
)

// Role mirrors a member's standing within the group (distinct from the
// underlying namespace engine's router/member role, which rotates on
// failover independent of group membership).
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Member is one entry of Info.Members, spec.md §3's Group info member
// record.
type Member struct {
	Fingerprint string
	Name        string
	Role        Role
	PublicKey   []byte
	Address     string // last known group-namespace discovery address
	JoinedAt    time.Time
}

// Info mirrors spec.md §3's Group info exactly, plus the key history
// needed to decrypt messages relayed under a since-rotated key.
type Info struct {
	GroupID    string
	Name       string
	Admin      string // creator fingerprint
	Members    map[string]Member
	InviteSlug string

	CurrentKey  []byte
	KeyHistory  [][]byte // most-recent-first; used only to decrypt old messages
}

// Participant is one entry of CallState.Participants, spec.md §3's
// Group call state.
type Participant struct {
	Fingerprint string
	Name        string
	Address     string
	JoinedAt    time.Time
	Connecting  bool // true until a media stream is attached
}

// CallState mirrors spec.md §3's Group call state. At most one is
// active per group.
type CallState struct {
	CallID       string
	Kind         wire.CallKind
	Participants map[string]Participant
}

// EventType enumerates what a Manager publishes to its embedder.
type EventType int

const (
	EventMemberJoined EventType = iota
	EventMemberLeft
	EventKicked // we were kicked; the group is no longer usable locally
	EventKeyRotated
	EventMessage
	EventInfoChanged
	EventCallUpdated
	EventCallSignal
	EventFileReceived
)

// Event is the group manager's single outward notification type.
type Event struct {
	Type EventType

	Member  Member         // EventMemberJoined / EventMemberLeft
	Message *chat.Message  // EventMessage
	Call    *CallState     // EventCallUpdated
	Signal  *wire.GroupCallSignal // EventCallSignal
	File    *ReceivedFile  // EventFileReceived
}

// ReceivedFile describes a fully-reassembled incoming file transfer;
// the embedder is responsible for persisting File.Data to its blob
// store keyed by TransferID (spec.md §6's persisted-state layout).
type ReceivedFile struct {
	TransferID string
	Name       string
	Size       int64
	Data       []byte
	From       string // sender fingerprint, if known
}

// inFlightTransfer tracks one chunked transfer being reassembled,
// spec.md §4.7 "router assembles a local copy while relaying chunks;
// each member assembles independently".
type inFlightTransfer struct {
	name   string
	size   int64
	total  int
	chunks [][]byte
	got    int
}

// Manager owns one group's membership, key lifecycle, message relay,
// backfill log, and call-participant state, riding a single
// namespace.Engine built from drivers.NewGroupConfig.
type Manager struct {
	im     *identity.Manager
	engine *namespace.Engine

	cfg         namespace.Config
	selfUUID    string
	selfFP      string
	selfName    string
	selfPub     []byte
	selfAddress string

	actions   chan func()
	events    chan Event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	info Info
	role namespace.Role // the underlying namespace engine's current role

	// log holds every GroupMessage this process has seen, in receive
	// order, regardless of whether it is currently group router — so
	// that if failover later elects it router, it can still serve
	// backfill to a degree (spec.md §4.7 "membership is independent of
	// who happens to be router").
	log []wire.GroupMessage

	// relayOrigin maps a message id to the discovery address it was
	// relayed from, so the router can route accumulated acks back to
	// the original sender (router-only state).
	relayOrigin map[string]string
	deliveredTo map[string][]string

	transfers map[string]*inFlightTransfer // router- and member-side, by tid
	sentTIDs  map[string]bool              // transfers we originated, to ignore our own echoed-back frames

	call *CallState

	lastTs int64
}

func newManager(im *identity.Manager, dialer transport.Dialer, gate *signaling.Gate, cfg namespace.Config, cst namespace.Constants, selfUUID, selfFP, selfName string, selfPub []byte, info Info) *Manager {
	m := &Manager{
		im:          im,
		cfg:         cfg,
		selfUUID:    selfUUID,
		selfFP:      selfFP,
		selfName:    selfName,
		selfPub:     selfPub,
		selfAddress: cfg.DiscoveryID(selfUUID),
		actions:     make(chan func(), 64),
		events:      make(chan Event, 256),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		info:        info,
		relayOrigin: make(map[string]string),
		deliveredTo: make(map[string][]string),
		transfers:   make(map[string]*inFlightTransfer),
		sentTIDs:    make(map[string]bool),
	}
	if self, ok := m.info.Members[selfFP]; ok {
		self.Address = m.selfAddress
		m.info.Members[selfFP] = self
	}
	m.engine = namespace.New(cfg, cst, dialer, gate, selfUUID, selfFP, selfName, selfPub)
	return m
}

// Start launches the group namespace engine and the manager's own
// event-processing loop.
func (m *Manager) Start() {
	m.engine.Start()
	go m.loop()
	go m.watchEngineEvents()
}

// Events returns the channel of outward notifications.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Info returns a point-in-time copy of the group's metadata.
func (m *Manager) Info() Info {
	reply := make(chan Info, 1)
	m.actions <- func() { reply <- m.snapshotInfoLocked() }
	return <-reply
}

func (m *Manager) snapshotInfoLocked() Info {
	members := make(map[string]Member, len(m.info.Members))
	for k, v := range m.info.Members {
		members[k] = v
	}
	history := make([][]byte, len(m.info.KeyHistory))
	copy(history, m.info.KeyHistory)
	return Info{
		GroupID:    m.info.GroupID,
		Name:       m.info.Name,
		Admin:      m.info.Admin,
		Members:    members,
		InviteSlug: m.info.InviteSlug,
		CurrentKey: append([]byte(nil), m.info.CurrentKey...),
		KeyHistory: history,
	}
}

// Close tears down the group namespace engine. Safe to call more than
// once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.quit)
		<-m.done
		m.engine.Close()
	})
}

func (m *Manager) loop() {
	defer close(m.done)
	defer close(m.events)
	for {
		select {
		case <-m.quit:
			return
		case fn := <-m.actions:
			fn()
		}
	}
}

func (m *Manager) watchEngineEvents() {
	for ev := range m.engine.Events() {
		ev := ev
		switch ev.Type {
		case namespace.EventRoleChanged:
			m.actions <- func() { m.onRoleChanged(ev.Role) }
		case namespace.EventMessage:
			m.actions <- func() { m.onWireMessage(ev.From, ev.Payload) }
		}
	}
}

func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		log.Printf("W: [group:%s] event channel full, dropping %v", m.info.GroupID, ev.Type)
	}
}

func (m *Manager) onRoleChanged(role namespace.Role) {
	wasRouter := m.role == namespace.RoleRouter
	m.role = role
	if role == namespace.RoleMember && !wasRouter {
		m.sendCheckin()
	}
	if role == namespace.RoleRouter && !wasRouter {
		// A router never checks in with itself, so its own address
		// would otherwise never reach anyone already holding a stale
		// roster snapshot from before the election.
		m.broadcastInfoLocked()
	}
}

// broadcastWire encodes msg and hands it to the underlying namespace
// engine's broadcast: a full fan-out if we're router, a single hop to
// our router otherwise (which then re-broadcasts per spec.md §4.7's
// star-relay message paths).
func (m *Manager) broadcastWire(msg wire.Message) error {
	raw, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return m.engine.BroadcastApp(raw)
}

func (m *Manager) sendCheckin() {
	raw, err := wire.Encode(&wire.GroupCheckin{
		Fingerprint: m.selfFP,
		Name:        m.selfName,
		PublicKey:   m.selfPub,
		Address:     m.selfAddress,
		SinceTs:     m.lastTs,
	})
	if err != nil {
		log.Printf("W: [group:%s] encoding checkin: %v", m.info.GroupID, err)
		return
	}
	if err := m.engine.BroadcastApp(raw); err != nil {
		log.Printf("W: [group:%s] sending checkin: %v", m.info.GroupID, err)
	}
}
