// Package rendezvous implements the rendezvous subsystem (RS) of
// spec.md §4.6: when two saved contacts lose track of each other's
// address, each independently derives the same time-rotating
// namespace slug from their shared pairwise key and meets there.
//
// Like namespace.Engine and identityrouter.Router, a Subsystem is a
// single-owner actor: one goroutine owns the active-rendezvous map and
// every external call is a message sent over actions, grounded on the
// same pattern as the teacher's node.go handler loop.
package rendezvous

import (
	"log"
	"sync"
	"time"

	"github.com/peermesh/peermesh/contact"
	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/namespace"
	"github.com/peermesh/peermesh/namespace/drivers"
	"github.com/peermesh/peermesh/signaling"
	"github.com/peermesh/peermesh/transport"
)

// windowDuration is spec.md §4.6's 10-minute rendezvous window.
const (
	windowDuration = 10 * time.Minute
	sweepInterval  = 60 * time.Second
	exchangeTTL    = 5 * time.Minute
	connectTimeout = 10 * time.Second
)

// ContactSource is the narrow read side of the identity router that RS
// needs: the sweep candidate set and single-contact lookups by
// fingerprint. identityrouter.Router satisfies this directly.
type ContactSource interface {
	OfflineContactsWithPublicKey() []contact.Contact
	Contact(fp string) (contact.Contact, bool)
}

// IdentityUpdater is the narrow write side: folding a confirmed
// address into a Contact and kicking off reconnection.
// identityrouter.Router satisfies this directly.
type IdentityUpdater interface {
	VerifyIdentity(address string, pubKey []byte, friendlyName string)
	Reconnect(fingerprint string)
}

// activeRendezvous tracks one contact's current rendezvous engine.
type activeRendezvous struct {
	fp           string
	friendlyName string
	pubKey       []byte
	pairKey      []byte
	window       int64
	slug         string
	engine       *namespace.Engine
	timer        *time.Timer
	answered     map[transport.Channel]bool
	foundAddr    string
	settled      bool
}

// Subsystem runs one namespace engine per actively-searched-for
// contact (spec.md §4.6's "map: fingerprint -> {NSState, NSConfig,
// window_timer}").
type Subsystem struct {
	im       *identity.Manager
	dialer   transport.Dialer
	gate     *signaling.Gate
	prefix   string
	cst      namespace.Constants
	contacts ContactSource
	updater  IdentityUpdater

	selfUUID    string
	selfFP      string
	selfName    string
	selfPub     []byte
	selfAddress string // our own persistent discovery address, exchanged with peers

	actions   chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	active map[string]*activeRendezvous
}

// New builds a Subsystem. selfAddress is the discovery address other
// processes can transport.Dialer.Connect to reach us directly (e.g.
// this process's public-IP namespace discovery id); it is what gets
// carried in our half of the rvz-exchange.
func New(im *identity.Manager, dialer transport.Dialer, gate *signaling.Gate, prefix string, cst namespace.Constants, contacts ContactSource, updater IdentityUpdater, selfUUID, selfName, selfAddress string, selfPub []byte) *Subsystem {
	return &Subsystem{
		im:          im,
		dialer:      dialer,
		gate:        gate,
		prefix:      prefix,
		cst:         cst,
		contacts:    contacts,
		updater:     updater,
		selfUUID:    selfUUID,
		selfFP:      identity.Fingerprint(selfPub),
		selfName:    selfName,
		selfPub:     selfPub,
		selfAddress: selfAddress,
		actions:     make(chan func(), 64),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		active:      make(map[string]*activeRendezvous),
	}
}

// Start launches the subsystem's loop and runs an immediate sweep.
func (s *Subsystem) Start() {
	go s.loop()
	s.actions <- func() { s.sweep() }
}

// Close tears down every active rendezvous engine. Safe to call more
// than once.
func (s *Subsystem) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
	})
}

// Enroll activates rendezvous search for fp immediately, rather than
// waiting for the next 60s sweep — the identity router calls this on
// its EventEnrolledRendezvous (spec.md §4.5's "enroll F in the
// rendezvous subsystem").
func (s *Subsystem) Enroll(fp string) {
	s.actions <- func() {
		if _, active := s.active[fp]; active {
			return
		}
		c, ok := s.contacts.Contact(fp)
		if !ok || len(c.PublicKey) == 0 {
			return
		}
		s.activate(fp, c.PublicKey, c.FriendlyName)
	}
}

func (s *Subsystem) loop() {
	defer close(s.done)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			for fp := range s.active {
				s.deactivate(fp)
			}
			return
		case fn := <-s.actions:
			fn()
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Subsystem) sweep() {
	for _, c := range s.contacts.OfflineContactsWithPublicKey() {
		if _, active := s.active[c.Fingerprint]; active {
			continue
		}
		s.activate(c.Fingerprint, c.PublicKey, c.FriendlyName)
	}
}

func currentWindow(now time.Time) int64 {
	return now.Unix() / int64(windowDuration/time.Second)
}

// timeUntilNextWindow returns the delay until the next wall-clock
// window boundary, per spec.md §4.6 "rotate on wall-clock boundaries".
func timeUntilNextWindow(now time.Time) time.Duration {
	secs := int64(windowDuration / time.Second)
	rem := secs - (now.Unix() % secs)
	return time.Duration(rem) * time.Second
}

func (s *Subsystem) activate(fp string, pubKey []byte, friendlyName string) {
	pairKey, err := s.im.DeriveShared(pubKey)
	if err != nil {
		log.Printf("W: [rendezvous] deriving shared key for %s: %v", fp, err)
		return
	}
	now := time.Now()
	window := currentWindow(now)
	slug := identity.RendezvousSlug(pairKey, window)
	cfg := drivers.NewRendezvousConfig(s.prefix, slug)

	eng := namespace.New(cfg, s.cst, s.dialer, s.gate, s.selfUUID, s.selfFP, s.selfName, s.selfPub)
	ar := &activeRendezvous{
		fp:           fp,
		friendlyName: friendlyName,
		pubKey:       pubKey,
		pairKey:      pairKey,
		window:       window,
		slug:         slug,
		engine:       eng,
		answered:     make(map[transport.Channel]bool),
	}
	eng.SetRawDiscoveryHandler(func(ch transport.Channel, raw []byte) {
		s.actions <- func() { s.handleExchangeFrame(ar, ch, raw) }
	})
	eng.Start()

	s.active[fp] = ar
	go s.watchEvents(ar)
	s.armWindowTimer(ar)
}

func (s *Subsystem) armWindowTimer(ar *activeRendezvous) {
	d := timeUntilNextWindow(time.Now())
	ar.timer = time.AfterFunc(d, func() {
		s.actions <- func() { s.rotateWindow(ar.fp) }
	})
}

func (s *Subsystem) rotateWindow(fp string) {
	ar, ok := s.active[fp]
	if !ok || ar.settled {
		return
	}
	pubKey, friendlyName := ar.pubKey, ar.friendlyName
	s.deactivate(fp)
	s.activate(fp, pubKey, friendlyName)
}

func (s *Subsystem) deactivate(fp string) {
	ar, ok := s.active[fp]
	if !ok {
		return
	}
	if ar.timer != nil {
		ar.timer.Stop()
	}
	ar.engine.Close()
	delete(s.active, fp)
}

// watchEvents runs on its own goroutine per active rendezvous (mirrors
// how identityrouter and embedders drain namespace.Engine.Events());
// it only ever reaches back into the subsystem through s.actions.
func (s *Subsystem) watchEvents(ar *activeRendezvous) {
	for ev := range ar.engine.Events() {
		if ev.Type != namespace.EventPeerDiscovered {
			continue
		}
		entry := ev.Entry
		if len(entry.PublicKey) == 0 || !publicKeysEqual(entry.PublicKey, ar.pubKey) {
			continue
		}
		addr := entry.DiscoveryAddress
		s.actions <- func() { s.onPeerFound(ar.fp, addr) }
	}
}

func (s *Subsystem) onPeerFound(fp, address string) {
	ar, ok := s.active[fp]
	if !ok || ar.settled || ar.foundAddr != "" {
		return
	}
	ar.foundAddr = address
	go s.connectAndExchange(ar, address)
}

func publicKeysEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
