// Package identityrouter implements the Identity Router (IR) of spec.md
// §4.5: it presents the outer API in terms of fingerprints while the
// transport speaks addresses, migrating records forward as addresses
// change and running the per-fingerprint send queue with reconnect and
// rendezvous fallback.
//
// Grounded on the teacher's peer.go mailbox (connect/disconnect/send,
// drop-and-reconnect-on-failure) generalized from one TCP mailbox per
// peer identity to one logical channel per fingerprint, addressed
// indirectly through whatever transport address currently resolves to
// that fingerprint.
package identityrouter

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/peermesh/peermesh/chat"
	"github.com/peermesh/peermesh/contact"
	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/transport"
)

const (
	maxConnectRetries = 3
	ackTimeout        = 2 * time.Minute
	sweepInterval     = 30 * time.Second
	sweepBatch        = 3
	sweepStagger      = 2 * time.Second
	ackCheckInterval  = 15 * time.Second
)

// EventType enumerates IR's outward notifications.
type EventType int

const (
	// EventContactMigrated fires after an address-keyed record is
	// folded into (or promoted to) a fingerprint-keyed Contact.
	EventContactMigrated EventType = iota
	// EventMessageStatus fires whenever a queued/in-flight message's
	// chat.Status changes.
	EventMessageStatus
	// EventEnrolledRendezvous fires when a fingerprint exhausts direct
	// reconnect attempts and is handed to the rendezvous subsystem.
	EventEnrolledRendezvous
)

// Event is IR's single outward notification type.
type Event struct {
	Type           EventType
	Fingerprint    string
	OldFingerprint string // EventContactMigrated
	Message        *chat.Message
}

type pendingSend struct {
	msg       *chat.Message
	plaintext []byte
	sentAt    time.Time
}

// Router is the single-owner IR actor: one goroutine owns the contact
// table, address map, in-flight set, and per-fingerprint queues.
type Router struct {
	im     *identity.Manager
	dialer transport.Dialer

	// enrollRendezvous is called (outside the loop goroutine) once a
	// fingerprint exhausts direct reconnect attempts, per spec.md
	// §4.5. Wired to rendezvous.Subsystem.Enroll by the embedder.
	enrollRendezvous func(fingerprint string)

	actions   chan func()
	events    chan Event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	contacts   map[string]contact.Contact // keyed by fingerprint, or "addr:<address>" for unresolved records
	sharedKeys map[string][]byte          // fingerprint -> cached pairwise AES key
	channels   map[string]transport.Channel
	queues     map[string][]*pendingSend
	awaiting   map[string][]*pendingSend
	failures   map[string]int
	inFlight   map[string]bool

	sweepCursor []string
}

// New constructs an IR actor. enrollRendezvous may be nil if the
// embedder doesn't wire the rendezvous subsystem (e.g. tests).
func New(im *identity.Manager, dialer transport.Dialer, enrollRendezvous func(string)) *Router {
	r := &Router{
		im:               im,
		dialer:           dialer,
		enrollRendezvous: enrollRendezvous,
		actions:          make(chan func(), 64),
		events:           make(chan Event, 256),
		quit:             make(chan struct{}),
		done:             make(chan struct{}),
		contacts:         make(map[string]contact.Contact),
		sharedKeys:       make(map[string][]byte),
		channels:         make(map[string]transport.Channel),
		queues:           make(map[string][]*pendingSend),
		awaiting:         make(map[string][]*pendingSend),
		failures:         make(map[string]int),
		inFlight:         make(map[string]bool),
	}
	go r.loop()
	return r
}

// Events returns the channel of outward notifications.
func (r *Router) Events() <-chan Event { return r.events }

// Close stops the router's loop. Safe to call more than once.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		close(r.quit)
		<-r.done
	})
}

func (r *Router) loop() {
	defer close(r.done)
	defer close(r.events)

	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()
	ackTicker := time.NewTicker(ackCheckInterval)
	defer ackTicker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case fn := <-r.actions:
			fn()
		case <-sweepTicker.C:
			r.sweep()
		case <-ackTicker.C:
			r.checkAckTimeouts()
		}
	}
}

func (r *Router) publish(ev Event) {
	select {
	case r.events <- ev:
	default:
		log.Printf("W: [identityrouter] event channel full, dropping %v", ev.Type)
	}
}

// pseudoFP is the synthetic key used to track a transport address we've
// seen traffic from but haven't yet cryptographically verified,
// mirroring the teacher's requirePeer()'s "create on first sight, fill
// in details once Hello arrives" pattern generalized to fingerprints.
func pseudoFP(address string) string {
	return "addr:" + address
}

// UpsertContact registers or replaces a known contact (e.g. loaded from
// the store at startup, or freshly accepted by the user).
func (r *Router) UpsertContact(c contact.Contact) {
	reply := make(chan struct{})
	r.actions <- func() {
		r.contacts[c.Fingerprint] = c
		close(reply)
	}
	<-reply
}

// Contact returns a copy of the current contact record for fp, if any.
func (r *Router) Contact(fp string) (contact.Contact, bool) {
	reply := make(chan struct {
		c  contact.Contact
		ok bool
	}, 1)
	r.actions <- func() {
		c, ok := r.contacts[fp]
		reply <- struct {
			c  contact.Contact
			ok bool
		}{c, ok}
	}
	res := <-reply
	return res.c, res.ok
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
