package rendezvous

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peermesh/peermesh/contact"
	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/namespace"
	"github.com/peermesh/peermesh/signaling"
	"github.com/peermesh/peermesh/transport"
)

type fakeContacts struct {
	mu sync.Mutex
	m  map[string]contact.Contact
}

func newFakeContacts(cs ...contact.Contact) *fakeContacts {
	f := &fakeContacts{m: make(map[string]contact.Contact)}
	for _, c := range cs {
		f.m[c.Fingerprint] = c
	}
	return f
}

func (f *fakeContacts) OfflineContactsWithPublicKey() []contact.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]contact.Contact, 0, len(f.m))
	for _, c := range f.m {
		out = append(out, c)
	}
	return out
}

func (f *fakeContacts) Contact(fp string) (contact.Contact, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.m[fp]
	return c, ok
}

type verifiedCall struct {
	address, friendlyName string
	pubKey                []byte
}

type fakeUpdater struct {
	mu        sync.Mutex
	verified  []verifiedCall
	reconnect []string
}

func (f *fakeUpdater) VerifyIdentity(address string, pubKey []byte, friendlyName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = append(f.verified, verifiedCall{address, friendlyName, pubKey})
}

func (f *fakeUpdater) Reconnect(fingerprint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnect = append(f.reconnect, fingerprint)
}

func (f *fakeUpdater) snapshot() ([]verifiedCall, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]verifiedCall(nil), f.verified...), append([]string(nil), f.reconnect...)
}

func testConstants() namespace.Constants {
	return namespace.Constants{
		TTL:             300 * time.Millisecond,
		TTLGrace:        100 * time.Millisecond,
		PingInterval:    50 * time.Millisecond,
		MonitorInterval: 50 * time.Millisecond,
		PeerSlotProbe:   50 * time.Millisecond,
		MaxLevel:        3,
	}
}

// TestMutualRendezvousFindsBothPeers covers spec.md §4.6's correctness
// guarantee: two peers online within the same window, sharing a key,
// both claim/join the same slug namespace, exchange signed addresses,
// and each migrates the other's Contact to the freshly learned address.
func TestMutualRendezvousFindsBothPeers(t *testing.T) {
	board := transport.NewSwitchboard()

	aliceIM, err := identity.Generate()
	require.NoError(t, err)
	bobIM, err := identity.Generate()
	require.NoError(t, err)
	alicePub := aliceIM.Public()
	bobPub := bobIM.Public()

	aliceContacts := newFakeContacts(contact.Contact{
		Fingerprint:    bobPub.Fingerprint,
		PublicKey:      bobPub.KeyBytes,
		FriendlyName:   "Bob",
		KnownAddresses: nil,
	})
	bobContacts := newFakeContacts(contact.Contact{
		Fingerprint:    alicePub.Fingerprint,
		PublicKey:      alicePub.KeyBytes,
		FriendlyName:   "Alice",
		KnownAddresses: nil,
	})

	aliceUpdater := &fakeUpdater{}
	bobUpdater := &fakeUpdater{}

	aliceDialer := board.Peer("alice")
	bobDialer := board.Peer("bob")
	aliceGate := signaling.New(aliceDialer)
	bobGate := signaling.New(bobDialer)
	t.Cleanup(aliceGate.Close)
	t.Cleanup(bobGate.Close)

	alice := New(aliceIM, aliceDialer, aliceGate, "pm", testConstants(), aliceContacts, aliceUpdater,
		"alice-uuid", "Alice", "alice-direct-addr", alicePub.KeyBytes)
	bob := New(bobIM, bobDialer, bobGate, "pm", testConstants(), bobContacts, bobUpdater,
		"bob-uuid", "Bob", "bob-direct-addr", bobPub.KeyBytes)
	t.Cleanup(alice.Close)
	t.Cleanup(bob.Close)

	alice.Start()
	bob.Start()

	require.Eventually(t, func() bool {
		verified, reconnected := aliceUpdater.snapshot()
		if len(verified) == 0 || len(reconnected) == 0 {
			return false
		}
		return verified[0].address == "bob-direct-addr" && reconnected[0] == bobPub.Fingerprint
	}, 3*time.Second, 10*time.Millisecond, "alice should learn bob's address via rendezvous")

	require.Eventually(t, func() bool {
		verified, reconnected := bobUpdater.snapshot()
		if len(verified) == 0 || len(reconnected) == 0 {
			return false
		}
		return verified[0].address == "alice-direct-addr" && reconnected[0] == alicePub.Fingerprint
	}, 3*time.Second, 10*time.Millisecond, "bob should learn alice's address via rendezvous")
}

// TestEnrollActivatesImmediately covers the identity router's
// EventEnrolledRendezvous -> Subsystem.Enroll fast path, rather than
// waiting for the next periodic sweep.
func TestEnrollActivatesImmediately(t *testing.T) {
	board := transport.NewSwitchboard()

	im, err := identity.Generate()
	require.NoError(t, err)
	peer, err := identity.Generate()
	require.NoError(t, err)
	peerPub := peer.Public()

	contacts := newFakeContacts(contact.Contact{
		Fingerprint:  peerPub.Fingerprint,
		PublicKey:    peerPub.KeyBytes,
		FriendlyName: "Peer",
	})
	updater := &fakeUpdater{}

	dialer := board.Peer("self")
	gate := signaling.New(dialer)
	t.Cleanup(gate.Close)

	sub := New(im, dialer, gate, "pm", testConstants(), contacts, updater, "self-uuid", "Self", "self-addr", im.Public().KeyBytes)
	t.Cleanup(sub.Close)
	sub.Start()

	sub.Enroll(peerPub.Fingerprint)

	require.Eventually(t, func() bool {
		sub2 := sub
		reply := make(chan bool, 1)
		sub2.actions <- func() {
			_, active := sub2.active[peerPub.Fingerprint]
			reply <- active
		}
		return <-reply
	}, time.Second, 10*time.Millisecond, "Enroll should activate a rendezvous engine for the target fingerprint")
}
