package identityrouter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peermesh/peermesh/chat"
	"github.com/peermesh/peermesh/contact"
	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/transport"
	"github.com/peermesh/peermesh/wire"
)

// TestSendQueuesThenFlushesAndDelivers exercises spec.md §4.5's send
// path end to end: queue while disconnected, flush on connect, and
// transition to delivered once an ack arrives.
func TestSendQueuesThenFlushesAndDelivers(t *testing.T) {
	board := transport.NewSwitchboard()

	bobDialer := board.Peer("bob")
	bobEP, err := bobDialer.CreateEndpoint(context.Background(), "bob-addr")
	require.NoError(t, err)

	acked := make(chan struct{}, 1)
	bobEP.Accept(func(ch transport.Channel) {
		ch.OnMessage(func(raw []byte) {
			msg, err := wire.Decode(raw)
			require.NoError(t, err)
			cm, ok := msg.(*wire.ChatMessage)
			require.True(t, ok)

			ack, err := wire.Encode(&wire.MessageAck{ID: cm.ID})
			require.NoError(t, err)
			require.NoError(t, ch.Send(ack))
			acked <- struct{}{}
		})
	})

	alice, alicePriv := newTestRouter(t)
	bobPriv, err := identity.Generate()
	require.NoError(t, err)
	bobPub := bobPriv.Public()
	_ = alicePriv

	alice.UpsertContact(contact.Contact{
		Fingerprint:    bobPub.Fingerprint,
		PublicKey:      bobPub.KeyBytes,
		FriendlyName:   "Bob",
		CurrentAddress: "bob-addr",
		KnownAddresses: []string{"bob-addr"},
		LastSeen:       time.Now(),
	})

	msg := &chat.Message{ID: "m1", Body: "hello bob", Timestamp: time.Now(), Status: chat.StatusWaiting}
	require.NoError(t, alice.Send(bobPub.Fingerprint, msg))

	select {
	case <-acked:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bob to receive the message")
	}

	require.Eventually(t, func() bool {
		return msg.Status == chat.StatusDelivered
	}, time.Second, 5*time.Millisecond)
}

// TestSendFailsAfterMaxRetriesEnrollsRendezvous covers the "after
// MAX_CONNECT_RETRIES direct attempts fail" fallback of spec.md §4.5.
func TestSendFailsAfterMaxRetriesEnrollsRendezvous(t *testing.T) {
	board := transport.NewSwitchboard()
	im, err := identity.Generate()
	require.NoError(t, err)

	enrolled := make(chan string, 1)
	r := New(im, board.Peer("self"), func(fp string) { enrolled <- fp })
	t.Cleanup(r.Close)

	ghost, err := identity.Generate()
	require.NoError(t, err)
	ghostPub := ghost.Public()

	r.UpsertContact(contact.Contact{
		Fingerprint:    ghostPub.Fingerprint,
		PublicKey:      ghostPub.KeyBytes,
		CurrentAddress: "nobody-home",
		KnownAddresses: []string{"nobody-home"},
		LastSeen:       time.Now(),
	})

	msg := &chat.Message{ID: "m1", Body: "hi", Timestamp: time.Now(), Status: chat.StatusWaiting}
	require.NoError(t, r.Send(ghostPub.Fingerprint, msg))

	select {
	case fp := <-enrolled:
		require.Equal(t, ghostPub.Fingerprint, fp)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rendezvous enrollment")
	}

	require.Eventually(t, func() bool {
		return msg.Status == chat.StatusFailed
	}, time.Second, 5*time.Millisecond)
}
