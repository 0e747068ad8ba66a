package group

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peermesh/peermesh/chat"
	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/namespace"
	"github.com/peermesh/peermesh/signaling"
	"github.com/peermesh/peermesh/transport"
	"github.com/peermesh/peermesh/wire"
)

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

type fixture struct {
	board             *transport.Switchboard
	aliceIM, bobIM    *identity.Manager
	alicePub, bobPub  identity.Public
	alice, bob        *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	board := transport.NewSwitchboard()

	aliceIM, err := identity.Generate()
	require.NoError(t, err)
	bobIM, err := identity.Generate()
	require.NoError(t, err)

	alicePub := aliceIM.Public()
	bobPub := bobIM.Public()

	aliceDialer := board.Peer("alice")
	bobDialer := board.Peer("bob")
	aliceGate := signaling.New(aliceDialer)
	bobGate := signaling.New(bobDialer)
	t.Cleanup(aliceGate.Close)
	t.Cleanup(bobGate.Close)

	alice, err := Create(aliceIM, aliceDialer, aliceGate, "pm", testConstants(), "alice-uuid", "Alice", alicePub.KeyBytes, "Friends")
	require.NoError(t, err)

	inv, err := alice.BuildInvite(bobPub.KeyBytes)
	require.NoError(t, err)

	bob, err := JoinFromInvite(bobIM, bobDialer, bobGate, "pm", testConstants(), "bob-uuid", "Bob", bobPub.KeyBytes, inv, alicePub.KeyBytes)
	require.NoError(t, err)

	t.Cleanup(alice.Close)
	t.Cleanup(bob.Close)

	alice.Start()
	bob.Start()

	return &fixture{board: board, aliceIM: aliceIM, bobIM: bobIM, alicePub: alicePub, bobPub: bobPub, alice: alice, bob: bob}
}

func TestJoinFromInviteSharesGroupKey(t *testing.T) {
	f := newFixture(t)

	aliceInfo := f.alice.Info()
	bobInfo := f.bob.Info()
	require.Equal(t, aliceInfo.GroupID, bobInfo.GroupID)
	require.Equal(t, aliceInfo.CurrentKey, bobInfo.CurrentKey)
	require.Equal(t, aliceInfo.Admin, identity.Fingerprint(f.alicePub.KeyBytes))
}

func TestMessageRelayAndAck(t *testing.T) {
	f := newFixture(t)

	var bobMsg *chat.Message
	done := make(chan struct{})
	go func() {
		for ev := range f.bob.Events() {
			if ev.Type == EventMessage {
				bobMsg = ev.Message
				close(done)
				return
			}
		}
	}()

	// Retry the send until the underlying namespace has settled on a
	// router and the message actually lands, rather than assume
	// election completes within one attempt.
	deadline := time.After(3 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-done:
			break loop
		case <-ticker.C:
			_, _ = f.alice.SendText("hello bob")
		case <-deadline:
			t.Fatal("bob never received alice's message")
		}
	}
	require.Equal(t, "hello bob", bobMsg.Body)
}

func TestKickRotatesKeyAndBlocksFurtherDecryption(t *testing.T) {
	f := newFixture(t)

	bobFP := identity.Fingerprint(f.bobPub.KeyBytes)

	kicked := make(chan struct{})
	go func() {
		for ev := range f.bob.Events() {
			if ev.Type == EventKicked {
				close(kicked)
				return
			}
		}
	}()

	// Whichever of the two namespace peers ends up elected router needs
	// to have learned bob's discovery address via his checkin before a
	// kick notice has anywhere to be addressed.
	require.Eventually(t, func() bool {
		return f.alice.Info().Members[bobFP].Address != ""
	}, 3*time.Second, 50*time.Millisecond, "alice should learn bob's address via checkin")

	require.NoError(t, f.alice.Kick(bobFP))

	select {
	case <-kicked:
	case <-time.After(2 * time.Second):
		t.Fatal("bob was never notified of being kicked")
	}

	aliceInfo := f.alice.Info()
	_, stillMember := aliceInfo.Members[bobFP]
	require.False(t, stillMember)
	require.Len(t, aliceInfo.KeyHistory, 1)

	bobInfo := f.bob.Info()
	require.NotEqual(t, aliceInfo.CurrentKey, bobInfo.CurrentKey, "bob must not learn the rotated key")
}

func TestNonAdminCannotKickOrRename(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, ErrNotAdmin, f.bob.Kick(identity.Fingerprint(f.alicePub.KeyBytes)))
	require.Equal(t, ErrNotAdmin, f.bob.Rename("New Name"))
}

// TestKeyMessageDecryptsUsingFromSender covers the case where the
// sender of a GroupKeyDistribute/GroupKeyRotate isn't the group's
// admin — a non-admin member currently holding the namespace router
// role, resending a key a reconnecting member missed. The receiver
// must derive its pairwise key against From, not always the admin.
func TestKeyMessageDecryptsUsingFromSender(t *testing.T) {
	f := newFixture(t)

	carolIM, err := identity.Generate()
	require.NoError(t, err)
	carolPub := carolIM.Public()
	carolFP := identity.Fingerprint(carolPub.KeyBytes)
	require.NotEqual(t, f.alice.info.Admin, carolFP, "carol must not be the admin for this to exercise the fix")

	pairKey, err := carolIM.DeriveShared(f.bobPub.KeyBytes)
	require.NoError(t, err)
	newKey := make([]byte, groupKeySize)
	copy(newKey, []byte("a-freshly-rotated-32-byte-key!!!"))
	iv, ct, err := identity.Encrypt(pairKey, newKey)
	require.NoError(t, err)

	done := make(chan struct{})
	f.bob.actions <- func() {
		f.bob.info.Members[carolFP] = Member{Fingerprint: carolFP, Name: "Carol", Role: RoleMember, PublicKey: carolPub.KeyBytes}
		f.bob.onKeyMessage("", carolFP, iv, ct, &wire.GroupKeyRotate{From: carolFP, IV: iv, CT: ct}, true)
		close(done)
	}
	<-done

	require.Equal(t, newKey, f.bob.Info().CurrentKey, "bob must decrypt a key message sent by a non-admin sender")
}

func TestWireKeyMessagesRoundTripThroughEncode(t *testing.T) {
	msg := &wire.GroupKeyRotate{To: "addr", IV: []byte{1, 2, 3}, CT: []byte{4, 5, 6}}
	raw, err := wire.Encode(msg)
	require.NoError(t, err)
	decoded, err := wire.Decode(raw)
	require.NoError(t, err)
	rot, ok := decoded.(*wire.GroupKeyRotate)
	require.True(t, ok)
	require.Equal(t, msg.To, rot.To)
	require.Equal(t, msg.IV, rot.IV)
}
