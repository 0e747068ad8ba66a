package identityrouter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peermesh/peermesh/chat"
	"github.com/peermesh/peermesh/contact"
	"github.com/peermesh/peermesh/identity"
	"github.com/peermesh/peermesh/transport"
)

func newTestRouter(t *testing.T) (*Router, *identity.Manager) {
	t.Helper()
	im, err := identity.Generate()
	require.NoError(t, err)

	board := transport.NewSwitchboard()
	r := New(im, board.Peer("self"), nil)
	t.Cleanup(r.Close)
	return r, im
}

// TestVerifyIdentityPromotesPseudoRecord covers spec.md §4.5's
// address-change migration: traffic seen from an address before
// identity is confirmed is folded into the real fingerprint-keyed
// Contact once confirmed.
func TestVerifyIdentityPromotesPseudoRecord(t *testing.T) {
	r, _ := newTestRouter(t)
	peer, err := identity.Generate()
	require.NoError(t, err)
	pub := peer.Public()

	r.RegisterAddressSeen("addr-1", "Ann")
	r.VerifyIdentity("addr-1", pub.KeyBytes, "Ann")

	c, ok := r.Contact(pub.Fingerprint)
	require.True(t, ok)
	require.Equal(t, pub.Fingerprint, c.Fingerprint)
	require.Contains(t, c.KnownAddresses, "addr-1")

	_, hadPseudo := r.Contact(pseudoFP("addr-1"))
	require.False(t, hadPseudo)
}

// TestVerifyIdentityIsIdempotent covers the "merge is idempotent"
// requirement of spec.md §4.5: calling VerifyIdentity twice for the
// same (address, pubkey) doesn't duplicate addresses or re-fire a
// migration after the pseudo record is already gone.
func TestVerifyIdentityIsIdempotent(t *testing.T) {
	r, _ := newTestRouter(t)
	peer, err := identity.Generate()
	require.NoError(t, err)
	pub := peer.Public()

	r.RegisterAddressSeen("addr-1", "Ann")
	r.VerifyIdentity("addr-1", pub.KeyBytes, "Ann")
	r.VerifyIdentity("addr-1", pub.KeyBytes, "Ann")

	c, ok := r.Contact(pub.Fingerprint)
	require.True(t, ok)
	require.Equal(t, []string{"addr-1"}, c.KnownAddresses)
}

// TestVerifyIdentityMergesKnownAddresses covers merging a pre-existing
// real Contact (a different earlier address) with freshly-verified
// traffic from a new address.
func TestVerifyIdentityMergesKnownAddresses(t *testing.T) {
	r, _ := newTestRouter(t)
	peer, err := identity.Generate()
	require.NoError(t, err)
	pub := peer.Public()

	r.UpsertContact(contact.Contact{
		Fingerprint:    pub.Fingerprint,
		PublicKey:      pub.KeyBytes,
		FriendlyName:   "Ann",
		CurrentAddress: "addr-old",
		KnownAddresses: []string{"addr-old"},
		LastSeen:       time.Now().Add(-time.Hour),
	})

	r.VerifyIdentity("addr-new", pub.KeyBytes, "Ann")

	c, ok := r.Contact(pub.Fingerprint)
	require.True(t, ok)
	require.ElementsMatch(t, []string{"addr-old", "addr-new"}, c.KnownAddresses)
	require.Equal(t, "addr-new", c.CurrentAddress)
}

func TestMergeChatHistoriesDedupesByID(t *testing.T) {
	a := []chat.Message{{ID: "1", Body: "hi"}, {ID: "2", Body: "bye"}}
	b := []chat.Message{{ID: "2", Body: "bye"}, {ID: "3", Body: "ok"}}

	merged := MergeChatHistories(a, b)
	require.Len(t, merged, 3)

	again := MergeChatHistories(merged, merged)
	require.Len(t, again, 3)
}
