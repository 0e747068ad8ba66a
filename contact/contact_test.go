package contact

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peermesh/peermesh/identity"
)

func TestValidateFingerprintMismatch(t *testing.T) {
	m, err := identity.Generate()
	require.NoError(t, err)
	pub := m.Public()

	c := Contact{Fingerprint: "deadbeefdeadbeef", PublicKey: pub.KeyBytes}
	require.ErrorIs(t, c.Validate(), ErrInvariant)

	c.Fingerprint = pub.Fingerprint
	require.NoError(t, c.Validate())
}

func TestValidateCurrentAddressMembership(t *testing.T) {
	c := Contact{CurrentAddress: "addr-1", KnownAddresses: []string{"addr-2"}}
	require.ErrorIs(t, c.Validate(), ErrInvariant)

	c.KnownAddresses = append(c.KnownAddresses, "addr-1")
	require.NoError(t, c.Validate())
}

func TestValidateOutgoingPendingHasNoSharedKey(t *testing.T) {
	c := Contact{Pending: PendingOutgoing, SharedKeyFingerprint: "abc"}
	require.ErrorIs(t, c.Validate(), ErrInvariant)

	c.SharedKeyFingerprint = ""
	require.NoError(t, c.Validate())
}

func TestWithAddressAppendsOnce(t *testing.T) {
	c := Contact{}
	c = c.WithAddress("a")
	c = c.WithAddress("a")
	c = c.WithAddress("b")
	require.Equal(t, []string{"a", "b"}, c.KnownAddresses)
	require.Equal(t, "b", c.CurrentAddress)
}
