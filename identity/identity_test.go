package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFingerprintStableAcrossRestart(t *testing.T) {
	m, err := Generate()
	require.NoError(t, err)

	der, err := m.Marshal()
	require.NoError(t, err)

	restored, err := Import(der)
	require.NoError(t, err)

	require.Equal(t, m.Public().Fingerprint, restored.Public().Fingerprint)
	require.Len(t, m.Public().Fingerprint, 16)
}

func TestSignVerify(t *testing.T) {
	m, err := Generate()
	require.NoError(t, err)

	msg := []byte("hello peer")
	sig, err := m.Sign(msg)
	require.NoError(t, err)

	require.NoError(t, Verify(m.Public().KeyBytes, sig, msg))
	require.ErrorIs(t, Verify(m.Public().KeyBytes, sig, []byte("tampered")), ErrVerifyFailed)
}

func TestDeriveSharedSymmetric(t *testing.T) {
	alice, err := Generate()
	require.NoError(t, err)
	bob, err := Generate()
	require.NoError(t, err)

	k1, err := alice.DeriveShared(bob.Public().KeyBytes)
	require.NoError(t, err)
	k2, err := bob.DeriveShared(alice.Public().KeyBytes)
	require.NoError(t, err)

	require.Equal(t, k1, k2)
	require.Equal(t, FingerprintKey(k1), FingerprintKey(k2))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice, err := Generate()
	require.NoError(t, err)
	bob, err := Generate()
	require.NoError(t, err)

	key, err := alice.DeriveShared(bob.Public().KeyBytes)
	require.NoError(t, err)

	iv, ct, err := Encrypt(key, []byte("the rain falls mainly"))
	require.NoError(t, err)

	pt, err := Decrypt(key, iv, ct)
	require.NoError(t, err)
	require.Equal(t, "the rain falls mainly", string(pt))

	_, err = Decrypt(key, iv, append([]byte(nil), ct[:len(ct)-1]...))
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestRendezvousSlugSymmetryAndRotation(t *testing.T) {
	alice, err := Generate()
	require.NoError(t, err)
	bob, err := Generate()
	require.NoError(t, err)

	k1, err := alice.DeriveShared(bob.Public().KeyBytes)
	require.NoError(t, err)
	k2, err := bob.DeriveShared(alice.Public().KeyBytes)
	require.NoError(t, err)

	window := time.Now().Unix() / int64(10*time.Minute/time.Second)

	s1 := RendezvousSlug(k1, window)
	s2 := RendezvousSlug(k2, window)
	require.Equal(t, s1, s2)

	sNext := RendezvousSlug(k1, window+1)
	require.NotEqual(t, s1, sNext)
}
