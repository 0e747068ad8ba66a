package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		&Hello{FriendlyName: "alice", PublicKey: []byte{1, 2, 3}, Ts: 42},
		&ChatMessage{ID: "m1", Ts: 1, E2E: true, IV: []byte{9}, CT: []byte{8, 7}},
		&Registry{Peers: []RegistryPeerEntry{{DiscoveryAddress: "a1", FriendlyName: "bob"}}},
		&GroupRelay{GroupMessage: GroupMessage{ID: "g1", CT: []byte{1}}, From: "fp1"},
		&GroupCallStart{CallID: "c1", MediaKind: CallVideo},
	}

	for _, want := range cases {
		raw, err := Encode(want)
		require.NoError(t, err)

		got, err := Decode(raw)
		require.NoError(t, err)
		require.Equal(t, want.Kind(), got.Kind())
		require.Equal(t, want, got)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"does-not-exist"}`))
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformed)
}
