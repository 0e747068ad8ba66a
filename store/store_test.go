package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("a", []byte("1")))
	require.NoError(t, s.Put("b", []byte("2")))

	v, err := s.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	_, err = s.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete("a"))
	_, err = s.Get("a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListPrefix(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("contacts/fp1", []byte("one")))
	require.NoError(t, s.Put("contacts/fp2", []byte("two")))
	require.NoError(t, s.Put("chats/fp1", []byte("three")))

	got, err := s.ListPrefix("contacts/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []byte("one"), got["contacts/fp1"])
}

func TestJSONStoreRoundTrip(t *testing.T) {
	type widget struct {
		Name string
		N    int
	}
	js := NewJSONStore(NewMemoryStore())
	require.NoError(t, js.PutJSON("w/1", widget{Name: "a", N: 1}))

	var got widget
	require.NoError(t, js.GetJSON("w/1", &got))
	require.Equal(t, widget{Name: "a", N: 1}, got)
}

func TestListPrefixJSON(t *testing.T) {
	type widget struct{ N int }
	js := NewJSONStore(NewMemoryStore())
	require.NoError(t, js.PutJSON("w/1", widget{N: 1}))
	require.NoError(t, js.PutJSON("w/2", widget{N: 2}))

	got, err := ListPrefixJSON(js, "w/", func() widget { return widget{} })
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peermesh.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("k", []byte("v1")))
	v, err := s.Get("k")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Put("k", []byte("v2")))
	v, err = s.Get("k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)

	require.NoError(t, s.Put("group-msgs-abc", []byte("m1")))
	got, err := s.ListPrefix("group-msgs-")
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, s.Delete("k"))
	_, err = s.Get("k")
	require.ErrorIs(t, err, ErrNotFound)
}
