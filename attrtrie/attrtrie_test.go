package attrtrie

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetQuarkIsStableAndCreatesInOrder(t *testing.T) {
	trie := New()

	q1 := trie.GetQuark("cpus", "0", "current_thread")
	q2 := trie.GetQuark("cpus", "1", "current_thread")
	q1Again := trie.GetQuark("cpus", "0", "current_thread")

	require.Equal(t, 0, q1)
	require.Equal(t, 1, q2)
	require.Equal(t, q1, q1Again)
}

func TestGetAttributeNameReverseLookup(t *testing.T) {
	trie := New()
	q := trie.GetQuark("memory", "total")

	name, ok := trie.GetAttributeName(q)
	require.True(t, ok)
	require.Equal(t, "memory/total", name)

	_, ok = trie.GetAttributeName(999)
	require.False(t, ok)
}

func TestLookupQuarkDoesNotCreate(t *testing.T) {
	trie := New()
	_, ok := trie.LookupQuark("missing")
	require.False(t, ok)
	require.Equal(t, 0, trie.Count())
}

func TestWriteToLoadRoundTrip(t *testing.T) {
	trie := New()
	trie.GetQuark("cpus", "0")
	trie.GetQuark("cpus", "1")
	trie.GetQuark("memory", "total")

	var buf bytes.Buffer
	_, err := trie.WriteTo(&buf)
	require.NoError(t, err)

	reloaded, err := Load(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, trie.Count(), reloaded.Count())

	for q := 0; q < trie.Count(); q++ {
		want, _ := trie.GetAttributeName(q)
		got, ok := reloaded.GetAttributeName(q)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load([]byte("not a trailer at all"))
	require.ErrorIs(t, err, ErrCorrupt)
}
