package htio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datatrails/go-histtree/htnode"
)

func newTestFile(t *testing.T) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodes.htd")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	const blockSize = 256
	const maxChildren = 2
	require.NoError(t, f.Truncate(int64(blockSize*8)))
	return New(f, 0, blockSize, maxChildren, WithCacheSize(4))
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	fl := newTestFile(t)
	n := htnode.NewLeaf(0, htnode.NoParent, 0, 256, 2, 8)
	n.Close(100)

	require.NoError(t, fl.WriteNode(n))

	got, err := fl.ReadNode(0)
	require.NoError(t, err)
	require.Equal(t, int32(0), got.Seq())
	end, closed := got.End()
	require.True(t, closed)
	require.Equal(t, int64(100), end)
}

func TestReadNodeServesFromCacheWithoutReencoding(t *testing.T) {
	fl := newTestFile(t)
	n := htnode.NewLeaf(1, htnode.NoParent, 0, 256, 2, 8)
	n.Close(5)
	require.NoError(t, fl.WriteNode(n))

	first, err := fl.ReadNode(1)
	require.NoError(t, err)
	second, err := fl.ReadNode(1)
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestOperationsAfterCloseReturnDisposed(t *testing.T) {
	fl := newTestFile(t)
	require.NoError(t, fl.Close())

	_, err := fl.ReadNode(0)
	require.ErrorIs(t, err, ErrDisposed)

	n := htnode.NewLeaf(0, htnode.NoParent, 0, 256, 2, 8)
	err = fl.WriteNode(n)
	require.ErrorIs(t, err, ErrDisposed)

	err = fl.Sync()
	require.ErrorIs(t, err, ErrDisposed)
}

func TestCloseIsIdempotent(t *testing.T) {
	fl := newTestFile(t)
	require.NoError(t, fl.Close())
	require.NoError(t, fl.Close())
}
