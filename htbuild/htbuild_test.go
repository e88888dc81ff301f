package htbuild

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datatrails/go-histtree/historytree"
	"github.com/datatrails/go-histtree/htvalue"
)

func buildTreeFile(t *testing.T, path string, queueSize int) {
	t.Helper()
	tree, err := historytree.Create(path, historytree.Config{BlockSize: 256, MaxChildren: 2, StartTime: 0})
	require.NoError(t, err)

	b := New(tree, queueSize, nil)
	for i := 0; i < 50; i++ {
		start := int64(i * 10)
		end := start + 9
		require.NoError(t, b.Insert(start, end, 0, htvalue.Int(int32(i))))
	}
	require.NoError(t, b.FinishBuilding(500))
	require.NoError(t, b.WaitUntilBuilt(context.Background()))
	require.NoError(t, b.Dispose())
}

// S5: the threaded variant must produce a file byte-identical to the
// synchronous variant given the same sequence of insertions, since a single
// consumer goroutine applies commands to the tree in the order they were
// submitted either way.
func TestThreadedAndSynchronousBuildsAreByteIdentical(t *testing.T) {
	dir := t.TempDir()
	syncPath := filepath.Join(dir, "sync.htd")
	threadedPath := filepath.Join(dir, "threaded.htd")

	buildTreeFile(t, syncPath, 0)
	buildTreeFile(t, threadedPath, 8)

	syncBytes, err := os.ReadFile(syncPath)
	require.NoError(t, err)
	threadedBytes, err := os.ReadFile(threadedPath)
	require.NoError(t, err)
	require.Equal(t, syncBytes, threadedBytes)
}

// Regression test: FinishBuilding followed by Dispose is the ordinary
// build lifecycle (S3/S4) and must not panic by sending or closing the
// already-closed queue a second time.
func TestThreadedFinishThenDisposeDoesNotPanic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifecycle.htd")
	tree, err := historytree.Create(path, historytree.Config{BlockSize: 4096, MaxChildren: 4, StartTime: 0})
	require.NoError(t, err)

	b := New(tree, 4, nil)
	require.NoError(t, b.Insert(0, 10, 0, htvalue.Int(1)))
	require.NoError(t, b.FinishBuilding(10))
	require.NoError(t, b.WaitUntilBuilt(context.Background()))
	require.NoError(t, b.Dispose())

	reopened, err := historytree.Open(path, historytree.Config{})
	require.NoError(t, err)
	require.NoError(t, reopened.Dispose())
}

// Dispose before FinishBuilding abandons the build; a subsequent
// FinishBuilding must fail cleanly rather than sending on the queue Dispose
// already closed.
func TestThreadedDisposeThenFinishFailsCleanly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abandoned.htd")
	tree, err := historytree.Create(path, historytree.Config{BlockSize: 4096, MaxChildren: 4, StartTime: 0})
	require.NoError(t, err)

	b := New(tree, 4, nil)
	require.NoError(t, b.Insert(0, 10, 0, htvalue.Int(1)))
	require.NoError(t, b.Dispose())

	err = b.FinishBuilding(10)
	require.ErrorIs(t, err, ErrQueueClosed)

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestThreadedInsertAfterFinishFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.htd")
	tree, err := historytree.Create(path, historytree.Config{BlockSize: 4096, MaxChildren: 4, StartTime: 0})
	require.NoError(t, err)

	b := New(tree, 4, nil)
	require.NoError(t, b.FinishBuilding(0))

	err = b.Insert(0, 1, 0, htvalue.Int(1))
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestSynchronousBuilderDelegatesDirectly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.htd")
	tree, err := historytree.Create(path, historytree.Config{BlockSize: 4096, MaxChildren: 4, StartTime: 0})
	require.NoError(t, err)

	b := New(tree, 0, nil)
	require.NoError(t, b.Insert(0, 10, 0, htvalue.Int(1)))
	require.NoError(t, b.FinishBuilding(10))
	require.NoError(t, b.Dispose())
}
