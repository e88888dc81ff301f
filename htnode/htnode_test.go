package htnode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datatrails/go-histtree/htinterval"
	"github.com/datatrails/go-histtree/htvalue"
)

func mustInterval(t *testing.T, start, end int64, quark int, v htvalue.Value) htinterval.Interval {
	iv, err := htinterval.New(start, end, quark, v)
	require.NoError(t, err)
	return iv
}

func TestLeafAppendKeepsIntervalsSortedByEnd(t *testing.T) {
	leaf := NewLeaf(1, NoParent, 0, 4096, 8, 64)

	require.NoError(t, leaf.Append(mustInterval(t, 0, 30, 1, htvalue.Int(1))))
	require.NoError(t, leaf.Append(mustInterval(t, 0, 10, 2, htvalue.Int(2))))
	require.NoError(t, leaf.Append(mustInterval(t, 0, 20, 3, htvalue.Int(3))))

	matches := leaf.Covering(10, nil)
	require.Len(t, matches, 3)
	require.Equal(t, 2, matches[0].Quark)
	require.Equal(t, 3, matches[1].Quark)
	require.Equal(t, 1, matches[2].Quark)
}

func TestLeafRelevantIntervalUsesBloomFilter(t *testing.T) {
	leaf := NewLeaf(1, NoParent, 0, 4096, 8, 64)
	require.NoError(t, leaf.Append(mustInterval(t, 0, 10, 5, htvalue.Int(99))))

	_, ok := leaf.RelevantInterval(5, 5)
	require.True(t, ok)

	_, ok = leaf.RelevantInterval(6, 5)
	require.False(t, ok)
}

func TestAppendRejectsOversizedInterval(t *testing.T) {
	leaf := NewLeaf(1, NoParent, 0, 64, 2, 8)
	big := mustInterval(t, 0, 10, 0, htvalue.String("this string is deliberately far too long to fit in a 64 byte block"))
	require.ErrorIs(t, leaf.Append(big), ErrNodeFull)
}

func TestCloseRecordsMaxOfObservedAndTrigger(t *testing.T) {
	leaf := NewLeaf(1, NoParent, 0, 4096, 8, 64)
	require.NoError(t, leaf.Append(mustInterval(t, 0, 50, 1, htvalue.Int(1))))

	leaf.Close(30)
	end, closed := leaf.End()
	require.True(t, closed)
	require.Equal(t, int64(50), end)
}

func TestCloseEmptyNodeIsToleratedNotError(t *testing.T) {
	leaf := NewLeaf(1, NoParent, 100, 4096, 8, 64)
	leaf.Close(5) // triggering time before the node's own start
	end, closed := leaf.End()
	require.True(t, closed)
	require.Equal(t, int64(5), end)
	require.Less(t, end, leaf.Start())
}

func TestCoreLinkChildRespectsMaxChildren(t *testing.T) {
	core := NewCore(0, NoParent, 0, 4096, 2)
	require.NoError(t, core.LinkChild(1, 0))
	require.NoError(t, core.LinkChild(2, 10))
	require.ErrorIs(t, core.LinkChild(3, 20), ErrTooManyKids)
}

func TestSelectNextChildScansNewestFirst(t *testing.T) {
	core := NewCore(0, NoParent, 0, 4096, 4)
	require.NoError(t, core.LinkChild(1, 0))
	require.NoError(t, core.LinkChild(2, 10))
	require.NoError(t, core.LinkChild(3, 20))

	child, ok := core.SelectNextChild(15)
	require.True(t, ok)
	require.Equal(t, int32(2), child)

	child, ok = core.SelectNextChild(100)
	require.True(t, ok)
	require.Equal(t, int32(3), child)

	_, ok = core.SelectNextChild(-1)
	require.False(t, ok)
}

func TestEncodeDecodeRoundTripLeaf(t *testing.T) {
	leaf := NewLeaf(3, 1, 0, 4096, 8, 64)
	require.NoError(t, leaf.Append(mustInterval(t, 0, 10, 1, htvalue.Long(123))))
	require.NoError(t, leaf.Append(mustInterval(t, 0, 20, 2, htvalue.String("hi"))))
	leaf.Close(20)

	block, err := leaf.Encode()
	require.NoError(t, err)
	require.Len(t, block, 4096)

	got, err := Decode(block, 4096, 8)
	require.NoError(t, err)
	require.Equal(t, leaf.Seq(), got.Seq())
	require.Equal(t, leaf.Parent(), got.Parent())
	require.True(t, got.IsLeaf())

	matches := got.Covering(10, nil)
	require.Len(t, matches, 2)
	require.Equal(t, 1, matches[0].Quark)
	require.Equal(t, 2, matches[1].Quark)
}

func TestEncodeDecodeRoundTripCore(t *testing.T) {
	core := NewCore(0, NoParent, 0, 4096, 4)
	require.NoError(t, core.LinkChild(1, 0))
	require.NoError(t, core.LinkChild(2, 50))
	core.Close(100)

	block, err := core.Encode()
	require.NoError(t, err)

	got, err := Decode(block, 4096, 4)
	require.NoError(t, err)
	require.True(t, got.IsCore())
	require.Equal(t, 2, got.ChildCount())

	child, ok := got.SelectNextChild(60)
	require.True(t, ok)
	require.Equal(t, int32(2), child)
}
