package inmem

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datatrails/go-histtree/htvalue"
)

func TestInsertAndQuery(t *testing.T) {
	b := New("ssid-1", 0)
	require.NoError(t, b.InsertPastState(0, 10, 1, htvalue.Int(5)))
	require.NoError(t, b.FinishBuilding(10))

	v, ok, err := b.DoSingularQuery(5, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, v.Equal(htvalue.Int(5)))
}

func TestDoQueryFillsOutSlice(t *testing.T) {
	b := New("ssid-1", 0)
	require.NoError(t, b.InsertPastState(0, 10, 0, htvalue.Int(1)))
	require.NoError(t, b.InsertPastState(0, 10, 1, htvalue.Int(2)))

	out := make([]htvalue.Value, 2)
	require.NoError(t, b.DoQuery(out, 5))
	require.True(t, out[0].Equal(htvalue.Int(1)))
	require.True(t, out[1].Equal(htvalue.Int(2)))
}

func TestDisposeRejectsFurtherOperations(t *testing.T) {
	b := New("ssid-1", 0)
	require.NoError(t, b.Dispose())
	err := b.InsertPastState(0, 1, 0, htvalue.Int(1))
	require.ErrorIs(t, err, ErrDisposed)
}

func TestIntervalEnd(t *testing.T) {
	b := New("ssid-1", 0)
	require.NoError(t, b.InsertPastState(0, 10, 0, htvalue.Int(1)))

	end, ok, err := b.IntervalEnd(5, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10), end)
}
