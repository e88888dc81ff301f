package null

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datatrails/go-histtree/htvalue"
)

func TestInsertsAreAcceptedAndDiscarded(t *testing.T) {
	b := New("ssid-1", 0, 100)
	require.NoError(t, b.InsertPastState(0, 10, 1, htvalue.Int(5)))
	require.NoError(t, b.FinishBuilding(100))

	v, ok, err := b.DoSingularQuery(5, 1)
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, v.IsNull())
}

func TestDisposedRejectsFurtherOperations(t *testing.T) {
	b := New("ssid-1", 0, 100)
	require.NoError(t, b.Dispose())

	err := b.InsertPastState(0, 10, 1, htvalue.Int(5))
	require.ErrorIs(t, err, ErrDisposed)

	_, _, err = b.DoSingularQuery(5, 1)
	require.ErrorIs(t, err, ErrDisposed)
}

func TestGetters(t *testing.T) {
	b := New("ssid-1", 3, 7)
	require.Equal(t, "ssid-1", b.GetSSID())
	require.Equal(t, int64(3), b.GetStartTime())
	require.Equal(t, int64(7), b.GetEndTime())
}
