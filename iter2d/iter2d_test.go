package iter2d

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datatrails/go-histtree/htbackend/inmem"
	"github.com/datatrails/go-histtree/htvalue"
)

func TestQueryYieldsOnceForAConstantIntervalSpanningTheWholeRange(t *testing.T) {
	src := inmem.New("ssid-1", 0)
	require.NoError(t, src.InsertPastState(0, 100, 1, htvalue.Int(1)))

	var got []int64
	for tm, out := range Query(src, []int{1}, 10, 0, 30) {
		got = append(got, tm)
		v, ok := out[1]
		require.True(t, ok)
		require.True(t, v.Equal(htvalue.Int(1)))
	}
	// The interval runs well past "to", so the scheduler jumps straight from
	// the first sample to a due time beyond the range and stops.
	require.Equal(t, []int64{0}, got)
}

func TestQuerySkipsAheadAcrossAConstantInterval(t *testing.T) {
	src := inmem.New("ssid-1", 0)
	require.NoError(t, src.InsertPastState(0, 1000, 1, htvalue.Int(1)))
	require.NoError(t, src.InsertPastState(1001, 1010, 1, htvalue.Int(2)))

	var got []int64
	for tm, out := range Query(src, []int{1}, 10, 0, 1010) {
		got = append(got, tm)
		_ = out
	}
	require.Equal(t, int64(0), got[0])
	require.Contains(t, got, int64(1010))
	require.Less(t, len(got), 101)
}

func TestQueryStopsAtTo(t *testing.T) {
	src := inmem.New("ssid-1", 0)
	require.NoError(t, src.InsertPastState(0, 5, 1, htvalue.Int(1)))
	require.NoError(t, src.InsertPastState(6, 12, 1, htvalue.Int(2)))
	require.NoError(t, src.InsertPastState(13, 1000, 1, htvalue.Int(3)))

	var got []int64
	for tm := range Query(src, []int{1}, 10, 0, 20) {
		got = append(got, tm)
	}
	// Each short interval forces a due time within range; the final,
	// long-running interval pushes the next due time past "to" and the
	// iterator stops there.
	require.Equal(t, []int64{0, 10, 20}, got)
}

func TestQueryWithNoQuarksYieldsNothing(t *testing.T) {
	src := inmem.New("ssid-1", 0)
	count := 0
	for range Query(src, nil, 10, 0, 100) {
		count++
	}
	require.Equal(t, 0, count)
}
