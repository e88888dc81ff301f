package htinterval

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datatrails/go-histtree/htvalue"
)

func TestRoundTripEveryKind(t *testing.T) {
	cases := []htvalue.Value{
		htvalue.Null(),
		htvalue.Bool(true),
		htvalue.Bool(false),
		htvalue.Int(-7),
		htvalue.Long(1 << 40),
		htvalue.Double(3.5),
		htvalue.String("cpus/0/current_thread"),
		htvalue.String(""),
	}

	for _, v := range cases {
		iv, err := New(10, 20, 3, v)
		require.NoError(t, err)

		buf, err := iv.Encode(nil)
		require.NoError(t, err)
		require.Len(t, buf, iv.EncodedSize())

		got, consumed, err := Decode(buf)
		require.NoError(t, err)
		require.Equal(t, len(buf), consumed)
		require.Equal(t, iv.Start, got.Start)
		require.Equal(t, iv.End, got.End)
		require.Equal(t, iv.Quark, got.Quark)
		require.True(t, v.Equal(got.Value), "value round-trip mismatch for %s", v.Kind())
	}
}

func TestNewRejectsInvertedRange(t *testing.T) {
	_, err := New(20, 10, 0, htvalue.Null())
	require.ErrorIs(t, err, ErrStartAfterEnd)
}

func TestNewRejectsNegativeQuark(t *testing.T) {
	_, err := New(0, 10, -1, htvalue.Null())
	require.ErrorIs(t, err, ErrNegativeQuark)
}

func TestDecodeDetectsCorruptStringTerminator(t *testing.T) {
	iv, err := New(0, 10, 0, htvalue.String("abc"))
	require.NoError(t, err)
	buf, err := iv.Encode(nil)
	require.NoError(t, err)

	buf[len(buf)-1] = 1 // corrupt the terminating zero byte
	_, _, err = Decode(buf)
	require.ErrorIs(t, err, ErrStringNotNulTerm)
}

func TestDecodeTruncatedBuffer(t *testing.T) {
	_, _, err := Decode([]byte{0, 1, 2})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestIntersects(t *testing.T) {
	iv, err := New(10, 20, 0, htvalue.Null())
	require.NoError(t, err)
	require.True(t, iv.Intersects(10))
	require.True(t, iv.Intersects(20))
	require.False(t, iv.Intersects(9))
	require.False(t, iv.Intersects(21))
}
