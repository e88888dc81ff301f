package htvalue

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccessorsRejectWrongType(t *testing.T) {
	v := Int(42)
	_, err := v.StringValue()
	require.ErrorIs(t, err, ErrWrongType)

	got, err := v.IntValue()
	require.NoError(t, err)
	require.Equal(t, int32(42), got)
}

func TestEqualDoubleBitwise(t *testing.T) {
	require.True(t, Double(math.NaN()).Equal(Double(math.NaN())))
	require.False(t, Double(0.0).Equal(Double(math.Copysign(0, -1))))
}

func TestCompareNullSortsBelowEverything(t *testing.T) {
	cmp, err := Null().Compare(Int(0))
	require.NoError(t, err)
	require.Equal(t, -1, cmp)

	cmp, err = Int(0).Compare(Null())
	require.NoError(t, err)
	require.Equal(t, 1, cmp)
}

func TestCompareNumericsWiden(t *testing.T) {
	cmp, err := Int(5).Compare(Long(10))
	require.NoError(t, err)
	require.Equal(t, -1, cmp)

	cmp, err = Double(3.5).Compare(Int(3))
	require.NoError(t, err)
	require.Equal(t, 1, cmp)
}

func TestCompareIncompatibleKinds(t *testing.T) {
	_, err := String("x").Compare(Int(1))
	require.ErrorIs(t, err, ErrIncomparable)
}

func TestZeroValueIsNull(t *testing.T) {
	var v Value
	require.True(t, v.IsNull())
}
