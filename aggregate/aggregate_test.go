package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datatrails/go-histtree/htvalue"
)

func TestSum(t *testing.T) {
	got := Sum{}.Aggregate([]htvalue.Value{htvalue.Int(1), htvalue.Long(2), htvalue.Double(1.5)})
	v, err := got.DoubleValue()
	require.NoError(t, err)
	require.Equal(t, 4.5, v)
}

func TestSumSkipsNonNumeric(t *testing.T) {
	got := Sum{}.Aggregate([]htvalue.Value{htvalue.String("x"), htvalue.Int(3), htvalue.Null()})
	v, err := got.DoubleValue()
	require.NoError(t, err)
	require.Equal(t, 3.0, v)
}

func TestSumOfEmptyIsNull(t *testing.T) {
	got := Sum{}.Aggregate(nil)
	require.True(t, got.IsNull())
}

func TestMax(t *testing.T) {
	got := Max{}.Aggregate([]htvalue.Value{htvalue.Int(1), htvalue.Long(9), htvalue.Double(4.2)})
	v, err := got.DoubleValue()
	require.NoError(t, err)
	require.Equal(t, 9.0, v)
}

func TestMaxOfAllNonNumericIsNull(t *testing.T) {
	got := Max{}.Aggregate([]htvalue.Value{htvalue.String("a"), htvalue.Bool(true)})
	require.True(t, got.IsNull())
}
