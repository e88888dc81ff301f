// Package aggregate implements the small aggregation-rule interface
// described in SPEC_FULL.md §4.7: combining the ongoing values of a set of
// quarks into a synthetic value for a composite attribute (e.g. "total CPU
// usage" from per-core quarks). It consumes the backend's query interface
// only; it never touches storage internals.
package aggregate

import (
	"github.com/datatrails/go-histtree/htvalue"
)

// Rule combines a set of values into one synthetic value.
type Rule interface {
	Aggregate(values []htvalue.Value) htvalue.Value
}

// Sum adds every numeric value (INTEGER/LONG widen to DOUBLE); non-numeric
// and NULL values are skipped. Summing zero values yields NULL.
type Sum struct{}

func (Sum) Aggregate(values []htvalue.Value) htvalue.Value {
	var total float64
	seen := false
	for _, v := range values {
		if n, ok := numeric(v); ok {
			total += n
			seen = true
		}
	}
	if !seen {
		return htvalue.Null()
	}
	return htvalue.Double(total)
}

// Max returns the greatest numeric value, widened to DOUBLE. Non-numeric
// and NULL values are skipped; an empty or all-skipped input yields NULL.
type Max struct{}

func (Max) Aggregate(values []htvalue.Value) htvalue.Value {
	var best float64
	seen := false
	for _, v := range values {
		if n, ok := numeric(v); ok {
			if !seen || n > best {
				best = n
				seen = true
			}
		}
	}
	if !seen {
		return htvalue.Null()
	}
	return htvalue.Double(best)
}

func numeric(v htvalue.Value) (float64, bool) {
	switch v.Kind() {
	case htvalue.KindInt:
		i, _ := v.IntValue()
		return float64(i), true
	case htvalue.KindLong:
		l, _ := v.LongValue()
		return float64(l), true
	case htvalue.KindDouble:
		d, _ := v.DoubleValue()
		return d, true
	default:
		return 0, false
	}
}
