package historytree

import (
	"fmt"

	"github.com/datatrails/go-histtree/htnode"
	"github.com/datatrails/go-histtree/htvalue"
)

func (t *Tree) checkQueryTime(tm int64) error {
	if !t.finished {
		return ErrNotFinished
	}
	if tm < t.header.TreeStart || tm > t.header.TreeEnd {
		return fmt.Errorf("%w: %d outside [%d, %d]", ErrTimeRangeInvalid, tm, t.header.TreeStart, t.header.TreeEnd)
	}
	return nil
}

func (t *Tree) loadNode(seq int32) (*htnode.Node, error) {
	return t.io.ReadNode(seq)
}

// DoQuery fills out[quark] for every quark with an interval intersecting
// t. out must be pre-sized by the caller to the attribute space.
func (t *Tree) DoQuery(out []htvalue.Value, tm int64) error {
	if err := t.checkQueryTime(tm); err != nil {
		return err
	}

	seq := t.header.RootSequence
	for {
		n, err := t.loadNode(seq)
		if err != nil {
			return fmt.Errorf("historytree: %w", err)
		}

		matches := n.Covering(tm, func(quark int) bool { return quark >= 0 && quark < len(out) })
		for _, iv := range matches {
			out[iv.Quark] = iv.Value
		}

		if n.IsLeaf() {
			return nil
		}
		child, ok := n.SelectNextChild(tm)
		if !ok {
			return nil
		}
		seq = child
	}
}

// DoSingularQuery returns the interval intersecting (t, quark), or ok=false
// if none exists.
func (t *Tree) DoSingularQuery(tm int64, quark int) (htvalue.Value, bool, error) {
	if err := t.checkQueryTime(tm); err != nil {
		return htvalue.Value{}, false, err
	}

	seq := t.header.RootSequence
	for {
		n, err := t.loadNode(seq)
		if err != nil {
			return htvalue.Value{}, false, fmt.Errorf("historytree: %w", err)
		}

		if iv, ok := n.RelevantInterval(quark, tm); ok {
			return iv.Value, true, nil
		}

		if n.IsLeaf() {
			return htvalue.Value{}, false, nil
		}
		child, ok := n.SelectNextChild(tm)
		if !ok {
			return htvalue.Value{}, false, nil
		}
		seq = child
	}
}

// IntervalEnd returns the end time of the interval intersecting (t, quark),
// without its value. iter2d uses this to find the next resolution-aligned
// timestamp at which a quark's value might change, so it can skip ahead
// across long constant intervals instead of sampling every resolution
// tick.
func (t *Tree) IntervalEnd(tm int64, quark int) (int64, bool, error) {
	if err := t.checkQueryTime(tm); err != nil {
		return 0, false, err
	}

	seq := t.header.RootSequence
	for {
		n, err := t.loadNode(seq)
		if err != nil {
			return 0, false, fmt.Errorf("historytree: %w", err)
		}
		if iv, ok := n.RelevantInterval(quark, tm); ok {
			return iv.End, true, nil
		}
		if n.IsLeaf() {
			return 0, false, nil
		}
		child, ok := n.SelectNextChild(tm)
		if !ok {
			return 0, false, nil
		}
		seq = child
	}
}

// DoPartialQuery populates out[quark] for each quark in quarks that has an
// interval intersecting t, stopping the descent early once every requested
// quark has been resolved.
func (t *Tree) DoPartialQuery(tm int64, quarks []int, out map[int]htvalue.Value) error {
	if err := t.checkQueryTime(tm); err != nil {
		return err
	}

	pending := make(map[int]bool, len(quarks))
	for _, q := range quarks {
		pending[q] = true
	}

	seq := t.header.RootSequence
	for len(pending) > 0 {
		n, err := t.loadNode(seq)
		if err != nil {
			return fmt.Errorf("historytree: %w", err)
		}

		matches := n.Covering(tm, func(quark int) bool { return pending[quark] })
		for _, iv := range matches {
			out[iv.Quark] = iv.Value
			delete(pending, iv.Quark)
		}
		if len(pending) == 0 || n.IsLeaf() {
			return nil
		}
		child, ok := n.SelectNextChild(tm)
		if !ok {
			return nil
		}
		seq = child
	}
	return nil
}
