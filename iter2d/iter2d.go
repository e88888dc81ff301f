// Package iter2d implements the 2-D query iterator described in
// SPEC_FULL.md §4.7: a lazily produced, time-ascending sequence of
// (timestamp, map[quark]value) groups for a requested set of quarks and a
// sampling resolution.
//
// A container/heap priority queue keyed by the next-due timestamp per
// quark drives the production: the next-due timestamp for a quark is the
// end of its currently-relevant interval, rounded up to the next
// resolution boundary, so the iterator can skip across long constant
// intervals instead of sampling every resolution tick. It is implemented
// as a pull-based Go iterator (the range-over-func shape) whose producer
// advances the heap on each pull.
package iter2d

import (
	"container/heap"

	"github.com/datatrails/go-histtree/htvalue"
)

// Source is the narrow query surface iter2d needs: partial queries to
// fill a group, and per-quark interval-end lookups to schedule the next
// due timestamp. historytree.Tree and htbackend/inmem.Backend both
// implement it.
type Source interface {
	DoPartialQuery(t int64, quarks []int, out map[int]htvalue.Value) error
	IntervalEnd(t int64, quark int) (end int64, ok bool, err error)
}

type dueEntry struct {
	quark int
	due   int64
}

type dueHeap []dueEntry

func (h dueHeap) Len() int            { return len(h) }
func (h dueHeap) Less(i, j int) bool  { return h[i].due < h[j].due }
func (h dueHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dueHeap) Push(x interface{}) { *h = append(*h, x.(dueEntry)) }
func (h *dueHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func alignUp(t, resolution int64) int64 {
	if resolution <= 0 {
		return t
	}
	if t%resolution == 0 {
		return t
	}
	return (t/resolution + 1) * resolution
}

// Query returns a pull-based iterator over src producing groups from
// "from" through "to" inclusive, at the given sampling resolution, for the
// requested quarks.
func Query(src Source, quarks []int, resolution, from, to int64) func(yield func(int64, map[int]htvalue.Value) bool) {
	return func(yield func(int64, map[int]htvalue.Value) bool) {
		if resolution <= 0 || len(quarks) == 0 || from > to {
			return
		}

		h := make(dueHeap, 0, len(quarks))
		start := alignUp(from, resolution)
		for _, q := range quarks {
			h = append(h, dueEntry{quark: q, due: start})
		}
		heap.Init(&h)

		for h.Len() > 0 {
			t := h[0].due
			if t > to {
				return
			}

			group := []int{}
			for h.Len() > 0 && h[0].due == t {
				entry := heap.Pop(&h).(dueEntry)
				group = append(group, entry.quark)
			}

			out := make(map[int]htvalue.Value, len(group))
			if err := src.DoPartialQuery(t, group, out); err != nil {
				return
			}

			if !yield(t, out) {
				return
			}

			for _, q := range group {
				next := t + resolution
				if end, ok, err := src.IntervalEnd(t, q); err == nil && ok && end+1 > t {
					next = alignUp(end+1, resolution)
					if next <= t {
						next = t + resolution
					}
				}
				heap.Push(&h, dueEntry{quark: q, due: next})
			}
		}
	}
}
