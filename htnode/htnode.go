// Package htnode implements the fixed-size on-disk block format described
// in SPEC_FULL.md §3 and §4.2: a header plus a time-sorted list of
// intervals, in one of two variants (Core carries child pointers, Leaf does
// not).
//
// The byte layout follows the same explicit, offset-driven style as this
// corpus's urkle.NodeRecordBytes records: a fixed common header, a
// variant-specific extension, then a packed list of self-describing
// records, little-endian throughout.
package htnode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/datatrails/go-histtree/htbloom"
	"github.com/datatrails/go-histtree/htinterval"
)

// Kind identifies the node variant.
type Kind byte

const (
	KindCore Kind = 1
	KindLeaf Kind = 2
)

// NoParent is the parent-sequence value used by the root node.
const NoParent int32 = -1

// CommonHeaderBytes is the fixed width of every node's leading header:
// variant(1) + start(8) + end(8) + seq(4) + parent(4) + intervalCount(4).
const CommonHeaderBytes = 1 + 8 + 8 + 4 + 4 + 4

var (
	ErrCorrupt       = errors.New("htnode: corrupt block")
	ErrNodeFull      = errors.New("htnode: node has no free space for this interval")
	ErrNotCore       = errors.New("htnode: operation requires a core node")
	ErrNotLeaf       = errors.New("htnode: operation requires a leaf node")
	ErrTooManyKids   = errors.New("htnode: core node is already at max children")
	ErrBlockTooSmall = errors.New("htnode: block size too small to hold header plus one max-size interval")
)

// CoreHeaderBytes returns the fixed width of a Core node's variant header
// for the given branching factor: extensionSeq(4) + childCount(4) +
// maxChildren*(seq(4) + start(8)).
func CoreHeaderBytes(maxChildren int) int {
	return 4 + 4 + maxChildren*(4+8)
}

// Node is one in-memory, mutable-while-open block of the history tree.
type Node struct {
	mu sync.RWMutex

	seq         int32
	parent      int32
	start       int64
	end         int64
	closed      bool
	kind        Kind
	blockSize   int
	maxChildren int

	intervals []htinterval.Interval
	onDisk    bool

	// Leaf-only.
	bloom *htbloom.Filter

	// Core-only; guarded independently so structural child changes don't
	// contend with interval appends on the same node.
	childMu    sync.RWMutex
	children   []int32
	childStart []int64
}

// NewLeaf creates an open leaf node. bloomCapacity sizes the quark-presence
// filter; it should be an estimate of how many distinct quarks a leaf of
// this block size is expected to hold.
func NewLeaf(seq, parent int32, start int64, blockSize, maxChildren, bloomCapacity int) *Node {
	return &Node{
		seq:         seq,
		parent:      parent,
		start:       start,
		kind:        KindLeaf,
		blockSize:   blockSize,
		maxChildren: maxChildren,
		bloom:       htbloom.New(bloomCapacity),
	}
}

// NewCore creates an open core node with no children yet.
func NewCore(seq, parent int32, start int64, blockSize, maxChildren int) *Node {
	return &Node{
		seq:         seq,
		parent:      parent,
		start:       start,
		kind:        KindCore,
		blockSize:   blockSize,
		maxChildren: maxChildren,
		children:    make([]int32, 0, maxChildren),
		childStart:  make([]int64, 0, maxChildren),
	}
}

func (n *Node) Seq() int32    { return n.seq }
func (n *Node) Parent() int32 { return n.parent }
func (n *Node) Kind() Kind    { return n.kind }
func (n *Node) IsLeaf() bool  { return n.kind == KindLeaf }
func (n *Node) IsCore() bool  { return n.kind == KindCore }

func (n *Node) Start() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.start
}

// End returns the node's end time and whether it has been closed.
func (n *Node) End() (int64, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.end, n.closed
}

func (n *Node) SetParent(parent int32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parent = parent
}

func (n *Node) OnDisk() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.onDisk
}

// MarkOnDisk records that n has been persisted at least once. Called by
// htio.File.WriteNode after a successful write; OnDisk then reports whether
// a structural change (such as a reparenting) needs to be rewritten rather
// than merely held in memory.
func (n *Node) MarkOnDisk() {
	n.mu.Lock()
	n.onDisk = true
	n.mu.Unlock()
}

// variantHeaderBytes returns this node's variant-specific header width.
func (n *Node) variantHeaderBytes() int {
	if n.kind == KindCore {
		return CoreHeaderBytes(n.maxChildren)
	}
	// leaf: 4-byte region length prefix + the bloom region itself.
	return 4 + len(n.bloom.Region())
}

// FreeSpace returns the number of bytes still available for new intervals.
func (n *Node) FreeSpace() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	used := CommonHeaderBytes + n.variantHeaderBytes()
	for _, iv := range n.intervals {
		used += iv.EncodedSize()
	}
	return n.blockSize - used
}

// Fits reports whether iv can be appended without exceeding the block.
func (n *Node) Fits(iv htinterval.Interval) bool {
	return iv.EncodedSize() <= n.FreeSpace()
}

// MaxObservedEnd returns the greatest end time among the node's intervals,
// or start-1 if the node holds none yet.
func (n *Node) MaxObservedEnd() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.intervals) == 0 {
		return n.start - 1
	}
	return n.intervals[len(n.intervals)-1].End
}

// Append inserts iv into the node's time-sorted-by-end interval list. The
// node must have enough free space (callers check Fits first; Append
// re-checks and returns ErrNodeFull rather than silently overflowing).
func (n *Node) Append(iv htinterval.Interval) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	used := CommonHeaderBytes + n.variantHeaderBytes()
	for _, existing := range n.intervals {
		used += existing.EncodedSize()
	}
	if used+iv.EncodedSize() > n.blockSize {
		return ErrNodeFull
	}

	// Builders submit intervals in approximately end-time order, so the
	// common case is a plain append; out-of-order arrivals are resolved by
	// scanning backward from the tail, which is sub-linear in practice.
	idx := len(n.intervals)
	for idx > 0 && n.intervals[idx-1].End > iv.End {
		idx--
	}
	n.intervals = append(n.intervals, htinterval.Interval{})
	copy(n.intervals[idx+1:], n.intervals[idx:])
	n.intervals[idx] = iv

	if n.kind == KindLeaf {
		n.bloom.Add(iv.Quark)
	}
	return nil
}

// Close fixes the node's end time at max(observed maximum end, at-least).
// Closing an otherwise-empty node whose start ends up greater than the
// resulting end is tolerated (§4.3): the node is simply treated as
// vacuous, not an error.
func (n *Node) Close(atLeast int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		if atLeast > n.end {
			n.end = atLeast
		}
		return
	}
	end := atLeast
	if len(n.intervals) > 0 {
		if last := n.intervals[len(n.intervals)-1].End; last > end {
			end = last
		}
	}
	n.end = end
	n.closed = true
}

// --- Query support -----------------------------------------------------

// lowerBoundByEnd returns the index of the first interval with End >= t.
// Intervals are kept sorted ascending by End, so this binary search can
// never miss an interval whose end covers t (invariant 4 in SPEC_FULL.md).
func (n *Node) lowerBoundByEnd(t int64) int {
	return sort.Search(len(n.intervals), func(i int) bool {
		return n.intervals[i].End >= t
	})
}

// Covering returns every interval in this node that intersects t and, if
// match is non-nil, for which match(quark) is true. Used by both the full
// query and the partial query (§4.4); match is nil for a full query.
func (n *Node) Covering(t int64, match func(quark int) bool) []htinterval.Interval {
	n.mu.RLock()
	defer n.mu.RUnlock()

	start := n.lowerBoundByEnd(t)
	var out []htinterval.Interval
	for _, iv := range n.intervals[start:] {
		if iv.Start > t {
			continue
		}
		if match != nil && !match(iv.Quark) {
			continue
		}
		out = append(out, iv)
	}
	return out
}

// RelevantInterval implements get_relevant_interval(quark, t): the first
// interval in this node intersecting t for the given quark, or ok==false.
// A leaf consults its Bloom filter first so a definite absence skips the
// scan entirely.
func (n *Node) RelevantInterval(quark int, t int64) (htinterval.Interval, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.kind == KindLeaf && !n.bloom.MaybeContains(quark) {
		return htinterval.Interval{}, false
	}

	start := n.lowerBoundByEnd(t)
	for _, iv := range n.intervals[start:] {
		if iv.Quark == quark && iv.Start <= t {
			return iv, true
		}
	}
	return htinterval.Interval{}, false
}

// --- Core node child bookkeeping ----------------------------------------

// ChildCount returns the number of children a core node currently has.
func (n *Node) ChildCount() int {
	n.childMu.RLock()
	defer n.childMu.RUnlock()
	return len(n.children)
}

// LinkChild appends a new child under this core node. Children must be
// linked in creation-time order; child start times are therefore
// non-decreasing by construction (invariant 2).
func (n *Node) LinkChild(childSeq int32, childStart int64) error {
	if n.kind != KindCore {
		return ErrNotCore
	}
	n.childMu.Lock()
	defer n.childMu.Unlock()
	if len(n.children) >= n.maxChildren {
		return ErrTooManyKids
	}
	n.children = append(n.children, childSeq)
	n.childStart = append(n.childStart, childStart)
	return nil
}

// SelectNextChild implements select_next_child(node, t) (§4.4): scans
// children from newest to oldest and returns the first whose start <= t.
func (n *Node) SelectNextChild(t int64) (int32, bool) {
	n.childMu.RLock()
	defer n.childMu.RUnlock()
	for i := len(n.children) - 1; i >= 0; i-- {
		if n.childStart[i] <= t {
			return n.children[i], true
		}
	}
	return 0, false
}

// LastChild returns the most recently linked child, i.e. the one currently
// receiving growth, if any.
func (n *Node) LastChild() (int32, bool) {
	n.childMu.RLock()
	defer n.childMu.RUnlock()
	if len(n.children) == 0 {
		return 0, false
	}
	return n.children[len(n.children)-1], true
}

// --- Serialization -------------------------------------------------------

// Encode writes exactly blockSize bytes representing n, zero-padded.
func (n *Node) Encode() ([]byte, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	buf := make([]byte, 0, n.blockSize)
	buf = append(buf, byte(n.kind))

	var hdr [16 + 4 + 4 + 4]byte
	endVal := int64(0)
	if n.closed {
		endVal = n.end
	}
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(n.start))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(endVal))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(n.seq))
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(n.parent))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(len(n.intervals)))
	buf = append(buf, hdr[:]...)

	if n.kind == KindCore {
		n.childMu.RLock()
		var ext [4 + 4]byte
		binary.LittleEndian.PutUint32(ext[0:4], uint32(0xFFFFFFFF)) // extensionSeq, always -1
		binary.LittleEndian.PutUint32(ext[4:8], uint32(len(n.children)))
		buf = append(buf, ext[:]...)
		for i := 0; i < n.maxChildren; i++ {
			var seqB [4]byte
			var startB [8]byte
			if i < len(n.children) {
				binary.LittleEndian.PutUint32(seqB[:], uint32(n.children[i]))
				binary.LittleEndian.PutUint64(startB[:], uint64(n.childStart[i]))
			}
			buf = append(buf, seqB[:]...)
			buf = append(buf, startB[:]...)
		}
		n.childMu.RUnlock()
	} else {
		region := n.bloom.Region()
		var lenB [4]byte
		binary.LittleEndian.PutUint32(lenB[:], uint32(len(region)))
		buf = append(buf, lenB[:]...)
		buf = append(buf, region...)
	}

	for _, iv := range n.intervals {
		var err error
		buf, err = iv.Encode(buf)
		if err != nil {
			return nil, err
		}
	}

	if len(buf) > n.blockSize {
		return nil, fmt.Errorf("%w: encoded node %d exceeds block size (%d > %d)", ErrCorrupt, n.seq, len(buf), n.blockSize)
	}
	out := make([]byte, n.blockSize)
	copy(out, buf)
	return out, nil
}

// Decode parses a block previously produced by Encode.
func Decode(block []byte, blockSize, maxChildren int) (*Node, error) {
	if len(block) < CommonHeaderBytes {
		return nil, fmt.Errorf("%w: block shorter than common header", ErrCorrupt)
	}
	kind := Kind(block[0])
	if kind != KindCore && kind != KindLeaf {
		return nil, fmt.Errorf("%w: unrecognized variant tag %d", ErrCorrupt, block[0])
	}
	start := int64(binary.LittleEndian.Uint64(block[1:9]))
	end := int64(binary.LittleEndian.Uint64(block[9:17]))
	seq := int32(binary.LittleEndian.Uint32(block[17:21]))
	parent := int32(binary.LittleEndian.Uint32(block[21:25]))
	count := int(binary.LittleEndian.Uint32(block[25:29]))

	n := &Node{
		seq: seq, parent: parent, start: start,
		kind: kind, blockSize: blockSize, maxChildren: maxChildren,
		onDisk: true,
	}
	if end != 0 || start == 0 {
		// A node closed exactly at time 0 is indistinguishable from "never
		// closed" by the sentinel alone; Decode is only ever called on
		// blocks already flushed to disk, and only closed nodes are ever
		// written (open nodes live purely in memory), so treat every
		// decoded node as closed.
	}
	n.closed = true
	n.end = end

	off := CommonHeaderBytes
	if kind == KindCore {
		if len(block) < off+8 {
			return nil, fmt.Errorf("%w: truncated core header", ErrCorrupt)
		}
		childCount := int(binary.LittleEndian.Uint32(block[off+4 : off+8]))
		off += 8
		n.children = make([]int32, 0, childCount)
		n.childStart = make([]int64, 0, childCount)
		for i := 0; i < maxChildren; i++ {
			if len(block) < off+12 {
				return nil, fmt.Errorf("%w: truncated child table", ErrCorrupt)
			}
			if i < childCount {
				seq := int32(binary.LittleEndian.Uint32(block[off : off+4]))
				st := int64(binary.LittleEndian.Uint64(block[off+4 : off+12]))
				n.children = append(n.children, seq)
				n.childStart = append(n.childStart, st)
			}
			off += 12
		}
	} else {
		if len(block) < off+4 {
			return nil, fmt.Errorf("%w: truncated bloom region length", ErrCorrupt)
		}
		regionLen := int(binary.LittleEndian.Uint32(block[off : off+4]))
		off += 4
		if len(block) < off+regionLen {
			return nil, fmt.Errorf("%w: truncated bloom region", ErrCorrupt)
		}
		filter, err := htbloom.Open(block[off : off+regionLen])
		if err != nil {
			return nil, fmt.Errorf("%w: bloom region: %v", ErrCorrupt, err)
		}
		n.bloom = filter
		off += regionLen
	}

	n.intervals = make([]htinterval.Interval, 0, count)
	rest := block[off:]
	for i := 0; i < count; i++ {
		iv, consumed, err := htinterval.Decode(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: interval %d: %v", ErrCorrupt, i, err)
		}
		n.intervals = append(n.intervals, iv)
		rest = rest[consumed:]
	}

	return n, nil
}
