// Package htbloom implements the per-leaf quark-presence Bloom filter
// described in SPEC_FULL.md §4.2.1.
//
// It is adapted from this corpus's own 32-byte-element, 4-way Bloom filter
// (see the forestrie bloom package): same explicit-byte-layout, header +
// packed-bitset style, same k-hash double-hashing scheme, but re-keyed from
// fixed 32-byte hash elements to int quarks, and collapsed to a single
// filter region per leaf (a leaf only ever needs one "have I maybe seen this
// quark" predicate, not four parallel independent ones).
package htbloom

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
)

const (
	magic   = "HTBL"
	version = uint8(1)

	// HeaderBytes is the fixed header preceding the packed bitset.
	HeaderBytes = 16

	// BitsPerElement controls the false-positive rate versus space
	// trade-off; 10 bits/element at k=7 gives under 1% false positives.
	BitsPerElement = 10
	K              = 7
)

var (
	ErrBadRegionSize = errors.New("htbloom: region buffer too small")
	ErrBadMagic      = errors.New("htbloom: region magic invalid")
	ErrBadVersion    = errors.New("htbloom: region version invalid")
)

// RegionBytes returns the byte length of the region needed to hold a filter
// sized for capacity elements.
func RegionBytes(capacity int) int {
	mBits := mBitsFor(capacity)
	return HeaderBytes + bitsetBytes(mBits)
}

func mBitsFor(capacity int) uint32 {
	if capacity < 1 {
		capacity = 1
	}
	m := uint64(capacity) * BitsPerElement
	if m > uint64(^uint32(0)) {
		m = uint64(^uint32(0))
	}
	if m == 0 {
		m = 1
	}
	return uint32(m)
}

func bitsetBytes(mBits uint32) int {
	return int((mBits + 7) / 8)
}

// Filter is an in-memory view over a region of bytes (typically a slice of
// a Leaf node's block). It never allocates beyond the region itself.
type Filter struct {
	region []byte
	mBits  uint32
}

// New initializes a zero-filled region sized for capacity elements and
// returns a Filter bound to it.
func New(capacity int) *Filter {
	mBits := mBitsFor(capacity)
	region := make([]byte, HeaderBytes+bitsetBytes(mBits))
	f := &Filter{region: region, mBits: mBits}
	f.writeHeader()
	return f
}

// Open decodes an existing region (as previously produced by Region()).
// A region of all zero bytes is treated as "present but empty" rather than
// an error, so that a corrupt or never-initialized filter degrades to
// always-maybe-present (see §4.2.1).
func Open(region []byte) (*Filter, error) {
	if len(region) < HeaderBytes {
		return nil, ErrBadRegionSize
	}
	if isZero(region[:HeaderBytes]) {
		return &Filter{region: append([]byte(nil), region...), mBits: 0}, nil
	}
	if string(region[0:4]) != magic {
		return nil, ErrBadMagic
	}
	if region[4] != version {
		return nil, ErrBadVersion
	}
	mBits := binary.LittleEndian.Uint32(region[8:12])
	need := HeaderBytes + bitsetBytes(mBits)
	if len(region) < need {
		return nil, ErrBadRegionSize
	}
	return &Filter{region: append([]byte(nil), region[:need]...), mBits: mBits}, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (f *Filter) writeHeader() {
	copy(f.region[0:4], magic)
	f.region[4] = version
	binary.LittleEndian.PutUint32(f.region[8:12], f.mBits)
}

// Region returns the raw bytes to persist alongside the leaf's block.
func (f *Filter) Region() []byte { return f.region }

// Add records the presence of quark.
func (f *Filter) Add(quark int) {
	if f.mBits == 0 {
		return
	}
	h1, h2 := hashPair(quark)
	bitset := f.region[HeaderBytes:]
	for i := uint32(0); i < K; i++ {
		j := (h1 + uint64(i)*h2) % uint64(f.mBits)
		bitset[j>>3] |= 1 << (j & 7)
	}
}

// MaybeContains returns false only when quark is *definitely* absent; true
// means "maybe present," including the degraded always-true case when the
// filter region failed to decode meaningfully (mBits == 0).
func (f *Filter) MaybeContains(quark int) bool {
	if f.mBits == 0 {
		return true
	}
	h1, h2 := hashPair(quark)
	bitset := f.region[HeaderBytes:]
	for i := uint32(0); i < K; i++ {
		j := (h1 + uint64(i)*h2) % uint64(f.mBits)
		if bitset[j>>3]&(1<<(j&7)) == 0 {
			return false
		}
	}
	return true
}

func hashPair(quark int) (h1, h2 uint64) {
	var buf [9]byte
	buf[0] = 0xB0
	binary.LittleEndian.PutUint64(buf[1:], uint64(int64(quark)))
	h := fnv.New64a()
	_, _ = h.Write(buf[:])
	h1 = h.Sum64()
	h.Reset()
	_, _ = h.Write(buf[:8])
	h2 = h.Sum64()
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}
