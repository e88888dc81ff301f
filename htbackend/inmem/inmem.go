// Package inmem implements htbackend.Backend entirely in memory, with no
// persistence: a testing and degenerate-use double for historytree's real
// file-backed TreeBackend.
package inmem

import (
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/datatrails/go-histtree/htvalue"
)

var (
	ErrDisposed  = errors.New("inmem: disposed")
	ErrNoBlob    = errors.New("inmem: no attribute-tree blob written yet")
	ErrNotFinished = errors.New("inmem: build not finished")
)

type interval struct {
	start, end int64
	quark      int
	value      htvalue.Value
}

// Backend is an in-memory htbackend.Backend: every quark's intervals live
// in a plain slice, scanned linearly on query. Adequate for small fixtures
// and as a behavioral oracle in tests comparing against the real engine.
type Backend struct {
	mu       sync.RWMutex
	ssid     string
	start    int64
	end      int64
	byQuark  map[int][]interval
	finished bool
	blob     []byte
	disposed atomic.Bool
}

// New constructs an empty in-memory backend with the given identifier and
// start time.
func New(ssid string, startTime int64) *Backend {
	return &Backend{ssid: ssid, start: startTime, end: startTime, byQuark: make(map[int][]interval)}
}

func (b *Backend) GetSSID() string     { return b.ssid }
func (b *Backend) GetStartTime() int64 { return b.start }
func (b *Backend) GetEndTime() int64   { b.mu.RLock(); defer b.mu.RUnlock(); return b.end }

func (b *Backend) InsertPastState(start, end int64, quark int, value htvalue.Value) error {
	if b.disposed.Load() {
		return ErrDisposed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byQuark[quark] = append(b.byQuark[quark], interval{start, end, quark, value})
	if end > b.end {
		b.end = end
	}
	return nil
}

func (b *Backend) FinishBuilding(endTime int64) error {
	if b.disposed.Load() {
		return ErrDisposed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if endTime > b.end {
		b.end = endTime
	}
	b.finished = true
	return nil
}

func (b *Backend) relevant(quark int, t int64) (interval, bool) {
	for _, iv := range b.byQuark[quark] {
		if iv.start <= t && t <= iv.end {
			return iv, true
		}
	}
	return interval{}, false
}

func (b *Backend) DoQuery(out []htvalue.Value, t int64) error {
	if b.disposed.Load() {
		return ErrDisposed
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	quarks := make([]int, 0, len(b.byQuark))
	for q := range b.byQuark {
		quarks = append(quarks, q)
	}
	sort.Ints(quarks)
	for _, q := range quarks {
		if q < 0 || q >= len(out) {
			continue
		}
		if iv, ok := b.relevant(q, t); ok {
			out[q] = iv.value
		}
	}
	return nil
}

func (b *Backend) DoSingularQuery(t int64, quark int) (htvalue.Value, bool, error) {
	if b.disposed.Load() {
		return htvalue.Value{}, false, ErrDisposed
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	iv, ok := b.relevant(quark, t)
	if !ok {
		return htvalue.Value{}, false, nil
	}
	return iv.value, true, nil
}

func (b *Backend) DoPartialQuery(t int64, quarks []int, out map[int]htvalue.Value) error {
	if b.disposed.Load() {
		return ErrDisposed
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, q := range quarks {
		if iv, ok := b.relevant(q, t); ok {
			out[q] = iv.value
		}
	}
	return nil
}

// IntervalEnd returns the end time of the interval intersecting (t, quark),
// satisfying iter2d.Source alongside historytree.Tree.
func (b *Backend) IntervalEnd(t int64, quark int) (int64, bool, error) {
	if b.disposed.Load() {
		return 0, false, ErrDisposed
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	iv, ok := b.relevant(quark, t)
	if !ok {
		return 0, false, nil
	}
	return iv.end, true, nil
}

func (b *Backend) SupplyAttributeTreeReader() (io.Reader, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.blob == nil {
		return nil, ErrNoBlob
	}
	return bytesReader(b.blob), nil
}

func (b *Backend) AttributeTreeWriterFile() (io.WriteSeeker, int64, error) {
	return nil, 0, errors.New("inmem: attribute-tree writer file is not backed by a real file; use SetAttributeTreeBlob")
}

func (b *Backend) AttributeTreeWriterFilePosition() (int64, error) {
	return 0, nil
}

// SetAttributeTreeBlob lets a test populate the opaque blob directly,
// since the in-memory backend has no underlying file to seek into.
func (b *Backend) SetAttributeTreeBlob(blob []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blob = blob
}

func (b *Backend) RemoveFiles() error { return nil }

func (b *Backend) Dispose() error {
	b.disposed.Store(true)
	return nil
}

type byteReader struct {
	b   []byte
	pos int
}

func bytesReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
