// Package null implements a discard-sink htbackend.Backend: inserts are
// accepted and thrown away, and every query answers "not found." Useful
// when a surrounding state system has a quark space but has deliberately
// opted out of historical tracking for it.
package null

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/datatrails/go-histtree/htvalue"
)

var ErrDisposed = errors.New("null: disposed")

// Backend discards every interval it is given.
type Backend struct {
	ssid     string
	start    int64
	end      int64
	disposed atomic.Bool
}

func New(ssid string, startTime, endTime int64) *Backend {
	return &Backend{ssid: ssid, start: startTime, end: endTime}
}

func (b *Backend) GetSSID() string     { return b.ssid }
func (b *Backend) GetStartTime() int64 { return b.start }
func (b *Backend) GetEndTime() int64   { return b.end }

func (b *Backend) InsertPastState(start, end int64, quark int, value htvalue.Value) error {
	if b.disposed.Load() {
		return ErrDisposed
	}
	return nil
}

func (b *Backend) FinishBuilding(endTime int64) error {
	if b.disposed.Load() {
		return ErrDisposed
	}
	return nil
}

func (b *Backend) DoQuery(out []htvalue.Value, t int64) error {
	if b.disposed.Load() {
		return ErrDisposed
	}
	return nil
}

func (b *Backend) DoSingularQuery(t int64, quark int) (htvalue.Value, bool, error) {
	if b.disposed.Load() {
		return htvalue.Value{}, false, ErrDisposed
	}
	return htvalue.Value{}, false, nil
}

func (b *Backend) DoPartialQuery(t int64, quarks []int, out map[int]htvalue.Value) error {
	if b.disposed.Load() {
		return ErrDisposed
	}
	return nil
}

func (b *Backend) SupplyAttributeTreeReader() (io.Reader, error) {
	return nil, errors.New("null: no attribute-tree blob")
}

func (b *Backend) AttributeTreeWriterFile() (io.WriteSeeker, int64, error) {
	return nil, 0, errors.New("null: no attribute-tree writer")
}

func (b *Backend) AttributeTreeWriterFilePosition() (int64, error) {
	return 0, nil
}

func (b *Backend) RemoveFiles() error { return nil }

func (b *Backend) Dispose() error {
	b.disposed.Store(true)
	return nil
}
