// Package htbackend adapts historytree.Tree (optionally fronted by
// htbuild's threaded queue) to the narrow backend interface the
// surrounding state system consumes (SPEC_FULL.md §6). htbackend/inmem and
// htbackend/null implement the same interface for testing and degenerate
// use.
package htbackend

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/datatrails/go-histtree/htbuild"
	"github.com/datatrails/go-histtree/historytree"
	"github.com/datatrails/go-histtree/htvalue"
)

// ErrDisposed is returned by any operation attempted after Dispose.
var ErrDisposed = errors.New("htbackend: disposed")

// Backend is the contract the surrounding attribute-history state system
// consumes. historytree.Tree (via TreeBackend), htbackend/inmem, and
// htbackend/null all implement it.
type Backend interface {
	GetSSID() string
	GetStartTime() int64
	GetEndTime() int64

	InsertPastState(start, end int64, quark int, value htvalue.Value) error
	FinishBuilding(endTime int64) error

	DoQuery(out []htvalue.Value, t int64) error
	DoSingularQuery(t int64, quark int) (htvalue.Value, bool, error)
	DoPartialQuery(t int64, quarks []int, out map[int]htvalue.Value) error

	SupplyAttributeTreeReader() (io.Reader, error)
	AttributeTreeWriterFile() (io.WriteSeeker, int64, error)
	AttributeTreeWriterFilePosition() (int64, error)

	RemoveFiles() error
	Dispose() error
}

// TreeBackend is the primary Backend implementation, backed by a
// historytree.Tree and (optionally) htbuild's threaded queue.
type TreeBackend struct {
	ssid     string
	tree     *historytree.Tree
	builder  *htbuild.Builder
	disposed atomic.Bool
}

// NewTreeBackend wraps tree, routing inserts through a threaded queue of
// the given size (0 disables the queue and routes synchronously).
func NewTreeBackend(ssid string, tree *historytree.Tree, queueSize int, log logger.Logger) *TreeBackend {
	return &TreeBackend{
		ssid:    ssid,
		tree:    tree,
		builder: htbuild.New(tree, queueSize, log),
	}
}

func (b *TreeBackend) checkDisposed() error {
	if b.disposed.Load() {
		return ErrDisposed
	}
	return nil
}

func (b *TreeBackend) GetSSID() string     { return b.ssid }
func (b *TreeBackend) GetStartTime() int64 { return b.tree.GetStartTime() }
func (b *TreeBackend) GetEndTime() int64   { return b.tree.GetEndTime() }

func (b *TreeBackend) InsertPastState(start, end int64, quark int, value htvalue.Value) error {
	if err := b.checkDisposed(); err != nil {
		return err
	}
	if err := b.builder.Insert(start, end, quark, value); err != nil {
		return fmt.Errorf("htbackend: %w", err)
	}
	return nil
}

func (b *TreeBackend) FinishBuilding(endTime int64) error {
	if err := b.checkDisposed(); err != nil {
		return err
	}
	return b.builder.FinishBuilding(endTime)
}

func (b *TreeBackend) DoQuery(out []htvalue.Value, t int64) error {
	if err := b.checkDisposed(); err != nil {
		return err
	}
	if err := b.tree.DoQuery(out, t); err != nil {
		return translateDisposed(err, b)
	}
	return nil
}

func (b *TreeBackend) DoSingularQuery(t int64, quark int) (htvalue.Value, bool, error) {
	if err := b.checkDisposed(); err != nil {
		return htvalue.Value{}, false, err
	}
	v, ok, err := b.tree.DoSingularQuery(t, quark)
	if err != nil {
		return htvalue.Value{}, false, translateDisposed(err, b)
	}
	return v, ok, nil
}

func (b *TreeBackend) DoPartialQuery(t int64, quarks []int, out map[int]htvalue.Value) error {
	if err := b.checkDisposed(); err != nil {
		return err
	}
	if err := b.tree.DoPartialQuery(t, quarks, out); err != nil {
		return translateDisposed(err, b)
	}
	return nil
}

// translateDisposed recovers a closed-file condition observed mid-descent
// (another goroutine disposed the backend concurrently) and surfaces it as
// the single disposed error, per §5's cancellation model.
func translateDisposed(err error, b *TreeBackend) error {
	if b.disposed.Load() {
		return ErrDisposed
	}
	return fmt.Errorf("htbackend: %w", err)
}

func (b *TreeBackend) SupplyAttributeTreeReader() (io.Reader, error) {
	if err := b.checkDisposed(); err != nil {
		return nil, err
	}
	return b.tree.SupplyAttributeTreeReader()
}

func (b *TreeBackend) AttributeTreeWriterFile() (io.WriteSeeker, int64, error) {
	if err := b.checkDisposed(); err != nil {
		return nil, 0, err
	}
	return b.tree.AttributeTreeWriterFile()
}

func (b *TreeBackend) AttributeTreeWriterFilePosition() (int64, error) {
	if err := b.checkDisposed(); err != nil {
		return 0, err
	}
	return b.tree.AttributeTreeWriterFilePosition()
}

func (b *TreeBackend) RemoveFiles() error {
	return b.tree.RemoveFiles()
}

func (b *TreeBackend) Dispose() error {
	if !b.disposed.CompareAndSwap(false, true) {
		return nil
	}
	return b.builder.Dispose()
}
