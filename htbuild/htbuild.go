// Package htbuild implements the threaded backend variant described in
// SPEC_FULL.md §4.5: a bounded producer/consumer queue of interval-
// insertion commands that decouples a builder goroutine from the single
// goroutine that actually mutates the tree and writes blocks.
//
// The queue is a buffered Go channel, the natural analogue of the bounded
// blocking queue this corpus would reach for in a Java original; each
// command carries a google/uuid correlation id logged at Debug level on
// enqueue and dequeue, mirroring how massifs logs tenant/blob identifiers
// on its own hot paths.
package htbuild

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"

	"github.com/datatrails/go-histtree/historytree"
	"github.com/datatrails/go-histtree/htvalue"
)

// ErrQueueClosed is returned by Insert once FinishBuilding or Dispose has
// been called.
var ErrQueueClosed = errors.New("htbuild: queue closed")

type commandKind int

const (
	cmdInsert commandKind = iota
	cmdFinish
	cmdDispose
)

type command struct {
	id   uuid.UUID
	kind commandKind

	start, end int64
	quark      int
	value      htvalue.Value

	endTime int64

	result chan error
}

// Builder wraps a *historytree.Tree behind a bounded producer/consumer
// queue. A QueueSize of 0 makes Insert synchronous (no queue, no consumer
// goroutine); QueueSize > 0 enables the threaded variant.
type Builder struct {
	tree      *historytree.Tree
	log       logger.Logger
	queue     chan command
	done      chan struct{}
	closeOnce sync.Once

	// closeMu serializes sends on queue against the one terminating send
	// (FinishBuilding or Dispose, whichever comes first) closing it, so a
	// racing Insert can never be chosen by a select after the channel has
	// already been closed. closed is only ever set to true, under the
	// write lock, by the closeOnce-guarded terminator.
	closeMu sync.RWMutex
	closed  bool
}

// New wraps tree with a command queue of the given capacity. A capacity of
// 0 disables the queue: Insert calls the tree synchronously.
func New(tree *historytree.Tree, queueSize int, log logger.Logger) *Builder {
	if log == nil {
		log = logger.New("NOOP")
	}
	b := &Builder{tree: tree, log: log, done: make(chan struct{})}
	if queueSize <= 0 {
		close(b.done)
		return b
	}
	b.queue = make(chan command, queueSize)
	go b.run()
	return b
}

func (b *Builder) run() {
	defer close(b.done)
	for cmd := range b.queue {
		b.log.Debugf("htbuild: dequeued command %s kind=%d", cmd.id, cmd.kind)
		switch cmd.kind {
		case cmdInsert:
			err := b.tree.InsertPastState(cmd.start, cmd.end, cmd.quark, cmd.value)
			if cmd.result != nil {
				cmd.result <- err
			}
		case cmdFinish:
			err := b.tree.FinishBuilding(cmd.endTime)
			cmd.result <- err
			return
		case cmdDispose:
			err := b.tree.Dispose()
			cmd.result <- err
			return
		}
	}
}

// Insert submits an interval for insertion. When the queue is enabled this
// blocks only if the queue is full (backpressure); the insertion itself
// happens asynchronously on the consumer goroutine, and its errors are
// logged at Error level as they occur. They are not returned to the caller:
// neither Insert nor a later FinishBuilding or WaitUntilBuilt reports them.
func (b *Builder) Insert(start, end int64, quark int, value htvalue.Value) error {
	if b.queue == nil {
		return b.tree.InsertPastState(start, end, quark, value)
	}

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrQueueClosed
	}

	id := uuid.New()
	b.log.Debugf("htbuild: enqueuing insert command %s", id)
	resultCh := make(chan error, 1)
	b.queue <- command{id: id, kind: cmdInsert, start: start, end: end, quark: quark, value: value, result: resultCh}

	go func() {
		if err := <-resultCh; err != nil {
			b.log.Errorf("htbuild: insert command %s failed: %v", id, err)
		}
	}()
	return nil
}

// terminate sends cmd (a finish or dispose sentinel) and closes the queue,
// but only for the first caller: FinishBuilding and Dispose both funnel
// through here so that whichever is called first performs the one send and
// the one close, under closeMu's write lock so no Insert can be holding (or
// still acquire) the read lock around a send to the channel this closes.
// It reports whether this call was the one that actually sent cmd.
func (b *Builder) terminate(cmd command) (sent bool) {
	b.closeOnce.Do(func() {
		b.closeMu.Lock()
		defer b.closeMu.Unlock()
		b.queue <- cmd
		close(b.queue)
		b.closed = true
		sent = true
	})
	return sent
}

// FinishBuilding enqueues the end-of-input sentinel and blocks until the
// consumer has performed final close and terminated. If Dispose has already
// terminated the queue, FinishBuilding fails with ErrQueueClosed rather than
// attempting to build further.
func (b *Builder) FinishBuilding(endTime int64) error {
	if b.queue == nil {
		return b.tree.FinishBuilding(endTime)
	}
	id := uuid.New()
	b.log.Debugf("htbuild: enqueuing finish command %s", id)
	resultCh := make(chan error, 1)
	if !b.terminate(command{id: id, kind: cmdFinish, endTime: endTime, result: resultCh}) {
		return ErrQueueClosed
	}
	return <-resultCh
}

// Dispose signals the consumer to abandon the queue and dispose the tree,
// deleting a partially built file. Calling Dispose after FinishBuilding has
// already terminated the queue is the ordinary build-then-finish-then-
// dispose lifecycle: the consumer has already exited without disposing the
// tree, so Dispose does so directly here, exactly as the synchronous
// variant's own FinishBuilding-then-Dispose sequence would.
func (b *Builder) Dispose() error {
	if b.queue == nil {
		return b.tree.Dispose()
	}
	id := uuid.New()
	resultCh := make(chan error, 1)
	if b.terminate(command{id: id, kind: cmdDispose, result: resultCh}) {
		return <-resultCh
	}
	<-b.done
	return b.tree.Dispose()
}

// WaitUntilBuilt blocks until FinishBuilding's sentinel has been processed,
// honoring ctx's cancellation/deadline as the Go idiom for a build timeout.
// With the queue disabled (QueueSize 0) it returns nil at once, whether or
// not FinishBuilding has been called.
func (b *Builder) WaitUntilBuilt(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("htbuild: %w", ctx.Err())
	}
}
