// Package historytree implements the tree-shape bookkeeping described in
// SPEC_FULL.md §4.3 and §4.4: the latest-branch growth strategy, insertion
// dispatch, query descent, and the tree file's header.
//
// The constructor/config shape (a value Config struct plus an injected
// logger.Logger) follows massifs.MassifCommitterConfig/NewMassifCommitter;
// sentinel errors wrapped with fmt.Errorf("...: %w", ...) follow the same
// idiom used throughout massifs and urkle.
package historytree

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/veraison/go-cose"

	"github.com/datatrails/go-histtree/archive"
	"github.com/datatrails/go-histtree/htinterval"
	"github.com/datatrails/go-histtree/htio"
	"github.com/datatrails/go-histtree/htmetrics"
	"github.com/datatrails/go-histtree/htnode"
	"github.com/datatrails/go-histtree/htvalue"
)

var (
	// ErrTimeRangeInvalid is returned when a supplied timestamp falls
	// outside the tree's valid range, or an interval has start > end.
	ErrTimeRangeInvalid = errors.New("historytree: time range invalid")
	// ErrAlreadyFinished is returned by InsertPastState once the tree has
	// been finalized.
	ErrAlreadyFinished = errors.New("historytree: build already finished")
	// ErrNotFinished is returned by query operations issued before the
	// build has completed; queries are only supported once a tree is
	// finalized (in-progress queries would race the single writer).
	ErrNotFinished = errors.New("historytree: build not finished")
	// ErrUnsigned is returned by VerifyHeaderSignature for a tree that was
	// never signed — an expected, non-error outcome.
	ErrUnsigned = errors.New("historytree: header is unsigned")
)

const defaultBlockSize = 4096
const defaultMaxChildren = 32

// Config configures a Tree at creation or reopen.
type Config struct {
	BlockSize       int
	MaxChildren     int
	ProviderVersion uint64
	StartTime       int64
	CacheSize       int
	Logger          logger.Logger
	Metrics         *htmetrics.Collectors
	Signer          cose.Signer
	Mirror          archive.Mirror
}

func (c *Config) setDefaults() {
	if c.BlockSize <= 0 {
		c.BlockSize = defaultBlockSize
	}
	if c.MaxChildren <= 0 {
		c.MaxChildren = defaultMaxChildren
	}
	if c.Logger == nil {
		c.Logger = logger.New("NOOP")
	}
}

// Tree is the in-memory handle to a history tree file, either open for
// build (latestBranch populated, file growing) or finalized (read-only,
// nodes loaded lazily through htio).
type Tree struct {
	mu sync.Mutex // serializes growth/insertion; queries take node-level locks only

	path string
	io   *htio.File
	cfg  Config

	header       htnode.TreeHeader
	nextSeq      int32
	latestBranch []*htnode.Node // root -> ... -> open leaf; empty once finished

	finished bool
}

// Create allocates a brand-new tree file at path and opens it for build.
func Create(path string, cfg Config) (*Tree, error) {
	cfg.setDefaults()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("historytree: create %s: %w", path, err)
	}

	header := htnode.TreeHeader{
		FormatVersion:   htnode.FormatVersion,
		ProviderVersion: cfg.ProviderVersion,
		BlockSize:       uint32(cfg.BlockSize),
		MaxChildren:     uint32(cfg.MaxChildren),
		RootSequence:    0,
		TreeStart:       cfg.StartTime,
		TreeEnd:         0,
	}
	if _, err := f.WriteAt(header.Encode(), 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("historytree: write header: %w", err)
	}

	ioOpts := []htio.Option{htio.WithLogger(cfg.Logger), htio.WithMetrics(cfg.Metrics)}
	if cfg.CacheSize > 0 {
		ioOpts = append(ioOpts, htio.WithCacheSize(cfg.CacheSize))
	}
	bio := htio.New(f, htnode.TreeHeaderSize, cfg.BlockSize, cfg.MaxChildren, ioOpts...)

	root := htnode.NewLeaf(0, htnode.NoParent, cfg.StartTime, cfg.BlockSize, cfg.MaxChildren, leafBloomCapacity(cfg.BlockSize, cfg.MaxChildren))

	t := &Tree{
		path:         path,
		io:           bio,
		cfg:          cfg,
		header:       header,
		nextSeq:      1,
		latestBranch: []*htnode.Node{root},
	}
	return t, nil
}

// Open reopens a previously finalized tree file for querying.
func Open(path string, cfg Config) (*Tree, error) {
	cfg.setDefaults()

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("historytree: open %s: %w", path, err)
	}

	hdrBuf := make([]byte, htnode.TreeHeaderSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("historytree: read header: %w", err)
	}
	header, err := htnode.DecodeTreeHeader(hdrBuf, cfg.ProviderVersion)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("historytree: %w", err)
	}

	ioOpts := []htio.Option{htio.WithLogger(cfg.Logger), htio.WithMetrics(cfg.Metrics)}
	if cfg.CacheSize > 0 {
		ioOpts = append(ioOpts, htio.WithCacheSize(cfg.CacheSize))
	}
	bio := htio.New(f, htnode.TreeHeaderSize, int(header.BlockSize), int(header.MaxChildren), ioOpts...)

	t := &Tree{
		path:     path,
		io:       bio,
		cfg:      cfg,
		header:   header,
		nextSeq:  int32(header.NodeCount),
		finished: true,
	}
	return t, nil
}

func leafBloomCapacity(blockSize, maxChildren int) int {
	// A leaf's bloom filter is sized from the same block-size/max-children
	// inputs the tree already uses to size every other fixed region; a
	// generous estimate of distinct quarks per leaf keeps the false
	// positive rate low without growing the region unreasonably.
	cap := blockSize / 32
	if cap < maxChildren {
		cap = maxChildren
	}
	return cap
}

func (t *Tree) GetStartTime() int64 { return t.header.TreeStart }
func (t *Tree) GetEndTime() int64   { return t.header.TreeEnd }

// --- Insertion -----------------------------------------------------------

// InsertPastState appends interval (start, end, quark, value) to the tree,
// growing the latest branch as needed (§4.3).
func (t *Tree) InsertPastState(start, end int64, quark int, value htvalue.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return ErrAlreadyFinished
	}
	if start > end {
		return fmt.Errorf("%w: start %d > end %d", ErrTimeRangeInvalid, start, end)
	}
	if start < t.header.TreeStart {
		return fmt.Errorf("%w: start %d before tree start %d", ErrTimeRangeInvalid, start, t.header.TreeStart)
	}

	iv, err := htinterval.New(start, end, quark, value)
	if err != nil {
		return fmt.Errorf("historytree: %w", err)
	}

	leaf := t.latestBranch[len(t.latestBranch)-1]
	if leaf.Fits(iv) {
		if err := leaf.Append(iv); err != nil {
			return fmt.Errorf("historytree: %w", err)
		}
		if end > t.header.TreeEnd {
			t.header.TreeEnd = end
		}
		return nil
	}

	if err := t.growBranch(end); err != nil {
		return err
	}

	newLeaf := t.latestBranch[len(t.latestBranch)-1]
	if !newLeaf.Fits(iv) {
		return fmt.Errorf("historytree: interval of %d bytes does not fit in an empty leaf of block size %d", iv.EncodedSize(), t.cfg.BlockSize)
	}
	if err := newLeaf.Append(iv); err != nil {
		return fmt.Errorf("historytree: %w", err)
	}
	if end > t.header.TreeEnd {
		t.header.TreeEnd = end
	}
	return nil
}

// growBranch closes the current leaf, cascades closes up the branch as
// needed, and opens a fresh leaf (allocating a new root if the existing one
// overflows), per the three-step algorithm in §4.3.
func (t *Tree) growBranch(triggerEnd int64) error {
	branch := t.latestBranch
	leaf := branch[len(branch)-1]
	leaf.Close(triggerEnd)
	if err := t.io.WriteNode(leaf); err != nil {
		return fmt.Errorf("historytree: %w", err)
	}

	// Walk up, closing any full parent, until we find one with room or run
	// off the top of the branch.
	i := len(branch) - 2
	for i >= 0 {
		parent := branch[i]
		if parent.ChildCount() < t.cfg.MaxChildren {
			break
		}
		parent.Close(triggerEnd)
		if err := t.io.WriteNode(parent); err != nil {
			return fmt.Errorf("historytree: %w", err)
		}
		i--
	}

	if i < 0 {
		// The root itself overflowed: grow the tree by one level. The old
		// root becomes a child of a brand new root.
		oldRoot := branch[0]
		newRootSeq := t.nextSeq
		t.nextSeq++
		newRoot := htnode.NewCore(newRootSeq, htnode.NoParent, oldRoot.Start(), t.cfg.BlockSize, t.cfg.MaxChildren)
		oldRoot.SetParent(newRootSeq)
		if err := newRoot.LinkChild(oldRoot.Seq(), oldRoot.Start()); err != nil {
			return fmt.Errorf("historytree: %w", err)
		}
		if oldRoot.OnDisk() {
			// oldRoot's parent changed; it must be rewritten.
			if err := t.io.WriteNode(oldRoot); err != nil {
				return fmt.Errorf("historytree: %w", err)
			}
		}
		t.header.RootSequence = newRootSeq
		branch = append([]*htnode.Node{newRoot}, branch...)
		i = 0
	}

	// From index i down to the leaf, build a fresh chain of cores plus a
	// new leaf, linking each as the newest child of its parent.
	newBranch := append([]*htnode.Node(nil), branch[:i+1]...)
	parent := newBranch[len(newBranch)-1]
	for depth := i + 1; depth < len(branch)-1; depth++ {
		seq := t.nextSeq
		t.nextSeq++
		core := htnode.NewCore(seq, parent.Seq(), triggerEnd+1, t.cfg.BlockSize, t.cfg.MaxChildren)
		if err := parent.LinkChild(seq, core.Start()); err != nil {
			return fmt.Errorf("historytree: %w", err)
		}
		newBranch = append(newBranch, core)
		parent = core
	}

	leafSeq := t.nextSeq
	t.nextSeq++
	newLeaf := htnode.NewLeaf(leafSeq, parent.Seq(), triggerEnd+1, t.cfg.BlockSize, t.cfg.MaxChildren, leafBloomCapacity(t.cfg.BlockSize, t.cfg.MaxChildren))
	if err := parent.LinkChild(leafSeq, newLeaf.Start()); err != nil {
		return fmt.Errorf("historytree: %w", err)
	}
	newBranch = append(newBranch, newLeaf)

	t.latestBranch = newBranch
	return nil
}

// --- Finalization ----------------------------------------------------------

// FinishBuilding closes every node on the latest branch at
// max(endTime, current tree end), writes the final header, and (if
// configured) signs the header and mirrors the file.
func (t *Tree) FinishBuilding(endTime int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return nil
	}

	final := endTime
	if t.header.TreeEnd > final {
		final = t.header.TreeEnd
	}

	for _, n := range t.latestBranch {
		n.Close(final)
		if err := t.io.WriteNode(n); err != nil {
			return fmt.Errorf("historytree: %w", err)
		}
	}

	t.header.TreeEnd = final
	t.header.NodeCount = uint32(t.nextSeq)
	t.header.AttrTreeOffset = t.attributeTreeOffset()
	t.finished = true
	t.latestBranch = nil

	if err := t.writeHeader(); err != nil {
		return err
	}
	if err := t.io.Sync(); err != nil {
		return fmt.Errorf("historytree: sync: %w", err)
	}

	if t.cfg.Mirror != nil {
		if err := t.cfg.Mirror.Upload(t.path); err != nil {
			t.cfg.Logger.Errorf("historytree: archival mirror upload failed: %v", err)
		}
	}

	return nil
}

func (t *Tree) writeHeader() error {
	f, err := os.OpenFile(t.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("historytree: reopen for header write: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteAt(t.header.Encode(), 0); err != nil {
		return fmt.Errorf("historytree: write header: %w", err)
	}
	return nil
}

// --- Disposal --------------------------------------------------------------

// Dispose releases the tree's file handle. If the build was never
// finished, the partially built file is deleted (§7): an interrupted build
// must not be mistakenly reopened.
func (t *Tree) Dispose() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasUnfinished := !t.finished
	if err := t.io.Close(); err != nil && !errors.Is(err, htio.ErrDisposed) {
		return fmt.Errorf("historytree: close: %w", err)
	}
	if wasUnfinished {
		if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("historytree: remove partial file: %w", err)
		}
	}
	return nil
}

// RemoveFiles deletes the backing file unconditionally.
func (t *Tree) RemoveFiles() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.io.Close()
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("historytree: remove: %w", err)
	}
	return nil
}

// --- Header integrity signature (supplemental feature, §6) -----------------

// SignHeader wraps the finalized header bytes in a detached COSE Sign1
// signature, the same construction massifs.RootSigner uses to make a
// finalized append-only artifact independently checkable.
func (t *Tree) SignHeader(signer cose.Signer) ([]byte, error) {
	t.mu.Lock()
	headerBytes := t.header.Encode()
	t.mu.Unlock()

	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: signer.Algorithm(),
			},
		},
		Payload: headerBytes,
	}
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("historytree: sign header: %w", err)
	}
	// Detach: verifiers must already hold the header bytes (read from the
	// same file) rather than trust a copy embedded in the signature.
	msg.Payload = nil
	out, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("historytree: marshal signature: %w", err)
	}
	return out, nil
}

// VerifyHeaderSignature checks sig against headerBytes. An empty sig
// reports ErrUnsigned rather than treating the absence of a signature as a
// verification failure.
func VerifyHeaderSignature(headerBytes, sig []byte, verifier cose.Verifier) error {
	if len(sig) == 0 {
		return ErrUnsigned
	}
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(sig); err != nil {
		return fmt.Errorf("historytree: unmarshal signature: %w", err)
	}
	msg.Payload = headerBytes
	if err := msg.Verify(nil, verifier); err != nil {
		return fmt.Errorf("historytree: verify signature: %w", err)
	}
	return nil
}
