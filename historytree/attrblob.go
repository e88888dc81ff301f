package historytree

import (
	"fmt"
	"io"
)

// attributeTreeOffset computes where the opaque attribute-tree blob begins:
// immediately after the last node block.
func (t *Tree) attributeTreeOffset() int64 {
	return t.io.HeaderSize() + int64(t.header.NodeCount)*int64(t.io.BlockSize())
}

// AttributeTreeWriterFilePosition returns the byte offset at which the
// surrounding state system should begin writing its opaque attribute-tree
// blob. Valid only once FinishBuilding has run.
func (t *Tree) AttributeTreeWriterFilePosition() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.finished {
		return 0, ErrNotFinished
	}
	return t.attributeTreeOffset(), nil
}

// AttributeTreeWriterFile exposes the backing file positioned at the
// attribute-tree offset, ready for the caller to append its blob.
func (t *Tree) AttributeTreeWriterFile() (io.WriteSeeker, int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.finished {
		return nil, 0, ErrNotFinished
	}
	off := t.attributeTreeOffset()
	f := t.io.Underlying()
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("historytree: seek to attribute-tree offset: %w", err)
	}
	return f, off, nil
}

// SupplyAttributeTreeReader returns a reader over the opaque attribute-tree
// blob previously written by AttributeTreeWriterFile, positioned at its
// start.
func (t *Tree) SupplyAttributeTreeReader() (io.Reader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.finished {
		return nil, ErrNotFinished
	}
	off := t.attributeTreeOffset()
	f := t.io.Underlying()
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return nil, fmt.Errorf("historytree: seek to attribute-tree offset: %w", err)
	}
	return f, nil
}
