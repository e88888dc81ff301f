package htnode

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a history tree file.
const Magic = "HTRE"

// FormatVersion is the on-disk layout version this package reads/writes.
const FormatVersion uint32 = 1

// TreeHeaderSize is the fixed width of the leading header block, before the
// first block-sized node record.
const TreeHeaderSize = 4 + 4 + 8 + 4 + 4 + 4 + 4 + 8 + 8 + 8

var (
	ErrBadMagic       = fmt.Errorf("%w: bad magic", ErrCorrupt)
	ErrBadFormat      = fmt.Errorf("%w: unsupported format version", ErrCorrupt)
	ErrProviderMismatch = fmt.Errorf("%w: provider version mismatch", ErrCorrupt)
)

// TreeHeader is the file's leading fixed-size block.
type TreeHeader struct {
	FormatVersion   uint32
	ProviderVersion uint64
	BlockSize       uint32
	MaxChildren     uint32
	NodeCount       uint32
	RootSequence    int32
	TreeStart       int64
	TreeEnd         int64
	AttrTreeOffset  int64
}

// Encode serializes h into a TreeHeaderSize-byte buffer.
func (h TreeHeader) Encode() []byte {
	buf := make([]byte, TreeHeaderSize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.FormatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], h.ProviderVersion)
	binary.LittleEndian.PutUint32(buf[16:20], h.BlockSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.MaxChildren)
	binary.LittleEndian.PutUint32(buf[24:28], h.NodeCount)
	binary.LittleEndian.PutUint32(buf[28:32], uint32(h.RootSequence))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.TreeStart))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(h.TreeEnd))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(h.AttrTreeOffset))
	return buf
}

// DecodeTreeHeader parses a TreeHeaderSize-byte buffer, checking magic and
// format version. expectedProviderVersion of 0 skips the provider check
// (used when opening a tree for the first time has no expectation yet).
func DecodeTreeHeader(buf []byte, expectedProviderVersion uint64) (TreeHeader, error) {
	if len(buf) < TreeHeaderSize {
		return TreeHeader{}, fmt.Errorf("%w: header shorter than %d bytes", ErrCorrupt, TreeHeaderSize)
	}
	if string(buf[0:4]) != Magic {
		return TreeHeader{}, ErrBadMagic
	}
	h := TreeHeader{
		FormatVersion:   binary.LittleEndian.Uint32(buf[4:8]),
		ProviderVersion: binary.LittleEndian.Uint64(buf[8:16]),
		BlockSize:       binary.LittleEndian.Uint32(buf[16:20]),
		MaxChildren:     binary.LittleEndian.Uint32(buf[20:24]),
		NodeCount:       binary.LittleEndian.Uint32(buf[24:28]),
		RootSequence:    int32(binary.LittleEndian.Uint32(buf[28:32])),
		TreeStart:       int64(binary.LittleEndian.Uint64(buf[32:40])),
		TreeEnd:         int64(binary.LittleEndian.Uint64(buf[40:48])),
		AttrTreeOffset:  int64(binary.LittleEndian.Uint64(buf[48:56])),
	}
	if h.FormatVersion != FormatVersion {
		return TreeHeader{}, ErrBadFormat
	}
	if expectedProviderVersion != 0 && h.ProviderVersion != expectedProviderVersion {
		return TreeHeader{}, ErrProviderMismatch
	}
	return h, nil
}
