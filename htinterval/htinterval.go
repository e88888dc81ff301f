// Package htinterval defines the serialized unit stored inside history tree
// nodes: a half-open-inclusive [start, end] span during which a quark held a
// typed value.
//
// The byte layout mirrors the style used throughout this corpus for
// fixed-width, explicit-offset records (see urkle.NodeRecordBytes and
// logformat.go's ValueBytes/IndexHeaderBytes): small composable encode/decode
// functions operating directly on byte slices, with the burden of length
// checking placed on the caller for the hot path and on the exported
// Encode/Decode entry points for everything else.
package htinterval

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/datatrails/go-histtree/htvalue"
)

// Tag is the on-disk byte identifying which alternative of htvalue.Value
// follows. Values mirror §4.2 of the format specification exactly; NULL is
// negative so it sorts visually apart from the "real" payload kinds.
type Tag int8

const (
	TagNull        Tag = -1
	TagInt         Tag = 0
	TagString      Tag = 1
	TagLong        Tag = 2
	TagDouble      Tag = 3
	TagBooleanTrue Tag = 4
	TagBooleanFalse Tag = 5
)

// CommonHeaderBytes is the fixed width of every interval record before its
// type-specific payload: 1 (tag) + 8 (start) + 8 (end) + 4 (quark).
const CommonHeaderBytes = 1 + 8 + 8 + 4

// MaxEncodedSize is the hard ceiling on a single interval's serialized size
// (the format stores it implicitly via a node's free-space arithmetic, but
// the spec additionally bounds it to fit a 16-bit length were one ever
// needed: 65535 is the largest unsigned 16-bit value).
const MaxEncodedSize = 65535

var (
	ErrStartAfterEnd    = errors.New("htinterval: start is after end")
	ErrNegativeQuark    = errors.New("htinterval: quark must be non-negative")
	ErrTooLarge         = errors.New("htinterval: encoded interval exceeds maximum size")
	ErrTruncated        = errors.New("htinterval: buffer too short for interval")
	ErrUnknownTag       = errors.New("htinterval: unrecognized type tag")
	ErrStringNotNulTerm = errors.New("htinterval: string payload missing terminating zero byte")
)

// Interval is the in-memory representation of one (start, end, quark, value)
// record.
type Interval struct {
	Start int64
	End   int64
	Quark int
	Value htvalue.Value
}

// New validates and constructs an Interval.
func New(start, end int64, quark int, value htvalue.Value) (Interval, error) {
	if start > end {
		return Interval{}, fmt.Errorf("%w: %d > %d", ErrStartAfterEnd, start, end)
	}
	if quark < 0 {
		return Interval{}, fmt.Errorf("%w: %d", ErrNegativeQuark, quark)
	}
	iv := Interval{Start: start, End: end, Quark: quark, Value: value}
	if iv.EncodedSize() > MaxEncodedSize {
		return Interval{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, iv.EncodedSize())
	}
	return iv, nil
}

// Intersects reports whether t falls within [Start, End] inclusive.
func (iv Interval) Intersects(t int64) bool {
	return iv.Start <= t && t <= iv.End
}

// EncodedSize returns the exact number of bytes Encode will write.
func (iv Interval) EncodedSize() int {
	return CommonHeaderBytes + payloadSize(iv.Value)
}

func payloadSize(v htvalue.Value) int {
	switch v.Kind() {
	case htvalue.KindNull, htvalue.KindBool:
		return 0
	case htvalue.KindInt:
		return 4
	case htvalue.KindLong:
		return 8
	case htvalue.KindDouble:
		return 8
	case htvalue.KindString:
		s, _ := v.StringValue()
		// u16 length + bytes + terminating zero byte
		return 2 + len(s) + 1
	default:
		return 0
	}
}

func tagOf(v htvalue.Value) (Tag, error) {
	switch v.Kind() {
	case htvalue.KindNull:
		return TagNull, nil
	case htvalue.KindInt:
		return TagInt, nil
	case htvalue.KindString:
		return TagString, nil
	case htvalue.KindLong:
		return TagLong, nil
	case htvalue.KindDouble:
		return TagDouble, nil
	case htvalue.KindBool:
		b, _ := v.BoolValue()
		if b {
			return TagBooleanTrue, nil
		}
		return TagBooleanFalse, nil
	default:
		return 0, fmt.Errorf("%w: kind %s", ErrUnknownTag, v.Kind())
	}
}

// Encode appends the serialized interval to dst and returns the result.
func (iv Interval) Encode(dst []byte) ([]byte, error) {
	tag, err := tagOf(iv.Value)
	if err != nil {
		return nil, err
	}

	base := len(dst)
	var hdr [CommonHeaderBytes]byte
	hdr[0] = byte(tag)
	binary.LittleEndian.PutUint64(hdr[1:9], uint64(iv.Start))
	binary.LittleEndian.PutUint64(hdr[9:17], uint64(iv.End))
	binary.LittleEndian.PutUint32(hdr[17:21], uint32(iv.Quark))
	dst = append(dst, hdr[:]...)

	switch tag {
	case TagNull, TagBooleanTrue, TagBooleanFalse:
		// no payload
	case TagInt:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(func() int32 { i, _ := iv.Value.IntValue(); return i }()))
		dst = append(dst, b[:]...)
	case TagLong:
		var b [8]byte
		l, _ := iv.Value.LongValue()
		binary.LittleEndian.PutUint64(b[:], uint64(l))
		dst = append(dst, b[:]...)
	case TagDouble:
		var b [8]byte
		d, _ := iv.Value.DoubleValue()
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(d))
		dst = append(dst, b[:]...)
	case TagString:
		s, _ := iv.Value.StringValue()
		if len(s) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: string length %d", ErrTooLarge, len(s))
		}
		var lb [2]byte
		binary.LittleEndian.PutUint16(lb[:], uint16(len(s)))
		dst = append(dst, lb[:]...)
		dst = append(dst, s...)
		dst = append(dst, 0)
	}

	if len(dst)-base > MaxEncodedSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(dst)-base)
	}
	return dst, nil
}

// Decode reads one interval from the head of buf and returns it along with
// the number of bytes consumed.
func Decode(buf []byte) (Interval, int, error) {
	if len(buf) < CommonHeaderBytes {
		return Interval{}, 0, ErrTruncated
	}
	tag := Tag(int8(buf[0]))
	start := int64(binary.LittleEndian.Uint64(buf[1:9]))
	end := int64(binary.LittleEndian.Uint64(buf[9:17]))
	quark := int(int32(binary.LittleEndian.Uint32(buf[17:21])))

	rest := buf[CommonHeaderBytes:]
	var value htvalue.Value
	consumed := CommonHeaderBytes

	switch tag {
	case TagNull:
		value = htvalue.Null()
	case TagBooleanTrue:
		value = htvalue.Bool(true)
	case TagBooleanFalse:
		value = htvalue.Bool(false)
	case TagInt:
		if len(rest) < 4 {
			return Interval{}, 0, ErrTruncated
		}
		value = htvalue.Int(int32(binary.LittleEndian.Uint32(rest[:4])))
		consumed += 4
	case TagLong:
		if len(rest) < 8 {
			return Interval{}, 0, ErrTruncated
		}
		value = htvalue.Long(int64(binary.LittleEndian.Uint64(rest[:8])))
		consumed += 8
	case TagDouble:
		if len(rest) < 8 {
			return Interval{}, 0, ErrTruncated
		}
		value = htvalue.Double(math.Float64frombits(binary.LittleEndian.Uint64(rest[:8])))
		consumed += 8
	case TagString:
		if len(rest) < 2 {
			return Interval{}, 0, ErrTruncated
		}
		strLen := int(binary.LittleEndian.Uint16(rest[:2]))
		need := 2 + strLen + 1
		if len(rest) < need {
			return Interval{}, 0, ErrTruncated
		}
		s := string(rest[2 : 2+strLen])
		if rest[2+strLen] != 0 {
			return Interval{}, 0, ErrStringNotNulTerm
		}
		value = htvalue.String(s)
		consumed += need
	default:
		return Interval{}, 0, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}

	return Interval{Start: start, End: end, Quark: quark, Value: value}, consumed, nil
}
