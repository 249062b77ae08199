// Package bplist reads Apple binary property lists ("bplist00").
//
// The reader never trusts a size, offset, or count declared by the file.
// The trailer is validated once in Open, and every object offset and length
// is checked against the buffer again when the object is decoded, so a
// truncated or hostile buffer produces an error instead of an out-of-range
// read or an oversized allocation.
//
// Layout of a binary plist:
//   - 8-byte header "bplist00"
//   - object data, one tagged object after another
//   - offset table: one big-endian integer per object, OffsetIntSize bytes each
//   - 32-byte trailer describing the two sizes, the object count,
//     the top object index and where the offset table starts
//
// Objects are decoded lazily; nothing is cached between calls.
package bplist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf16"
)

// Magic is the header every binary property list starts with.
const Magic = "bplist00"

const (
	headerSize  = len(Magic)
	trailerSize = 32

	// MinSize is the smallest buffer that can hold a header, one one-byte
	// object, a one-byte offset table and the trailer.
	MinSize = headerSize + 1 + 1 + trailerSize
)

var (
	ErrTooShort    = errors.New("bplist: buffer too short")
	ErrBadMagic    = errors.New("bplist: missing bplist00 header")
	ErrBadTrailer  = errors.New("bplist: invalid trailer")
	ErrOutOfBounds = errors.New("bplist: reference out of bounds")
	ErrBadObject   = errors.New("bplist: malformed object")
)

// HasMagic reports whether data starts with the binary plist header.
func HasMagic(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic))
}

// Trailer is the fixed-size structure at the end of a binary plist.
type Trailer struct {
	OffsetIntSize uint8  // bytes per offset table entry
	ObjectRefSize uint8  // bytes per object reference inside arrays and dicts
	NumObjects    uint64 // entries in the offset table
	TopObject     uint64 // index of the root object
	OffsetTable   uint64 // byte offset of the offset table
}

// validate checks the trailer against the size of the buffer it came from.
// All arithmetic is done so that it cannot overflow.
func (t Trailer) validate(size uint64) error {
	if t.OffsetIntSize < 1 || t.OffsetIntSize > 8 {
		return fmt.Errorf("%w: offset int size %d", ErrBadTrailer, t.OffsetIntSize)
	}
	if t.ObjectRefSize < 1 || t.ObjectRefSize > 8 {
		return fmt.Errorf("%w: object ref size %d", ErrBadTrailer, t.ObjectRefSize)
	}
	if t.NumObjects == 0 {
		return fmt.Errorf("%w: no objects", ErrBadTrailer)
	}
	if t.TopObject >= t.NumObjects {
		return fmt.Errorf("%w: top object %d of %d", ErrBadTrailer, t.TopObject, t.NumObjects)
	}
	limit := size - trailerSize
	if t.OffsetTable < uint64(headerSize) || t.OffsetTable >= limit {
		return fmt.Errorf("%w: offset table at %d", ErrBadTrailer, t.OffsetTable)
	}
	if t.NumObjects > (limit-t.OffsetTable)/uint64(t.OffsetIntSize) {
		return fmt.Errorf("%w: offset table of %d entries overruns buffer", ErrBadTrailer, t.NumObjects)
	}
	return nil
}

// Document is an opened binary plist. It borrows the buffer passed to Open
// and must not outlive the call that owns that buffer.
type Document struct {
	data    []byte
	trailer Trailer
}

// Open validates the header and trailer of data.
func Open(data []byte) (*Document, error) {
	if len(data) < MinSize {
		return nil, ErrTooShort
	}
	if !HasMagic(data) {
		return nil, ErrBadMagic
	}
	t := data[len(data)-trailerSize:]
	tr := Trailer{
		OffsetIntSize: t[6],
		ObjectRefSize: t[7],
		NumObjects:    binary.BigEndian.Uint64(t[8:16]),
		TopObject:     binary.BigEndian.Uint64(t[16:24]),
		OffsetTable:   binary.BigEndian.Uint64(t[24:32]),
	}
	if err := tr.validate(uint64(len(data))); err != nil {
		return nil, err
	}
	return &Document{data: data, trailer: tr}, nil
}

// Trailer returns the validated trailer.
func (d *Document) Trailer() Trailer {
	return d.trailer
}

// Len returns the number of objects in the object table.
func (d *Document) Len() uint64 {
	return d.trailer.NumObjects
}

// TopRef returns the object reference of the root object.
func (d *Document) TopRef() uint64 {
	return d.trailer.TopObject
}

// Root decodes the root object.
func (d *Document) Root() (Node, error) {
	return d.Object(d.trailer.TopObject)
}

// offset returns the start of object ref. Objects live strictly between the
// header and the offset table.
func (d *Document) offset(ref uint64) (uint64, error) {
	if ref >= d.trailer.NumObjects {
		return 0, fmt.Errorf("%w: object %d of %d", ErrOutOfBounds, ref, d.trailer.NumObjects)
	}
	size := uint64(d.trailer.OffsetIntSize)
	pos := d.trailer.OffsetTable + ref*size
	off := readUint(d.data[pos : pos+size])
	if off < uint64(headerSize) || off >= d.trailer.OffsetTable {
		return 0, fmt.Errorf("%w: object %d at offset %d", ErrOutOfBounds, ref, off)
	}
	return off, nil
}

// Object decodes the object with the given reference.
func (d *Document) Object(ref uint64) (Node, error) {
	off, err := d.offset(ref)
	if err != nil {
		return nil, err
	}
	r := reader{data: d.data[:d.trailer.OffsetTable], pos: off}

	marker, err := r.byte()
	if err != nil {
		return nil, err
	}
	kind, info := marker>>4, marker&0x0f

	switch kind {
	case 0x0:
		switch info {
		case 0x0, 0xf:
			return Scalar{Kind: KindNull}, nil
		case 0x8, 0x9:
			return Scalar{Kind: KindBool}, nil
		}
		return nil, fmt.Errorf("%w: marker 0x%02x", ErrBadObject, marker)

	case 0x1:
		if info > 4 {
			return nil, fmt.Errorf("%w: integer width 2^%d", ErrBadObject, info)
		}
		b, err := r.bytes(1 << info)
		if err != nil {
			return nil, err
		}
		return Integer(decodeInt(b)), nil

	case 0x2:
		if info != 2 && info != 3 {
			return nil, fmt.Errorf("%w: real width 2^%d", ErrBadObject, info)
		}
		if _, err := r.bytes(1 << info); err != nil {
			return nil, err
		}
		return Scalar{Kind: KindReal}, nil

	case 0x3:
		if info != 3 {
			return nil, fmt.Errorf("%w: marker 0x%02x", ErrBadObject, marker)
		}
		if _, err := r.bytes(8); err != nil {
			return nil, err
		}
		return Scalar{Kind: KindDate}, nil

	case 0x4:
		n, err := r.count(info, 1)
		if err != nil {
			return nil, err
		}
		if _, err := r.bytes(n); err != nil {
			return nil, err
		}
		return Scalar{Kind: KindData}, nil

	case 0x5:
		n, err := r.count(info, 1)
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(n)
		if err != nil {
			return nil, err
		}
		return String(b), nil

	case 0x6:
		n, err := r.count(info, 2)
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(n * 2)
		if err != nil {
			return nil, err
		}
		units := make([]uint16, n)
		for i := range units {
			units[i] = binary.BigEndian.Uint16(b[i*2:])
		}
		return String(utf16.Decode(units)), nil

	case 0x8:
		b, err := r.bytes(uint64(info) + 1)
		if err != nil {
			return nil, err
		}
		return UID(readUint(b)), nil

	case 0xa, 0xc:
		refSize := uint64(d.trailer.ObjectRefSize)
		n, err := r.count(info, refSize)
		if err != nil {
			return nil, err
		}
		refs, err := r.refs(n, refSize)
		if err != nil {
			return nil, err
		}
		return Array{Refs: refs}, nil

	case 0xd:
		refSize := uint64(d.trailer.ObjectRefSize)
		n, err := r.count(info, 2*refSize)
		if err != nil {
			return nil, err
		}
		keys, err := r.refs(n, refSize)
		if err != nil {
			return nil, err
		}
		values, err := r.refs(n, refSize)
		if err != nil {
			return nil, err
		}
		return Dict{Keys: keys, Values: values}, nil
	}

	return nil, fmt.Errorf("%w: marker 0x%02x", ErrBadObject, marker)
}

// Value returns the object reference stored under key in dict. Keys that
// fail to decode or are not strings never match.
func (d *Document) Value(dict Dict, key string) (uint64, bool) {
	for i, kref := range dict.Keys {
		k, err := d.Object(kref)
		if err != nil {
			continue
		}
		if s, ok := k.(String); ok && string(s) == key {
			return dict.Values[i], true
		}
	}
	return 0, false
}

// reader is a cursor over the object region of a document. Every read is
// checked against len(data).
type reader struct {
	data []byte
	pos  uint64
}

func (r *reader) remaining() uint64 {
	return uint64(len(r.data)) - r.pos
}

func (r *reader) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrOutOfBounds
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n uint64) ([]byte, error) {
	if n > r.remaining() {
		return nil, fmt.Errorf("%w: %d bytes at %d", ErrOutOfBounds, n, r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// count reads the element count encoded in a marker's low nibble, or in the
// integer object that follows when the nibble is 0xf. unit is the number of
// bytes each element occupies; counts that cannot fit in the remaining
// bytes are rejected before the caller allocates anything.
func (r *reader) count(info byte, unit uint64) (uint64, error) {
	n := uint64(info)
	if info == 0xf {
		m, err := r.byte()
		if err != nil {
			return 0, err
		}
		if m>>4 != 0x1 || m&0x0f > 3 {
			return 0, fmt.Errorf("%w: count marker 0x%02x", ErrBadObject, m)
		}
		b, err := r.bytes(1 << (m & 0x0f))
		if err != nil {
			return 0, err
		}
		n = readUint(b)
	}
	if unit > 0 && n > r.remaining()/unit {
		return 0, fmt.Errorf("%w: count %d", ErrOutOfBounds, n)
	}
	return n, nil
}

func (r *reader) refs(n, size uint64) ([]uint64, error) {
	b, err := r.bytes(n * size)
	if err != nil {
		return nil, err
	}
	refs := make([]uint64, n)
	for i := range refs {
		refs[i] = readUint(b[uint64(i)*size : uint64(i+1)*size])
	}
	return refs, nil
}

// readUint decodes a big-endian unsigned integer of up to 8 bytes.
func readUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// decodeInt decodes a plist integer. Eight-byte integers are signed; the
// 16-byte form keeps its low 64 bits.
func decodeInt(b []byte) int64 {
	if len(b) == 16 {
		b = b[8:]
	}
	v := readUint(b)
	if len(b) == 8 {
		return int64(v)
	}
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
