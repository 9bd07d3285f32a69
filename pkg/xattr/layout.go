package xattr

import (
	"encoding/binary"
	"fmt"
)

// Field identifies a variable-size field of a getxattr reply.
type Field int

const (
	// FieldEAData holds a single value (Get), the name blob (List) or the
	// name blob of a GetAll
	FieldEAData Field = iota

	// FieldEAVals holds the concatenated values of a GetAll
	FieldEAVals

	// FieldEAValsLens holds one 4-byte length per GetAll value
	FieldEAValsLens

	// FieldACL is reserved for the legacy ACL payload
	FieldACL

	numFields
)

// LenSize is the encoded size of one entry in FieldEAValsLens.
const LenSize = 4

var fieldNames = [...]string{
	FieldEAData:     "eadata",
	FieldEAVals:     "eavals",
	FieldEAValsLens: "eavals_lens",
	FieldACL:        "acl",
}

func (f Field) String() string {
	if f >= 0 && int(f) < len(fieldNames) {
		return fieldNames[f]
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// Layout is the set of field sizes computed before a reply is allocated.
type Layout struct {
	sizes [numFields]int
}

// Set records the size reserved for a field.
func (l *Layout) Set(f Field, size int) {
	if size < 0 {
		size = 0
	}
	l.sizes[f] = size
}

// Size returns the size reserved for a field.
func (l Layout) Size(f Field) int {
	return l.sizes[f]
}

// Total returns the sum of all field sizes.
func (l Layout) Total() int {
	total := 0
	for _, s := range l.sizes {
		total += s
	}
	return total
}

func (l Layout) String() string {
	return fmt.Sprintf("eadata=%d eavals=%d eavals_lens=%d acl=%d",
		l.sizes[FieldEAData], l.sizes[FieldEAVals], l.sizes[FieldEAValsLens], l.sizes[FieldACL])
}

// ReplyBuffer holds the fixed-capacity reply fields produced by an
// Allocator.
//
// Field capacities never change after allocation; Shrink only lowers the
// number of bytes reported as used.
type ReplyBuffer struct {
	fields [numFields][]byte
	used   [numFields]int
}

// Field returns the full capacity of f for writing.
func (b *ReplyBuffer) Field(f Field) []byte {
	return b.fields[f]
}

// Cap returns the capacity allocated for f.
func (b *ReplyBuffer) Cap(f Field) int {
	return len(b.fields[f])
}

// Bytes returns the used portion of f.
func (b *ReplyBuffer) Bytes(f Field) []byte {
	return b.fields[f][:b.used[f]]
}

// Used returns the number of bytes of f reported as used.
func (b *ReplyBuffer) Used(f Field) int {
	return b.used[f]
}

// Shrink sets the used size of f. Growing past the allocated capacity is
// rejected.
func (b *ReplyBuffer) Shrink(f Field, n int) error {
	if n < 0 || n > len(b.fields[f]) {
		return NewError(ErrRange, f.String(), "cannot resize field to %d bytes, capacity %d", n, len(b.fields[f]))
	}
	b.used[f] = n
	return nil
}

// ShrinkAll empties every field.
func (b *ReplyBuffer) ShrinkAll() {
	for i := range b.used {
		b.used[i] = 0
	}
}

// Allocator turns a Layout into a ReplyBuffer.
type Allocator interface {
	Allocate(layout Layout) (*ReplyBuffer, error)
}

// HeapAllocator allocates reply buffers on the heap.
//
// Limit caps the total reply size; a layout larger than Limit fails with
// ErrNoMemory. Zero means no limit.
type HeapAllocator struct {
	Limit int
}

// Allocate implements Allocator.
func (a HeapAllocator) Allocate(layout Layout) (*ReplyBuffer, error) {
	total := layout.Total()
	if a.Limit > 0 && total > a.Limit {
		return nil, NewError(ErrNoMemory, "", "reply of %d bytes exceeds allocation limit %d", total, a.Limit)
	}

	// One backing array, carved into fields.
	backing := make([]byte, total)
	buf := &ReplyBuffer{}
	off := 0
	for i := Field(0); i < numFields; i++ {
		size := layout.sizes[i]
		buf.fields[i] = backing[off : off+size : off+size]
		buf.used[i] = size
		off += size
	}
	return buf, nil
}

// ValueList accumulates GetAll values into the reserved EAVals and
// EAValsLens fields.
//
// Entries are appended as validated (name, value) pairs so the value
// array and the length array always describe the same entries:
// the sum of lengths equals the values size and there is one length per
// appended name.
type ValueList struct {
	vals  []byte
	lens  []byte
	used  int
	count int
	names []string
}

// NewValueList wraps the capacity of the two GetAll fields.
func NewValueList(vals, lens []byte) *ValueList {
	return &ValueList{vals: vals, lens: lens}
}

// Remaining returns the unused part of the value field. Callers may read
// the next value into it before calling Append.
func (v *ValueList) Remaining() []byte {
	return v.vals[v.used:]
}

// Append adds one entry. value may alias Remaining().
func (v *ValueList) Append(name string, value []byte) error {
	if name == "" {
		return NewError(ErrInvalid, name, "empty attribute name in value list")
	}
	if len(value) > len(v.vals)-v.used {
		return NewError(ErrRange, name, "value of %d bytes exceeds remaining reply space %d", len(value), len(v.vals)-v.used)
	}
	if (v.count+1)*LenSize > len(v.lens) {
		return NewError(ErrRange, name, "no room for another value length")
	}

	copy(v.vals[v.used:], value)
	binary.LittleEndian.PutUint32(v.lens[v.count*LenSize:], uint32(len(value)))
	v.used += len(value)
	v.count++
	v.names = append(v.names, name)
	return nil
}

// Len returns the number of entries appended.
func (v *ValueList) Len() int {
	return v.count
}

// Names returns the names of the appended entries in order.
func (v *ValueList) Names() []string {
	return v.names
}

// ValuesSize returns the bytes used in the value field.
func (v *ValueList) ValuesSize() int {
	return v.used
}

// LensSize returns the bytes used in the length field.
func (v *ValueList) LensSize() int {
	return v.count * LenSize
}

// DecodeLens decodes an EAValsLens field into lengths.
func DecodeLens(b []byte) []uint32 {
	lens := make([]uint32, 0, len(b)/LenSize)
	for len(b) >= LenSize {
		lens = append(lens, binary.LittleEndian.Uint32(b))
		b = b[LenSize:]
	}
	return lens
}

// EncodeLens encodes lengths in the EAValsLens format.
func EncodeLens(lens []uint32) []byte {
	b := make([]byte, len(lens)*LenSize)
	for i, l := range lens {
		binary.LittleEndian.PutUint32(b[i*LenSize:], l)
	}
	return b
}
