// Package fid defines the global object identifier used to address
// filesystem objects across the cluster.
package fid

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Size is the length in bytes of the binary FID encoding.
const Size = 16

// FID is a globally unique, stable reference to a filesystem object.
//
// A FID is made of a 64-bit sequence, a 32-bit object id within that
// sequence and a 32-bit version. The zero FID never addresses an object.
type FID struct {
	// Seq is the sequence the object was allocated from
	Seq uint64

	// Oid is the object id within the sequence
	Oid uint32

	// Ver is the object version (0 for the object itself)
	Ver uint32
}

// IsZero reports whether f is the zero FID.
func (f FID) IsZero() bool {
	return f.Seq == 0 && f.Oid == 0 && f.Ver == 0
}

// String returns the bracketed hex form, e.g. "[0x200000401:0x1:0x0]".
func (f FID) String() string {
	return fmt.Sprintf("[%#x:%#x:%#x]", f.Seq, f.Oid, f.Ver)
}

// Bytes returns the 16-byte big-endian encoding of f.
//
// The encoding sorts in (Seq, Oid, Ver) order, which keeps all keys of one
// object adjacent in ordered key-value stores.
func (f FID) Bytes() []byte {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint64(buf[0:8], f.Seq)
	binary.BigEndian.PutUint32(buf[8:12], f.Oid)
	binary.BigEndian.PutUint32(buf[12:16], f.Ver)
	return buf
}

// FromBytes decodes a FID produced by Bytes.
func FromBytes(b []byte) (FID, error) {
	if len(b) != Size {
		return FID{}, fmt.Errorf("invalid FID length %d, expected %d", len(b), Size)
	}
	return FID{
		Seq: binary.BigEndian.Uint64(b[0:8]),
		Oid: binary.BigEndian.Uint32(b[8:12]),
		Ver: binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// Parse parses the textual form produced by String. The surrounding
// brackets are optional and each component accepts any base prefix
// understood by strconv.ParseUint.
func Parse(s string) (FID, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")

	parts := strings.Split(trimmed, ":")
	if len(parts) != 3 {
		return FID{}, fmt.Errorf("invalid FID %q: expected seq:oid:ver", s)
	}

	seq, err := strconv.ParseUint(parts[0], 0, 64)
	if err != nil {
		return FID{}, fmt.Errorf("invalid FID %q: bad sequence: %w", s, err)
	}
	oid, err := strconv.ParseUint(parts[1], 0, 32)
	if err != nil {
		return FID{}, fmt.Errorf("invalid FID %q: bad object id: %w", s, err)
	}
	ver, err := strconv.ParseUint(parts[2], 0, 32)
	if err != nil {
		return FID{}, fmt.Errorf("invalid FID %q: bad version: %w", s, err)
	}

	return FID{Seq: seq, Oid: uint32(oid), Ver: uint32(ver)}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// static initialisation.
func MustParse(s string) FID {
	f, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return f
}
