package badger

import (
	"github.com/marmos91/dittomds/pkg/fid"
)

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so we use prefixed keys to keep object
// records and attribute values in separate logical namespaces.
//
// Key Namespace Prefixes:
//
// Data Type         Prefix   Key Format                    Value Type
// ====================================================================
// Object record     "o:"     o:<fid16>                     store.Object (JSON)
// Attribute value   "x:"     x:<fid16>:<name>              raw bytes
//
// <fid16> is the 16-byte big-endian FID encoding (fid.FID.Bytes), so all
// attributes of one object share the prefix "x:<fid16>:" and a prefix
// iteration returns them in name order. Names may contain any byte except
// NUL, including ':'; the fixed-width FID keeps the prefix unambiguous.

const (
	prefixObject = "o:"
	prefixAttr   = "x:"
)

func objectKey(f fid.FID) []byte {
	key := make([]byte, 0, len(prefixObject)+fid.Size)
	key = append(key, prefixObject...)
	return append(key, f.Bytes()...)
}

// attrPrefix returns "x:<fid16>:".
func attrPrefix(f fid.FID) []byte {
	key := make([]byte, 0, len(prefixAttr)+fid.Size+1)
	key = append(key, prefixAttr...)
	key = append(key, f.Bytes()...)
	return append(key, ':')
}

func attrKey(f fid.FID, name string) []byte {
	return append(attrPrefix(f), name...)
}

// attrName extracts the attribute name from an attribute key.
func attrName(key []byte) string {
	return string(key[len(prefixAttr)+fid.Size+1:])
}
