// Package lock decides which parts of an object's state a mutation must
// lock and provides the exclusive per-object locks that back those
// decisions.
package lock

import (
	"strings"

	"github.com/marmos91/dittomds/pkg/xattr"
)

// Scope is a set of independently lockable parts of an object.
type Scope uint8

// Scope bits, in acquisition order.
const (
	// ScopeLookup covers name lookup results cached by clients
	ScopeLookup Scope = 1 << iota

	// ScopeUpdate covers object attributes such as ctime and version
	ScopeUpdate

	// ScopeLayout covers the object's data layout
	ScopeLayout

	// ScopePerm covers permission state (mode and access ACL)
	ScopePerm

	// ScopeXattr covers extended attributes other than the access ACL
	ScopeXattr

	scopeEnd
)

var scopeNames = []struct {
	bit  Scope
	name string
}{
	{ScopeLookup, "lookup"},
	{ScopeUpdate, "update"},
	{ScopeLayout, "layout"},
	{ScopePerm, "perm"},
	{ScopeXattr, "xattr"},
}

// Has reports whether every bit of o is in s.
func (s Scope) Has(o Scope) bool {
	return s&o == o
}

// Bits returns the individual bits of s in acquisition order.
func (s Scope) Bits() []Scope {
	var bits []Scope
	for b := Scope(1); b < scopeEnd; b <<= 1 {
		if s&b != 0 {
			bits = append(bits, b)
		}
	}
	return bits
}

// Valid reports whether s is a non-empty set of known bits.
func (s Scope) Valid() bool {
	return s != 0 && s < scopeEnd
}

func (s Scope) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	for _, n := range scopeNames {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ScopeFor returns the lock scope a request must hold.
//
// Reads take no scope. Mutations always lock the update bit. Changing the
// access ACL also invalidates permission and lookup state cached by
// clients; any other name only touches the xattr bit. Layout
// sub-operations additionally lock the layout.
func ScopeFor(class xattr.Class, name string, op xattr.Op) Scope {
	if op.IsRead() {
		return 0
	}

	scope := ScopeUpdate

	if class == xattr.ClassLayout {
		if _, ok := xattr.LayoutOp(name); ok {
			scope |= ScopeLayout
		}
	}

	if name == xattr.NameACLAccess {
		scope |= ScopePerm | ScopeLookup
	} else {
		scope |= ScopeXattr
	}

	return scope
}
