package xattr

import (
	"bytes"
	"strings"
)

// Namespace prefixes and well-known attribute names.
const (
	PrefixUser    = "user."
	PrefixTrusted = "trusted."
	PrefixSystem  = "system."

	NameACLAccess  = "system.posix_acl_access"
	NameACLDefault = "system.posix_acl_default"

	NameLOV            = "trusted.lov"
	NameLMA            = "trusted.lma"
	NameLMV            = "trusted.lmv"
	NameLink           = "trusted.link"
	NameFID            = "trusted.fid"
	NameVersion        = "trusted.version"
	NameSOM            = "trusted.som"
	NameHSM            = "trusted.hsm"
	NameLFSCKNamespace = "trusted.lfsck_namespace"

	// PrefixLayout introduces layout sub-operations (lustre.lov.add,
	// lustre.lov.set, lustre.lov.del).
	PrefixLayout = "lustre.lov"
)

// Size limits.
const (
	// NameMax is the longest accepted attribute name in bytes
	NameMax = 255

	// SizeMax is the largest value a single attribute may hold
	SizeMax = 65536
)

// Layout sub-operation suffixes accepted after PrefixLayout.
var layoutOps = []string{".add", ".set", ".del"}

// reservedNames are internal attributes that clients may never modify.
// Mutations of these names succeed without doing anything.
var reservedNames = map[string]struct{}{
	NameLOV:            {},
	NameLMA:            {},
	NameLMV:            {},
	NameLink:           {},
	NameFID:            {},
	NameVersion:        {},
	NameSOM:            {},
	NameHSM:            {},
	NameLFSCKNamespace: {},
}

// Class is the namespace class of an attribute name.
type Class int

const (
	ClassOther Class = iota
	ClassUser
	ClassTrusted
	ClassReserved
	ClassACLAccess
	ClassACLDefault
	ClassLayout
)

var classNames = [...]string{
	ClassOther:      "other",
	ClassUser:       "user",
	ClassTrusted:    "trusted",
	ClassReserved:   "reserved",
	ClassACLAccess:  "acl_access",
	ClassACLDefault: "acl_default",
	ClassLayout:     "layout",
}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return "unknown"
}

// IsACL reports whether names of this class carry POSIX ACL payloads.
func (c Class) IsACL() bool {
	return c == ClassACLAccess || c == ClassACLDefault
}

// IsPrivileged reports whether the class lives in the trusted namespace.
func (c Class) IsPrivileged() bool {
	return c == ClassTrusted || c == ClassReserved
}

// Classify returns the class of name. It does not validate the name.
func Classify(name string) Class {
	switch {
	case strings.HasPrefix(name, PrefixUser):
		return ClassUser
	case strings.HasPrefix(name, PrefixTrusted):
		if _, ok := reservedNames[name]; ok {
			return ClassReserved
		}
		return ClassTrusted
	case name == NameACLAccess:
		return ClassACLAccess
	case name == NameACLDefault:
		return ClassACLDefault
	case strings.HasPrefix(name, PrefixLayout) && len(name) > len(PrefixLayout)+1:
		return ClassLayout
	}
	return ClassOther
}

// IsReserved reports whether name is one of the internal attributes
// clients cannot modify.
func IsReserved(name string) bool {
	_, ok := reservedNames[name]
	return ok
}

// LayoutOp returns the sub-operation of a layout name (".add", ".set" or
// ".del") and whether the name is one of those exact forms.
func LayoutOp(name string) (string, bool) {
	if !strings.HasPrefix(name, PrefixLayout) {
		return "", false
	}
	suffix := name[len(PrefixLayout):]
	for _, op := range layoutOps {
		if suffix == op {
			return op, true
		}
	}
	return "", false
}

// ValidateName checks the generic name constraints shared by all
// operations that address a single attribute.
func ValidateName(name string) error {
	if name == "" {
		return NewError(ErrInvalid, name, "empty attribute name")
	}
	if len(name) > NameMax {
		return NewError(ErrInvalid, name[:32]+"...", "attribute name longer than %d bytes", NameMax)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return NewError(ErrInvalid, name, "attribute name contains NUL")
	}
	return nil
}

// SetFlags selects create/replace semantics for a Set.
type SetFlags uint32

const (
	SetNone    SetFlags = 0
	SetCreate  SetFlags = 1
	SetReplace SetFlags = 2
)

// Validate rejects unknown bits and the contradictory Create|Replace pair.
func (f SetFlags) Validate() error {
	if f&^(SetCreate|SetReplace) != 0 {
		return NewError(ErrInvalid, "", "unknown set flags %#x", uint32(f))
	}
	if f&SetCreate != 0 && f&SetReplace != 0 {
		return NewError(ErrInvalid, "", "create and replace flags are mutually exclusive")
	}
	return nil
}

// CheckPrecondition applies create/replace semantics against the current
// existence of the attribute. Stores call this inside their write
// transaction.
func (f SetFlags) CheckPrecondition(name string, exists bool) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f&SetCreate != 0 && exists {
		return NewError(ErrExists, name, "attribute already exists")
	}
	if f&SetReplace != 0 && !exists {
		return NewError(ErrNoData, name, "attribute does not exist")
	}
	return nil
}

// JoinNames encodes names as a NUL-terminated name blob, the format
// returned by List.
func JoinNames(names []string) []byte {
	size := 0
	for _, n := range names {
		size += len(n) + 1
	}
	buf := make([]byte, 0, size)
	for _, n := range names {
		buf = append(buf, n...)
		buf = append(buf, 0)
	}
	return buf
}

// NamesSize returns the encoded size of names as a name blob.
func NamesSize(names []string) int {
	size := 0
	for _, n := range names {
		size += len(n) + 1
	}
	return size
}

// SplitNames decodes a NUL-terminated name blob. Empty entries are skipped.
func SplitNames(blob []byte) []string {
	var names []string
	for len(blob) > 0 {
		i := bytes.IndexByte(blob, 0)
		if i < 0 {
			names = append(names, string(blob))
			break
		}
		if i > 0 {
			names = append(names, string(blob[:i]))
		}
		blob = blob[i+1:]
	}
	return names
}
