package idmap

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/dittomds/pkg/xattr"
)

// POSIX ACL extended-attribute encoding.
//
// The value of system.posix_acl_access and system.posix_acl_default is a
// 4-byte little-endian version header followed by 8-byte entries:
//
//	+--------+--------+----------------+
//	| tag u16| perm u16|     id u32     |
//	+--------+--------+----------------+
const (
	ACLVersion    = 2
	aclHeaderSize = 4
	aclEntrySize  = 8
)

// ACL entry tags.
const (
	TagUserObj  uint16 = 0x01
	TagUser     uint16 = 0x02
	TagGroupObj uint16 = 0x04
	TagGroup    uint16 = 0x08
	TagMask     uint16 = 0x10
	TagOther    uint16 = 0x20
)

// UndefinedID is the id stored in entries whose tag carries no id.
const UndefinedID uint32 = 0xffffffff

// ACLEntry is a single decoded ACL entry.
type ACLEntry struct {
	Tag  uint16
	Perm uint16
	ID   uint32
}

// ACL is a decoded POSIX ACL attribute value.
type ACL struct {
	Version uint32
	Entries []ACLEntry
}

// ACLSize returns the encoded size of an ACL with n entries.
func ACLSize(n int) int {
	return aclHeaderSize + n*aclEntrySize
}

// DecodeACL parses an ACL attribute value.
func DecodeACL(buf []byte) (*ACL, error) {
	if len(buf) < aclHeaderSize || (len(buf)-aclHeaderSize)%aclEntrySize != 0 {
		return nil, xattr.NewError(xattr.ErrInvalid, "", "malformed ACL of %d bytes", len(buf))
	}

	acl := &ACL{Version: binary.LittleEndian.Uint32(buf)}
	if acl.Version != ACLVersion {
		return nil, xattr.NewError(xattr.ErrInvalid, "", "unsupported ACL version %d", acl.Version)
	}

	n := (len(buf) - aclHeaderSize) / aclEntrySize
	acl.Entries = make([]ACLEntry, n)
	for i := 0; i < n; i++ {
		e := buf[aclHeaderSize+i*aclEntrySize:]
		acl.Entries[i] = ACLEntry{
			Tag:  binary.LittleEndian.Uint16(e[0:2]),
			Perm: binary.LittleEndian.Uint16(e[2:4]),
			ID:   binary.LittleEndian.Uint32(e[4:8]),
		}
	}
	return acl, nil
}

// Size returns the encoded size of a.
func (a *ACL) Size() int {
	return ACLSize(len(a.Entries))
}

// Encode serializes a in the attribute format.
func (a *ACL) Encode() []byte {
	buf := make([]byte, a.Size())
	binary.LittleEndian.PutUint32(buf, a.Version)
	for i, e := range a.Entries {
		b := buf[aclHeaderSize+i*aclEntrySize:]
		binary.LittleEndian.PutUint16(b[0:2], e.Tag)
		binary.LittleEndian.PutUint16(b[2:4], e.Perm)
		binary.LittleEndian.PutUint32(b[4:8], e.ID)
	}
	return buf
}

func (e ACLEntry) String() string {
	switch e.Tag {
	case TagUser:
		return fmt.Sprintf("user:%d:%s", e.ID, permString(e.Perm))
	case TagGroup:
		return fmt.Sprintf("group:%d:%s", e.ID, permString(e.Perm))
	case TagUserObj:
		return "user::" + permString(e.Perm)
	case TagGroupObj:
		return "group::" + permString(e.Perm)
	case TagMask:
		return "mask::" + permString(e.Perm)
	case TagOther:
		return "other::" + permString(e.Perm)
	}
	return fmt.Sprintf("tag(%#x):%d:%s", e.Tag, e.ID, permString(e.Perm))
}

func permString(p uint16) string {
	b := []byte("---")
	if p&4 != 0 {
		b[0] = 'r'
	}
	if p&2 != 0 {
		b[1] = 'w'
	}
	if p&1 != 0 {
		b[2] = 'x'
	}
	return string(b)
}
