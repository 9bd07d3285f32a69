package handler

import (
	"context"
	"strings"
	"time"

	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/lock"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// ============================================================================
// Valid Bits
// ============================================================================

// Valid is the bit mask carried in request and reply headers. On requests
// it selects the operation and flags optional fields; on Get replies
// ValidXattr marks that a value is present, so clients can tell an empty
// value from an absent attribute.
type Valid uint64

const (
	// ValidCtime marks that the request carries a change time
	ValidCtime Valid = 0x00000010

	// ValidXattr selects Get (alone) or Set, and marks a present value on
	// replies
	ValidXattr Valid = 0x1000000000

	// ValidXattrList selects List (alone) or GetAll (with ValidXattr)
	ValidXattrList Valid = 0x2000000000

	// ValidXattrRemove selects Remove
	ValidXattrRemove Valid = 0x4000000000

	// ValidXattrAll selects GetAll
	ValidXattrAll = ValidXattr | ValidXattrList
)

// Has reports whether every bit of o is set in v.
func (v Valid) Has(o Valid) bool {
	return v&o == o
}

func (v Valid) String() string {
	var parts []string
	if v.Has(ValidXattr) {
		parts = append(parts, "xattr")
	}
	if v.Has(ValidXattrList) {
		parts = append(parts, "xattrls")
	}
	if v.Has(ValidXattrRemove) {
		parts = append(parts, "xattrrm")
	}
	if v.Has(ValidCtime) {
		parts = append(parts, "ctime")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// GetOp maps the selector bits of a Get request to an operation. Anything
// other than exactly one of Get, List or GetAll is OpUnknown.
func (v Valid) GetOp() xattr.Op {
	switch v & (ValidXattr | ValidXattrList) {
	case ValidXattr:
		return xattr.OpGet
	case ValidXattrList:
		return xattr.OpList
	case ValidXattrAll:
		return xattr.OpGetAll
	default:
		return xattr.OpUnknown
	}
}

// SetOp maps the selector bits of a Set request to an operation. Set wins
// when both Set and Remove are present; no selector is OpUnknown.
func (v Valid) SetOp() xattr.Op {
	switch {
	case v.Has(ValidXattr):
		return xattr.OpSet
	case v.Has(ValidXattrRemove):
		return xattr.OpRemove
	default:
		return xattr.OpUnknown
	}
}

// ============================================================================
// Request and Reply Structures
// ============================================================================

// RequestContext carries what the transport knows about the request: its
// lifetime, the connection it arrived on and the credentials it claims.
type RequestContext struct {
	// Context carries cancellation signals and deadlines.
	// Lock acquisition and store calls honour it.
	Context context.Context

	// Conn is the client connection (address and negotiated features).
	// May be nil for in-process callers, which then have no features.
	Conn *xattr.Connection

	// Caller is the identity claimed by the client, before nodemap
	// resolution.
	Caller xattr.Caller
}

func (c *RequestContext) ctx() context.Context {
	if c == nil || c.Context == nil {
		return context.Background()
	}
	return c.Context
}

// owner is the lock owner of the request: its connection, or "" for
// in-process callers.
func (c *RequestContext) owner() string {
	if c == nil || c.Conn == nil {
		return ""
	}
	return c.Conn.ID
}

func (c *RequestContext) clientAddr() string {
	if c == nil || c.Conn == nil {
		return "local"
	}
	return c.Conn.Addr
}

// GetRequest is a Get, List or GetAll request.
type GetRequest struct {
	// FID addresses the object.
	FID fid.FID

	// Valid selects the operation: ValidXattr (Get), ValidXattrList (List)
	// or both (GetAll).
	Valid Valid

	// Name is the attribute to read. Only used by Get.
	Name string

	// MaxReplySize is the buffer size the client prepared.
	// Zero asks Get and List for the size only; GetAll requires it and
	// never returns more value bytes than this.
	MaxReplySize int
}

// GetReply is the response to a GetRequest.
type GetReply struct {
	// Status is OK or the errno of the failure.
	Status xattr.Errno

	// Valid has ValidXattr set on success.
	Valid Valid

	// EADataSize is the value size (Get), the name blob size (List, GetAll)
	// or the size a size-only query asked for.
	EADataSize int

	// EAData holds the value (Get) or the NUL-terminated name blob
	// (List, GetAll). Empty on size-only queries and failures.
	EAData []byte

	// EAVals holds the concatenated values of a GetAll.
	EAVals []byte

	// EAValsLens holds one little-endian uint32 per GetAll value.
	EAValsLens []byte

	// ACLSize is the total value size of a GetAll.
	ACLSize int

	// MaxMDSize is the number of values of a GetAll.
	MaxMDSize int
}

// SetRequest is a Set or Remove request.
type SetRequest struct {
	// FID addresses the object.
	FID fid.FID

	// Valid selects the operation (ValidXattr for Set, ValidXattrRemove
	// for Remove) and whether Ctime is present (ValidCtime).
	Valid Valid

	// Name is the attribute to set or remove.
	Name string

	// Value is the new value. Ignored by Remove.
	Value []byte

	// Flags selects create-only or replace-only semantics for Set.
	Flags xattr.SetFlags

	// Ctime is the change time chosen by the client.
	Ctime time.Time

	// PreVersion, when non-zero, must match the object's version or the
	// request fails with EOVERFLOW.
	PreVersion uint64

	// CancelCookies are lock cancellations piggybacked on the request.
	// Only grants held by the request's own connection are released.
	CancelCookies []lock.Cookie
}

// SetReply is the response to a SetRequest.
type SetReply struct {
	// Status is OK or the errno of the failure.
	Status xattr.Errno

	// NoOp is set when a reserved name made the request succeed without
	// touching the store.
	NoOp bool

	// Version is the object version after a successful mutation.
	Version uint64
}

// LockRequest asks for a lock scope held on behalf of the connection
// until the client cancels it or disconnects.
type LockRequest struct {
	FID   fid.FID
	Scope lock.Scope
}

// LockReply is the response to a LockRequest.
type LockReply struct {
	// Status is OK or the errno of the failure.
	Status xattr.Errno

	// Cookie names the grant in later cancellations.
	Cookie lock.Cookie
}
