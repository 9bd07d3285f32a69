package wire

import (
	"github.com/marmos91/dittomds/pkg/fid"
)

// CallHeader starts every call body.
type CallHeader struct {
	XID       uint32
	Procedure Procedure
}

// ReplyHeader starts every reply body. Results follow only when Stat is
// Accepted.
type ReplyHeader struct {
	XID       uint32
	Procedure Procedure
	Stat      AcceptStat
}

// ConnectArgs opens a session. The credentials apply to every later call
// on the connection.
type ConnectArgs struct {
	Version  uint32
	Features uint64
	UID      uint32
	GID      uint32
	Groups   []uint32
	Caps     uint64
}

// ConnectRes reports the negotiated session.
type ConnectRes struct {
	Status uint32

	// ConnID identifies the connection in server logs
	ConnID string

	// Features is the granted subset of the requested features
	Features uint64

	// MaxEASize is the largest value the server accepts
	MaxEASize uint32
}

// GetxattrArgs carries a Get, List or GetAll request.
type GetxattrArgs struct {
	FID          fid.FID
	Valid        uint64
	Name         string
	MaxReplySize uint32
}

// GetxattrRes carries the reply to GetxattrArgs.
type GetxattrRes struct {
	Status     uint32
	Valid      uint64
	EADataSize uint32
	EAData     []byte
	EAVals     []byte
	EAValsLens []byte
	ACLSize    uint32
	MaxMDSize  uint32
}

// SetxattrArgs carries a Set or Remove request.
type SetxattrArgs struct {
	FID           fid.FID
	Valid         uint64
	Name          string
	Value         []byte
	Flags         uint32
	CtimeSec      int64
	CtimeNsec     uint32
	PreVersion    uint64
	CancelCookies []uint64
}

// SetxattrRes carries the reply to SetxattrArgs.
type SetxattrRes struct {
	Status  uint32
	NoOp    bool
	Version uint64
}

// LockArgs asks for a lock scope on an object.
type LockArgs struct {
	FID   fid.FID
	Scope uint32
}

// LockRes carries the reply to LockArgs.
type LockRes struct {
	Status uint32
	Cookie uint64
}
