package wire

import (
	"time"

	"github.com/marmos91/dittomds/pkg/handler"
	"github.com/marmos91/dittomds/pkg/lock"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// Caller returns the credentials carried by a connect call.
func (a *ConnectArgs) Caller() xattr.Caller {
	return xattr.Caller{
		UID:    a.UID,
		GID:    a.GID,
		Groups: append([]uint32(nil), a.Groups...),
		Caps:   xattr.Capabilities(a.Caps),
	}
}

// NewConnectArgs builds connect arguments for a caller.
func NewConnectArgs(features xattr.Features, caller xattr.Caller) *ConnectArgs {
	return &ConnectArgs{
		Version:  ProtocolVersion,
		Features: uint64(features),
		UID:      caller.UID,
		GID:      caller.GID,
		Groups:   caller.Groups,
		Caps:     uint64(caller.Caps),
	}
}

// NewGetxattrArgs converts a handler request for the wire.
func NewGetxattrArgs(req *handler.GetRequest) *GetxattrArgs {
	return &GetxattrArgs{
		FID:          req.FID,
		Valid:        uint64(req.Valid),
		Name:         req.Name,
		MaxReplySize: clampSize(req.MaxReplySize),
	}
}

// Request converts the arguments into a handler request.
func (a *GetxattrArgs) Request() *handler.GetRequest {
	return &handler.GetRequest{
		FID:          a.FID,
		Valid:        handler.Valid(a.Valid),
		Name:         a.Name,
		MaxReplySize: int(a.MaxReplySize),
	}
}

// NewGetxattrRes converts a handler reply for the wire.
func NewGetxattrRes(r *handler.GetReply) *GetxattrRes {
	return &GetxattrRes{
		Status:     uint32(r.Status),
		Valid:      uint64(r.Valid),
		EADataSize: clampSize(r.EADataSize),
		EAData:     r.EAData,
		EAVals:     r.EAVals,
		EAValsLens: r.EAValsLens,
		ACLSize:    clampSize(r.ACLSize),
		MaxMDSize:  clampSize(r.MaxMDSize),
	}
}

// Reply converts the results into a handler reply.
func (r *GetxattrRes) Reply() *handler.GetReply {
	return &handler.GetReply{
		Status:     xattr.Errno(r.Status),
		Valid:      handler.Valid(r.Valid),
		EADataSize: int(r.EADataSize),
		EAData:     r.EAData,
		EAVals:     r.EAVals,
		EAValsLens: r.EAValsLens,
		ACLSize:    int(r.ACLSize),
		MaxMDSize:  int(r.MaxMDSize),
	}
}

// NewSetxattrArgs converts a handler request for the wire.
func NewSetxattrArgs(req *handler.SetRequest) *SetxattrArgs {
	a := &SetxattrArgs{
		FID:        req.FID,
		Valid:      uint64(req.Valid),
		Name:       req.Name,
		Value:      req.Value,
		Flags:      uint32(req.Flags),
		PreVersion: req.PreVersion,
	}
	if !req.Ctime.IsZero() {
		a.CtimeSec = req.Ctime.Unix()
		a.CtimeNsec = uint32(req.Ctime.Nanosecond())
	}
	for _, c := range req.CancelCookies {
		a.CancelCookies = append(a.CancelCookies, uint64(c))
	}
	return a
}

// Request converts the arguments into a handler request. The change time
// is only decoded when ValidCtime is set.
func (a *SetxattrArgs) Request() *handler.SetRequest {
	req := &handler.SetRequest{
		FID:        a.FID,
		Valid:      handler.Valid(a.Valid),
		Name:       a.Name,
		Value:      a.Value,
		Flags:      xattr.SetFlags(a.Flags),
		PreVersion: a.PreVersion,
	}
	if req.Valid.Has(handler.ValidCtime) {
		req.Ctime = time.Unix(a.CtimeSec, int64(a.CtimeNsec)).UTC()
	}
	for _, c := range a.CancelCookies {
		req.CancelCookies = append(req.CancelCookies, lock.Cookie(c))
	}
	return req
}

// NewSetxattrRes converts a handler reply for the wire.
func NewSetxattrRes(r *handler.SetReply) *SetxattrRes {
	return &SetxattrRes{
		Status:  uint32(r.Status),
		NoOp:    r.NoOp,
		Version: r.Version,
	}
}

// Reply converts the results into a handler reply.
func (r *SetxattrRes) Reply() *handler.SetReply {
	return &handler.SetReply{
		Status:  xattr.Errno(r.Status),
		NoOp:    r.NoOp,
		Version: r.Version,
	}
}

// NewLockArgs converts a handler request for the wire.
func NewLockArgs(req *handler.LockRequest) *LockArgs {
	return &LockArgs{FID: req.FID, Scope: uint32(req.Scope)}
}

// Request converts the arguments into a handler request. Scopes wider
// than lock.Scope are kept invalid rather than truncated.
func (a *LockArgs) Request() *handler.LockRequest {
	scope := lock.Scope(a.Scope)
	if a.Scope > 0xff {
		scope = 0
	}
	return &handler.LockRequest{FID: a.FID, Scope: scope}
}

// NewLockRes converts a handler reply for the wire.
func NewLockRes(r *handler.LockReply) *LockRes {
	return &LockRes{Status: uint32(r.Status), Cookie: uint64(r.Cookie)}
}

// Reply converts the results into a handler reply.
func (r *LockRes) Reply() *handler.LockReply {
	return &handler.LockReply{Status: xattr.Errno(r.Status), Cookie: lock.Cookie(r.Cookie)}
}

func clampSize(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}
