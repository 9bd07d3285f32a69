package handler

import (
	"context"
	"time"

	"github.com/marmos91/dittomds/internal/logger"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// Lock grants a lock scope to the request's connection.
//
// The grant blocks mutations that need an overlapping scope on the object
// until the connection cancels it, usually by piggybacking the cookie on
// its next Set or Remove, or until the connection closes.
//
// **Returns:**
//   - *LockReply: always non-nil; Status is EINVAL for an empty or unknown
//     scope or a request without a connection, ENOENT for an unknown
//     object and ETIMEDOUT when the scope stays busy past LockTimeout
//   - error: the request context's error if it was cancelled, nil otherwise
func (h *Handler) Lock(rctx *RequestContext, req *LockRequest) (*LockReply, error) {
	reply := &LockReply{}
	err := h.lock(rctx, req, reply)
	reply.Status = xattr.ToErrno(err)

	if err != nil {
		logger.Debug("LOCK: fid=%s scope=%s client=%s status=%s: %v",
			req.FID, req.Scope, rctx.clientAddr(), reply.Status, err)
	}
	return reply, contextError(rctx)
}

func (h *Handler) lock(rctx *RequestContext, req *LockRequest, reply *LockReply) error {
	ctx := rctx.ctx()

	owner := rctx.owner()
	if owner == "" {
		return xattr.NewError(xattr.ErrInvalid, "", "lock grants need a client connection")
	}
	if !req.Scope.Valid() {
		return xattr.NewError(xattr.ErrInvalid, "", "invalid lock scope %#x", uint8(req.Scope))
	}

	if _, err := h.store.GetObject(ctx, req.FID); err != nil {
		return err
	}

	lockCtx := ctx
	if h.lockWait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, h.lockWait)
		defer cancel()
	}

	start := time.Now()
	handle, err := h.locks.Grant(lockCtx, owner, req.FID, req.Scope)
	if err != nil {
		return err
	}
	h.metrics.RecordLockWait(req.Scope.String(), time.Since(start))

	reply.Cookie = handle.Cookie()
	logger.Info("LOCK: fid=%s scope=%s granted to conn=%s cookie=%d",
		req.FID, req.Scope, owner, reply.Cookie)
	return nil
}

// ReleaseConnection drops every lock granted to conn. The transport calls
// it once the connection's last request has finished.
func (h *Handler) ReleaseConnection(conn *xattr.Connection) {
	if conn == nil {
		return
	}
	if n := h.locks.ReleaseOwner(conn.ID); n > 0 {
		logger.Debug("Released %d lock grants of conn=%s", n, conn.ID)
	}
}
