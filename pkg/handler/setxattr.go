package handler

import (
	"context"
	"time"

	"github.com/marmos91/dittomds/internal/logger"
	"github.com/marmos91/dittomds/pkg/idmap"
	"github.com/marmos91/dittomds/pkg/lock"
	"github.com/marmos91/dittomds/pkg/stats"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// SetXattr serves Set and Remove requests.
//
// **Process:**
//
//  1. Release the connection's own grants named by the piggybacked cookies
//  2. Resolve the caller's credentials through the nodemap
//  3. Authorize the name:
//     - user.* requires the xattr connection feature (EOPNOTSUPP)
//     - trusted.* requires CAP_SYS_ADMIN (EPERM); reserved names succeed
//     without touching the store
//     - lustre.lov.* accepts only the add, set and del sub-operations
//  4. Translate an incoming ACL; an ACL that loses entries fails with EPERM
//  5. Take the exclusive lock scope for the name
//  6. Check the object exists and the client's pre-version matches
//  7. Write or delete the value
//  8. On success only: set the change time and bump the object version
//  9. Release the lock scope (always, including every failure path)
//
// A request without ValidCtime gets the server's current time and a
// warning; current clients always send their own change time.
//
// Selector bits other than Set or Remove fail with EINVAL once the lock
// is held.
//
// **Returns:**
//   - *SetReply: always non-nil; Status carries the outcome and NoOp marks
//     reserved names
//   - error: the request context's error if it was cancelled, nil otherwise
func (h *Handler) SetXattr(rctx *RequestContext, req *SetRequest) (*SetReply, error) {
	start := time.Now()
	op := req.Valid.SetOp()

	reply, err := h.setxattr(rctx, req, op)
	reply.Status = xattr.ToErrno(err)

	metricOp := op
	if metricOp == xattr.OpUnknown {
		metricOp = xattr.OpSet
	}
	h.finish(metricOp, start, err, rctx, req.FID.String(), req.Name)
	return reply, contextError(rctx)
}

func (h *Handler) setxattr(rctx *RequestContext, req *SetRequest, op xattr.Op) (*SetReply, error) {
	reply := &SetReply{}
	ctx := rctx.ctx()

	logger.Info("%s: fid=%s name='%s' size=%d flags=%d valid=%s client=%s",
		op, req.FID, req.Name, len(req.Value), req.Flags, req.Valid, rctx.clientAddr())

	// ========================================================================
	// Step 1: Piggybacked lock cancellations
	// ========================================================================

	if len(req.CancelCookies) > 0 {
		released := h.locks.Cancel(rctx.owner(), req.CancelCookies)
		logger.Debug("%s: fid=%s cancelled %d of %d piggybacked locks",
			op, req.FID, released, len(req.CancelCookies))
	}

	if h.faults.SetxattrFail.Load() {
		return reply, xattr.NewError(xattr.ErrNoMemory, req.Name, "injected setxattr failure")
	}

	if err := ctx.Err(); err != nil {
		return reply, err
	}

	// ========================================================================
	// Step 2: Credentials, name policy and ACL ingress
	// ========================================================================

	caller, err := h.resolveCaller(rctx)
	if err != nil {
		return reply, err
	}

	class := xattr.Classify(req.Name)
	decision, err := xattr.Authorize(class, req.Name, op, &caller, rctx.Conn)
	if err != nil {
		return reply, err
	}
	if decision == xattr.NoOp {
		logger.Debug("%s: fid=%s name='%s' is reserved, nothing to do", op, req.FID, req.Name)
		h.metrics.RecordNoOp(op.String())
		reply.NoOp = true
		return reply, nil
	}

	value := req.Value
	if op == xattr.OpSet {
		value, err = idmap.MapIfACL(ctx, h.translator, h.limits, rctx.Conn, req.Name, value, idmap.ClientToFS)
		if err != nil {
			return reply, err
		}
	}

	// ========================================================================
	// Step 3: Lock scope
	// ========================================================================

	scope := lock.ScopeFor(class, req.Name, op)

	lockCtx := ctx
	if h.lockWait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, h.lockWait)
		defer cancel()
	}

	lockStart := time.Now()
	handle, err := h.locks.Acquire(lockCtx, req.FID, scope)
	if err != nil {
		return reply, err
	}
	defer handle.Release()

	h.metrics.RecordLockWait(scope.String(), time.Since(lockStart))
	logger.Debug("%s: fid=%s acquired scope %s", op, req.FID, scope)

	// ========================================================================
	// Step 4: Object and version checks
	// ========================================================================

	obj, err := h.store.GetObject(ctx, req.FID)
	if err != nil {
		return reply, err
	}
	if req.PreVersion != 0 && req.PreVersion != obj.Version {
		return reply, xattr.NewError(xattr.ErrVersionMismatch, req.Name,
			"object version %d does not match expected %d", obj.Version, req.PreVersion)
	}

	ctime := req.Ctime
	if !req.Valid.Has(ValidCtime) {
		logger.Warn("%s: client %s did not send a change time: fid=%s name='%s' valid=%s",
			op, rctx.clientAddr(), req.FID, req.Name, req.Valid)
		ctime = h.now()
	}

	// ========================================================================
	// Step 5: Mutate
	// ========================================================================

	switch op {
	case xattr.OpSet:
		if h.faults.WriteFail.Load() {
			err = xattr.NewError(xattr.ErrIO, req.Name, "injected write failure")
		} else {
			err = h.store.Write(ctx, req.FID, req.Name, value, req.Flags)
		}
	case xattr.OpRemove:
		err = h.store.Delete(ctx, req.FID, req.Name)
	default:
		err = xattr.NewError(xattr.ErrInvalid, req.Name, "invalid setxattr selector %s", req.Valid)
	}
	if err != nil {
		return reply, err
	}

	// ========================================================================
	// Step 6: Change time and version
	// ========================================================================

	if err := h.store.SetCtime(ctx, req.FID, ctime); err != nil {
		logger.Error("%s: failed to update change time: fid=%s: %v", op, req.FID, err)
	}

	version, err := h.store.BumpVersion(ctx, req.FID)
	if err != nil {
		logger.Error("%s: failed to bump version: fid=%s: %v", op, req.FID, err)
		version = obj.Version
	}
	reply.Version = version

	h.stats.Incr(stats.CounterSetxattr)

	logger.Debug("%s successful: fid=%s name='%s' version=%d", op, req.FID, req.Name, version)

	return reply, nil
}
