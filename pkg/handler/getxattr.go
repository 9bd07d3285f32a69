package handler

import (
	"context"
	"time"

	"github.com/marmos91/dittomds/internal/logger"
	"github.com/marmos91/dittomds/pkg/idmap"
	"github.com/marmos91/dittomds/pkg/stats"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// GetXattr serves Get, List and GetAll requests.
//
// **Process:**
//
//  1. Resolve the caller's credentials through the nodemap
//  2. Decode the operation from the selector bits and authorize the name
//  3. Size the reply (probe the store) and allocate every reply field once
//  4. Fetch into the allocated fields:
//     - Get: read one value and translate it when it is an ACL
//     - List: enumerate the names
//     - GetAll: enumerate the names, then read and translate each value
//     into the remaining value space
//  5. Shrink each field to the bytes actually used
//
// A request with MaxReplySize zero (Get and List) stops after step 3 and
// returns the size only. An absent trusted.lov is reported as a present
// empty value for clients that cannot handle ENODATA on the layout.
//
// **GetAll is all-or-nothing:** the first failing entry (including a value
// that does not fit in the space left) empties all three reply fields and
// fails the whole request.
//
// **Locking:** reads take no lock scope and may race with a concurrent
// mutation of the same object.
//
// **Returns:**
//   - *GetReply: always non-nil; Status carries the outcome and Valid has
//     ValidXattr set on success
//   - error: the request context's error if it was cancelled, nil otherwise
func (h *Handler) GetXattr(rctx *RequestContext, req *GetRequest) (*GetReply, error) {
	start := time.Now()
	op := req.Valid.GetOp()

	reply, err := h.getxattr(rctx, req, op)
	reply.Status = xattr.ToErrno(err)

	h.finish(op, start, err, rctx, req.FID.String(), req.Name)
	return reply, contextError(rctx)
}

func (h *Handler) getxattr(rctx *RequestContext, req *GetRequest, op xattr.Op) (*GetReply, error) {
	reply := &GetReply{}
	ctx := rctx.ctx()

	if err := ctx.Err(); err != nil {
		return reply, err
	}

	logger.Info("%s: fid=%s name='%s' size=%d client=%s",
		op, req.FID, req.Name, req.MaxReplySize, rctx.clientAddr())

	// ========================================================================
	// Step 1: Credentials and authorization
	// ========================================================================

	caller, err := h.resolveCaller(rctx)
	if err != nil {
		return reply, err
	}

	if op == xattr.OpUnknown {
		return reply, xattr.NewError(xattr.ErrInvalid, req.Name, "invalid getxattr selector %s", req.Valid)
	}

	class := xattr.Classify(req.Name)
	if _, err := xattr.Authorize(class, req.Name, op, &caller, rctx.Conn); err != nil {
		return reply, err
	}

	// ========================================================================
	// Step 2: Size and allocate the reply
	// ========================================================================

	sizing, err := h.sizer.Layout(ctx, xattr.SizeRequest{
		FID:          req.FID,
		Op:           op,
		Name:         req.Name,
		MaxReplySize: req.MaxReplySize,
	})
	if err != nil {
		if !xattr.Silent(err) && !xattr.IsCode(err, xattr.ErrInvalid) {
			logger.Error("%s: failed to size reply: fid=%s name='%s': %v", op, req.FID, req.Name, err)
		}
		return reply, err
	}

	buf, err := h.allocator.Allocate(sizing.Layout)
	if err != nil {
		return reply, err
	}

	if h.faults.PackFail.Load() {
		return reply, xattr.NewError(xattr.ErrNoMemory, req.Name, "injected reply pack failure")
	}

	// The ACL field is reserved for old clients and never carries data.
	_ = buf.Shrink(xattr.FieldACL, 0)

	logger.Debug("%s: fid=%s layout: %s legacy=%v", op, req.FID, sizing.Layout, sizing.Legacy)

	// Size-only query, or nothing to fetch.
	if sizing.Size == 0 || req.MaxReplySize == 0 {
		buf.ShrinkAll()
		reply.Valid |= ValidXattr
		reply.EADataSize = sizing.Size
		h.stats.Incr(stats.CounterGetxattr)
		return reply, nil
	}

	// ========================================================================
	// Step 3: Fetch, translate and pack
	// ========================================================================

	var n int
	switch op {
	case xattr.OpGet:
		n, err = h.getValue(ctx, rctx, req, buf)
	case xattr.OpList:
		n, err = h.store.Enumerate(ctx, req.FID, buf.Field(xattr.FieldEAData))
		if err == nil {
			err = buf.Shrink(xattr.FieldEAData, n)
		}
	case xattr.OpGetAll:
		n, err = h.getAll(ctx, rctx, req, buf, reply)
	}
	if err != nil {
		buf.ShrinkAll()
		return reply, err
	}

	// ========================================================================
	// Step 4: Build the reply
	// ========================================================================

	reply.Valid |= ValidXattr
	reply.EADataSize = n
	reply.EAData = buf.Bytes(xattr.FieldEAData)
	reply.EAVals = buf.Bytes(xattr.FieldEAVals)
	reply.EAValsLens = buf.Bytes(xattr.FieldEAValsLens)

	h.stats.Incr(stats.CounterGetxattr)
	h.metrics.RecordReplyBytes(op.String(), len(reply.EAData)+len(reply.EAVals)+len(reply.EAValsLens))

	logger.Debug("%s successful: fid=%s name='%s' eadata=%d eavals=%d entries=%d",
		op, req.FID, req.Name, len(reply.EAData), len(reply.EAVals), reply.MaxMDSize)

	return reply, nil
}

// getValue reads one value into EAData and translates it on its way out.
func (h *Handler) getValue(ctx context.Context, rctx *RequestContext, req *GetRequest, buf *xattr.ReplyBuffer) (int, error) {
	field := buf.Field(xattr.FieldEAData)

	n, err := h.store.Read(ctx, req.FID, req.Name, field)
	if err != nil {
		return 0, err
	}

	out, err := idmap.MapIfACL(ctx, h.translator, h.limits, rctx.Conn, req.Name, field[:n], idmap.FSToClient)
	if err != nil {
		return 0, err
	}
	if len(out) > len(field) {
		return 0, xattr.NewError(xattr.ErrRange, req.Name, "translated ACL of %d bytes exceeds reply field %d", len(out), len(field))
	}
	if len(out) != n {
		logger.Debug("%s: fid=%s name='%s' ACL translated %d -> %d bytes", xattr.OpGet, req.FID, req.Name, n, len(out))
	}

	n = copy(field, out)
	return n, buf.Shrink(xattr.FieldEAData, n)
}

// getAll fills the three GetAll fields. On error the caller empties them.
//
// EAData receives the name blob. Each value is read straight into the
// unused part of EAVals, so the read capacity of one entry is whatever the
// previous entries left of MaxReplySize.
func (h *Handler) getAll(ctx context.Context, rctx *RequestContext, req *GetRequest, buf *xattr.ReplyBuffer, reply *GetReply) (int, error) {
	names := buf.Field(xattr.FieldEAData)

	n, err := h.store.Enumerate(ctx, req.FID, names)
	if err != nil {
		return 0, err
	}

	list := xattr.NewValueList(buf.Field(xattr.FieldEAVals), buf.Field(xattr.FieldEAValsLens))

	for _, name := range xattr.SplitNames(names[:n]) {
		scratch := list.Remaining()

		vn, err := h.store.Read(ctx, req.FID, name, scratch)
		if err != nil {
			return 0, err
		}

		value, err := idmap.MapIfACL(ctx, h.translator, h.limits, rctx.Conn, name, scratch[:vn], idmap.FSToClient)
		if err != nil {
			return 0, err
		}

		if err := list.Append(name, value); err != nil {
			return 0, err
		}
	}

	if err := buf.Shrink(xattr.FieldEAData, n); err != nil {
		return 0, err
	}
	if err := buf.Shrink(xattr.FieldEAVals, list.ValuesSize()); err != nil {
		return 0, err
	}
	if err := buf.Shrink(xattr.FieldEAValsLens, list.LensSize()); err != nil {
		return 0, err
	}

	reply.ACLSize = list.ValuesSize()
	reply.MaxMDSize = list.Len()
	return n, nil
}
