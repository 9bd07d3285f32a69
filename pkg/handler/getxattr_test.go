package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/idmap"
	"github.com/marmos91/dittomds/pkg/stats"
	"github.com/marmos91/dittomds/pkg/xattr"
)

func TestGetXattr_Value(t *testing.T) {
	f := newFixture(t)
	f.mustSet(t, "user.color", []byte("blue"))

	reply := f.get(userCtx(), ValidXattr, "user.color", 64)
	require.Equal(t, xattr.OK, reply.Status)
	assert.Equal(t, []byte("blue"), reply.EAData)
	assert.Equal(t, 4, reply.EADataSize)
	assert.Empty(t, reply.EAVals)
	assert.Equal(t, uint64(1), f.stats.Get(stats.CounterGetxattr))
	assert.Empty(t, f.locks.scopes(), "reads take no lock")
}

func TestGetXattr_SizeOnly(t *testing.T) {
	f := newFixture(t)
	f.mustSet(t, "user.color", []byte("turquoise"))

	reply := f.get(userCtx(), ValidXattr, "user.color", 0)
	require.Equal(t, xattr.OK, reply.Status)
	assert.Equal(t, 9, reply.EADataSize)
	assert.Empty(t, reply.EAData)
	assert.True(t, reply.Valid.Has(ValidXattr))

	reply = f.get(userCtx(), ValidXattrList, "", 0)
	require.Equal(t, xattr.OK, reply.Status)
	assert.Equal(t, len("user.color")+1, reply.EADataSize)
	assert.Empty(t, reply.EAData)
}

func TestGetXattr_SmallDeclaredSizeStillReturnsValue(t *testing.T) {
	f := newFixture(t)
	f.mustSet(t, "user.long", []byte("a fairly long value"))

	reply := f.get(userCtx(), ValidXattr, "user.long", 4)
	require.Equal(t, xattr.OK, reply.Status)
	assert.Equal(t, []byte("a fairly long value"), reply.EAData)
}

func TestGetXattr_EmptyValueIsPresent(t *testing.T) {
	f := newFixture(t)
	f.mustSet(t, "user.empty", nil)

	reply := f.get(userCtx(), ValidXattr, "user.empty", 16)
	require.Equal(t, xattr.OK, reply.Status)
	assert.True(t, reply.Valid.Has(ValidXattr))
	assert.Equal(t, 0, reply.EADataSize)
}

func TestGetXattr_List(t *testing.T) {
	f := newFixture(t)
	f.mustSet(t, "user.b", []byte("2"))
	f.mustSet(t, "user.a", []byte("1"))

	reply := f.get(legacyCtx(), ValidXattrList, "", 256)
	require.Equal(t, xattr.OK, reply.Status, "List is not gated on the xattr feature")
	assert.Equal(t, []string{"user.a", "user.b"}, xattr.SplitNames(reply.EAData))
	assert.Equal(t, len(reply.EAData), reply.EADataSize)
}

func TestGetXattr_ListEmptyObject(t *testing.T) {
	f := newFixture(t)

	reply := f.get(userCtx(), ValidXattrList, "", 256)
	require.Equal(t, xattr.OK, reply.Status)
	assert.Equal(t, 0, reply.EADataSize)
	assert.Empty(t, reply.EAData)
}

func TestGetXattr_UserNamespaceRequiresFeature(t *testing.T) {
	f := newFixture(t)
	f.mustSet(t, "user.a", []byte("1"))

	reply := f.get(legacyCtx(), ValidXattr, "user.a", 16)
	assert.Equal(t, xattr.EOPNOTSUPP, reply.Status)
	assert.Equal(t, uint64(0), f.stats.Get(stats.CounterGetxattr))
}

func TestGetXattr_TrustedReadableWithoutCapability(t *testing.T) {
	f := newFixture(t)
	f.mustSet(t, xattr.NameLMA, []byte("lma"))

	reply := f.get(userCtx(), ValidXattr, xattr.NameLMA, 16)
	require.Equal(t, xattr.OK, reply.Status)
	assert.Equal(t, []byte("lma"), reply.EAData)
}

func TestGetXattr_InvalidRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		valid Valid
		attr  string
		size  int
		want  xattr.Errno
	}{
		{"NoSelector", 0, "user.a", 16, xattr.EINVAL},
		{"RemoveSelector", ValidXattrRemove, "user.a", 16, xattr.EINVAL},
		{"EmptyName", ValidXattr, "", 16, xattr.EINVAL},
		{"GetAllWithoutSize", ValidXattrAll, "", 0, xattr.EINVAL},
		{"Missing", ValidXattr, "user.missing", 16, xattr.ENODATA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := f.get(userCtx(), tt.valid, tt.attr, tt.size)
			assert.Equal(t, tt.want, reply.Status)
			assert.Empty(t, reply.EAData)
		})
	}
}

func TestGetXattr_UnknownObject(t *testing.T) {
	f := newFixture(t)

	reply, err := f.h.GetXattr(userCtx(), &GetRequest{
		FID:          fid.FID{Seq: 0xdead, Oid: 1},
		Valid:        ValidXattrList,
		MaxReplySize: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, xattr.ENOENT, reply.Status)
}

func TestGetXattr_PackFault(t *testing.T) {
	f := newFixture(t)
	f.mustSet(t, "user.a", []byte("1"))
	f.h.Faults().PackFail.Store(true)

	reply := f.get(userCtx(), ValidXattr, "user.a", 16)
	assert.Equal(t, xattr.ENOMEM, reply.Status)
	assert.Empty(t, reply.EAData)

	f.h.Faults().PackFail.Store(false)
	reply = f.get(userCtx(), ValidXattr, "user.a", 16)
	assert.Equal(t, xattr.OK, reply.Status)
}

func TestGetXattr_AllocationLimit(t *testing.T) {
	f := newFixture(t)
	h := New(Options{
		Store:     f.store,
		Locks:     f.locks,
		Allocator: xattr.HeapAllocator{Limit: 1024},
	})

	reply, err := h.GetXattr(userCtx(), &GetRequest{FID: testFID, Valid: ValidXattrAll, MaxReplySize: 4096})
	require.NoError(t, err)
	assert.Equal(t, xattr.ENOMEM, reply.Status)
}

// recordingAllocator remembers the size of every allocation it serves.
type recordingAllocator struct {
	sizes []int
}

func (a *recordingAllocator) Allocate(layout xattr.Layout) (*xattr.ReplyBuffer, error) {
	a.sizes = append(a.sizes, layout.Total())
	return xattr.HeapAllocator{}.Allocate(layout)
}

func TestGetXattr_GetAllBoundIsCapped(t *testing.T) {
	f := newFixture(t)
	f.mustSet(t, "user.a", []byte("alpha"))

	alloc := &recordingAllocator{}
	h := New(Options{Store: f.store, Locks: f.locks, Allocator: alloc})

	huge := int(^uint32(0))
	reply, err := h.GetXattr(userCtx(), &GetRequest{FID: testFID, Valid: ValidXattrAll, MaxReplySize: huge})
	require.NoError(t, err)
	assert.Equal(t, xattr.EINVAL, reply.Status)
	assert.Empty(t, alloc.sizes, "rejected before allocation")

	reply, err = h.GetXattr(userCtx(), &GetRequest{FID: testFID, Valid: ValidXattrAll, MaxReplySize: xattr.DefaultMaxReplySize})
	require.NoError(t, err)
	require.Equal(t, xattr.OK, reply.Status)
	require.Len(t, alloc.sizes, 1)
	assert.LessOrEqual(t, alloc.sizes[0], AllocLimitFactor*xattr.DefaultMaxReplySize)

	small := New(Options{Store: f.store, Locks: f.locks, MaxReplySize: 512})
	reply, _ = small.GetXattr(userCtx(), &GetRequest{FID: testFID, Valid: ValidXattrAll, MaxReplySize: 513})
	assert.Equal(t, xattr.EINVAL, reply.Status)
}

func TestGetXattr_DefaultAllocatorIsLimited(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, xattr.HeapAllocator{Limit: AllocLimitFactor * xattr.DefaultMaxReplySize}, f.h.allocator)

	h := New(Options{Store: f.store, Locks: f.locks, MaxReplySize: 1024})
	assert.Equal(t, xattr.HeapAllocator{Limit: AllocLimitFactor * 1024}, h.allocator)
}

func TestGetXattr_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.mustSet(t, "user.a", []byte("1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rctx := userCtx()
	rctx.Context = ctx

	reply, err := f.h.GetXattr(rctx, &GetRequest{FID: testFID, Valid: ValidXattr, Name: "user.a", MaxReplySize: 16})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, xattr.ETIMEDOUT, reply.Status)
}

func TestGetXattr_ACLTranslatedOnTheWayOut(t *testing.T) {
	f := newFixture(t, withRegistry(mappedRegistry(t)))

	// Stored in the filesystem namespace: uid 5000 is client uid 1000,
	// uid 7777 is unknown to the client and is dropped.
	f.mustSet(t, xattr.NameACLAccess, testACL(5000, 7777))

	reply := f.get(userCtx(), ValidXattr, xattr.NameACLAccess, 256)
	require.Equal(t, xattr.OK, reply.Status)

	acl, err := idmap.DecodeACL(reply.EAData)
	require.NoError(t, err)
	var users []uint32
	for _, e := range acl.Entries {
		if e.Tag == idmap.TagUser {
			users = append(users, e.ID)
		}
	}
	assert.Equal(t, []uint32{1000}, users)
	assert.Equal(t, len(reply.EAData), reply.EADataSize)
}

func TestGetXattr_ACLNamesIgnoreACLFeature(t *testing.T) {
	f := newFixture(t)
	f.mustSet(t, xattr.NameACLAccess, testACL(5000))

	rctx := userCtx()
	rctx.Conn.Features = xattr.FeatureXattr

	reply := f.get(rctx, ValidXattr, xattr.NameACLAccess, 256)
	require.Equal(t, xattr.OK, reply.Status)
	assert.NotEmpty(t, reply.EAData)

	set := f.set(rctx, xattr.NameACLDefault, testACL(5000), xattr.SetNone)
	assert.Equal(t, xattr.OK, set.Status)
}

func TestGetXattr_GetAllTranslatesACLs(t *testing.T) {
	f := newFixture(t, withRegistry(mappedRegistry(t)))
	f.mustSet(t, xattr.NameACLAccess, testACL(5000))
	f.mustSet(t, "user.z", []byte("zz"))

	reply := f.get(userCtx(), ValidXattrAll, "", 1024)
	require.Equal(t, xattr.OK, reply.Status)

	entries, err := reply.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, testACL(1000), entries[0].Value)
	assert.Equal(t, []byte("zz"), entries[1].Value)
}

func TestGetXattr_LegacyConnectionLargeACL(t *testing.T) {
	f := newFixture(t, withRegistry(mappedRegistry(t)))

	uids := make([]uint32, 40)
	for i := range uids {
		uids[i] = 5000
	}
	f.mustSet(t, xattr.NameACLDefault, testACL(uids...))

	rctx := userCtx()
	rctx.Conn.Features = xattr.FeatureXattr

	reply := f.get(rctx, ValidXattr, xattr.NameACLDefault, 1024)
	assert.Equal(t, xattr.ERANGE, reply.Status)
}

func TestDecodeEntries_Mismatch(t *testing.T) {
	_, err := DecodeEntries(xattr.JoinNames([]string{"a", "b"}), []byte("x"), xattr.EncodeLens([]uint32{1}))
	assert.True(t, xattr.IsCode(err, xattr.ErrFault))

	_, err = DecodeEntries(xattr.JoinNames([]string{"a"}), []byte("x"), xattr.EncodeLens([]uint32{5}))
	assert.True(t, xattr.IsCode(err, xattr.ErrFault))

	_, err = DecodeEntries(xattr.JoinNames([]string{"a"}), []byte("xyz"), xattr.EncodeLens([]uint32{1}))
	assert.True(t, xattr.IsCode(err, xattr.ErrFault))
}

func TestValid_Selectors(t *testing.T) {
	assert.Equal(t, xattr.OpGet, ValidXattr.GetOp())
	assert.Equal(t, xattr.OpList, ValidXattrList.GetOp())
	assert.Equal(t, xattr.OpGetAll, (ValidXattrAll | ValidCtime).GetOp())
	assert.Equal(t, xattr.OpUnknown, ValidCtime.GetOp())

	assert.Equal(t, xattr.OpSet, (ValidXattr | ValidCtime).SetOp())
	assert.Equal(t, xattr.OpRemove, ValidXattrRemove.SetOp())
	assert.Equal(t, xattr.OpUnknown, ValidCtime.SetOp())

	assert.Equal(t, "xattr|xattrls|ctime", (ValidXattrAll | ValidCtime).String())
	assert.Equal(t, "none", Valid(0).String())
}
