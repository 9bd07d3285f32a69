package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/lock"
	"github.com/marmos91/dittomds/pkg/xattr"
)

func TestLock_GrantAndRelease(t *testing.T) {
	f := newFixture(t)
	rctx := userCtx()

	reply, err := f.h.Lock(rctx, &LockRequest{FID: testFID, Scope: lock.ScopeUpdate | lock.ScopeXattr})
	require.NoError(t, err)
	require.Equal(t, xattr.OK, reply.Status)
	assert.NotZero(t, reply.Cookie)
	assert.Equal(t, lock.ScopeUpdate|lock.ScopeXattr, f.locks.held(testFID))

	f.h.ReleaseConnection(rctx.Conn)
	assert.Equal(t, lock.Scope(0), f.locks.held(testFID))

	assert.NotPanics(t, func() { f.h.ReleaseConnection(nil) })
}

func TestLock_Rejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		rctx *RequestContext
		req  *LockRequest
		want xattr.Errno
	}{
		{"NoConnection", &RequestContext{Context: context.Background()}, &LockRequest{FID: testFID, Scope: lock.ScopeXattr}, xattr.EINVAL},
		{"EmptyScope", userCtx(), &LockRequest{FID: testFID}, xattr.EINVAL},
		{"UnknownScopeBits", userCtx(), &LockRequest{FID: testFID, Scope: 0x80}, xattr.EINVAL},
		{"UnknownObject", userCtx(), &LockRequest{FID: fid.FID{Seq: 0xdead, Oid: 1}, Scope: lock.ScopeXattr}, xattr.ENOENT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, _ := f.h.Lock(tt.rctx, tt.req)
			assert.Equal(t, tt.want, reply.Status)
			assert.Zero(t, reply.Cookie)
		})
	}
	assert.Equal(t, lock.Scope(0), f.locks.held(testFID))
}

func TestLock_TimesOutOnBusyScope(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.LockTimeout = 20 * time.Millisecond })

	reply, _ := f.h.Lock(userCtx(), &LockRequest{FID: testFID, Scope: lock.ScopeXattr})
	require.Equal(t, xattr.OK, reply.Status)

	busy, _ := f.h.Lock(adminCtx(), &LockRequest{FID: testFID, Scope: lock.ScopeXattr})
	assert.Equal(t, xattr.ETIMEDOUT, busy.Status)

	// A mutation by the holder without the cookie waits on its own grant.
	set := f.set(userCtx(), "user.a", []byte("v"), xattr.SetNone)
	assert.Equal(t, xattr.ETIMEDOUT, set.Status)
	assert.False(t, f.exists(t, "user.a"))
}
