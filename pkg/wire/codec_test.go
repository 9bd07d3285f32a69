package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/handler"
	"github.com/marmos91/dittomds/pkg/lock"
	"github.com/marmos91/dittomds/pkg/xattr"
)

var testFID = fid.FID{Seq: 0x200000401, Oid: 7, Ver: 0}

func TestCall_HeaderAndArgs(t *testing.T) {
	args := NewGetxattrArgs(&handler.GetRequest{
		FID:          testFID,
		Valid:        handler.ValidXattr,
		Name:         "user.comment",
		MaxReplySize: 512,
	})

	body, err := EncodeCall(42, ProcGetxattr, args)
	require.NoError(t, err)

	hdr, rest, err := DecodeCall(body)
	require.NoError(t, err)
	assert.Equal(t, CallHeader{XID: 42, Procedure: ProcGetxattr}, hdr)

	var decoded GetxattrArgs
	require.NoError(t, Decode(rest, &decoded))

	req := decoded.Request()
	assert.Equal(t, testFID, req.FID)
	assert.Equal(t, handler.ValidXattr, req.Valid)
	assert.Equal(t, "user.comment", req.Name)
	assert.Equal(t, 512, req.MaxReplySize)
}

func TestCall_HeaderOnly(t *testing.T) {
	body, err := EncodeCall(1, ProcNull, nil)
	require.NoError(t, err)
	assert.Len(t, body, 8)

	hdr, rest, err := DecodeCall(body)
	require.NoError(t, err)
	assert.Equal(t, ProcNull, hdr.Procedure)
	assert.Empty(t, rest)
}

func TestDecodeCall_Garbage(t *testing.T) {
	_, _, err := DecodeCall([]byte{0x01})
	assert.Error(t, err)
}

func TestReply_RejectedCarriesNoResults(t *testing.T) {
	body, err := EncodeReply(9, ProcSetxattr, SystemErr, &SetxattrRes{Status: 0, Version: 3})
	require.NoError(t, err)

	hdr, rest, err := DecodeReply(body)
	require.NoError(t, err)
	assert.Equal(t, ReplyHeader{XID: 9, Procedure: ProcSetxattr, Stat: SystemErr}, hdr)
	assert.Empty(t, rest)
}

func TestReply_GetAllResults(t *testing.T) {
	reply := &handler.GetReply{
		Status:     xattr.OK,
		Valid:      handler.ValidXattr,
		EADataSize: 14,
		EAData:     xattr.JoinNames([]string{"user.a", "user.b"}),
		EAVals:     []byte("1bb"),
		EAValsLens: xattr.EncodeLens([]uint32{1, 2}),
		ACLSize:    3,
		MaxMDSize:  2,
	}

	body, err := EncodeReply(5, ProcGetxattr, Accepted, NewGetxattrRes(reply))
	require.NoError(t, err)

	hdr, rest, err := DecodeReply(body)
	require.NoError(t, err)
	require.Equal(t, Accepted, hdr.Stat)

	var res GetxattrRes
	require.NoError(t, Decode(rest, &res))

	got := res.Reply()
	entries, err := got.Entries()
	require.NoError(t, err)
	assert.Equal(t, []handler.Entry{
		{Name: "user.a", Value: []byte("1")},
		{Name: "user.b", Value: []byte("bb")},
	}, entries)
	assert.Equal(t, 3, got.ACLSize)
	assert.Equal(t, 2, got.MaxMDSize)
}

func TestSetxattrArgs_Ctime(t *testing.T) {
	ctime := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)

	t.Run("Present", func(t *testing.T) {
		args := NewSetxattrArgs(&handler.SetRequest{
			FID:           testFID,
			Valid:         handler.ValidXattr | handler.ValidCtime,
			Name:          "user.a",
			Value:         []byte("v"),
			Flags:         xattr.SetCreate,
			Ctime:         ctime,
			PreVersion:    4,
			CancelCookies: []lock.Cookie{7, 8},
		})

		body, err := Encode(args)
		require.NoError(t, err)
		var decoded SetxattrArgs
		require.NoError(t, Decode(body, &decoded))

		req := decoded.Request()
		assert.True(t, req.Ctime.Equal(ctime))
		assert.Equal(t, xattr.SetCreate, req.Flags)
		assert.Equal(t, uint64(4), req.PreVersion)
		assert.Equal(t, []lock.Cookie{7, 8}, req.CancelCookies)
		assert.Equal(t, []byte("v"), req.Value)
	})

	t.Run("AbsentWithoutValidBit", func(t *testing.T) {
		args := NewSetxattrArgs(&handler.SetRequest{
			FID:   testFID,
			Valid: handler.ValidXattr,
			Name:  "user.a",
			Ctime: ctime,
		})
		assert.True(t, args.Request().Ctime.IsZero())
	})
}

func TestConnectArgs_Caller(t *testing.T) {
	caller := xattr.Caller{UID: 1000, GID: 100, Groups: []uint32{100, 200}, Caps: xattr.CapSysAdmin}
	args := NewConnectArgs(xattr.FeatureXattr|xattr.FeatureACL, caller)

	body, err := Encode(args)
	require.NoError(t, err)
	var decoded ConnectArgs
	require.NoError(t, Decode(body, &decoded))

	assert.Equal(t, uint32(ProtocolVersion), decoded.Version)
	assert.Equal(t, uint64(xattr.FeatureXattr|xattr.FeatureACL), decoded.Features)
	assert.Equal(t, caller, decoded.Caller())
}

func TestNames(t *testing.T) {
	assert.Equal(t, "GETXATTR", ProcGetxattr.String())
	assert.Equal(t, "LOCK", ProcLock.String())
	assert.Equal(t, "UNKNOWN", Procedure(99).String())
	assert.Equal(t, "not_connected", NotConnected.String())
}

func TestLockArgs_Scope(t *testing.T) {
	body, err := Encode(NewLockArgs(&handler.LockRequest{FID: testFID, Scope: lock.ScopeUpdate | lock.ScopeXattr}))
	require.NoError(t, err)

	var decoded LockArgs
	require.NoError(t, Decode(body, &decoded))
	req := decoded.Request()
	assert.Equal(t, testFID, req.FID)
	assert.Equal(t, lock.ScopeUpdate|lock.ScopeXattr, req.Scope)

	wide := &LockArgs{FID: testFID, Scope: 0x102}
	assert.False(t, wide.Request().Scope.Valid())

	res := NewLockRes(&handler.LockReply{Status: xattr.OK, Cookie: 42})
	assert.Equal(t, lock.Cookie(42), res.Reply().Cookie)
}
