package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomds/internal/ratelimiter"
	"github.com/marmos91/dittomds/pkg/client"
	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/handler"
	"github.com/marmos91/dittomds/pkg/lock"
	"github.com/marmos91/dittomds/pkg/stats"
	"github.com/marmos91/dittomds/pkg/store/memory"
	"github.com/marmos91/dittomds/pkg/wire"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// ============================================================================
// Test Fixtures
// ============================================================================

var (
	testFID     = fid.FID{Seq: 0x200000401, Oid: 1}
	allFeatures = xattr.FeatureXattr | xattr.FeatureACL | xattr.FeatureLargeACL
	testCaller  = xattr.Caller{UID: 1000, GID: 1000}
)

type testServer struct {
	srv   *Server
	addr  string
	stats *stats.Registry
	done  chan error
	stop  context.CancelFunc
}

func startServer(t *testing.T, cfg Config) *testServer {
	t.Helper()

	mem := memory.New(memory.Config{}, nil)
	require.NoError(t, mem.CreateObject(context.Background(), testFID))

	st := stats.NewRegistry()
	h := handler.New(handler.Options{Store: mem, Locks: lock.NewManager(), Stats: st})

	cfg.ListenAddress = "127.0.0.1:0"
	if cfg.Features == 0 {
		cfg.Features = allFeatures
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}

	srv := New(cfg, h, st, nil)
	ctx, cancel := context.WithCancel(context.Background())

	ts := &testServer{srv: srv, stats: st, done: make(chan error, 1), stop: cancel}
	go func() { ts.done <- srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-ts.done:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}
	ts.addr = srv.Addr().String()

	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ts
}

func (ts *testServer) dial(t *testing.T, features xattr.Features) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, ts.addr, client.Options{Features: features, Caller: testCaller})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// rawConn speaks the wire protocol directly.
type rawConn struct {
	t    *testing.T
	conn net.Conn
}

func dialRaw(t *testing.T, addr string) *rawConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { _ = conn.Close() })
	return &rawConn{t: t, conn: conn}
}

func (r *rawConn) send(xid uint32, proc wire.Procedure, args any) {
	r.t.Helper()
	body, err := wire.EncodeCall(xid, proc, args)
	require.NoError(r.t, err)
	require.NoError(r.t, wire.WriteFrame(r.conn, body))
}

func (r *rawConn) sendBody(body []byte) {
	r.t.Helper()
	require.NoError(r.t, wire.WriteFrame(r.conn, body))
}

func (r *rawConn) recv() (wire.ReplyHeader, []byte) {
	r.t.Helper()
	body, err := wire.ReadFrame(r.conn, 0)
	require.NoError(r.t, err)
	hdr, rest, err := wire.DecodeReply(body)
	require.NoError(r.t, err)
	return hdr, rest
}

func (r *rawConn) connect(xid uint32) {
	r.t.Helper()
	r.send(xid, wire.ProcConnect, wire.NewConnectArgs(allFeatures, testCaller))
	hdr, rest := r.recv()
	require.Equal(r.t, wire.Accepted, hdr.Stat)
	var res wire.ConnectRes
	require.NoError(r.t, wire.Decode(rest, &res))
	require.Equal(r.t, uint32(xattr.OK), res.Status)
}

// ============================================================================
// Request Path
// ============================================================================

func TestServer_EndToEnd(t *testing.T) {
	ts := startServer(t, Config{})
	c := ts.dial(t, allFeatures)
	ctx := testContext(t)

	assert.NotEmpty(t, c.ConnID())
	assert.Equal(t, allFeatures, c.Features())
	assert.Equal(t, handler.DefaultMaxEASize, c.MaxEASize())
	require.NoError(t, c.Null(ctx))

	reply, err := c.Set(ctx, testFID, "user.a", []byte("alpha"), xattr.SetCreate)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reply.Version)

	_, err = c.Set(ctx, testFID, "user.b", []byte("be"), xattr.SetNone)
	require.NoError(t, err)

	_, err = c.Set(ctx, testFID, "user.a", []byte("again"), xattr.SetCreate)
	assert.True(t, xattr.IsCode(err, xattr.ErrExists))

	value, err := c.Get(ctx, testFID, "user.a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), value)

	size, err := c.Size(ctx, testFID, "user.b")
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	names, err := c.List(ctx, testFID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user.a", "user.b"}, names)

	entries, err := c.GetAll(ctx, testFID, 1024)
	require.NoError(t, err)
	assert.Equal(t, []handler.Entry{
		{Name: "user.a", Value: []byte("alpha")},
		{Name: "user.b", Value: []byte("be")},
	}, entries)

	_, err = c.Remove(ctx, testFID, "user.a")
	require.NoError(t, err)

	_, err = c.Get(ctx, testFID, "user.a")
	assert.True(t, xattr.IsNotFound(err))

	_, err = c.Remove(ctx, testFID, "user.a")
	assert.True(t, xattr.IsNotFound(err))

	assert.Equal(t, uint64(3), ts.stats.Get(stats.CounterSetxattr))
}

func TestServer_AbsentLayoutIsEmpty(t *testing.T) {
	ts := startServer(t, Config{})
	c := ts.dial(t, allFeatures)

	value, err := c.Get(testContext(t), testFID, xattr.NameLOV)
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestServer_LockGrantsBelongToTheirConnection(t *testing.T) {
	ts := startServer(t, Config{RequestTimeout: 300 * time.Millisecond})
	holder := ts.dial(t, allFeatures)
	other := ts.dial(t, allFeatures)
	ctx := testContext(t)

	cookie, err := holder.Lock(ctx, testFID, lock.ScopeUpdate|lock.ScopeXattr)
	require.NoError(t, err)
	require.NotZero(t, cookie)

	// Another connection cannot cancel the grant and waits it out.
	blocked, err := other.Setxattr(ctx, &handler.SetRequest{
		FID:           testFID,
		Valid:         handler.ValidXattr | handler.ValidCtime,
		Name:          "user.b",
		Value:         []byte("v"),
		Ctime:         time.Now(),
		CancelCookies: []lock.Cookie{cookie},
	})
	require.NoError(t, err)
	assert.Equal(t, xattr.ETIMEDOUT, blocked.Status)

	// The holder cancels its own grant on its next mutation.
	reply, err := holder.Setxattr(ctx, &handler.SetRequest{
		FID:           testFID,
		Valid:         handler.ValidXattr | handler.ValidCtime,
		Name:          "user.a",
		Value:         []byte("v"),
		Ctime:         time.Now(),
		CancelCookies: []lock.Cookie{cookie},
	})
	require.NoError(t, err)
	assert.Equal(t, xattr.OK, reply.Status)

	// Grants die with their connection.
	_, err = holder.Lock(ctx, testFID, lock.ScopeXattr)
	require.NoError(t, err)
	require.NoError(t, holder.Close())

	assert.Eventually(t, func() bool {
		_, err := other.Set(ctx, testFID, "user.b", []byte("v"), xattr.SetNone)
		return err == nil
	}, 3*time.Second, 50*time.Millisecond)
}

func TestServer_LockRejectsBadRequests(t *testing.T) {
	ts := startServer(t, Config{})
	c := ts.dial(t, allFeatures)
	ctx := testContext(t)

	_, err := c.Lock(ctx, testFID, 0)
	assert.True(t, xattr.IsCode(err, xattr.ErrInvalid), "got %v", err)

	_, err = c.Lock(ctx, fid.FID{Seq: 0xdead, Oid: 1}, lock.ScopeXattr)
	assert.True(t, xattr.IsCode(err, xattr.ErrNoObject), "got %v", err)
}

func TestServer_FeaturesAreIntersected(t *testing.T) {
	ts := startServer(t, Config{Features: xattr.FeatureXattr})
	c := ts.dial(t, allFeatures)
	assert.Equal(t, xattr.FeatureXattr, c.Features())

	legacy := ts.dial(t, 0)
	assert.Equal(t, xattr.Features(0), legacy.Features())

	_, err := legacy.Set(testContext(t), testFID, "user.a", []byte("v"), xattr.SetNone)
	assert.True(t, xattr.IsCode(err, xattr.ErrNotSupported))
}

func TestServer_ConnectVersionMismatch(t *testing.T) {
	ts := startServer(t, Config{})
	r := dialRaw(t, ts.addr)

	args := wire.NewConnectArgs(allFeatures, testCaller)
	args.Version = 99
	r.send(1, wire.ProcConnect, args)

	hdr, rest := r.recv()
	require.Equal(t, wire.Accepted, hdr.Stat)
	var res wire.ConnectRes
	require.NoError(t, wire.Decode(rest, &res))
	assert.Equal(t, uint32(xattr.EINVAL), res.Status)

	r.send(2, wire.ProcGetxattr, &wire.GetxattrArgs{FID: testFID, Valid: uint64(handler.ValidXattrList)})
	hdr, _ = r.recv()
	assert.Equal(t, wire.NotConnected, hdr.Stat)
}

func TestServer_CallsBeforeConnect(t *testing.T) {
	ts := startServer(t, Config{})
	r := dialRaw(t, ts.addr)

	r.send(1, wire.ProcNull, nil)
	hdr, _ := r.recv()
	assert.Equal(t, wire.ReplyHeader{XID: 1, Procedure: wire.ProcNull, Stat: wire.Accepted}, hdr)

	r.send(2, wire.ProcSetxattr, &wire.SetxattrArgs{FID: testFID, Valid: uint64(handler.ValidXattr), Name: "user.a"})
	hdr, rest := r.recv()
	assert.Equal(t, wire.NotConnected, hdr.Stat)
	assert.Empty(t, rest)
}

func TestServer_TransportErrors(t *testing.T) {
	ts := startServer(t, Config{})
	r := dialRaw(t, ts.addr)
	r.connect(1)

	r.send(2, wire.Procedure(42), nil)
	hdr, _ := r.recv()
	assert.Equal(t, wire.ProcUnavail, hdr.Stat)

	// Header only: the arguments are missing.
	r.send(3, wire.ProcGetxattr, nil)
	hdr, _ = r.recv()
	assert.Equal(t, wire.GarbageArgs, hdr.Stat)

	// The connection survives both.
	r.send(4, wire.ProcNull, nil)
	hdr, _ = r.recv()
	assert.Equal(t, wire.Accepted, hdr.Stat)
}

func TestServer_UndecodableHeaderClosesConnection(t *testing.T) {
	ts := startServer(t, Config{})
	r := dialRaw(t, ts.addr)

	r.sendBody([]byte{0x01, 0x02})

	_, err := wire.ReadFrame(r.conn, 0)
	assert.Error(t, err)
}

func TestServer_PipelinedRepliesInOrder(t *testing.T) {
	ts := startServer(t, Config{Workers: 4})
	r := dialRaw(t, ts.addr)
	r.connect(1)

	const calls = 32
	for i := 0; i < calls; i++ {
		xid := uint32(100 + i)
		if i%2 == 0 {
			r.send(xid, wire.ProcSetxattr, wire.NewSetxattrArgs(&handler.SetRequest{
				FID:   testFID,
				Valid: handler.ValidXattr,
				Name:  "user.counter",
				Value: []byte{byte(i)},
			}))
		} else {
			r.send(xid, wire.ProcNull, nil)
		}
	}

	for i := 0; i < calls; i++ {
		hdr, _ := r.recv()
		assert.Equal(t, uint32(100+i), hdr.XID)
		assert.Equal(t, wire.Accepted, hdr.Stat)
	}
}

// ============================================================================
// Admission and Lifecycle
// ============================================================================

func TestServer_RateLimited(t *testing.T) {
	ts := startServer(t, Config{
		RequestTimeout: 100 * time.Millisecond,
		RateLimit:      ratelimiter.Config{RequestsPerSecond: 1, Burst: 1},
	})
	c := ts.dial(t, allFeatures)
	ctx := testContext(t)

	_, err := c.List(ctx, testFID)
	require.NoError(t, err)

	_, err = c.List(ctx, testFID)
	assert.True(t, errors.Is(err, client.ErrRejected), "got %v", err)

	// NULL is not rate limited.
	assert.NoError(t, c.Null(ctx))
}

func TestServer_StatsLifecycle(t *testing.T) {
	ts := startServer(t, Config{})
	assert.True(t, ts.stats.Live())

	c := ts.dial(t, allFeatures)
	_, err := c.List(testContext(t), testFID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ts.stats.Get(stats.CounterGetxattr))

	ts.stop()
	require.NoError(t, <-ts.done)
	ts.done <- nil

	assert.False(t, ts.stats.Live())
}

func TestServer_Healthy(t *testing.T) {
	h := handler.New(handler.Options{Store: memory.New(memory.Config{}, nil), Locks: lock.NewManager()})
	idle := New(Config{ListenAddress: "127.0.0.1:0", Features: allFeatures}, h, stats.NewRegistry(), nil)
	assert.Error(t, idle.Healthy(context.Background()), "not listening yet")

	ts := startServer(t, Config{})
	assert.NoError(t, ts.srv.Healthy(testContext(t)))

	ts.stop()
	err := <-ts.done
	ts.done <- err
	assert.Error(t, ts.srv.Healthy(testContext(t)))
}

func TestServer_GracefulShutdownClosesIdleConnections(t *testing.T) {
	ts := startServer(t, Config{})
	c := ts.dial(t, allFeatures)

	require.Eventually(t, func() bool { return ts.srv.ActiveConnections() == 1 },
		time.Second, 10*time.Millisecond)

	start := time.Now()
	ts.stop()
	err := <-ts.done
	ts.done <- err

	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(0), ts.srv.ActiveConnections())
	assert.Error(t, c.Null(testContext(t)))
}

func TestServer_StopWithContext(t *testing.T) {
	ts := startServer(t, Config{})
	_ = ts.dial(t, allFeatures)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, ts.srv.Stop(ctx))
	assert.NoError(t, ts.srv.Stop(ctx), "stop is idempotent")
}

func TestServer_MaxConnections(t *testing.T) {
	ts := startServer(t, Config{MaxConnections: 1})
	first := ts.dial(t, allFeatures)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := client.Dial(ctx, ts.addr, client.Options{Features: allFeatures, Caller: testCaller})
	assert.Error(t, err, "second connection waits for a free slot")

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		c, err := client.Dial(testContext(t), ts.addr, client.Options{Features: allFeatures, Caller: testCaller})
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 2*time.Second, 50*time.Millisecond)
}

func TestNew_Validation(t *testing.T) {
	h := handler.New(handler.Options{Store: memory.New(memory.Config{}, nil), Locks: lock.NewManager()})

	assert.Panics(t, func() { New(Config{}, nil, nil, nil) })
	assert.Panics(t, func() { New(Config{MaxConnections: -1}, h, nil, nil) })

	srv := New(Config{}, h, nil, nil)
	assert.Equal(t, DefaultListenAddress, srv.config.ListenAddress)
	assert.Equal(t, 16, srv.config.Workers)
	assert.Nil(t, srv.Addr())
}
