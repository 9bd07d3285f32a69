package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/idmap"
	"github.com/marmos91/dittomds/pkg/lock"
	"github.com/marmos91/dittomds/pkg/stats"
	"github.com/marmos91/dittomds/pkg/store"
	"github.com/marmos91/dittomds/pkg/store/memory"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// ============================================================================
// Test Fixtures
// ============================================================================

var (
	testFID     = fid.FID{Seq: 0x200000401, Oid: 1}
	testNow     = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	allFeatures = xattr.FeatureXattr | xattr.FeatureACL | xattr.FeatureLargeACL
)

// recordingLocks wraps a lock.Manager and remembers every scope requested.
type recordingLocks struct {
	*lock.Manager

	mu       sync.Mutex
	acquired []lock.Scope
	cancels  int
}

func newRecordingLocks() *recordingLocks {
	return &recordingLocks{Manager: lock.NewManager()}
}

func (r *recordingLocks) Acquire(ctx context.Context, f fid.FID, scope lock.Scope) (*lock.Handle, error) {
	r.mu.Lock()
	r.acquired = append(r.acquired, scope)
	r.mu.Unlock()
	return r.Manager.Acquire(ctx, f, scope)
}

func (r *recordingLocks) Cancel(owner string, cookies []lock.Cookie) int {
	r.mu.Lock()
	r.cancels += len(cookies)
	r.mu.Unlock()
	return r.Manager.Cancel(owner, cookies)
}

// held reports the scope bits on f that cannot be taken right now.
func (r *recordingLocks) held(f fid.FID) lock.Scope {
	all := lock.ScopeLookup | lock.ScopeUpdate | lock.ScopeLayout | lock.ScopePerm | lock.ScopeXattr

	var held lock.Scope
	for _, bit := range all.Bits() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		h, err := r.Manager.Acquire(ctx, f, bit)
		cancel()
		if err != nil {
			held |= bit
			continue
		}
		h.Release()
	}
	return held
}

func (r *recordingLocks) scopes() []lock.Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lock.Scope(nil), r.acquired...)
}

// failingStore fails reads and probes of selected names with EIO.
type failingStore struct {
	store.Store
	failRead map[string]bool
}

func (s *failingStore) Read(ctx context.Context, f fid.FID, name string, buf []byte) (int, error) {
	if s.failRead[name] {
		return 0, xattr.NewError(xattr.ErrIO, name, "injected read failure")
	}
	return s.Store.Read(ctx, f, name, buf)
}

// blockingStore parks every Write until release is closed and records how
// many writes were inside the store at once.
type blockingStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	active int
	peak   int
}

func newBlockingStore(s store.Store) *blockingStore {
	return &blockingStore{Store: s, entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (s *blockingStore) Write(ctx context.Context, f fid.FID, name string, value []byte, flags xattr.SetFlags) error {
	s.mu.Lock()
	s.active++
	if s.active > s.peak {
		s.peak = s.active
	}
	s.mu.Unlock()

	s.entered <- struct{}{}
	<-s.release

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return s.Store.Write(ctx, f, name, value, flags)
}

func (s *blockingStore) maxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

type fixture struct {
	h     *Handler
	store *memory.MemoryStore
	locks *recordingLocks
	stats *stats.Registry
}

type fixtureOption func(*Options)

func withStore(s store.Store) fixtureOption {
	return func(o *Options) { o.Store = s }
}

func withRegistry(r *idmap.Registry) fixtureOption {
	return func(o *Options) {
		o.Resolver = r
		o.Translator = r
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	mem := memory.New(memory.Config{}, nil)
	require.NoError(t, mem.CreateObject(context.Background(), testFID))

	f := &fixture{
		store: mem,
		locks: newRecordingLocks(),
		stats: stats.NewRegistry(),
	}
	f.stats.Init()

	o := Options{
		Store: mem,
		Locks: f.locks,
		Stats: f.stats,
		Now:   func() time.Time { return testNow },
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.h = New(o)
	return f
}

// userCtx is an unprivileged client with every connection feature.
func userCtx() *RequestContext {
	return &RequestContext{
		Context: context.Background(),
		Conn:    &xattr.Connection{ID: "conn-user", Addr: "10.1.2.3:1023", Features: allFeatures},
		Caller:  xattr.Caller{UID: 1000, GID: 1000},
	}
}

// adminCtx is a client holding CAP_SYS_ADMIN.
func adminCtx() *RequestContext {
	rctx := userCtx()
	rctx.Conn.ID = "conn-admin"
	rctx.Caller = xattr.Caller{UID: 0, GID: 0, Caps: xattr.CapSysAdmin}
	return rctx
}

// legacyCtx is a client that negotiated no features.
func legacyCtx() *RequestContext {
	rctx := userCtx()
	rctx.Conn.ID = "conn-legacy"
	rctx.Conn.Features = 0
	return rctx
}

func (f *fixture) mustSet(t *testing.T, name string, value []byte) {
	t.Helper()
	require.NoError(t, f.store.Write(context.Background(), testFID, name, value, xattr.SetNone))
}

func (f *fixture) set(rctx *RequestContext, name string, value []byte, flags xattr.SetFlags) *SetReply {
	reply, _ := f.h.SetXattr(rctx, &SetRequest{
		FID:   testFID,
		Valid: ValidXattr | ValidCtime,
		Name:  name,
		Value: value,
		Flags: flags,
		Ctime: testNow.Add(time.Hour),
	})
	return reply
}

func (f *fixture) remove(rctx *RequestContext, name string) *SetReply {
	reply, _ := f.h.SetXattr(rctx, &SetRequest{
		FID:   testFID,
		Valid: ValidXattrRemove | ValidCtime,
		Name:  name,
		Ctime: testNow.Add(time.Hour),
	})
	return reply
}

func (f *fixture) get(rctx *RequestContext, valid Valid, name string, size int) *GetReply {
	reply, _ := f.h.GetXattr(rctx, &GetRequest{
		FID:          testFID,
		Valid:        valid,
		Name:         name,
		MaxReplySize: size,
	})
	return reply
}

func (f *fixture) object(t *testing.T) *store.Object {
	t.Helper()
	obj, err := f.store.GetObject(context.Background(), testFID)
	require.NoError(t, err)
	return obj
}

func (f *fixture) exists(t *testing.T, name string) bool {
	t.Helper()
	_, err := f.store.ProbeSize(context.Background(), testFID, name)
	if xattr.IsNotFound(err) {
		return false
	}
	require.NoError(t, err)
	return true
}

// testACL encodes an access ACL with one named user entry per uid.
func testACL(uids ...uint32) []byte {
	acl := &idmap.ACL{Version: idmap.ACLVersion}
	acl.Entries = append(acl.Entries, idmap.ACLEntry{Tag: idmap.TagUserObj, Perm: 6, ID: idmap.UndefinedID})
	for _, u := range uids {
		acl.Entries = append(acl.Entries, idmap.ACLEntry{Tag: idmap.TagUser, Perm: 4, ID: u})
	}
	acl.Entries = append(acl.Entries,
		idmap.ACLEntry{Tag: idmap.TagGroupObj, Perm: 4, ID: idmap.UndefinedID},
		idmap.ACLEntry{Tag: idmap.TagMask, Perm: 4, ID: idmap.UndefinedID},
		idmap.ACLEntry{Tag: idmap.TagOther, Perm: 0, ID: idmap.UndefinedID},
	)
	return acl.Encode()
}

// mappedRegistry maps client uid 1000 to filesystem uid 5000 for clients
// in 10.0.0.0/8.
func mappedRegistry(t *testing.T) *idmap.Registry {
	t.Helper()
	nm, err := idmap.NewNodemap(idmap.Options{
		Name:   "tenant",
		Ranges: []string{"10.0.0.0/8"},
		Admin:  true,
		UIDs:   []idmap.IDPair{{Client: 1000, FS: 5000}},
		GIDs:   []idmap.IDPair{{Client: 1000, FS: 5000}},
	})
	require.NoError(t, err)

	reg := idmap.NewRegistry(nil)
	require.NoError(t, reg.Add(nm))
	return reg
}
