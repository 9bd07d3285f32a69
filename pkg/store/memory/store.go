// Package memory provides an in-memory attribute store backed by B-trees.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/metrics"
	"github.com/marmos91/dittomds/pkg/store"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// DefaultDegree is the B-tree degree used for per-object attribute trees.
const DefaultDegree = 8

// Config configures a MemoryStore.
type Config struct {
	// Degree is the B-tree degree of the per-object attribute trees.
	// Default: DefaultDegree
	Degree int `mapstructure:"degree"`
}

// attrEntry is one named value inside an object's attribute tree.
type attrEntry struct {
	name  string
	value []byte
}

func lessEntry(a, b attrEntry) bool {
	return a.name < b.name
}

// objectData is everything stored for one object.
type objectData struct {
	meta  store.Object
	attrs *btree.BTreeG[attrEntry]
}

// MemoryStore implements store.Store using in-memory data structures.
//
// It is suitable for tests, development and ephemeral deployments where
// attributes do not need to survive a restart.
//
// Thread Safety:
// All operations are protected by a single read-write mutex (mu). Queries
// take the read lock and mutations the write lock. Cross-request ordering
// of mutations on one object is the lock manager's job, not the store's.
//
// Storage Model:
//
// Each object owns a B-tree of attributes ordered by name, so Enumerate
// returns names in a stable order without sorting on every call.
type MemoryStore struct {
	// mu protects objects.
	mu sync.RWMutex

	// objects maps FIDs to their record and attribute tree.
	objects map[fid.FID]*objectData

	degree  int
	metrics metrics.StoreMetrics
	now     func() time.Time
}

// New creates an empty MemoryStore. m may be nil.
func New(cfg Config, m metrics.StoreMetrics) *MemoryStore {
	if cfg.Degree < 2 {
		cfg.Degree = DefaultDegree
	}
	if m == nil {
		m = metrics.NewNoopStoreMetrics()
	}
	return &MemoryStore{
		objects: make(map[fid.FID]*objectData),
		degree:  cfg.Degree,
		metrics: m,
		now:     time.Now,
	}
}

func (s *MemoryStore) record(op string, start time.Time, err *error) {
	s.metrics.RecordStorageOperation(op, time.Since(start), *err)
}

// lookup returns the object or ErrNoObject. Callers hold mu.
func (s *MemoryStore) lookup(f fid.FID) (*objectData, error) {
	obj, ok := s.objects[f]
	if !ok {
		return nil, store.ErrNoObject(f)
	}
	return obj, nil
}

// CreateObject implements store.ObjectStore.
func (s *MemoryStore) CreateObject(ctx context.Context, f fid.FID) (err error) {
	defer s.record("create_object", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objects[f]; exists {
		return xattr.NewError(xattr.ErrExists, f.String(), "object already exists")
	}
	s.objects[f] = &objectData{
		meta:  store.Object{FID: f, Ctime: s.now()},
		attrs: btree.NewG[attrEntry](s.degree, lessEntry),
	}
	return nil
}

// GetObject implements store.ObjectStore.
func (s *MemoryStore) GetObject(ctx context.Context, f fid.FID) (*store.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, err := s.lookup(f)
	if err != nil {
		return nil, err
	}
	meta := obj.meta
	return &meta, nil
}

// SetCtime implements store.ObjectStore.
func (s *MemoryStore) SetCtime(ctx context.Context, f fid.FID, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.lookup(f)
	if err != nil {
		return err
	}
	obj.meta.Ctime = t
	return nil
}

// BumpVersion implements store.ObjectStore.
func (s *MemoryStore) BumpVersion(ctx context.Context, f fid.FID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.lookup(f)
	if err != nil {
		return 0, err
	}
	obj.meta.Version++
	return obj.meta.Version, nil
}

// ProbeSize implements store.AttributeStore.
func (s *MemoryStore) ProbeSize(ctx context.Context, f fid.FID, name string) (size int, err error) {
	defer s.record("probe", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, err := s.lookup(f)
	if err != nil {
		return 0, err
	}
	e, ok := obj.attrs.Get(attrEntry{name: name})
	if !ok {
		return 0, store.ErrNoAttr(name)
	}
	return len(e.value), nil
}

// Read implements store.AttributeStore.
func (s *MemoryStore) Read(ctx context.Context, f fid.FID, name string, buf []byte) (n int, err error) {
	defer s.record("read", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, err := s.lookup(f)
	if err != nil {
		return 0, err
	}
	e, ok := obj.attrs.Get(attrEntry{name: name})
	if !ok {
		return 0, store.ErrNoAttr(name)
	}
	return store.CopyValue(name, e.value, buf)
}

// Write implements store.AttributeStore.
func (s *MemoryStore) Write(ctx context.Context, f fid.FID, name string, value []byte, flags xattr.SetFlags) (err error) {
	defer s.record("write", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateValue(name, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.lookup(f)
	if err != nil {
		return err
	}
	if err := flags.CheckPrecondition(name, obj.attrs.Has(attrEntry{name: name})); err != nil {
		return err
	}

	// Callers may reuse value once we return.
	stored := make([]byte, len(value))
	copy(stored, value)
	obj.attrs.ReplaceOrInsert(attrEntry{name: name, value: stored})
	return nil
}

// Delete implements store.AttributeStore.
func (s *MemoryStore) Delete(ctx context.Context, f fid.FID, name string) (err error) {
	defer s.record("delete", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.lookup(f)
	if err != nil {
		return err
	}
	if _, removed := obj.attrs.Delete(attrEntry{name: name}); !removed {
		return store.ErrNoAttr(name)
	}
	return nil
}

// Enumerate implements store.AttributeStore.
func (s *MemoryStore) Enumerate(ctx context.Context, f fid.FID, buf []byte) (n int, err error) {
	defer s.record("enumerate", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, err := s.lookup(f)
	if err != nil {
		return 0, err
	}

	names := make([]string, 0, obj.attrs.Len())
	obj.attrs.Ascend(func(e attrEntry) bool {
		names = append(names, e.name)
		return true
	})
	return store.CopyBlob(names, buf)
}

// Close implements store.Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = make(map[fid.FID]*objectData)
	return nil
}

var _ store.Store = (*MemoryStore)(nil)
