// Package badger provides a persistent attribute store backed by BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/metrics"
	"github.com/marmos91/dittomds/pkg/store"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// Config configures a BadgerStore.
type Config struct {
	// DBPath is the database directory. Ignored when InMemory is set.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the whole database in memory (tests).
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `mapstructure:"sync_writes"`

	// BlockCacheMB and IndexCacheMB size BadgerDB's caches.
	// Default: 64 and 32
	BlockCacheMB int64 `mapstructure:"block_cache_mb"`
	IndexCacheMB int64 `mapstructure:"index_cache_mb"`
}

// BadgerStore implements store.Store using BadgerDB for persistence.
//
// Key Features:
//   - Persistent storage with crash recovery (WAL-based)
//   - Create/replace preconditions checked and applied in one transaction
//   - Name-ordered enumeration through prefix iteration
//
// Thread Safety:
// BadgerDB transactions are serializable; conflicting writers get
// badger.ErrConflict and are retried a bounded number of times.
type BadgerStore struct {
	// db is the BadgerDB database handle (thread-safe, uses internal MVCC)
	db *badger.DB

	metrics metrics.StoreMetrics
	now     func() time.Time
}

// maxConflictRetries bounds the retries of a transaction that lost a race.
const maxConflictRetries = 5

// New opens (or creates) a BadgerStore. m may be nil.
func New(ctx context.Context, cfg Config, m metrics.StoreMetrics) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.InMemory && cfg.DBPath == "" {
		return nil, fmt.Errorf("badger store: db_path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.DBPath)
	}

	blockCacheMB := cfg.BlockCacheMB
	if blockCacheMB <= 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheMB
	if indexCacheMB <= 0 {
		indexCacheMB = 32
	}

	opts = opts.WithLoggingLevel(badger.WARNING) // Reduce log noise
	opts = opts.WithCompression(options.None)    // Attribute values are small
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	if m == nil {
		m = metrics.NewNoopStoreMetrics()
	}

	return &BadgerStore{db: db, metrics: m, now: time.Now}, nil
}

func (s *BadgerStore) record(op string, start time.Time, err *error) {
	s.metrics.RecordStorageOperation(op, time.Since(start), *err)
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("transaction conflict after %d attempts: %w", maxConflictRetries, err)
}

func (s *BadgerStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// getObject loads the object record inside txn.
func getObject(txn *badger.Txn, f fid.FID) (*store.Object, error) {
	item, err := txn.Get(objectKey(f))
	if err == badger.ErrKeyNotFound {
		return nil, store.ErrNoObject(f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", f, err)
	}

	obj := &store.Object{FID: f}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, obj)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode object %s: %w", f, err)
	}
	return obj, nil
}

func putObject(txn *badger.Txn, obj *store.Object) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode object %s: %w", obj.FID, err)
	}
	return txn.Set(objectKey(obj.FID), data)
}

// CreateObject implements store.ObjectStore.
func (s *BadgerStore) CreateObject(ctx context.Context, f fid.FID) (err error) {
	defer s.record("create_object", time.Now(), &err)

	return s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(objectKey(f))
		if err == nil {
			return xattr.NewError(xattr.ErrExists, f.String(), "object already exists")
		}
		if err != badger.ErrKeyNotFound {
			return fmt.Errorf("failed to check object %s: %w", f, err)
		}
		return putObject(txn, &store.Object{FID: f, Ctime: s.now()})
	})
}

// GetObject implements store.ObjectStore.
func (s *BadgerStore) GetObject(ctx context.Context, f fid.FID) (*store.Object, error) {
	var obj *store.Object
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		obj, err = getObject(txn, f)
		return err
	})
	return obj, err
}

// SetCtime implements store.ObjectStore.
func (s *BadgerStore) SetCtime(ctx context.Context, f fid.FID, t time.Time) (err error) {
	defer s.record("set_ctime", time.Now(), &err)

	return s.update(ctx, func(txn *badger.Txn) error {
		obj, err := getObject(txn, f)
		if err != nil {
			return err
		}
		obj.Ctime = t
		return putObject(txn, obj)
	})
}

// BumpVersion implements store.ObjectStore.
func (s *BadgerStore) BumpVersion(ctx context.Context, f fid.FID) (version uint64, err error) {
	defer s.record("bump_version", time.Now(), &err)

	err = s.update(ctx, func(txn *badger.Txn) error {
		obj, err := getObject(txn, f)
		if err != nil {
			return err
		}
		obj.Version++
		version = obj.Version
		return putObject(txn, obj)
	})
	return version, err
}

// ProbeSize implements store.AttributeStore.
func (s *BadgerStore) ProbeSize(ctx context.Context, f fid.FID, name string) (size int, err error) {
	defer s.record("probe", time.Now(), &err)

	err = s.view(ctx, func(txn *badger.Txn) error {
		if _, err := getObject(txn, f); err != nil {
			return err
		}
		item, err := txn.Get(attrKey(f, name))
		if err == badger.ErrKeyNotFound {
			return store.ErrNoAttr(name)
		}
		if err != nil {
			return fmt.Errorf("failed to probe %s on %s: %w", name, f, err)
		}
		size = int(item.ValueSize())
		return nil
	})
	return size, err
}

// Read implements store.AttributeStore.
func (s *BadgerStore) Read(ctx context.Context, f fid.FID, name string, buf []byte) (n int, err error) {
	defer s.record("read", time.Now(), &err)

	err = s.view(ctx, func(txn *badger.Txn) error {
		if _, err := getObject(txn, f); err != nil {
			return err
		}
		item, err := txn.Get(attrKey(f, name))
		if err == badger.ErrKeyNotFound {
			return store.ErrNoAttr(name)
		}
		if err != nil {
			return fmt.Errorf("failed to read %s on %s: %w", name, f, err)
		}
		return item.Value(func(val []byte) error {
			var copyErr error
			n, copyErr = store.CopyValue(name, val, buf)
			return copyErr
		})
	})
	return n, err
}

// Write implements store.AttributeStore.
func (s *BadgerStore) Write(ctx context.Context, f fid.FID, name string, value []byte, flags xattr.SetFlags) (err error) {
	defer s.record("write", time.Now(), &err)

	if err := store.ValidateValue(name, value); err != nil {
		return err
	}

	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := getObject(txn, f); err != nil {
			return err
		}

		key := attrKey(f, name)
		_, err := txn.Get(key)
		exists := err == nil
		if err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("failed to check %s on %s: %w", name, f, err)
		}
		if err := flags.CheckPrecondition(name, exists); err != nil {
			return err
		}

		// Badger keeps a reference to value until commit.
		stored := make([]byte, len(value))
		copy(stored, value)
		return txn.Set(key, stored)
	})
}

// Delete implements store.AttributeStore.
func (s *BadgerStore) Delete(ctx context.Context, f fid.FID, name string) (err error) {
	defer s.record("delete", time.Now(), &err)

	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := getObject(txn, f); err != nil {
			return err
		}

		key := attrKey(f, name)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return store.ErrNoAttr(name)
		} else if err != nil {
			return fmt.Errorf("failed to check %s on %s: %w", name, f, err)
		}
		return txn.Delete(key)
	})
}

// Enumerate implements store.AttributeStore.
func (s *BadgerStore) Enumerate(ctx context.Context, f fid.FID, buf []byte) (n int, err error) {
	defer s.record("enumerate", time.Now(), &err)

	err = s.view(ctx, func(txn *badger.Txn) error {
		if _, err := getObject(txn, f); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = attrPrefix(f)

		it := txn.NewIterator(opts)
		defer it.Close()

		var names []string
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, attrName(it.Item().Key()))
		}

		var copyErr error
		n, copyErr = store.CopyBlob(names, buf)
		return copyErr
	})
	return n, err
}

// Close implements store.Store.
func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}
	return nil
}

var _ store.Store = (*BadgerStore)(nil)
