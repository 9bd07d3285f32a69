package testing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/store"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// StoreTestSuite is a test suite for store.Store implementations.
// It tests the interface contract, not implementation details, making it
// reusable across backends (memory, badger, S3).
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func() store.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore is a factory function that creates a store for each test.
	// Backends that share state between calls (an S3 bucket) are fine:
	// every test works on freshly generated FIDs.
	NewStore func() store.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Objects", suite.RunObjectTests)
	t.Run("Attributes", suite.RunAttributeTests)
	t.Run("Enumerate", suite.RunEnumerateTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}

// newFID returns a random FID so tests never collide on a shared backend.
func newFID(t *testing.T) fid.FID {
	t.Helper()
	id := uuid.New()
	f, err := fid.FromBytes(id[:])
	require.NoError(t, err)
	return f
}

// newStore creates a store and closes it at the end of the test.
func (suite *StoreTestSuite) newStore(t *testing.T) store.Store {
	t.Helper()
	s := suite.NewStore()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// mustCreateObject provisions a fresh object in s.
func mustCreateObject(t *testing.T, s store.Store) fid.FID {
	t.Helper()
	f := newFID(t)
	require.NoError(t, s.CreateObject(testContext(), f))
	return f
}

// mustWrite stores value under name with no precondition.
func mustWrite(t *testing.T, s store.Store, f fid.FID, name string, value []byte) {
	t.Helper()
	require.NoError(t, s.Write(testContext(), f, name, value, xattr.SetNone))
}

// AssertCode fails unless err carries the given xattr error code.
func AssertCode(t *testing.T, code xattr.ErrorCode, err error) {
	t.Helper()
	require.Error(t, err)
	got, ok := xattr.CodeOf(err)
	require.True(t, ok, "expected an xattr error, got %v", err)
	require.Equal(t, code, got, "unexpected error: %v", err)
}
