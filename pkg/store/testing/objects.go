package testing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomds/pkg/xattr"
)

// RunObjectTests executes the object record tests.
func (suite *StoreTestSuite) RunObjectTests(t *testing.T) {
	t.Run("CreateObject_Success", suite.testCreateObject)
	t.Run("CreateObject_Exists", suite.testCreateObjectExists)
	t.Run("GetObject_NotFound", suite.testGetObjectNotFound)
	t.Run("SetCtime", suite.testSetCtime)
	t.Run("BumpVersion", suite.testBumpVersion)
	t.Run("UnknownObject", suite.testUnknownObject)
}

// ============================================================================
// Object Record Tests
// ============================================================================

func (suite *StoreTestSuite) testCreateObject(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	obj, err := s.GetObject(testContext(), f)
	require.NoError(t, err)
	assert.Equal(t, f, obj.FID)
	assert.Equal(t, uint64(0), obj.Version)
	assert.False(t, obj.Ctime.IsZero())
}

func (suite *StoreTestSuite) testCreateObjectExists(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	AssertCode(t, xattr.ErrExists, s.CreateObject(testContext(), f))
}

func (suite *StoreTestSuite) testGetObjectNotFound(t *testing.T) {
	s := suite.newStore(t)

	_, err := s.GetObject(testContext(), newFID(t))
	AssertCode(t, xattr.ErrNoObject, err)
}

func (suite *StoreTestSuite) testSetCtime(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	ctime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetCtime(testContext(), f, ctime))

	obj, err := s.GetObject(testContext(), f)
	require.NoError(t, err)
	assert.True(t, ctime.Equal(obj.Ctime), "ctime %v, want %v", obj.Ctime, ctime)
}

func (suite *StoreTestSuite) testBumpVersion(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	for want := uint64(1); want <= 3; want++ {
		v, err := s.BumpVersion(testContext(), f)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	obj, err := s.GetObject(testContext(), f)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), obj.Version)
}

func (suite *StoreTestSuite) testUnknownObject(t *testing.T) {
	s := suite.newStore(t)
	f := newFID(t)
	ctx := testContext()

	_, err := s.ProbeSize(ctx, f, "user.a")
	AssertCode(t, xattr.ErrNoObject, err)

	_, err = s.Read(ctx, f, "user.a", make([]byte, 8))
	AssertCode(t, xattr.ErrNoObject, err)

	AssertCode(t, xattr.ErrNoObject, s.Write(ctx, f, "user.a", []byte("v"), xattr.SetNone))
	AssertCode(t, xattr.ErrNoObject, s.Delete(ctx, f, "user.a"))

	_, err = s.Enumerate(ctx, f, nil)
	AssertCode(t, xattr.ErrNoObject, err)

	AssertCode(t, xattr.ErrNoObject, s.SetCtime(ctx, f, time.Now()))

	_, err = s.BumpVersion(ctx, f)
	AssertCode(t, xattr.ErrNoObject, err)
}
