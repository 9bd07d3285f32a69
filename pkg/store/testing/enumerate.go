package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomds/pkg/xattr"
)

// RunEnumerateTests executes the name listing tests.
func (suite *StoreTestSuite) RunEnumerateTests(t *testing.T) {
	t.Run("Empty", suite.testEnumerateEmpty)
	t.Run("SizeThenFill", suite.testEnumerateSizeThenFill)
	t.Run("BufferTooSmall", suite.testEnumerateBufferTooSmall)
	t.Run("AfterDelete", suite.testEnumerateAfterDelete)
}

// ============================================================================
// Enumerate Tests
// ============================================================================

func (suite *StoreTestSuite) testEnumerateEmpty(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	size, err := s.Enumerate(testContext(), f, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func (suite *StoreTestSuite) testEnumerateSizeThenFill(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	mustWrite(t, s, f, "user.b", []byte("2"))
	mustWrite(t, s, f, "trusted.lov", []byte("layout"))
	mustWrite(t, s, f, "user.a", []byte("1"))

	size, err := s.Enumerate(testContext(), f, nil)
	require.NoError(t, err)
	assert.Equal(t, len("trusted.lov")+len("user.a")+len("user.b")+3, size)

	blob := make([]byte, size)
	n, err := s.Enumerate(testContext(), f, blob)
	require.NoError(t, err)
	assert.Equal(t, size, n)
	assert.Equal(t, []string{"trusted.lov", "user.a", "user.b"}, xattr.SplitNames(blob))
}

func (suite *StoreTestSuite) testEnumerateBufferTooSmall(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	mustWrite(t, s, f, "user.a", []byte("1"))
	mustWrite(t, s, f, "user.b", []byte("2"))

	_, err := s.Enumerate(testContext(), f, make([]byte, 3))
	AssertCode(t, xattr.ErrRange, err)
}

func (suite *StoreTestSuite) testEnumerateAfterDelete(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	mustWrite(t, s, f, "user.a", []byte("1"))
	mustWrite(t, s, f, "user.b", []byte("2"))
	require.NoError(t, s.Delete(testContext(), f, "user.a"))

	size, err := s.Enumerate(testContext(), f, nil)
	require.NoError(t, err)
	blob := make([]byte, size)
	_, err = s.Enumerate(testContext(), f, blob)
	require.NoError(t, err)
	assert.Equal(t, []string{"user.b"}, xattr.SplitNames(blob))
}
