package testing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomds/pkg/xattr"
)

// RunAttributeTests executes the attribute value tests.
func (suite *StoreTestSuite) RunAttributeTests(t *testing.T) {
	t.Run("WriteRead_Success", suite.testWriteRead)
	t.Run("Write_EmptyValue", suite.testWriteEmptyValue)
	t.Run("Write_Overwrite", suite.testWriteOverwrite)
	t.Run("Write_CreateExists", suite.testWriteCreateExists)
	t.Run("Write_ReplaceMissing", suite.testWriteReplaceMissing)
	t.Run("Write_ReplaceExisting", suite.testWriteReplaceExisting)
	t.Run("Write_InvalidFlags", suite.testWriteInvalidFlags)
	t.Run("Write_TooLarge", suite.testWriteTooLarge)
	t.Run("Read_NotFound", suite.testReadNotFound)
	t.Run("Read_BufferTooSmall", suite.testReadBufferTooSmall)
	t.Run("ProbeSize", suite.testProbeSize)
	t.Run("Delete_Success", suite.testDelete)
	t.Run("Delete_NotFound", suite.testDeleteNotFound)
	t.Run("Names_SpecialCharacters", suite.testSpecialNames)
	t.Run("Objects_Isolated", suite.testObjectsIsolated)
}

// ============================================================================
// Write / Read Tests
// ============================================================================

func (suite *StoreTestSuite) testWriteRead(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	mustWrite(t, s, f, "user.color", []byte("blue"))

	buf := make([]byte, 16)
	n, err := s.Read(testContext(), f, "user.color", buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("blue"), buf[:n])
}

func (suite *StoreTestSuite) testWriteEmptyValue(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	mustWrite(t, s, f, "user.empty", []byte{})

	size, err := s.ProbeSize(testContext(), f, "user.empty")
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	n, err := s.Read(testContext(), f, "user.empty", make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func (suite *StoreTestSuite) testWriteOverwrite(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	mustWrite(t, s, f, "user.a", []byte("first value"))
	mustWrite(t, s, f, "user.a", []byte("2nd"))

	buf := make([]byte, 32)
	n, err := s.Read(testContext(), f, "user.a", buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("2nd"), buf[:n])
}

func (suite *StoreTestSuite) testWriteCreateExists(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	require.NoError(t, s.Write(testContext(), f, "user.a", []byte("v1"), xattr.SetCreate))
	err := s.Write(testContext(), f, "user.a", []byte("v2"), xattr.SetCreate)
	AssertCode(t, xattr.ErrExists, err)

	buf := make([]byte, 8)
	n, err := s.Read(testContext(), f, "user.a", buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), buf[:n])
}

func (suite *StoreTestSuite) testWriteReplaceMissing(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	err := s.Write(testContext(), f, "user.a", []byte("v"), xattr.SetReplace)
	AssertCode(t, xattr.ErrNoData, err)

	_, err = s.ProbeSize(testContext(), f, "user.a")
	AssertCode(t, xattr.ErrNoData, err)
}

func (suite *StoreTestSuite) testWriteReplaceExisting(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	mustWrite(t, s, f, "user.a", []byte("old"))
	require.NoError(t, s.Write(testContext(), f, "user.a", []byte("new!"), xattr.SetReplace))

	size, err := s.ProbeSize(testContext(), f, "user.a")
	require.NoError(t, err)
	assert.Equal(t, 4, size)
}

func (suite *StoreTestSuite) testWriteInvalidFlags(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	err := s.Write(testContext(), f, "user.a", []byte("v"), xattr.SetCreate|xattr.SetReplace)
	AssertCode(t, xattr.ErrInvalid, err)
}

func (suite *StoreTestSuite) testWriteTooLarge(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	err := s.Write(testContext(), f, "user.big", make([]byte, xattr.SizeMax+1), xattr.SetNone)
	AssertCode(t, xattr.ErrRange, err)
}

func (suite *StoreTestSuite) testReadNotFound(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	_, err := s.Read(testContext(), f, "user.missing", make([]byte, 8))
	AssertCode(t, xattr.ErrNoData, err)
}

func (suite *StoreTestSuite) testReadBufferTooSmall(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	mustWrite(t, s, f, "user.long", []byte("0123456789"))

	_, err := s.Read(testContext(), f, "user.long", make([]byte, 4))
	AssertCode(t, xattr.ErrRange, err)
}

func (suite *StoreTestSuite) testProbeSize(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	value := bytes.Repeat([]byte{0xab}, 1000)
	mustWrite(t, s, f, "trusted.lov", value)

	size, err := s.ProbeSize(testContext(), f, "trusted.lov")
	require.NoError(t, err)
	assert.Equal(t, len(value), size)

	_, err = s.ProbeSize(testContext(), f, "trusted.lma")
	AssertCode(t, xattr.ErrNoData, err)
}

// ============================================================================
// Delete Tests
// ============================================================================

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	mustWrite(t, s, f, "user.a", []byte("v"))
	require.NoError(t, s.Delete(testContext(), f, "user.a"))

	_, err := s.ProbeSize(testContext(), f, "user.a")
	AssertCode(t, xattr.ErrNoData, err)
}

func (suite *StoreTestSuite) testDeleteNotFound(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	AssertCode(t, xattr.ErrNoData, s.Delete(testContext(), f, "user.a"))
}

// ============================================================================
// Naming and Isolation Tests
// ============================================================================

func (suite *StoreTestSuite) testSpecialNames(t *testing.T) {
	s := suite.newStore(t)
	f := mustCreateObject(t, s)

	names := []string{"user.with/slash", "user.with:colon", "user.with space", "user.ünïcode"}
	for i, name := range names {
		mustWrite(t, s, f, name, []byte{byte(i)})
	}

	for i, name := range names {
		buf := make([]byte, 1)
		n, err := s.Read(testContext(), f, name, buf)
		require.NoError(t, err, name)
		assert.Equal(t, []byte{byte(i)}, buf[:n], name)
	}

	size, err := s.Enumerate(testContext(), f, nil)
	require.NoError(t, err)
	blob := make([]byte, size)
	_, err = s.Enumerate(testContext(), f, blob)
	require.NoError(t, err)
	assert.ElementsMatch(t, names, xattr.SplitNames(blob))
}

func (suite *StoreTestSuite) testObjectsIsolated(t *testing.T) {
	s := suite.newStore(t)
	a := mustCreateObject(t, s)
	b := mustCreateObject(t, s)

	mustWrite(t, s, a, "user.only-a", []byte("a"))

	_, err := s.ProbeSize(testContext(), b, "user.only-a")
	AssertCode(t, xattr.ErrNoData, err)

	size, err := s.Enumerate(testContext(), b, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}
