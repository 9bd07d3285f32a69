package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_TextToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mds.log")
	require.NoError(t, Configure("warn", "text", path))
	t.Cleanup(func() { _ = Configure("info", "text", "stdout") })

	Info("hidden %d", 1)
	Warn("SETXATTR: fid=%s name=%s", "[0x1:0x2:0x0]", "user.a")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	out := string(data)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] SETXATTR: fid=[0x1:0x2:0x0] name=user.a")
	assert.False(t, IsDebug())
}

func TestConfigure_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mds.json")
	require.NoError(t, Configure("debug", "json", path))
	t.Cleanup(func() { _ = Configure("info", "text", "stdout") })

	Debug("probe size=%d", 12)
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"probe size=12"`)
	assert.Contains(t, string(data), `"level":"DEBUG"`)
	assert.True(t, IsDebug())
}

func TestConfigure_BadPath(t *testing.T) {
	err := Configure("info", "text", filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	assert.Error(t, err)
}

func TestSetLevel_IgnoresUnknown(t *testing.T) {
	SetLevel("debug")
	SetLevel("verbose")
	assert.True(t, IsDebug())
	SetLevel("INFO")
	assert.False(t, IsDebug())
}
