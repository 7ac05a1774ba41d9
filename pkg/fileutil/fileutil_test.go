package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_CreatesParentAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":1}`), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":2}`), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}
