package safe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	regular := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(regular, []byte(`[1,2,3]`), 0o600))

	t.Run("regular file", func(t *testing.T) {
		data, err := ReadFile(regular, nil)
		require.NoError(t, err)
		assert.Equal(t, `[1,2,3]`, string(data))
	})

	t.Run("too large", func(t *testing.T) {
		_, err := ReadFile(regular, &ReadOptions{MaxSize: 3})
		assert.ErrorContains(t, err, "exceeds maximum")
	})

	t.Run("directory", func(t *testing.T) {
		_, err := ReadFile(dir, nil)
		assert.ErrorContains(t, err, "not a regular file")
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(dir, "nope"), nil)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("symlink", func(t *testing.T) {
		link := filepath.Join(dir, "link.json")
		require.NoError(t, os.Symlink(regular, link))

		_, err := ReadFile(link, nil)
		assert.ErrorContains(t, err, "symlink")

		data, err := ReadFile(link, &ReadOptions{AllowSymlinks: true})
		require.NoError(t, err)
		assert.Equal(t, `[1,2,3]`, string(data))
	})
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "7.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	err = WriteFileAtomic(filepath.Join(dir, "missing", "x.json"), []byte("x"), 0o644)
	assert.Error(t, err)
}

func TestFileSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")
	n, err := FileSize(path)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o600))
	n, err = FileSize(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}
