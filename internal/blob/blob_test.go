package blob

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type span struct {
	Identifier string  `json:"identifier"`
	Duration   float64 `json:"duration"`
}

func TestStore_RoundTrip(t *testing.T) {
	for _, c := range []Compression{None, Gzip, Zstd} {
		t.Run(string(c), func(t *testing.T) {
			s, err := New(filepath.Join(t.TempDir(), "entries"), c, zerolog.Nop())
			require.NoError(t, err)

			in := []span{{"main", 1.5}, {"db.query", 0.25}}
			path, n, err := s.Write(42, in)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(s.Dir(), "42"+c.Suffix()), path)
			assert.Positive(t, n)

			var out []span
			require.NoError(t, s.Read(42, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestStore_ReadsOtherCompression(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "entries")
	zs, err := New(dir, Zstd, zerolog.Nop())
	require.NoError(t, err)
	_, _, err = zs.Write(1, []span{{"a", 1}})
	require.NoError(t, err)

	gz, err := New(dir, Gzip, zerolog.Nop())
	require.NoError(t, err)
	var out []span
	require.NoError(t, gz.Read(1, &out))
	assert.Equal(t, []span{{"a", 1}}, out)
}

func TestStore_WriteReplacesStaleSuffix(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "entries")
	gz, err := New(dir, Gzip, zerolog.Nop())
	require.NoError(t, err)
	_, _, err = gz.Write(7, []span{{"stale", 1}})
	require.NoError(t, err)

	zs, err := New(dir, Zstd, zerolog.Nop())
	require.NoError(t, err)
	_, _, err = zs.Write(7, []span{{"fresh", 2}})
	require.NoError(t, err)

	assert.NoFileExists(t, gz.Path(7))
	var out []span
	require.NoError(t, gz.Read(7, &out))
	assert.Equal(t, []span{{"fresh", 2}}, out)
}

func TestStore_ReadPrefersConfiguredCompression(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "entries")
	gz, err := New(dir, Gzip, zerolog.Nop())
	require.NoError(t, err)
	stalePath, _, err := gz.Write(8, []span{{"stale", 1}})
	require.NoError(t, err)
	stale, err := os.ReadFile(stalePath)
	require.NoError(t, err)

	zs, err := New(dir, Zstd, zerolog.Nop())
	require.NoError(t, err)
	_, _, err = zs.Write(8, []span{{"fresh", 2}})
	require.NoError(t, err)
	// A leftover that could not be removed earlier.
	require.NoError(t, os.WriteFile(stalePath, stale, 0o644))

	var out []span
	require.NoError(t, zs.Read(8, &out))
	assert.Equal(t, []span{{"fresh", 2}}, out)

	require.NoError(t, zs.RemoveID(8))
	assert.ErrorIs(t, zs.Read(8, &out), ErrNotFound)
	assert.ErrorIs(t, gz.Read(8, &out), ErrNotFound)
}

func TestStore_ReadMissing(t *testing.T) {
	s, err := New(t.TempDir(), Gzip, zerolog.Nop())
	require.NoError(t, err)

	var out []span
	assert.ErrorIs(t, s.Read(99, &out), ErrNotFound)
}

func TestStore_Corrupt(t *testing.T) {
	s, err := New(t.TempDir(), Gzip, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "5.json.gz"), []byte("not gzip"), 0o644))

	var out []span
	err = s.Read(5, &out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestStore_RemoveAndSize(t *testing.T) {
	s, err := New(t.TempDir(), None, zerolog.Nop())
	require.NoError(t, err)

	path, n, err := s.Write(3, []span{{"x", 2}})
	require.NoError(t, err)

	size, err := s.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(n), size)

	require.NoError(t, s.Remove(path))
	require.NoError(t, s.Remove(path), "removing twice is fine")

	var out []span
	assert.ErrorIs(t, s.Read(3, &out), ErrNotFound)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, Gzip, c)

	c, err = ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, Zstd, c)

	_, err = ParseCompression("lz4")
	assert.Error(t, err)

	_, err = New(t.TempDir(), Compression("lz4"), zerolog.Nop())
	assert.Error(t, err)

	_, err = New("", Gzip, zerolog.Nop())
	assert.Error(t, err)
}
