package fsutil

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, fsys FileSystem, root string) {
	t.Helper()
	dir := filepath.Join(root, "out", "run")

	err := fsys.WriteFile(filepath.Join(dir, "a.png"), []byte("x"), 0o644)
	assert.ErrorIs(t, err, fs.ErrNotExist, "parent must exist")

	require.NoError(t, fsys.MkdirAll(dir, 0o755))
	assert.True(t, fsys.Exists(dir))
	assert.True(t, fsys.Exists(filepath.Join(root, "out")))

	name := filepath.Join(dir, "a.png")
	require.NoError(t, fsys.WriteFile(name, []byte("first"), 0o644))
	require.NoError(t, fsys.WriteFile(name, []byte("second"), 0o644))
	got, err := fsys.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	_, err = fsys.ReadFile(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.False(t, fsys.Exists(filepath.Join(dir, "missing")))
}

func TestOSFileSystem(t *testing.T) {
	t.Parallel()
	exercise(t, OSFileSystem{}, t.TempDir())
}

func TestMemoryFileSystem(t *testing.T) {
	t.Parallel()
	m := NewMemoryFileSystem()
	exercise(t, m, "/tmp")
	assert.Equal(t, []string{"/tmp/out/run/a.png"}, m.Files())

	t.Run("read returns a copy", func(t *testing.T) {
		t.Parallel()
		m := NewMemoryFileSystem()
		require.NoError(t, m.WriteFile("f", []byte("abc"), 0o644))
		b, err := m.ReadFile("f")
		require.NoError(t, err)
		b[0] = 'z'
		again, err := m.ReadFile("f")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(again))
	})

	t.Run("mkdir over a file fails", func(t *testing.T) {
		t.Parallel()
		m := NewMemoryFileSystem()
		require.NoError(t, m.WriteFile("f", nil, 0o644))
		assert.ErrorIs(t, m.MkdirAll("f/sub", 0o755), fs.ErrExist)
	})
}
