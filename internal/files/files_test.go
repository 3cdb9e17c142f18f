package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.go")
	writeFile(t, file, []byte("package main\n"))
	f := New("")

	assert.True(t, f.Exists(context.Background(), file))
	assert.False(t, f.Exists(context.Background(), dir), "directories are not openable")
	assert.False(t, f.Exists(context.Background(), filepath.Join(dir, "missing.go")))
	assert.False(t, f.Exists(context.Background(), "main.go"), "relative paths are rejected")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, f.Exists(ctx, file))
}

func TestImageLookup(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "image-1.png"), pngHeader)
	writeFile(t, filepath.Join(dir, "image-2.png"), []byte("not really a picture"))
	f := New(dir)

	path, ok := f.ImageLookup(context.Background(), 1)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "image-1.png"), path)

	_, ok = f.ImageLookup(context.Background(), 2)
	assert.False(t, ok, "content must sniff as an image")

	_, ok = f.ImageLookup(context.Background(), 3)
	assert.False(t, ok)

	_, ok = New("").ImageLookup(context.Background(), 1)
	assert.False(t, ok)
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "README.md"), []byte("# hi\n"))
	writeFile(t, filepath.Join(dir, "cmd", "app", "main.go"), []byte("package main\n"))
	writeFile(t, filepath.Join(dir, ".git", "HEAD"), []byte("ref: refs/heads/main\n"))
	f := New("")

	entries, err := f.ListDir(context.Background(), dir, 1)
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"README.md", "cmd"}, paths)
	assert.Equal(t, int64(5), entries[0].Size)
	assert.True(t, entries[1].IsDir)

	entries, err = f.ListDir(context.Background(), dir, 3)
	require.NoError(t, err)
	paths = paths[:0]
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"README.md", "cmd", "cmd/app", "cmd/app/main.go"}, paths)
}

func TestListDir_Errors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	writeFile(t, file, []byte("a"))
	f := New("")

	_, err := f.ListDir(context.Background(), filepath.Join(dir, "missing"), 1)
	assert.Error(t, err)
	_, err = f.ListDir(context.Background(), file, 1)
	assert.Error(t, err)
}
