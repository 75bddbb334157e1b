package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveOpenRemove(t *testing.T) {
	store, err := NewLocal(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "abc.png", []byte("png-bytes")))

	obj, err := store.Open(ctx, "abc.png")
	require.NoError(t, err)
	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	require.NoError(t, obj.Close())

	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, int64(9), obj.Size)
	assert.Equal(t, "image/png", obj.ContentType)

	require.NoError(t, store.Remove(ctx, "abc.png"))
	_, err = store.Open(ctx, "abc.png")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, store.Remove(ctx, "abc.png"))
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), "one.jpg", []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "one.jpg", entries[0].Name())
}

func TestRejectsTraversalNames(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"", "../secret", "a/b.png", `a\b.png`, ".hidden", ".."} {
		_, err := store.Open(ctx, name)
		assert.True(t, errors.Is(err, ErrInvalidName), name)
		assert.True(t, errors.Is(store.Save(ctx, name, []byte("x")), ErrInvalidName), name)
	}
}

func TestOpenDirectoryIsNotFound(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	store, err := NewLocal(dir)
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "sub")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentType("x.JPG"))
	assert.Equal(t, "image/bmp", ContentType("x.bmp"))
	assert.Equal(t, "application/octet-stream", ContentType("x"))
}

func TestPing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir)
	require.NoError(t, err)
	assert.NoError(t, store.Ping(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, os.RemoveAll(dir))
	assert.Error(t, store.Ping(context.Background()))
}

func TestPingRejectsReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	store, err := NewLocal(dir)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	err = store.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not writable")
}
