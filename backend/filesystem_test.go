package backend

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestFilesystemWriteRead(t *testing.T) {
	fs := setupFilesystem(t)
	ctx := context.Background()

	data := []byte("hello world")
	require.NoError(t, fs.Write(ctx, "blobs/ab/abc123", bytes.NewReader(data)))

	rc, err := fs.Read(ctx, "blobs/ab/abc123")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFilesystemOverwrite(t *testing.T) {
	fs := setupFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "blobs/ab/key", bytes.NewReader([]byte("first"))))
	require.NoError(t, fs.Write(ctx, "blobs/ab/key", bytes.NewReader([]byte("second"))))

	rc, err := fs.Read(ctx, "blobs/ab/key")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)
}

func TestFilesystemReadNotFound(t *testing.T) {
	fs := setupFilesystem(t)

	_, err := fs.Read(context.Background(), "blobs/ab/missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemDeleteIdempotent(t *testing.T) {
	fs := setupFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "blobs/ab/key", bytes.NewReader([]byte("data"))))
	require.NoError(t, fs.Delete(ctx, "blobs/ab/key"))
	require.NoError(t, fs.Delete(ctx, "blobs/ab/key"))

	exists, err := fs.Exists(ctx, "blobs/ab/key")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestFilesystemList(t *testing.T) {
	fs := setupFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "blobs/aa/one", bytes.NewReader([]byte("1"))))
	require.NoError(t, fs.Write(ctx, "blobs/bb/two", bytes.NewReader([]byte("2"))))

	keys, err := fs.List(ctx, "blobs")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"blobs/aa/one", "blobs/bb/two"}, keys)
}

func TestFilesystemListSkipsTempFiles(t *testing.T) {
	fs := setupFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "blobs/aa/one", bytes.NewReader([]byte("1"))))

	// Simulate an abandoned in-flight write.
	tmpPath := filepath.Join(fs.Root(), "blobs", "aa", ".tmp-leftover")
	require.NoError(t, os.WriteFile(tmpPath, []byte("partial"), 0600))

	keys, err := fs.List(ctx, "blobs")
	require.NoError(t, err)
	require.Equal(t, []string{"blobs/aa/one"}, keys)
}

func TestFilesystemSize(t *testing.T) {
	fs := setupFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "blobs/ab/key", bytes.NewReader([]byte("12345"))))

	size, err := fs.Size(ctx, "blobs/ab/key")
	require.NoError(t, err)
	require.Equal(t, int64(5), size)

	_, err = fs.Size(ctx, "blobs/ab/missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemTotalSize(t *testing.T) {
	fs := setupFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "blobs/aa/one", bytes.NewReader([]byte("123"))))
	require.NoError(t, fs.Write(ctx, "blobs/bb/two", bytes.NewReader([]byte("4567"))))

	total, err := fs.TotalSize(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(7), total)
}
