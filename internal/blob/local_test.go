package blob_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiranshivaraju/depthflow/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutOpenDelete(t *testing.T) {
	s, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := blob.UploadKey("abc", "png")
	require.NoError(t, s.Put(ctx, key, strings.NewReader("pixels"), 6, "image/png"))

	obj, info, err := s.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	require.NoError(t, obj.Close())
	assert.Equal(t, "pixels", string(data))
	assert.Equal(t, int64(6), info.Size)

	require.NoError(t, s.Delete(ctx, key))
	_, _, err = s.Open(ctx, key)
	assert.ErrorIs(t, err, blob.ErrNotFound)

	// Deleting twice is fine.
	assert.NoError(t, s.Delete(ctx, key))
}

func TestLocalStore_FileRoundtrip(t *testing.T) {
	s, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video"), 0o644))

	key := blob.OutputKey("abc", "mp4")
	require.NoError(t, s.PutFile(ctx, key, src, "video/mp4"))

	dst := filepath.Join(t.TempDir(), "copy.mp4")
	require.NoError(t, s.GetFile(ctx, key, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))

	assert.ErrorIs(t, s.GetFile(ctx, "outputs/missing.mp4", dst), blob.ErrNotFound)
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	s, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"../escape", "/abs/path", "uploads/../../x"} {
		assert.Error(t, s.Put(ctx, key, strings.NewReader("x"), 1, ""), key)
	}
}

func TestLocalStore_Ping(t *testing.T) {
	dir := t.TempDir()
	s, err := blob.NewLocalStore(dir)
	require.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))

	require.NoError(t, os.RemoveAll(dir))
	assert.Error(t, s.Ping(context.Background()))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "uploads/j1/original.jpg", blob.UploadKey("j1", "jpg"))
	assert.Equal(t, "outputs/j1/depthflow_j1.gif", blob.OutputKey("j1", "gif"))
}
