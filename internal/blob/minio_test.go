package blob_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/depthflow/internal/blob"
	"github.com/kiranshivaraju/depthflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupMinio(t *testing.T) *blob.MinioStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	s, err := blob.NewMinioStore(ctx, config.S3Config{
		Endpoint:  host + ":" + port.Port(),
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "depthflow-test",
	})
	require.NoError(t, err)
	return s
}

func TestMinioStore_PutOpenDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupMinio(t)
	ctx := context.Background()

	key := blob.OutputKey("abc", "mp4")
	require.NoError(t, s.Put(ctx, key, strings.NewReader("video"), 5, "video/mp4"))

	obj, info, err := s.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	require.NoError(t, obj.Close())
	assert.Equal(t, "video", string(data))
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "video/mp4", info.ContentType)

	require.NoError(t, s.Delete(ctx, key))
	_, _, err = s.Open(ctx, key)
	assert.ErrorIs(t, err, blob.ErrNotFound)
	assert.NoError(t, s.Ping(ctx))
}
