// Package blob stores uploaded images and rendered artifacts by key.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("blob not found")

// Object is an open blob. It supports seeking so results can be served with range requests.
type Object interface {
	io.ReadSeekCloser
}

// Info describes a stored blob.
type Info struct {
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Store is the blob storage interface. Keys are slash-separated relative paths such as
// "uploads/<id>/original.png". Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PutFile(ctx context.Context, key, path, contentType string) error
	GetFile(ctx context.Context, key, path string) error
	Open(ctx context.Context, key string) (Object, Info, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// UploadKey is where the original image for a job lives.
func UploadKey(jobID, ext string) string {
	return "uploads/" + jobID + "/original." + ext
}

// OutputKey is where the rendered artifact for a job lives.
func OutputKey(jobID, format string) string {
	return "outputs/" + jobID + "/depthflow_" + jobID + "." + format
}
