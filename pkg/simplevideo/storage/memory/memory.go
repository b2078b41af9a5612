package memory

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/tendant/simple-video/pkg/simplevideo"
)

type object struct {
	data         []byte
	mimeType     string
	lastModified time.Time
}

// Backend is an in-memory implementation of the simplevideo.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]object
	now     func() time.Time
}

// New creates a new in-memory storage backend for bucket
func New(bucket string) *Backend {
	return &Backend{
		bucket:  bucket,
		objects: make(map[string]object),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetObjectMeta retrieves metadata for an object in memory
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*simplevideo.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[objectKey]
	if !exists {
		return nil, simplevideo.ErrObjectNotFound
	}

	return &simplevideo.ObjectMeta{
		Key:          objectKey,
		Size:         int64(len(obj.data)),
		ContentType:  obj.mimeType,
		LastModified: obj.lastModified,
		Metadata:     map[string]string{"mime_type": obj.mimeType},
	}, nil
}

// Put stores data under objectKey; tests use it to seed objects
func (b *Backend) Put(objectKey, mimeType string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	b.objects[objectKey] = object{data: data, mimeType: mimeType, lastModified: b.now()}
}

// UploadWithParams uploads content with parameters
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params simplevideo.UploadParams) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	b.Put(params.ObjectKey, params.MimeType, data)
	return nil
}

// Download downloads content directly
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[objectKey]
	if !exists {
		return nil, simplevideo.ErrObjectNotFound
	}

	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// GetReadURL returns a memory:// reference; nothing outside the process can resolve it
func (b *Backend) GetReadURL(ctx context.Context, objectKey string) (string, error) {
	b.mu.RLock()
	_, exists := b.objects[objectKey]
	b.mu.RUnlock()
	if !exists {
		return "", simplevideo.ErrObjectNotFound
	}
	return b.url(objectKey), nil
}

// GetUploadURL returns a memory:// reference for objectKey
func (b *Backend) GetUploadURL(ctx context.Context, objectKey string, contentType string) (string, error) {
	return b.url(objectKey), nil
}

func (b *Backend) url(objectKey string) string {
	u := url.URL{Scheme: "memory", Host: b.bucket, Path: "/" + objectKey}
	return u.String()
}

// Delete deletes content. Deleting a missing object succeeds, as it does on S3.
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objects, objectKey)
	return nil
}

// Has reports whether objectKey is stored
func (b *Backend) Has(objectKey string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, exists := b.objects[objectKey]
	return exists
}
