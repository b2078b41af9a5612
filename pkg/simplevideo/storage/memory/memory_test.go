package memory_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-video/pkg/simplevideo"
	memorystorage "github.com/tendant/simple-video/pkg/simplevideo/storage/memory"
)

func TestMemoryBackend(t *testing.T) {
	backend := memorystorage.New("media")
	ctx := context.Background()
	testKey := "videos/u1/clip.mp4"
	testData := "not really a video"

	t.Run("UploadWithParams", func(t *testing.T) {
		err := backend.UploadWithParams(ctx, strings.NewReader(testData), simplevideo.UploadParams{
			ObjectKey: testKey,
			MimeType:  "video/mp4",
		})
		require.NoError(t, err)
		assert.True(t, backend.Has(testKey))
	})

	t.Run("GetObjectMeta", func(t *testing.T) {
		meta, err := backend.GetObjectMeta(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, testKey, meta.Key)
		assert.Equal(t, int64(len(testData)), meta.Size)
		assert.Equal(t, "video/mp4", meta.ContentType)
		assert.False(t, meta.LastModified.IsZero())
	})

	t.Run("Download", func(t *testing.T) {
		reader, err := backend.Download(ctx, testKey)
		require.NoError(t, err)
		defer reader.Close()

		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, testData, string(data))
	})

	t.Run("URLs", func(t *testing.T) {
		readURL, err := backend.GetReadURL(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, "memory://media/videos/u1/clip.mp4", readURL)

		uploadURL, err := backend.GetUploadURL(ctx, "videos/u1/next.mp4", "video/mp4")
		require.NoError(t, err)
		assert.Equal(t, "memory://media/videos/u1/next.mp4", uploadURL)

		_, err = backend.GetReadURL(ctx, "videos/missing.mp4")
		assert.ErrorIs(t, err, simplevideo.ErrObjectNotFound)
	})

	t.Run("PutDefaultsMimeType", func(t *testing.T) {
		backend.Put("videos/raw.mp4", "", []byte("x"))
		meta, err := backend.GetObjectMeta(ctx, "videos/raw.mp4")
		require.NoError(t, err)
		assert.Equal(t, "application/octet-stream", meta.ContentType)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, backend.Delete(ctx, testKey))

		_, err := backend.GetObjectMeta(ctx, testKey)
		assert.ErrorIs(t, err, simplevideo.ErrObjectNotFound)

		_, err = backend.Download(ctx, testKey)
		assert.ErrorIs(t, err, simplevideo.ErrObjectNotFound)

		assert.NoError(t, backend.Delete(ctx, testKey), "delete is idempotent")
	})
}
