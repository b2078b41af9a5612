package simplevideo

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ThumbnailSpec fixes where and how large preview frames are captured
type ThumbnailSpec struct {
	Offset  time.Duration
	Width   int
	Height  int
	BaseURL string        // public prefix for thumbnail keys; signed URLs are issued when empty
	Timeout time.Duration // bounds one capture and upload
}

// DefaultThumbnailSpec captures a 320x180 frame one second in
func DefaultThumbnailSpec() ThumbnailSpec {
	return ThumbnailSpec{Offset: time.Second, Width: 320, Height: 180, Timeout: 30 * time.Second}
}

// ThumbnailGenerator derives a preview image from a video object
type ThumbnailGenerator struct {
	stores BlobResolver
	frames FrameExtractor
	spec   ThumbnailSpec
	logger *slog.Logger
}

// NewThumbnailGenerator creates a ThumbnailGenerator
func NewThumbnailGenerator(stores BlobResolver, frames FrameExtractor, spec ThumbnailSpec, logger *slog.Logger) *ThumbnailGenerator {
	defaults := DefaultThumbnailSpec()
	if spec.Offset <= 0 {
		spec.Offset = defaults.Offset
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		spec.Width, spec.Height = defaults.Width, defaults.Height
	}
	if spec.Timeout <= 0 {
		spec.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ThumbnailGenerator{stores: stores, frames: frames, spec: spec, logger: logger}
}

// Generate captures, uploads and references the preview frame of key.
// Callers treat any error as "no thumbnail"; panics in the frame extractor
// are converted into errors.
func (g *ThumbnailGenerator) Generate(ctx context.Context, bucket, key string) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			ref, err = "", fmt.Errorf("thumbnail generation panicked: %v", r)
		}
	}()

	if g.frames == nil {
		return "", ErrThumbnailsDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, g.spec.Timeout)
	defer cancel()

	store, err := g.stores(bucket)
	if err != nil {
		return "", err
	}

	source, err := store.GetReadURL(ctx, key)
	if err != nil {
		return "", fmt.Errorf("issue read url: %w", err)
	}

	frame, err := g.frames.ExtractFrame(ctx, source, g.spec.Offset, g.spec.Width, g.spec.Height)
	if err != nil {
		return "", fmt.Errorf("extract frame: %w", err)
	}
	if len(frame) == 0 {
		return "", fmt.Errorf("extract frame: empty image")
	}

	thumbKey := ThumbnailKey(key)
	params := UploadParams{ObjectKey: thumbKey, MimeType: "image/jpeg"}
	if err := store.UploadWithParams(ctx, bytes.NewReader(frame), params); err != nil {
		return "", &StorageError{Bucket: bucket, Key: thumbKey, Op: "upload", Err: err}
	}

	if g.spec.BaseURL != "" {
		return strings.TrimRight(g.spec.BaseURL, "/") + "/" + thumbKey, nil
	}
	ref, err = store.GetReadURL(ctx, thumbKey)
	if err != nil {
		return "", fmt.Errorf("issue thumbnail url: %w", err)
	}
	return ref, nil
}
