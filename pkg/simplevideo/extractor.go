package simplevideo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"time"
)

// BlobResolver returns the blob store serving a bucket
type BlobResolver func(bucket string) (BlobStore, error)

// Extractor turns a storage change record into catalog fields
type Extractor struct {
	stores       BlobResolver
	prober       DurationProber
	probeTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewExtractor creates an Extractor. A nil prober marks every record as error.
func NewExtractor(stores BlobResolver, prober DurationProber, probeTimeout time.Duration, now func() time.Time, logger *slog.Logger) *Extractor {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &Extractor{
		stores:       stores,
		prober:       prober,
		probeTimeout: probeTimeout,
		now:          now,
		logger:       logger,
	}
}

// Extract builds the patch for a created object. Only a failed head fetch is
// returned as an error; a failed probe yields a patch with status error.
func (e *Extractor) Extract(ctx context.Context, bucket, key string, eventSize int64) (AssetPatch, error) {
	store, err := e.stores(bucket)
	if err != nil {
		return AssetPatch{}, err
	}

	meta, err := store.GetObjectMeta(ctx, key)
	if err != nil {
		return AssetPatch{}, &StorageError{Bucket: bucket, Key: key, Op: "head", Err: err}
	}

	size := meta.Size
	if size == 0 {
		size = eventSize
	}
	filename := path.Base(key)
	uploadDate := e.now()
	patch := AssetPatch{
		Filename:     &filename,
		Size:         &size,
		ContentType:  &meta.ContentType,
		LastModified: &meta.LastModified,
		UploadDate:   &uploadDate,
		Status:       statusPtr(AssetStatusProcessing),
	}
	if bucket != "" {
		patch.Bucket = &bucket
	}

	duration, err := e.probe(ctx, store, key)
	if err != nil {
		enrichmentFailures.WithLabelValues("probe").Inc()
		e.logger.Warn("duration probe failed", "bucket", bucket, "key", key, "error", err)
		patch.Status = statusPtr(AssetStatusError)
		patch.ClearDuration = true
		return patch, nil
	}
	patch.Duration = &duration
	patch.Status = statusPtr(AssetStatusReady)
	return patch, nil
}

func (e *Extractor) probe(ctx context.Context, store BlobStore, key string) (float64, error) {
	if e.prober == nil {
		return 0, errors.New("no duration prober configured")
	}

	source, err := store.GetReadURL(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("issue read url: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	duration, err := e.prober.ProbeDuration(probeCtx, source)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return 0, fmt.Errorf("invalid duration %v", duration)
	}
	return duration, nil
}

// Remove deletes the record for a removed object. Missing records are ignored.
func (e *Extractor) Remove(ctx context.Context, repo Repository, key string) error {
	if err := repo.DeleteAssetByKey(ctx, key); err != nil {
		return &AssetError{Key: key, Op: "delete", Err: err}
	}
	return nil
}

func statusPtr(s AssetStatus) *AssetStatus {
	return &s
}
