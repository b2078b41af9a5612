package simplevideo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultProbeTimeout     = 30 * time.Second
	defaultBatchConcurrency = 8
)

// service implements the Service interface
type service struct {
	repository    Repository
	blobStores    map[string]BlobStore
	defaultBucket string
	prober        DurationProber
	frames        FrameExtractor
	distributor   Distributor
	logger        *slog.Logger
	now           func() time.Time

	probeTimeout     time.Duration
	thumbnailSpec    ThumbnailSpec
	concurrency      int
	activateOnSync   bool
	uploadURLExpires time.Duration

	extractor  *Extractor
	thumbnails *ThumbnailGenerator
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the metadata repository
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore registers the blob store serving bucket. The first store
// registered becomes the default unless WithDefaultBucket says otherwise.
func WithBlobStore(bucket string, store BlobStore) Option {
	return func(s *service) {
		if s.blobStores == nil {
			s.blobStores = make(map[string]BlobStore)
		}
		s.blobStores[bucket] = store
		if s.defaultBucket == "" {
			s.defaultBucket = bucket
		}
	}
}

// WithDefaultBucket selects the blob store used for records without a known bucket
func WithDefaultBucket(bucket string) Option {
	return func(s *service) {
		s.defaultBucket = bucket
	}
}

// WithProber sets the duration prober
func WithProber(prober DurationProber) Option {
	return func(s *service) {
		s.prober = prober
	}
}

// WithProbeTimeout bounds each duration probe
func WithProbeTimeout(d time.Duration) Option {
	return func(s *service) {
		s.probeTimeout = d
	}
}

// WithFrameExtractor enables thumbnail generation
func WithFrameExtractor(frames FrameExtractor) Option {
	return func(s *service) {
		s.frames = frames
	}
}

// WithThumbnailSpec overrides thumbnail offset, size and public base URL
func WithThumbnailSpec(spec ThumbnailSpec) Option {
	return func(s *service) {
		s.thumbnailSpec = spec
	}
}

// WithDistributor enables republishing assets to the serving host
func WithDistributor(d Distributor) Option {
	return func(s *service) {
		s.distributor = d
	}
}

// WithActivateOnSync promotes ready records to active once they are served
func WithActivateOnSync(enabled bool) Option {
	return func(s *service) {
		s.activateOnSync = enabled
	}
}

// WithBatchConcurrency bounds how many records of a batch run at once
func WithBatchConcurrency(n int) Option {
	return func(s *service) {
		s.concurrency = n
	}
}

// WithUploadURLExpiry sets the lifetime reported for presigned upload URLs
func WithUploadURLExpiry(d time.Duration) Option {
	return func(s *service) {
		s.uploadURLExpires = d
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		blobStores:       make(map[string]BlobStore),
		logger:           slog.Default(),
		now:              func() time.Time { return time.Now().UTC() },
		probeTimeout:     defaultProbeTimeout,
		thumbnailSpec:    DefaultThumbnailSpec(),
		concurrency:      defaultBatchConcurrency,
		uploadURLExpires: time.Hour,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if len(s.blobStores) == 0 {
		return nil, fmt.Errorf("at least one blob store is required")
	}
	if _, ok := s.blobStores[s.defaultBucket]; !ok {
		return nil, fmt.Errorf("default bucket %q has no blob store", s.defaultBucket)
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultBatchConcurrency
	}

	s.extractor = NewExtractor(s.blobStoreFor, s.prober, s.probeTimeout, s.now, s.logger)
	if s.frames != nil {
		s.thumbnails = NewThumbnailGenerator(s.blobStoreFor, s.frames, s.thumbnailSpec, s.logger)
	}

	return s, nil
}

func (s *service) blobStoreFor(bucket string) (BlobStore, error) {
	if store, ok := s.blobStores[bucket]; ok {
		return store, nil
	}
	if store, ok := s.blobStores[s.defaultBucket]; ok {
		return store, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrStorageBackendNotFound, bucket)
}

// Storage change processing

func (s *service) ProcessRecords(ctx context.Context, records []StorageRecord) []RecordOutcome {
	settled := make([]*RecordOutcome, len(records))

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, record := range records {
		g.Go(func() error {
			if outcome, ok := s.ProcessRecord(ctx, record); ok {
				settled[i] = &outcome
			}
			return nil
		})
	}
	_ = g.Wait()

	outcomes := make([]RecordOutcome, 0, len(records))
	for _, outcome := range settled {
		if outcome != nil {
			outcomes = append(outcomes, *outcome)
		}
	}
	return outcomes
}

func (s *service) ProcessRecord(ctx context.Context, record StorageRecord) (outcome RecordOutcome, processed bool) {
	key, err := DecodeKey(record.Key)
	if err != nil {
		recordsProcessed.WithLabelValues("unknown", "failed").Inc()
		return RecordOutcome{Key: record.Key, Error: err.Error()}, true
	}

	kind, ok := EventKindOf(record.EventName)
	if !ok || !IsVideoKey(key) {
		s.logger.Debug("skipping storage record", "event_name", record.EventName, "key", key)
		return RecordOutcome{}, false
	}

	logger := s.logger.With("event", kind, "bucket", record.Bucket, "key", key)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("record processing panicked", "panic", r)
			outcome = RecordOutcome{Key: key, Event: kind, Error: fmt.Sprintf("panic: %v", r)}
			processed = true
		}
		result := "succeeded"
		if outcome.Failed() {
			result = "failed"
		}
		recordsProcessed.WithLabelValues(string(kind), result).Inc()
	}()

	switch kind {
	case EventRemoved:
		return s.processRemoved(ctx, logger, record.Bucket, key), true
	default:
		return s.processCreated(ctx, logger, record, key), true
	}
}

func (s *service) processCreated(ctx context.Context, logger *slog.Logger, record StorageRecord, key string) RecordOutcome {
	outcome := RecordOutcome{Key: key, Event: EventCreated}

	patch, err := s.extractor.Extract(ctx, record.Bucket, key, record.Size)
	if err != nil {
		logger.Error("metadata extraction failed", "error", err)
		outcome.Error = err.Error()
		return outcome
	}
	s.keepActive(ctx, logger, key, &patch)

	if s.thumbnails != nil {
		ref, err := s.thumbnails.Generate(ctx, record.Bucket, key)
		if err != nil {
			enrichmentFailures.WithLabelValues("thumbnail").Inc()
			logger.Warn("thumbnail generation failed", "error", err)
		} else {
			patch.ThumbnailURL = &ref
		}
	}

	asset, err := s.repository.UpsertAsset(ctx, key, patch)
	if err != nil {
		err = &AssetError{Key: key, Op: "upsert", Err: err}
		logger.Error("failed to persist asset", "error", err)
		outcome.Error = err.Error()
		return outcome
	}
	outcome.VideoAsset = asset
	logger.Info("asset persisted", "id", asset.ID, "status", asset.Status)

	if s.distributor == nil {
		return outcome
	}

	result, err := s.distributor.Sync(ctx, EventCreated, SyncTarget{Bucket: record.Bucket, Key: key, Filename: asset.Filename})
	if err != nil {
		logger.Error("distribution sync failed", "error", err)
		outcome.SyncError = err.Error()
		return outcome
	}
	if result == nil || result.StreamingURL == "" {
		return outcome
	}

	syncPatch := AssetPatch{StreamingURL: &result.StreamingURL}
	if s.activateOnSync && asset.Status == AssetStatusReady {
		syncPatch.Status = statusPtr(AssetStatusActive)
	}
	updated, err := s.repository.UpsertAsset(ctx, key, syncPatch)
	if err != nil {
		err = &AssetError{Key: key, Op: "upsert streaming url", Err: err}
		logger.Error("failed to persist streaming url", "error", err)
		outcome.SyncError = err.Error()
		return outcome
	}
	outcome.VideoAsset = updated
	return outcome
}

// keepActive stops a redelivered creation from moving an active record back to ready
func (s *service) keepActive(ctx context.Context, logger *slog.Logger, key string, patch *AssetPatch) {
	if patch.Status == nil || *patch.Status != AssetStatusReady {
		return
	}
	current, err := s.repository.GetAssetByKey(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrVideoNotFound) {
			logger.Warn("failed to read current asset", "error", err)
		}
		return
	}
	if current.Status == AssetStatusActive {
		patch.Status = statusPtr(AssetStatusActive)
	}
}

func (s *service) processRemoved(ctx context.Context, logger *slog.Logger, bucket, key string) RecordOutcome {
	outcome := RecordOutcome{Key: key, Event: EventRemoved}

	if err := s.extractor.Remove(ctx, s.repository, key); err != nil {
		logger.Error("failed to remove asset", "error", err)
		outcome.Error = err.Error()
		return outcome
	}
	logger.Info("asset removed")

	if s.distributor == nil {
		return outcome
	}
	if _, err := s.distributor.Sync(ctx, EventRemoved, SyncTarget{Bucket: bucket, Key: key, Filename: path.Base(key)}); err != nil {
		logger.Error("distribution sync failed", "error", err)
		outcome.SyncError = err.Error()
	}
	return outcome
}
