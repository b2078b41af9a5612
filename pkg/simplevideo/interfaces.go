package simplevideo

import (
	"context"
	"io"
	"time"
)

// Repository defines the metadata store the pipeline persists catalog records to
type Repository interface {
	// UpsertAsset merges the set fields of patch into the record keyed by key,
	// creating it when absent. ID and CreatedAt are assigned on first insert only.
	UpsertAsset(ctx context.Context, key string, patch AssetPatch) (*VideoAsset, error)
	GetAsset(ctx context.Context, id string) (*VideoAsset, error)
	GetAssetByKey(ctx context.Context, key string) (*VideoAsset, error)
	// ListAssetsByStatus returns matching records ordered by upload date, newest first.
	ListAssetsByStatus(ctx context.Context, statuses []AssetStatus) ([]*VideoAsset, error)
	// DeleteAssetByKey removes the record keyed by key. A missing record is not an error.
	DeleteAssetByKey(ctx context.Context, key string) error
}

// BlobStore defines the object storage client for one bucket
type BlobStore interface {
	GetObjectMeta(ctx context.Context, key string) (*ObjectMeta, error)
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// GetReadURL returns a time-limited URL that streams the object
	GetReadURL(ctx context.Context, key string) (string, error)
	GetUploadURL(ctx context.Context, key string, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// InstanceController drives the lifecycle of the remote serving host
type InstanceController interface {
	DescribeInstance(ctx context.Context, selector TagSelector) (*Instance, error)
	// SetBootScript writes the script the instance runs on its next boot
	SetBootScript(ctx context.Context, instanceID string, script string) error
	StopInstance(ctx context.Context, instanceID string) error
	StartInstance(ctx context.Context, instanceID string) error
}

// DurationProber detects the playback duration of a media source in seconds
type DurationProber interface {
	ProbeDuration(ctx context.Context, source string) (float64, error)
}

// FrameExtractor captures one still frame of a media source as a JPEG
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, source string, offset time.Duration, width, height int) ([]byte, error)
}

// Distributor republishes or retracts an asset on the serving host
type Distributor interface {
	Sync(ctx context.Context, kind EventKind, target SyncTarget) (*SyncResult, error)
}

// Locker serializes work on a named resource across workers
type Locker interface {
	Lock(ctx context.Context, name string) (release func(context.Context) error, err error)
}
