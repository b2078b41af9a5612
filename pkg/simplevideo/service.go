package simplevideo

import (
	"context"
	"io"
)

// Service is the main interface of the video pipeline
type Service interface {
	// Dispatch routes an envelope: storage change batches are processed,
	// direct requests are answered from the catalog.
	Dispatch(ctx context.Context, env *Envelope) *Response

	// Storage change processing
	ProcessRecords(ctx context.Context, records []StorageRecord) []RecordOutcome
	// ProcessRecord handles one record. The boolean is false when the record was skipped.
	ProcessRecord(ctx context.Context, record StorageRecord) (RecordOutcome, bool)

	// Catalog queries
	ListVideos(ctx context.Context) ([]*VideoAsset, error)
	GetVideo(ctx context.Context, id string) (*VideoAsset, error)
	OpenVideo(ctx context.Context, id string) (*VideoAsset, io.ReadCloser, error)
	RemoveVideo(ctx context.Context, id string) error
	RequestUpload(ctx context.Context, owner, fileName, contentType string) (*UploadTicket, error)
}
