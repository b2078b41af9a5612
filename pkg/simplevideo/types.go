package simplevideo

import (
	"fmt"
	"time"
)

// AssetStatus represents the lifecycle state of a video asset
type AssetStatus string

const (
	AssetStatusProcessing AssetStatus = "processing"
	AssetStatusReady      AssetStatus = "ready"
	AssetStatusError      AssetStatus = "error"
	AssetStatusActive     AssetStatus = "active"
)

// IsValid reports whether s is a known status
func (s AssetStatus) IsValid() bool {
	switch s {
	case AssetStatusProcessing, AssetStatusReady, AssetStatusError, AssetStatusActive:
		return true
	}
	return false
}

// ListableStatuses are the statuses returned by catalog listings
var ListableStatuses = []AssetStatus{AssetStatusReady, AssetStatusActive}

// VideoAsset is the catalog record for one uploaded video object
type VideoAsset struct {
	ID           string      `json:"id"`
	Key          string      `json:"key"`
	Bucket       string      `json:"bucket,omitempty"`
	Filename     string      `json:"filename"`
	Size         int64       `json:"size"`
	ContentType  string      `json:"contentType"`
	LastModified time.Time   `json:"lastModified"`
	UploadDate   time.Time   `json:"uploadDate"`
	Duration     *float64    `json:"duration,omitempty"`
	ThumbnailURL string      `json:"thumbnailUrl,omitempty"`
	StreamingURL string      `json:"streamingUrl,omitempty"`
	Status       AssetStatus `json:"status"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// AssetPatch carries the fields an upsert sets. Nil fields are left untouched.
type AssetPatch struct {
	Bucket       *string
	Filename     *string
	Size         *int64
	ContentType  *string
	LastModified *time.Time
	UploadDate   *time.Time
	Duration     *float64
	ThumbnailURL *string
	StreamingURL *string
	Status       *AssetStatus

	// ClearDuration unsets a previously stored duration; Duration must be nil
	ClearDuration bool
}

// IsEmpty reports whether the patch sets no fields
func (p AssetPatch) IsEmpty() bool {
	return p.Bucket == nil && p.Filename == nil && p.Size == nil && p.ContentType == nil &&
		p.LastModified == nil && p.UploadDate == nil && p.Duration == nil &&
		p.ThumbnailURL == nil && p.StreamingURL == nil && p.Status == nil && !p.ClearDuration
}

// Validate rejects patches a repository must not apply
func (p AssetPatch) Validate() error {
	if p.IsEmpty() {
		return fmt.Errorf("%w: empty patch", ErrInvalidPatch)
	}
	if p.Status != nil && !p.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPatch, *p.Status)
	}
	if p.ClearDuration && p.Duration != nil {
		return fmt.Errorf("%w: duration both set and cleared", ErrInvalidPatch)
	}
	return nil
}

// Apply merges the set fields of p into a
func (p AssetPatch) Apply(a *VideoAsset) {
	if p.Bucket != nil {
		a.Bucket = *p.Bucket
	}
	if p.Filename != nil {
		a.Filename = *p.Filename
	}
	if p.Size != nil {
		a.Size = *p.Size
	}
	if p.ContentType != nil {
		a.ContentType = *p.ContentType
	}
	if p.LastModified != nil {
		a.LastModified = *p.LastModified
	}
	if p.UploadDate != nil {
		a.UploadDate = *p.UploadDate
	}
	if p.Duration != nil {
		d := *p.Duration
		a.Duration = &d
	}
	if p.ClearDuration {
		a.Duration = nil
	}
	if p.ThumbnailURL != nil {
		a.ThumbnailURL = *p.ThumbnailURL
	}
	if p.StreamingURL != nil {
		a.StreamingURL = *p.StreamingURL
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
}

// EventKind classifies a storage change notification
type EventKind string

const (
	EventCreated EventKind = "created"
	EventRemoved EventKind = "removed"
)

// InstanceState is the lifecycle state of a remote compute instance
type InstanceState string

const (
	InstanceRunning  InstanceState = "running"
	InstanceStopping InstanceState = "stopping"
	InstanceStopped  InstanceState = "stopped"
	InstanceStarting InstanceState = "starting"
)

// Instance is a snapshot of a remote compute instance
type Instance struct {
	ID            string
	PublicAddress string
	State         InstanceState
}

// TagSelector selects an instance by a single tag
type TagSelector struct {
	Key   string
	Value string
}

func (s TagSelector) String() string {
	return s.Key + "=" + s.Value
}

// ObjectMeta represents metadata about a stored object
type ObjectMeta struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
	Metadata     map[string]string
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
}

// SyncTarget identifies the asset a distribution cycle publishes or retracts
type SyncTarget struct {
	Bucket   string
	Key      string
	Filename string
}

// SyncResult is the outcome of a successful distribution cycle
type SyncResult struct {
	InstanceID   string
	Address      string
	StreamingURL string
}

// RecordOutcome reports the processing result of one storage change record.
// The embedded asset is nil when the record failed before it was persisted
// and for removals.
type RecordOutcome struct {
	Key   string    `json:"key"`
	Event EventKind `json:"event"`
	*VideoAsset
	Error     string `json:"error,omitempty"`
	SyncError string `json:"syncError,omitempty"`
}

// Failed reports whether the record failed fatally
func (o RecordOutcome) Failed() bool {
	return o.Error != ""
}

// UploadTicket is a presigned upload destination
type UploadTicket struct {
	Key       string    `json:"key"`
	UploadURL string    `json:"uploadUrl"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}
