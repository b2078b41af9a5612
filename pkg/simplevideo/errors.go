package simplevideo

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrVideoNotFound indicates a catalog record was not found
	ErrVideoNotFound = errors.New("video not found")

	// ErrObjectNotFound indicates a storage object was not found
	ErrObjectNotFound = errors.New("object not found")

	// ErrStorageBackendNotFound indicates no blob store serves a bucket
	ErrStorageBackendNotFound = errors.New("storage backend not found")

	// ErrInvalidRequest indicates a malformed envelope or unroutable request
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMethodNotAllowed indicates a direct request used an unsupported method
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrInvalidKey indicates an object key could not be decoded
	ErrInvalidKey = errors.New("invalid object key")

	// ErrInstanceNotFound indicates no instance matched the tag selector
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrSyncTimeout indicates the instance never reached the awaited state
	ErrSyncTimeout = errors.New("timed out waiting for instance state")

	// ErrPartialFailure indicates a two-step mutation completed only its first step
	ErrPartialFailure = errors.New("partial failure")

	// ErrThumbnailsDisabled indicates no frame extractor is configured
	ErrThumbnailsDisabled = errors.New("thumbnail generation disabled")

	// ErrInvalidPatch indicates an upsert patch that sets nothing or an unknown status
	ErrInvalidPatch = errors.New("invalid asset patch")
)

// AssetError represents an error related to a catalog record
type AssetError struct {
	Key string
	Op  string
	Err error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset operation %s failed for %s: %v", e.Op, e.Key, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Bucket string
	Key    string
	Op     string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// SyncError represents a failed step of a distribution cycle
type SyncError struct {
	Step       string
	InstanceID string
	Err        error
}

func (e *SyncError) Error() string {
	if e.InstanceID == "" {
		return fmt.Sprintf("sync step %s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("sync step %s failed for instance %s: %v", e.Step, e.InstanceID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// PartialFailureError reports that the storage object was deleted but the
// catalog record could not be.
type PartialFailureError struct {
	Key string
	Err error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("object %s deleted but metadata removal failed: %v", e.Key, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}
