package simplevideo

import (
	"encoding/json"
	"fmt"
)

// StorageRecord is one storage change notification
type StorageRecord struct {
	EventName string `json:"eventName"`
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	Size      int64  `json:"size"`
}

// UnmarshalJSON accepts both the flat record shape and the native S3
// notification shape with nested s3.bucket / s3.object fields.
func (r *StorageRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		EventName string `json:"eventName"`
		Bucket    string `json:"bucket"`
		Key       string `json:"key"`
		Size      int64  `json:"size"`
		S3        *struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.EventName = raw.EventName
	r.Bucket = raw.Bucket
	r.Key = raw.Key
	r.Size = raw.Size
	if raw.S3 != nil {
		if r.Bucket == "" {
			r.Bucket = raw.S3.Bucket.Name
		}
		if r.Key == "" {
			r.Key = raw.S3.Object.Key
		}
		if r.Size == 0 {
			r.Size = raw.S3.Object.Size
		}
	}
	return nil
}

// Envelope is a pipeline trigger: either a batch of storage change records
// or a direct catalog request.
type Envelope struct {
	Records []StorageRecord `json:"records,omitempty"`

	Method         string            `json:"method,omitempty"`
	Path           string            `json:"path,omitempty"`
	PathIdentifier string            `json:"pathIdentifier,omitempty"`
	QueryParams    map[string]string `json:"queryParams,omitempty"`
	Body           json.RawMessage   `json:"body,omitempty"`
}

// IsBatch reports whether the envelope carries storage change records
func (e *Envelope) IsBatch() bool {
	return len(e.Records) > 0
}

// ParseEnvelope decodes and classifies a raw trigger payload
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !env.IsBatch() && env.Method == "" {
		return nil, fmt.Errorf("%w: envelope has neither records nor method", ErrInvalidRequest)
	}
	return &env, nil
}

// Response is the reply to an envelope
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       any               `json:"body"`
}

// ErrorBody is the JSON body of a failed request
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// BatchResult is the JSON body of a processed storage change batch
type BatchResult struct {
	Message string          `json:"message"`
	Results []RecordOutcome `json:"results"`
}
