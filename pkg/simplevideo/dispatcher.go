package simplevideo

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const (
	collectionPath = "/videos"

	batchSucceededMessage = "Processed S3 events successfully"
	batchFailedMessage    = "Processed S3 events with errors"
)

// NewResponse builds a JSON response carrying the CORS header
func NewResponse(status int, body any) *Response {
	return &Response{
		StatusCode: status,
		Headers: map[string]string{
			"Access-Control-Allow-Origin": "*",
			"Content-Type":                "application/json",
		},
		Body: body,
	}
}

// ErrorResponse maps an error to its response
func ErrorResponse(err error) *Response {
	switch {
	case errors.Is(err, ErrVideoNotFound):
		return NewResponse(http.StatusNotFound, ErrorBody{Error: "Video not found"})
	case errors.Is(err, ErrInvalidRequest):
		return NewResponse(http.StatusBadRequest, ErrorBody{Error: "Invalid request"})
	case errors.Is(err, ErrMethodNotAllowed):
		return NewResponse(http.StatusMethodNotAllowed, ErrorBody{Error: "Method not allowed"})
	case errors.Is(err, ErrPartialFailure):
		return NewResponse(http.StatusInternalServerError, ErrorBody{
			Error: "Video object deleted but metadata removal failed",
			Code:  "partial_failure",
		})
	default:
		return NewResponse(http.StatusInternalServerError, ErrorBody{Error: "Internal server error"})
	}
}

func (s *service) Dispatch(ctx context.Context, env *Envelope) *Response {
	if env == nil || (!env.IsBatch() && env.Method == "") {
		return ErrorResponse(ErrInvalidRequest)
	}

	if env.IsBatch() {
		outcomes := s.ProcessRecords(ctx, env.Records)
		status, message := http.StatusOK, batchSucceededMessage
		for _, outcome := range outcomes {
			if outcome.Failed() {
				status, message = http.StatusMultiStatus, batchFailedMessage
				break
			}
		}
		return NewResponse(status, BatchResult{Message: message, Results: outcomes})
	}

	return s.route(ctx, env)
}

func (s *service) route(ctx context.Context, env *Envelope) *Response {
	id, ok := requestIdentifier(env)
	if !ok {
		return ErrorResponse(ErrInvalidRequest)
	}

	switch strings.ToUpper(env.Method) {
	case http.MethodGet:
		if id == "" {
			videos, err := s.ListVideos(ctx)
			if err != nil {
				s.logger.Error("failed to list videos", "error", err)
				return ErrorResponse(err)
			}
			return NewResponse(http.StatusOK, videos)
		}
		video, err := s.GetVideo(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrVideoNotFound) {
				s.logger.Error("failed to get video", "id", id, "error", err)
			}
			return ErrorResponse(err)
		}
		return NewResponse(http.StatusOK, video)

	case http.MethodDelete:
		if id == "" {
			return ErrorResponse(ErrInvalidRequest)
		}
		if err := s.RemoveVideo(ctx, id); err != nil {
			if !errors.Is(err, ErrVideoNotFound) {
				s.logger.Error("failed to remove video", "id", id, "error", err)
			}
			return ErrorResponse(err)
		}
		return NewResponse(http.StatusOK, map[string]string{"message": "Video deleted", "id": id})

	default:
		return ErrorResponse(ErrMethodNotAllowed)
	}
}

// requestIdentifier extracts the record identifier of a direct request.
// It reports false when the path is outside the catalog collection.
func requestIdentifier(env *Envelope) (string, bool) {
	p := strings.TrimSuffix(env.Path, "/")
	var fromPath string
	switch {
	case p == "" || p == collectionPath:
	case strings.HasPrefix(p, collectionPath+"/"):
		fromPath = strings.TrimPrefix(p, collectionPath+"/")
		if strings.Contains(fromPath, "/") {
			return "", false
		}
	default:
		return "", false
	}

	if env.PathIdentifier != "" {
		return env.PathIdentifier, true
	}
	return fromPath, true
}
