// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-video/pkg/simplevideo"
	"github.com/tendant/simple-video/pkg/simplevideo/auth"
)

const maxEventBodyBytes = 10 << 20

// Handler serves the event and catalog endpoints
type Handler struct {
	service  simplevideo.Service
	verifier *auth.HMACVerifier
	secret   string
	logger   *slog.Logger
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithEventsSecret requires auth.SecretHeader to match secret on POST /events
func WithEventsSecret(secret string) HandlerOption {
	return func(h *Handler) {
		h.secret = secret
	}
}

// WithVerifier requires a bearer token on catalog routes and on direct requests to /events
func WithVerifier(v *auth.HMACVerifier) HandlerOption {
	return func(h *Handler) {
		h.verifier = v
	}
}

// WithHandlerLogger sets the handler logger
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

func NewHandler(service simplevideo.Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		service: service,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for the pipeline endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(CORSMiddleware(nil, nil, nil))
	r.Use(MetricsMiddleware)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, r, simplevideo.ErrorResponse(simplevideo.ErrMethodNotAllowed))
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, r, simplevideo.ErrorResponse(simplevideo.ErrInvalidRequest))
	})

	r.Get("/health", h.Health)
	r.Group(func(r chi.Router) {
		if h.secret != "" {
			r.Use(auth.RequireSecret(h.secret))
		}
		r.Use(RequestSizeLimitMiddleware(maxEventBodyBytes))
		r.Post("/events", h.Invoke)
	})

	r.Group(func(r chi.Router) {
		if h.verifier != nil {
			r.Use(auth.Middleware(h.verifier))
		}
		r.Get("/videos", h.ListVideos)
		r.Post("/videos/uploads", h.RequestUpload)
		r.Get("/videos/{id}", h.GetVideo)
		r.Delete("/videos/{id}", h.DeleteVideo)
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// Invoke accepts a raw envelope: a storage change batch or a direct request.
// Direct requests reach the catalog and need the same bearer token as its routes.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("Failed to read envelope", "error", err)
		writeResponse(w, r, simplevideo.ErrorResponse(simplevideo.ErrInvalidRequest))
		return
	}

	env, err := simplevideo.ParseEnvelope(body)
	if err != nil {
		h.logger.Warn("Rejected envelope", "error", err)
		writeResponse(w, r, simplevideo.ErrorResponse(err))
		return
	}

	ctx := r.Context()
	if env.IsBatch() {
		// batches run to completion even if the caller disconnects
		ctx = context.WithoutCancel(ctx)
	} else if h.verifier != nil {
		claims, err := h.verifier.Authenticate(r)
		if err != nil {
			auth.Unauthorized(w, r, err)
			return
		}
		ctx = auth.WithClaims(ctx, claims)
	}

	writeResponse(w, r, h.service.Dispatch(ctx, env))
}

func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "")
}

func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, chi.URLParam(r, "id"))
}

// dispatch answers catalog routes through the same envelope path as direct invocations
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, id string) {
	path := "/videos"
	if id != "" {
		path += "/" + id
	}
	env := &simplevideo.Envelope{
		Method:         r.Method,
		Path:           path,
		PathIdentifier: id,
	}
	writeResponse(w, r, h.service.Dispatch(r.Context(), env))
}

// UploadRequest asks for a presigned upload URL
type UploadRequest struct {
	Owner       string `json:"owner,omitempty"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType,omitempty"`
}

// RequestUpload issues a presigned upload URL. An authenticated caller
// always uploads under its own identity.
func (h *Handler) RequestUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode upload request", "error", err)
		writeResponse(w, r, simplevideo.ErrorResponse(simplevideo.ErrInvalidRequest))
		return
	}

	owner := req.Owner
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		owner = claims.Identity()
	}

	ticket, err := h.service.RequestUpload(r.Context(), owner, req.FileName, req.ContentType)
	if err != nil {
		if !errors.Is(err, simplevideo.ErrInvalidRequest) {
			h.logger.Error("Failed to issue upload URL", "file_name", req.FileName, "error", err)
		}
		writeResponse(w, r, simplevideo.ErrorResponse(err))
		return
	}

	writeResponse(w, r, simplevideo.NewResponse(http.StatusCreated, ticket))
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp *simplevideo.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	render.Status(r, resp.StatusCode)
	render.JSON(w, r, resp.Body)
}
