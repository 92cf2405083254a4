// Package api exposes the upload service over HTTP.
package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/auth"
)

const (
	// DefaultMaxUploadBytes bounds a single upload request.
	DefaultMaxUploadBytes int64 = 32 << 20

	fileField = "file"
)

// Handler serves the upload routes for a Service.
type Handler struct {
	service        simpleupload.Service
	gate           *auth.Gate
	live           http.Handler
	registry       *prometheus.Registry
	metrics        *Metrics
	logger         *slog.Logger
	maxUploadBytes int64
	requestTimeout time.Duration
	staticDir      string
	allowedOrigins []string
}

// Option configures a Handler
type Option func(*Handler)

// WithAuthGate requires a valid bearer token on every upload and query route
func WithAuthGate(gate *auth.Gate) Option {
	return func(h *Handler) {
		h.gate = gate
	}
}

// WithLiveUpdates mounts a websocket endpoint at /ws
func WithLiveUpdates(live http.Handler) Option {
	return func(h *Handler) {
		h.live = live
	}
}

// WithRegistry registers the HTTP metrics on registry and serves it at /metrics
func WithRegistry(registry *prometheus.Registry) Option {
	return func(h *Handler) {
		h.registry = registry
	}
}

// WithLogger sets the logger for request and error logs
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMaxUploadBytes bounds the size of an upload request body
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		h.maxUploadBytes = n
	}
}

// WithRequestTimeout bounds the non-streaming routes
func WithRequestTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		h.requestTimeout = timeout
	}
}

// WithStaticDir serves the files of dir at /
func WithStaticDir(dir string) Option {
	return func(h *Handler) {
		h.staticDir = dir
	}
}

// WithAllowedOrigins restricts CORS to origins
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		h.allowedOrigins = origins
	}
}

// NewHandler creates a Handler for service.
func NewHandler(service simpleupload.Service, opts ...Option) *Handler {
	h := &Handler{
		service:        service,
		logger:         slog.Default(),
		maxUploadBytes: DefaultMaxUploadBytes,
		requestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.registry == nil {
		h.registry = prometheus.NewRegistry()
	}
	h.metrics = NewMetrics(h.registry)
	return h
}

// Routes returns the router with every endpoint mounted
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Middleware)
	r.Use(CORSMiddleware(h.allowedOrigins))

	r.Get("/ping", h.Ping)
	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{Registry: h.registry}))

	r.Group(func(r chi.Router) {
		if h.gate != nil {
			r.Use(h.gate.Middleware)
		}

		r.Post("/upload", h.Upload)
		r.Get("/download/{key}", h.Download)

		if h.live != nil {
			r.Handle("/ws", h.live)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(h.requestTimeout))
			r.Use(Compress)
			r.Get("/files", h.ListFiles)
			r.Get("/files/{key}", h.GetFile)
		})
	})

	if h.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(h.staticDir)))
	}

	return r
}

// Upload accepts a multipart request whose "file" part is streamed straight
// into the blob store without buffering it on disk.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	part, err := filePart(r)
	if err != nil {
		h.metrics.intake(intakeResult(err), 0)
		h.writeError(w, r, err)
		return
	}
	defer part.Close()

	record, err := h.service.Intake(r.Context(), simpleupload.IntakeRequest{
		Reader:       part,
		DeclaredName: part.FileName(),
		MimeHint:     part.Header.Get("Content-Type"),
		Size:         -1,
	})
	if err != nil {
		h.metrics.intake(intakeResult(err), 0)
		h.writeError(w, r, err)
		return
	}

	h.metrics.intake(intakeResult(nil), record.Size)
	h.logger.InfoContext(r.Context(), "File uploaded",
		"stored_key", record.StoredKey, "original_name", record.OriginalName, "size", record.Size)
	render.JSON(w, r, record)
}

// filePart returns the first part of the request named "file" that carries a
// file name.
func filePart(r *http.Request) (*multipart.Part, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, simpleupload.ErrMissingFile
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, simpleupload.ErrMissingFile
		}
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				return nil, err
			}
			return nil, simpleupload.ErrMissingFile
		}
		if part.FormName() == fileField && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

// ListFiles returns every record, most recent first
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*simpleupload.UploadRecord{}
	}
	render.JSON(w, r, records)
}

// GetFile returns a single record
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.service.Get(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, record)
}

// Download redirects to the stored location or streams the blob
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	retrieval, err := h.service.Retrieve(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if retrieval.RedirectURL != "" {
		http.Redirect(w, r, retrieval.RedirectURL, http.StatusFound)
		return
	}
	defer retrieval.Body.Close()

	record := retrieval.Record
	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": record.OriginalName}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if record.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(record.Size, 10))
	}

	if _, err := io.Copy(w, retrieval.Body); err != nil {
		h.logger.WarnContext(r.Context(), "Download interrupted", "stored_key", key, "err", err)
	}
}

// Ping answers the liveness probe and broadcasts a ping event
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	h.service.Ping(r.Context())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

// Healthz reports that the process is serving
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// keyParam returns the decoded {key} path parameter. chi matches on the raw
// path when it contains escapes, so "%2F" arrives still encoded.
func keyParam(r *http.Request) (string, error) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		return "", simpleupload.ErrInvalidKey
	}
	return key, nil
}
