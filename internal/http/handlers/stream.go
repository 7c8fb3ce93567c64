package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/clipdock/clipdock/internal/auth"
	"github.com/clipdock/clipdock/internal/models"
	"github.com/clipdock/clipdock/internal/service"
)

// Range delivery defaults, overridable through streamer configuration.
const (
	DefaultStreamContentType  = "video/mp4"
	DefaultStreamCacheControl = "public, max-age=86400"
)

// StreamHandler serves stored video bytes with byte-range support.
type StreamHandler struct {
	service      *service.VideoService
	basePath     string
	contentType  string
	cacheControl string
	logger       *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc *service.VideoService) *StreamHandler {
	return &StreamHandler{
		service:      svc,
		basePath:     defaultBasePath,
		contentType:  DefaultStreamContentType,
		cacheControl: DefaultStreamCacheControl,
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *StreamHandler) WithLogger(logger *slog.Logger) *StreamHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithBasePath sets the path prefix for the stream route.
func (h *StreamHandler) WithBasePath(basePath string) *StreamHandler {
	h.basePath = strings.TrimSuffix(basePath, "/")
	return h
}

// WithContentType sets the Content-Type served for video bytes.
func (h *StreamHandler) WithContentType(contentType string) *StreamHandler {
	if contentType != "" {
		h.contentType = contentType
	}
	return h
}

// WithCacheControl sets the Cache-Control header for full-content responses.
func (h *StreamHandler) WithCacheControl(cacheControl string) *StreamHandler {
	if cacheControl != "" {
		h.cacheControl = cacheControl
	}
	return h
}

// RegisterChiRoutes registers the stream route as a raw chi handler. Huma's
// response handling cannot express the 200/206/416 header contract, so the
// route is served raw; Register only contributes documentation. Call
// Register first so the real handler overwrites the documentation-only
// route in the routing tree.
func (h *StreamHandler) RegisterChiRoutes(router chi.Router) {
	router.Get(h.basePath+"/videos/{id}/stream", h.handleStream)
}

// handleStream serves a video's bytes, honoring single-range requests.
func (h *StreamHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := models.ParseULID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}

	video, blobFile, err := h.service.OpenBlob(r.Context(), principal, id)
	if err != nil {
		h.writeStreamError(w, r, err)
		return
	}
	defer blobFile.Close()

	// The file on disk is authoritative for byte accounting; a stale Size
	// column must not truncate or pad the response.
	info, err := blobFile.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	size := info.Size()

	outcome, start, end := evalRange(r.Header.Get("Range"), size)
	switch outcome {
	case rangeUnsatisfiable:
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)

	case rangePartial:
		if _, err := blobFile.Seek(start, io.SeekStart); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		length := end - start + 1
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", h.contentType)
		w.WriteHeader(http.StatusPartialContent)
		if _, err := io.CopyN(w, blobFile, length); err != nil {
			// Headers are flushed; the failing connection just terminates.
			h.logger.DebugContext(r.Context(), "range stream aborted",
				slog.String("video_id", video.ID.String()),
				slog.Any("error", err),
			)
		}

	default:
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Content-Type", h.contentType)
		w.Header().Set("Cache-Control", h.cacheControl)
		if _, err := io.Copy(w, blobFile); err != nil {
			h.logger.DebugContext(r.Context(), "full stream aborted",
				slog.String("video_id", video.ID.String()),
				slog.Any("error", err),
			)
		}
	}
}

// writeStreamError maps pre-flight failures. A video record whose blob is
// missing is corruption, not a client error, so it surfaces as 500.
func (h *StreamHandler) writeStreamError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "video not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "video belongs to another tenant")
	default:
		h.logger.ErrorContext(r.Context(), "opening video blob failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// rangeOutcome classifies a Range header against a blob.
type rangeOutcome int

const (
	// rangeNone serves the whole blob with a 200.
	rangeNone rangeOutcome = iota
	// rangePartial serves the selected slice with a 206.
	rangePartial
	// rangeUnsatisfiable answers 416 with the blob size.
	rangeUnsatisfiable
)

const bytesUnitPrefix = "bytes="

// evalRange interprets a Range header against a blob of the given size and
// returns the inclusive start and end offsets for partial outcomes.
//
// Only the single-range forms bytes=A-B, bytes=A- and bytes=-N are honored.
// Every other shape, including multi-range lists, an uppercase unit, signed
// or non-numeric positions and an empty suffix length, degrades to the
// full-content response rather than an error.
func evalRange(header string, size int64) (rangeOutcome, int64, int64) {
	if header == "" || size <= 0 || !strings.HasPrefix(header, bytesUnitPrefix) {
		return rangeNone, 0, 0
	}

	first, last, found := strings.Cut(header[len(bytesUnitPrefix):], "-")
	if !found || strings.ContainsAny(last, "-,") {
		return rangeNone, 0, 0
	}

	// Suffix form bytes=-N: the last N bytes, clamped to the blob start,
	// never unsatisfiable.
	if first == "" {
		n, ok := parseBytePos(last)
		if !ok || n == 0 {
			return rangeNone, 0, 0
		}
		start := size - n
		if start < 0 {
			start = 0
		}
		return rangePartial, start, size - 1
	}

	start, ok := parseBytePos(first)
	if !ok {
		return rangeNone, 0, 0
	}

	// Open form bytes=A-: from A to the end.
	if last == "" {
		if start >= size {
			return rangeUnsatisfiable, 0, 0
		}
		return rangePartial, start, size - 1
	}

	// Bounded form bytes=A-B: the end clamps to the blob, the start must
	// fall inside it and not exceed the clamped end.
	end, ok := parseBytePos(last)
	if !ok {
		return rangeNone, 0, 0
	}
	if end > size-1 {
		end = size - 1
	}
	if start >= size || start > end {
		return rangeUnsatisfiable, 0, 0
	}
	return rangePartial, start, end
}

// parseBytePos parses a byte position. The grammar admits plain decimal
// digits only, so signs, spaces and empty strings all fail.
func parseBytePos(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// StreamVideoInput is the documented input for the stream endpoint.
type StreamVideoInput struct {
	ID    string `path:"id" required:"true"`
	Range string `header:"Range" doc:"Single byte range: bytes=A-B, bytes=A- or bytes=-N"`
}

// streamDocsHandler exists only for OpenAPI documentation generation. The
// actual request handling is done by the raw chi handler registered via
// RegisterChiRoutes, which replaces this route in the routing tree.
func (h *StreamHandler) streamDocsHandler(ctx context.Context, input *StreamVideoInput) (*huma.StreamResponse, error) {
	return nil, huma.Error500InternalServerError("this endpoint is handled by a raw chi handler")
}

// Register registers the documentation-only stream operation so the
// endpoint appears in the OpenAPI spec.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "streamVideo",
		Method:      "GET",
		Path:        h.basePath + "/videos/{id}/stream",
		Summary:     "Stream video bytes",
		Description: `Serves the stored bytes of a video with single-range support.

A request without a Range header, or with one the grammar does not accept,
receives the full file as a cacheable 200. A satisfiable single range
receives a 206 with Content-Range; a range starting past the end of the
file receives a 416 with the total size.`,
		Tags: []string{"Videos"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Full video content",
				Headers: map[string]*huma.Param{
					"Accept-Ranges":  {Description: "Always bytes"},
					"Content-Length": {Description: "Total blob size"},
					"Content-Type":   {Description: "Configured video content type"},
					"Cache-Control":  {Description: "Configured cache policy"},
				},
			},
			"206": {
				Description: "Requested byte range",
				Headers: map[string]*huma.Param{
					"Content-Range":  {Description: "bytes start-end/total"},
					"Content-Length": {Description: "Range length"},
					"Accept-Ranges":  {Description: "Always bytes"},
				},
			},
			"416": {
				Description: "Range starts beyond the end of the file",
				Headers: map[string]*huma.Param{
					"Content-Range": {Description: "bytes */total"},
				},
			},
			"403": {Description: "Video belongs to another tenant"},
			"404": {Description: "Video not found"},
		},
	}, h.streamDocsHandler)
}
