package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/clipdock/clipdock/internal/auth"
	"github.com/clipdock/clipdock/internal/models"
	"github.com/clipdock/clipdock/internal/service"
)

const (
	// uploadMemoryLimit is how much of a multipart body is kept in memory
	// before parts spill to temporary files.
	uploadMemoryLimit = 32 << 20
	// uploadFormOverhead is headroom on top of the blob limit for the
	// metadata fields and multipart framing around the file part.
	uploadFormOverhead int64 = 1 << 20
)

// VideoHandler handles the video API endpoints.
type VideoHandler struct {
	service  *service.VideoService
	basePath string
	maxBytes int64
	logger   *slog.Logger
}

// NewVideoHandler creates a new video handler.
func NewVideoHandler(svc *service.VideoService) *VideoHandler {
	return &VideoHandler{
		service:  svc,
		basePath: defaultBasePath,
		maxBytes: service.DefaultMaxBlobBytes,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *VideoHandler) WithLogger(logger *slog.Logger) *VideoHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithBasePath sets the path prefix for the video routes.
func (h *VideoHandler) WithBasePath(basePath string) *VideoHandler {
	h.basePath = strings.TrimSuffix(basePath, "/")
	return h
}

// WithMaxUploadBytes caps the accepted upload size.
func (h *VideoHandler) WithMaxUploadBytes(n int64) *VideoHandler {
	if n > 0 {
		h.maxBytes = n
	}
	return h
}

// Register registers the video routes with the API.
func (h *VideoHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listVideos",
		Method:      "GET",
		Path:        h.basePath + "/videos",
		Summary:     "List videos",
		Description: "Returns the caller's videos, newest first, optionally filtered by lifecycle state",
		Tags:        []string{"Videos"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getVideo",
		Method:      "GET",
		Path:        h.basePath + "/videos/{id}",
		Summary:     "Get video by ID",
		Description: "Returns the full video record including the sensitivity result once processing is terminal",
		Tags:        []string{"Videos"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "getVideoProcessingStatus",
		Method:      "GET",
		Path:        h.basePath + "/videos/{id}/processing-status",
		Summary:     "Get processing status",
		Description: "Returns the pipeline view of a video: lifecycle state, progress, errors and timeline",
		Tags:        []string{"Videos"},
	}, h.GetProcessingStatus)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteVideo",
		Method:        "DELETE",
		Path:          h.basePath + "/videos/{id}",
		Summary:       "Delete video",
		Description:   "Removes a video record and its stored bytes. Only terminal videos can be deleted; a running job answers 409.",
		Tags:          []string{"Videos"},
		DefaultStatus: http.StatusNoContent,
	}, h.Delete)

	h.registerUploadDocs(api)
}

// RegisterChiRoutes registers the multipart upload route as a raw chi
// handler. Pushing the upload through huma's body handling would decode the
// whole file before the handler runs; the raw handler caps the request body
// and spools parts through the standard multipart parser instead. Call
// Register first so the documentation-only operation is overwritten in the
// routing tree by the real handler.
func (h *VideoHandler) RegisterChiRoutes(router chi.Router) {
	router.Post(h.basePath+"/videos", h.handleUpload)
}

// ListVideosInput is the input for listing videos.
type ListVideosInput struct {
	Status  string `query:"status" doc:"Filter by lifecycle state"`
	Page    int    `query:"page" default:"1"`
	PerPage int    `query:"perPage" default:"20"`
}

// ListVideosOutput is the output for listing videos.
type ListVideosOutput struct {
	Body struct {
		Videos     []VideoListItem `json:"videos"`
		Total      int64           `json:"total"`
		Page       int             `json:"page"`
		PerPage    int             `json:"perPage"`
		TotalPages int             `json:"totalPages"`
	}
}

// List returns the caller's videos.
func (h *VideoHandler) List(ctx context.Context, input *ListVideosInput) (*ListVideosOutput, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("authentication required")
	}

	page := input.Page
	if page < 1 {
		page = 1
	}
	perPage := input.PerPage
	if perPage < 1 {
		perPage = service.DefaultPerPage
	}
	if perPage > service.MaxPerPage {
		perPage = service.MaxPerPage
	}

	videos, total, err := h.service.List(ctx, principal, service.ListOptions{
		Status:  models.VideoStatus(input.Status),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		return nil, serviceError(err)
	}

	items := make([]VideoListItem, len(videos))
	for i, v := range videos {
		items[i] = ListItemFromVideo(v)
	}

	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}

	resp := &ListVideosOutput{}
	resp.Body.Videos = items
	resp.Body.Total = total
	resp.Body.Page = page
	resp.Body.PerPage = perPage
	resp.Body.TotalPages = totalPages

	return resp, nil
}

// GetVideoInput is the input for getting a video.
type GetVideoInput struct {
	ID string `path:"id" required:"true"`
}

// GetVideoOutput is the output for getting a video.
type GetVideoOutput struct {
	Body VideoEnvelope
}

// Get returns a single video record.
func (h *VideoHandler) Get(ctx context.Context, input *GetVideoInput) (*GetVideoOutput, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("authentication required")
	}

	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound("video not found")
	}

	video, err := h.service.Get(ctx, principal, id)
	if err != nil {
		return nil, serviceError(err)
	}

	return &GetVideoOutput{Body: VideoEnvelope{Video: video}}, nil
}

// GetProcessingStatusInput is the input for the processing status endpoint.
type GetProcessingStatusInput struct {
	ID string `path:"id" required:"true"`
}

// GetProcessingStatusOutput is the output for the processing status endpoint.
type GetProcessingStatusOutput struct {
	Body service.ProcessingStatusView
}

// GetProcessingStatus returns the pipeline view of a video.
func (h *VideoHandler) GetProcessingStatus(ctx context.Context, input *GetProcessingStatusInput) (*GetProcessingStatusOutput, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("authentication required")
	}

	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound("video not found")
	}

	view, err := h.service.ProcessingStatus(ctx, principal, id)
	if err != nil {
		return nil, serviceError(err)
	}

	return &GetProcessingStatusOutput{Body: *view}, nil
}

// DeleteVideoInput is the input for deleting a video.
type DeleteVideoInput struct {
	ID string `path:"id" required:"true"`
}

// DeleteVideoOutput is the output for deleting a video.
type DeleteVideoOutput struct{}

// Delete removes a terminal video.
func (h *VideoHandler) Delete(ctx context.Context, input *DeleteVideoInput) (*DeleteVideoOutput, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("authentication required")
	}

	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound("video not found")
	}

	if err := h.service.Delete(ctx, principal, id); err != nil {
		return nil, serviceError(err)
	}

	return &DeleteVideoOutput{}, nil
}

// handleUpload accepts a multipart video upload. The rest of the video API
// is typed; this route stays raw so the request body can be capped before
// parsing and the file part handed to the service as a plain reader.
func (h *VideoHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+uploadFormOverhead)
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("file exceeds %d bytes", h.maxBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	video, err := h.service.Upload(r.Context(), principal, service.UploadRequest{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Filename:    header.Filename,
		Body:        file,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, VideoEnvelope{Video: video})
}

// writeServiceError maps service failures onto status codes for raw routes.
func (h *VideoHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "video belongs to another tenant")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "video not found")
	case errors.Is(err, service.ErrNotTerminal):
		writeError(w, http.StatusConflict, "video is still processing")
	default:
		h.logger.ErrorContext(r.Context(), "video request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// serviceError maps service failures onto typed API errors. Unknown and
// cross-tenant lookups stay distinguishable: 404 means the id resolves to
// nothing, 403 means it resolves to another tenant's video.
func serviceError(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, service.ErrForbidden):
		return huma.Error403Forbidden("video belongs to another tenant")
	case errors.Is(err, service.ErrNotFound):
		return huma.Error404NotFound("video not found")
	case errors.Is(err, service.ErrNotTerminal):
		return huma.Error409Conflict("video is still processing")
	default:
		return huma.Error500InternalServerError("internal error")
	}
}

// UploadVideoInput is the documented input for the upload endpoint.
type UploadVideoInput struct {
	RawBody multipart.Form
}

// UploadVideoOutput is the documented output for the upload endpoint.
type UploadVideoOutput struct {
	Body VideoEnvelope
}

// uploadDocsHandler exists only for OpenAPI documentation generation. The
// actual request handling is done by the raw chi handler registered via
// RegisterChiRoutes, which replaces this route in the routing tree.
func (h *VideoHandler) uploadDocsHandler(ctx context.Context, input *UploadVideoInput) (*UploadVideoOutput, error) {
	return nil, huma.Error500InternalServerError("this endpoint is handled by a raw chi handler")
}

// registerUploadDocs registers the documentation-only upload operation so
// the endpoint appears in the OpenAPI spec.
func (h *VideoHandler) registerUploadDocs(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "uploadVideo",
		Method:      "POST",
		Path:        h.basePath + "/videos",
		Summary:     "Upload a video",
		Description: `Accepts a multipart form with the fields:

- **file** (required): the video payload
- **title** (required): 3-100 characters
- **description** (optional): up to 1000 characters

The video record is created in the ` + "`uploaded`" + ` state and a
processing job is scheduled. Clients follow progress over the WebSocket
endpoint or by polling the processing-status route.`,
		Tags:          []string{"Videos"},
		DefaultStatus: http.StatusCreated,
		Responses: map[string]*huma.Response{
			"400": {Description: "Missing file, missing title, empty payload or payload over the size limit"},
			"401": {Description: "Missing or invalid credentials"},
		},
	}, h.uploadDocsHandler)
}
