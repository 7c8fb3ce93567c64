package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/clipdock/clipdock/internal/events"
	"github.com/clipdock/clipdock/internal/hub"
	"github.com/clipdock/clipdock/internal/models"
	"github.com/clipdock/clipdock/internal/pipeline"
)

// defaultBasePath prefixes the video API routes. Health and the WebSocket
// endpoint stay at the root.
const defaultBasePath = "/api/v1"

// VideoEnvelope wraps a full video record in API responses.
type VideoEnvelope struct {
	Video *models.Video `json:"video"`
}

// VideoListItem is the compact per-video row returned by the listing
// endpoint. Operator UIs page through these; the detail endpoint carries
// the full record.
type VideoListItem struct {
	ID        models.ULID        `json:"id"`
	Title     string             `json:"title"`
	Filename  string             `json:"filename"`
	Status    models.VideoStatus `json:"status"`
	Progress  int                `json:"progress"`
	Size      int64              `json:"size"`
	CreatedAt time.Time          `json:"createdAt"`
}

// ListItemFromVideo converts a video model to its listing row.
func ListItemFromVideo(v *models.Video) VideoListItem {
	return VideoListItem{
		ID:        v.ID,
		Title:     v.Title,
		Filename:  v.Filename,
		Status:    v.Status,
		Progress:  v.Progress,
		Size:      v.Size,
		CreatedAt: v.CreatedAt,
	}
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status        string           `json:"status"`
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	Commit        string           `json:"commit,omitempty"`
	BuildDate     string           `json:"buildDate,omitempty"`
	GoVersion     string           `json:"goVersion"`
	Uptime        string           `json:"uptime"`
	UptimeSeconds float64          `json:"uptimeSeconds"`
	CPU           CPUInfo          `json:"cpu"`
	Memory        MemoryInfo       `json:"memory"`
	Components    HealthComponents `json:"components"`
}

// CPUInfo holds CPU load information.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load1Min"`
	Load5Min           float64 `json:"load5Min"`
	Load15Min          float64 `json:"load15Min"`
	LoadPercentage1Min float64 `json:"loadPercentage1Min"`
}

// MemoryInfo holds system and process memory usage. The string fields
// carry the same values humanized for dashboards.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"totalMemoryMb"`
	UsedMemoryMB      float64 `json:"usedMemoryMb"`
	AvailableMemoryMB float64 `json:"availableMemoryMb"`
	ProcessRSSMB      float64 `json:"processRssMb"`
	ProcessCPUPercent float64 `json:"processCpuPercent"`
	TotalMemory       string  `json:"totalMemory,omitempty"`
	UsedMemory        string  `json:"usedMemory,omitempty"`
	ProcessRSS        string  `json:"processRss,omitempty"`
}

// DatabaseHealth holds database connectivity information.
type DatabaseHealth struct {
	Status          string  `json:"status"`
	ResponseTimeMS  float64 `json:"responseTimeMs"`
	OpenConnections int     `json:"openConnections"`
	InUse           int     `json:"inUse"`
	Idle            int     `json:"idle"`
}

// HealthComponents groups per-component health sections. Components that
// were not wired into the handler are omitted from the response.
type HealthComponents struct {
	Database        DatabaseHealth         `json:"database"`
	Engine          *pipeline.EngineStats  `json:"engine,omitempty"`
	Hub             *hub.HubStats          `json:"hub,omitempty"`
	Bus             *events.BusStats       `json:"bus,omitempty"`
	CircuitBreakers []CircuitBreakerStatus `json:"circuitBreakers,omitempty"`
}

// CircuitBreakerStatus is the health view of one named breaker.
type CircuitBreakerStatus struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
	Trips    int64  `json:"trips"`
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes an RFC 7807 problem document, the same error shape the
// typed API produces, so raw chi routes and huma routes fail identically.
func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&huma.ErrorModel{
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
}
