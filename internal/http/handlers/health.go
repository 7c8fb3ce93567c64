// Package handlers provides HTTP API handlers for clipdock.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"gorm.io/gorm"

	"github.com/clipdock/clipdock/internal/events"
	"github.com/clipdock/clipdock/internal/hub"
	"github.com/clipdock/clipdock/internal/pipeline"
	"github.com/clipdock/clipdock/internal/version"
	"github.com/clipdock/clipdock/pkg/format"
	"github.com/clipdock/clipdock/pkg/httpclient"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	info      version.Info
	startTime time.Time
	db        *gorm.DB
	engine    *pipeline.Engine
	hub       *hub.Hub
	bus       *events.Bus
	breakers  []namedBreaker
}

type namedBreaker struct {
	name    string
	breaker *httpclient.CircuitBreaker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		info:      version.GetInfo(),
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithEngine reports pipeline engine statistics in the health response.
func (h *HealthHandler) WithEngine(engine *pipeline.Engine) *HealthHandler {
	h.engine = engine
	return h
}

// WithHub reports push hub statistics in the health response.
func (h *HealthHandler) WithHub(hub *hub.Hub) *HealthHandler {
	h.hub = hub
	return h
}

// WithBus reports event bus statistics in the health response.
func (h *HealthHandler) WithBus(bus *events.Bus) *HealthHandler {
	h.bus = bus
	return h
}

// WithBreaker adds a named circuit breaker to the health report.
func (h *HealthHandler) WithBreaker(name string, breaker *httpclient.CircuitBreaker) *HealthHandler {
	if breaker != nil {
		h.breakers = append(h.breakers, namedBreaker{name: name, breaker: breaker})
	}
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics and per-component statistics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.getDatabaseHealth(ctx)

	status := "healthy"
	if dbHealth.Status == "error" {
		status = "degraded"
	}

	components := HealthComponents{Database: dbHealth}
	if h.engine != nil {
		stats := h.engine.Stats()
		components.Engine = &stats
	}
	if h.hub != nil {
		stats := h.hub.Stats()
		components.Hub = &stats
	}
	if h.bus != nil {
		stats := h.bus.Stats()
		components.Bus = &stats
	}
	for _, nb := range h.breakers {
		stats := nb.breaker.Stats()
		components.CircuitBreakers = append(components.CircuitBreakers, CircuitBreakerStatus{
			Name:     nb.name,
			State:    stats.StateName,
			Failures: stats.Failures,
			Trips:    stats.Trips,
		})
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.info.Version,
			Commit:        h.info.Commit,
			BuildDate:     h.info.Date,
			GoVersion:     h.info.GoVersion,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPU:           h.getCPUInfo(),
			Memory:        h.getMemoryInfo(),
			Components:    components,
		},
	}, nil
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()

	info := CPUInfo{
		Cores: cores,
	}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15

		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}

	return info
}

// getMemoryInfo returns system and process memory usage.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
		info.TotalMemory = format.Bytes(int64(vmStat.Total))
		info.UsedMemory = format.Bytes(int64(vmStat.Used))
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}

	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		info.ProcessRSSMB = float64(memInfo.RSS) / 1024 / 1024
		info.ProcessRSS = format.Bytes(int64(memInfo.RSS))
	}
	if cpuPercent, err := proc.CPUPercent(); err == nil {
		info.ProcessCPUPercent = cpuPercent
	}

	return info
}

// getDatabaseHealth returns database connectivity information.
func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{Status: "ok"}

	if h.db == nil {
		health.Status = "unknown"
		return health
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	stats := sqlDB.Stats()
	health.OpenConnections = stats.OpenConnections
	health.InUse = stats.InUse
	health.Idle = stats.Idle

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		health.Status = "error"
	}

	return health
}
