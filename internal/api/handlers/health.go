package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/irfndi/leadgen-insights/internal/forecastapi"
)

var startTime = time.Now()

const healthCheckTimeout = 3 * time.Second

// HealthChecker is implemented by the database and redis clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ForecastServiceChecker is implemented by forecastapi.Client.
type ForecastServiceChecker interface {
	Enabled() bool
	HealthCheck(ctx context.Context) (*forecastapi.HealthResponse, error)
}

// HostStats holds host figures gathered with gopsutil.
type HostStats struct {
	MemoryTotalBytes  uint64  `json:"memoryTotalBytes"`
	MemoryUsedPercent float64 `json:"memoryUsedPercent"`
	CPUPercent        float64 `json:"cpuPercent"`
	CPUCount          int     `json:"cpuCount"`
	Goroutines        int     `json:"goroutines"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Host      *HostStats        `json:"host,omitempty"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

type HealthHandler struct {
	db       HealthChecker
	redis    HealthChecker
	forecast ForecastServiceChecker
	version  string
	hostInfo func(ctx context.Context) (*HostStats, error)
}

func NewHealthHandler(db, redis HealthChecker, forecast ForecastServiceChecker, version string) *HealthHandler {
	return &HealthHandler{
		db:       db,
		redis:    redis,
		forecast: forecast,
		version:  version,
		hostInfo: collectHostStats,
	}
}

// HealthCheck handles GET /health. The database and redis are required; an
// unreachable forecast service only degrades the service.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	services := map[string]string{
		"database": checkStatus(ctx, h.db),
		"redis":    checkStatus(ctx, h.redis),
	}

	switch {
	case h.forecast == nil || !h.forecast.Enabled():
		services["forecast_service"] = "disabled"
	default:
		if _, err := h.forecast.HealthCheck(ctx); err != nil {
			services["forecast_service"] = "unhealthy: " + err.Error()
		} else {
			services["forecast_service"] = "healthy"
		}
	}

	status := "healthy"
	if services["forecast_service"] != "healthy" && services["forecast_service"] != "disabled" {
		status = "degraded"
	}
	if services["database"] != "healthy" || services["redis"] != "healthy" {
		status = "unhealthy"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
	}
	if host, err := h.hostInfo(ctx); err == nil {
		response.Host = host
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

// LivenessCheck handles GET /live.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func checkStatus(ctx context.Context, checker HealthChecker) string {
	if checker == nil {
		return "unhealthy: not configured"
	}
	if err := checker.HealthCheck(ctx); err != nil {
		return "unhealthy: " + err.Error()
	}
	return "healthy"
}

func collectHostStats(ctx context.Context) (*HostStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	stats := &HostStats{
		MemoryTotalBytes:  vm.Total,
		MemoryUsedPercent: vm.UsedPercent,
		CPUCount:          runtime.NumCPU(),
		Goroutines:        runtime.NumGoroutine(),
	}
	// A zero interval compares against the previous call and does not block.
	if percent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percent) > 0 {
		stats.CPUPercent = percent[0]
	}
	return stats, nil
}
