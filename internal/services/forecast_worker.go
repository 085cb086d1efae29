package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/models"
)

// WorkerMessageType tags worker protocol messages.
type WorkerMessageType string

const (
	WorkerForecastCompute WorkerMessageType = "forecastCompute"
	WorkerResult          WorkerMessageType = "result"
	WorkerError           WorkerMessageType = "error"
)

// WorkerRequest asks the worker for a one-shot forecast.
type WorkerRequest struct {
	Type            WorkerMessageType        `json:"type"`
	TimeSeries      []models.TimeSeriesPoint `json:"timeSeries"`
	Horizon         int                      `json:"horizon"`
	MetricKey       models.MetricKey         `json:"metricKey"`
	ForecastOptions ForecastOptions          `json:"forecastOptions"`
}

// WorkerResponse carries either forecast points or an error message.
type WorkerResponse struct {
	Type           WorkerMessageType      `json:"type"`
	ForecastPoints []models.ForecastPoint `json:"forecastPoints,omitempty"`
	ModelInfo      *models.ModelInfo      `json:"modelInfo,omitempty"`
	QualityMetrics *models.QualityMetrics `json:"qualityMetrics,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// ForecastWorker runs forecast computations off the calling goroutine, one
// request per job, with a per-job deadline. Jobs share no mutable state.
type ForecastWorker struct {
	timeout    time.Duration
	logger     *logrus.Logger
	compute    func(series []models.TimeSeriesPoint, horizon int, metric models.MetricKey, opts ForecastOptions) clientForecast
	activeJobs map[string]context.CancelFunc
	mu         sync.RWMutex
}

// NewForecastWorker creates a worker with the given per-job timeout.
func NewForecastWorker(timeout time.Duration, logger *logrus.Logger) *ForecastWorker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ForecastWorker{
		timeout:    timeout,
		logger:     logger,
		compute:    computeClientForecast,
		activeJobs: make(map[string]context.CancelFunc),
	}
}

// Run executes one request and waits for its response, the deadline, or
// cancellation of ctx. The job is torn down in every case.
func (w *ForecastWorker) Run(ctx context.Context, req WorkerRequest) (*WorkerResponse, error) {
	jobID := uuid.NewString()
	jobCtx, cancel := context.WithTimeout(ctx, w.timeout)

	w.mu.Lock()
	w.activeJobs[jobID] = cancel
	w.mu.Unlock()
	defer w.complete(jobID)

	start := time.Now()
	responses := make(chan WorkerResponse, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				responses <- WorkerResponse{Type: WorkerError, Error: fmt.Sprintf("worker panic: %v", r)}
			}
		}()
		responses <- w.handle(jobCtx, req)
	}()

	select {
	case resp := <-responses:
		if resp.Type == WorkerError {
			w.logger.WithFields(logrus.Fields{
				"job_id": jobID,
				"error":  resp.Error,
			}).Warn("Forecast worker returned an error")
			return &resp, errors.New(resp.Error)
		}
		w.logger.WithFields(logrus.Fields{
			"job_id":      jobID,
			"points":      len(req.TimeSeries),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("Forecast worker completed")
		return &resp, nil
	case <-jobCtx.Done():
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			w.logger.WithFields(logrus.Fields{
				"job_id":     jobID,
				"timeout_ms": w.timeout.Milliseconds(),
			}).Warn("Forecast worker timed out")
			return nil, ErrWorkerTimeout
		}
		return nil, jobCtx.Err()
	}
}

func (w *ForecastWorker) handle(ctx context.Context, req WorkerRequest) WorkerResponse {
	if req.Type != WorkerForecastCompute {
		return WorkerResponse{Type: WorkerError, Error: fmt.Sprintf("unsupported worker request type %q", req.Type)}
	}
	if len(req.TimeSeries) == 0 || req.Horizon <= 0 {
		return WorkerResponse{Type: WorkerError, Error: "worker request requires a series and a positive horizon"}
	}
	if err := ctx.Err(); err != nil {
		return WorkerResponse{Type: WorkerError, Error: err.Error()}
	}

	result := w.compute(req.TimeSeries, req.Horizon, req.MetricKey, req.ForecastOptions)

	if err := ctx.Err(); err != nil {
		return WorkerResponse{Type: WorkerError, Error: err.Error()}
	}
	return WorkerResponse{
		Type:           WorkerResult,
		ForecastPoints: result.Points,
		ModelInfo:      &result.ModelInfo,
		QualityMetrics: &result.Quality,
	}
}

func (w *ForecastWorker) complete(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cancel, ok := w.activeJobs[jobID]; ok {
		cancel()
		delete(w.activeJobs, jobID)
	}
}

// CancelAll cancels every in-flight job. Used during shutdown.
func (w *ForecastWorker) CancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for jobID, cancel := range w.activeJobs {
		cancel()
		w.logger.WithField("job_id", jobID).Info("Forecast job cancelled during shutdown")
	}
	w.activeJobs = make(map[string]context.CancelFunc)
}

// ActiveJobs returns the number of in-flight jobs.
func (w *ForecastWorker) ActiveJobs() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.activeJobs)
}
