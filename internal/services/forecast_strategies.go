package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/models"
	"github.com/irfndi/leadgen-insights/internal/telemetry"
)

// ForecastServiceClient is the upstream forecast endpoint used by ServerStrategy.
type ForecastServiceClient interface {
	FetchForecast(ctx context.Context, campaignID string, metric models.MetricKey, horizon int) (*models.ServerForecast, error)
}

// ForecastRequest is the input handed to every strategy.
type ForecastRequest struct {
	CampaignID string
	Metric     models.MetricKey
	Series     []models.TimeSeriesPoint
	Horizon    int
	Options    ForecastOptions
}

// ForecastStrategy produces a forecast or an error. The engine walks an
// ordered list of strategies and returns the first success.
type ForecastStrategy interface {
	Name() string
	Execute(ctx context.Context, req ForecastRequest) (*models.ForecastResult, error)
}

// errStrategyNotApplicable tells the engine to move on without reporting a fallback.
var errStrategyNotApplicable = errors.New("strategy not applicable")

// ServerStrategy fetches the forecast from the upstream service behind a
// circuit breaker and a bounded retry policy.
type ServerStrategy struct {
	client  ForecastServiceClient
	breaker *CircuitBreaker
	policy  RetryPolicy
	emitter telemetry.Emitter
	logger  *logrus.Logger
}

// NewServerStrategy creates a server strategy. breaker may be nil.
func NewServerStrategy(client ForecastServiceClient, breaker *CircuitBreaker, policy RetryPolicy, emitter telemetry.Emitter, logger *logrus.Logger) *ServerStrategy {
	if emitter == nil {
		emitter = telemetry.NopEmitter{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ServerStrategy{client: client, breaker: breaker, policy: policy, emitter: emitter, logger: logger}
}

// Name implements ForecastStrategy.
func (s *ServerStrategy) Name() string { return "server" }

// Execute implements ForecastStrategy.
func (s *ServerStrategy) Execute(ctx context.Context, req ForecastRequest) (*models.ForecastResult, error) {
	if s.client == nil {
		return nil, fmt.Errorf("%w: no forecast client", ErrUpstreamUnavailable)
	}
	if s.policy.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.policy.TotalTimeout)
		defer cancel()
	}

	var payload *models.ServerForecast
	fetch := func(ctx context.Context) error {
		forecast, err := s.client.FetchForecast(ctx, req.CampaignID, req.Metric, req.Horizon)
		if err != nil {
			return err
		}
		payload = forecast
		return nil
	}

	retry := ExecuteWithRetry(ctx, s.policy, s.logger, "forecast_service.fetch", func(ctx context.Context) error {
		var err error
		if s.breaker != nil {
			err = s.breaker.Execute(ctx, fetch)
		} else {
			err = fetch(ctx)
		}
		if errors.Is(err, ErrCircuitOpen) || !retryable(err) {
			return Permanent(err)
		}
		return err
	})
	if retry.Err != nil {
		if errors.Is(retry.Err, ErrUpstreamUnavailable) {
			return nil, retry.Err
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, retry.Err)
	}

	if err := validateServerForecast(payload, req.Horizon); err != nil {
		s.emitter.Emit(ctx, telemetry.Event{
			Name: telemetry.EventValidationFailure,
			Attributes: map[string]interface{}{
				"campaign_id": req.CampaignID,
				"metric":      string(req.Metric),
				"reason":      err.Error(),
			},
		})
		return nil, err
	}

	points := make([]models.ForecastPoint, len(payload.Points))
	copy(points, payload.Points)
	for i := range points {
		if points[i].MetricKey == "" {
			points[i].MetricKey = req.Metric
		}
	}
	if needsBands(points) {
		points = SynthesizeBands(points, residualSigma(req.Series, req.Options.Alpha))
	}

	result := &models.ForecastResult{
		Method:         models.ForecastMethodServer,
		Points:         points,
		ModelInfo:      &models.ModelInfo{Name: ModelServer, Version: payload.ModelVersion},
		QualityMetrics: payload.QualityMetrics,
	}
	return result, nil
}

// retryable treats upstream errors that expose Retryable() as authoritative and
// everything else as transient.
func retryable(err error) bool {
	if err == nil {
		return true
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// validateServerForecast checks horizon length, finiteness and band ordering of
// a server payload. Missing bounds are allowed; they are synthesized later.
func validateServerForecast(f *models.ServerForecast, horizon int) error {
	if f == nil {
		return &ForecastValidationError{Index: -1, Reason: "empty payload"}
	}
	if len(f.Points) != horizon {
		return &ForecastValidationError{Index: -1, Reason: fmt.Sprintf("expected %d points, got %d", horizon, len(f.Points))}
	}
	for i, p := range f.Points {
		if !isFinite(p.Value) {
			return &ForecastValidationError{Index: i, Reason: "non-finite value"}
		}
		if p.Lower != nil && *p.Lower > p.Value {
			return &ForecastValidationError{Index: i, Reason: fmt.Sprintf("lower %v above value %v", *p.Lower, p.Value)}
		}
		if p.Upper != nil && *p.Upper < p.Value {
			return &ForecastValidationError{Index: i, Reason: fmt.Sprintf("upper %v below value %v", *p.Upper, p.Value)}
		}
		if p.P10 != nil && p.P90 != nil && *p.P10 > *p.P90 {
			return &ForecastValidationError{Index: i, Reason: "p10 above p90"}
		}
	}
	return nil
}

func needsBands(points []models.ForecastPoint) bool {
	for _, p := range points {
		if !p.HasQuantiles() || !p.HasBounds() {
			return true
		}
	}
	return false
}

// WorkerStrategy offloads long series to the forecast worker.
type WorkerStrategy struct {
	worker    *ForecastWorker
	threshold int
}

// NewWorkerStrategy creates a worker strategy that only handles series longer
// than threshold points.
func NewWorkerStrategy(worker *ForecastWorker, threshold int) *WorkerStrategy {
	return &WorkerStrategy{worker: worker, threshold: threshold}
}

// Name implements ForecastStrategy.
func (s *WorkerStrategy) Name() string { return "worker" }

// Execute implements ForecastStrategy.
func (s *WorkerStrategy) Execute(ctx context.Context, req ForecastRequest) (*models.ForecastResult, error) {
	if s.worker == nil || len(req.Series) <= s.threshold {
		return nil, errStrategyNotApplicable
	}

	resp, err := s.worker.Run(ctx, WorkerRequest{
		Type:            WorkerForecastCompute,
		TimeSeries:      req.Series,
		Horizon:         req.Horizon,
		MetricKey:       req.Metric,
		ForecastOptions: req.Options,
	})
	if err != nil {
		return nil, err
	}

	return &models.ForecastResult{
		Method:         models.ForecastMethodClientWorker,
		Points:         resp.ForecastPoints,
		ModelInfo:      resp.ModelInfo,
		QualityMetrics: resp.QualityMetrics,
	}, nil
}

// MainThreadStrategy computes the forecast on the calling goroutine. It is the
// last entry of every strategy list and only fails on cancellation.
type MainThreadStrategy struct{}

// Name implements ForecastStrategy.
func (MainThreadStrategy) Name() string { return "main" }

// Execute implements ForecastStrategy.
func (MainThreadStrategy) Execute(ctx context.Context, req ForecastRequest) (*models.ForecastResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	forecast := computeClientForecast(req.Series, req.Horizon, req.Metric, req.Options)
	return &models.ForecastResult{
		Method:         models.ForecastMethodClient,
		Points:         forecast.Points,
		ModelInfo:      &forecast.ModelInfo,
		QualityMetrics: &forecast.Quality,
	}, nil
}

// boundsHold reports whether every point satisfies lower <= value <= upper.
func boundsHold(points []models.ForecastPoint) bool {
	for _, p := range points {
		if !p.HasBounds() {
			return false
		}
		if *p.Lower > p.Value || *p.Upper < p.Value || math.IsNaN(p.Value) {
			return false
		}
	}
	return true
}
