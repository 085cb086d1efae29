package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/config"
	"github.com/irfndi/leadgen-insights/internal/models"
	"github.com/irfndi/leadgen-insights/internal/observability"
	"github.com/irfndi/leadgen-insights/internal/telemetry"
)

const (
	minHorizon          = 1
	maxHorizon          = 30
	defaultMinForecastN = 8
)

// ForecastEngine produces forecasts for a campaign metric. It resolves where
// the computation runs and walks the strategy list for that resolution.
type ForecastEngine struct {
	cfg       config.ForecastConfig
	resolver  CapabilityResolver
	decisions *ResolutionLog
	server    ForecastStrategy
	worker    ForecastStrategy
	main      ForecastStrategy
	emitter   telemetry.Emitter
	logger    *logrus.Logger
	now       func() time.Time
}

// ForecastEngineDeps holds the collaborators of a ForecastEngine. Server may be
// nil when no upstream is configured.
type ForecastEngineDeps struct {
	Server    ForecastStrategy
	Worker    ForecastStrategy
	Resolver  CapabilityResolver
	Decisions *ResolutionLog
	Emitter   telemetry.Emitter
	Logger    *logrus.Logger
}

// NewForecastEngine creates a forecast engine.
func NewForecastEngine(cfg config.ForecastConfig, deps ForecastEngineDeps) *ForecastEngine {
	e := &ForecastEngine{
		cfg:       cfg,
		resolver:  deps.Resolver,
		decisions: deps.Decisions,
		server:    deps.Server,
		worker:    deps.Worker,
		main:      MainThreadStrategy{},
		emitter:   deps.Emitter,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if e.resolver == nil {
		e.resolver = StaticCapabilityResolver{Mode: ResolutionClientFallback}
	}
	if e.emitter == nil {
		e.emitter = telemetry.NopEmitter{}
	}
	if e.logger == nil {
		e.logger = logrus.New()
	}
	return e
}

// Enabled reports whether forecasting is turned on.
func (e *ForecastEngine) Enabled() bool {
	return e.cfg.Enabled
}

// GetForecast forecasts metric for the next horizon periods. A nil horizon
// uses the configured default. Short series and a skip resolution produce an
// empty result, not an error.
func (e *ForecastEngine) GetForecast(ctx context.Context, campaignID string, snapshots []models.AggregateSnapshot, metric models.MetricKey, horizon *int) (result *models.ForecastResult, err error) {
	if !e.cfg.Enabled {
		return nil, fmt.Errorf("forecast: %w", ErrFeatureDisabled)
	}

	ctx, span := observability.StartSpanWithTags(ctx, observability.SpanOpForecast, "ForecastEngine.GetForecast", map[string]string{
		"campaign_id": campaignID,
		"metric":      string(metric),
	})
	defer func() { observability.FinishSpan(span, err) }()

	ctx, otelSpan := telemetry.GetAnalyticsTracer().Start(ctx, "forecast.get")
	defer otelSpan.End()

	h := e.resolveHorizon(ctx, campaignID, metric, horizon)
	base := models.ForecastResult{
		CampaignID:  campaignID,
		MetricKey:   metric,
		Horizon:     h,
		GeneratedAt: e.now(),
		Points:      []models.ForecastPoint{},
	}

	series := ExtractSeries(snapshots, metric)
	minPoints := e.cfg.MinPoints
	if minPoints <= 0 {
		minPoints = defaultMinForecastN
	}
	if len(series) < minPoints {
		base.Method = models.ForecastMethodInsufficientData
		return &base, nil
	}

	resolution := e.resolver.Resolve(ctx, CapabilityForecast)
	e.recordResolution(ctx, campaignID, resolution)
	if resolution.Mode == ResolutionSkip {
		base.Method = models.ForecastMethodSkipped
		return &base, nil
	}

	req := ForecastRequest{
		CampaignID: campaignID,
		Metric:     metric,
		Series:     series,
		Horizon:    h,
		Options:    e.options(),
	}

	useServer := resolution.Mode == ResolutionServer && e.server != nil
	var arbitration *ArbitrationResult
	if e.cfg.Arbitration.Enabled {
		opts := req.Options
		opts.IncludeServer = useServer
		a := ArbitrateModels(seriesValues(series), opts)
		arbitration = &a
		e.emitArbitration(ctx, campaignID, metric, a)

		if a.Holdout && a.Selected != ModelServer {
			useServer = false
		}
		req.Options.Method = a.Selected
		if a.Selected == ModelServer {
			req.Options.Method = bestClientModel(a.Candidates)
		}
	}

	strategies := e.strategies(useServer)
	forecast, err := e.runStrategies(ctx, strategies, req)
	if err != nil {
		observability.CaptureExceptionWithContext(ctx, err, "forecast", map[string]interface{}{
			"campaign_id": campaignID,
			"metric":      string(metric),
		})
		return nil, err
	}

	forecast.CampaignID = base.CampaignID
	forecast.MetricKey = base.MetricKey
	forecast.Horizon = base.Horizon
	forecast.GeneratedAt = base.GeneratedAt
	if arbitration != nil && forecast.ModelInfo != nil {
		forecast.ModelInfo.Confidence = arbitration.Confidence
		forecast.ModelInfo.Candidates = arbitration.Candidates
	}
	return forecast, nil
}

func (e *ForecastEngine) strategies(useServer bool) []ForecastStrategy {
	list := make([]ForecastStrategy, 0, 3)
	if useServer {
		list = append(list, e.server)
	}
	if e.worker != nil {
		list = append(list, e.worker)
	}
	return append(list, e.main)
}

// runStrategies returns the first successful strategy result. Failures of all
// but the last strategy are reported and swallowed.
func (e *ForecastEngine) runStrategies(ctx context.Context, strategies []ForecastStrategy, req ForecastRequest) (*models.ForecastResult, error) {
	var lastErr error
	for i, strategy := range strategies {
		result, err := strategy.Execute(ctx, req)
		if err == nil && !boundsHold(result.Points) {
			err = &ForecastValidationError{Index: -1, Reason: strategy.Name() + " produced points outside their bounds"}
		}
		if err == nil {
			return result, nil
		}
		if errors.Is(err, errStrategyNotApplicable) {
			continue
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i == len(strategies)-1 {
			break
		}

		e.logger.WithFields(logrus.Fields{
			"campaign_id": req.CampaignID,
			"metric":      string(req.Metric),
			"strategy":    strategy.Name(),
			"error":       err.Error(),
		}).Warn("Forecast strategy failed, falling back")
		e.emitter.Emit(ctx, telemetry.Event{
			Name: telemetry.EventStrategyFallback,
			Attributes: map[string]interface{}{
				"campaign_id": req.CampaignID,
				"metric":      string(req.Metric),
				"strategy":    strategy.Name(),
				"error":       err.Error(),
			},
		})
	}
	return nil, fmt.Errorf("forecast failed: %w", lastErr)
}

func (e *ForecastEngine) resolveHorizon(ctx context.Context, campaignID string, metric models.MetricKey, requested *int) int {
	h := clampInt(e.cfg.DefaultHorizon, minHorizon, maxHorizon)
	if requested == nil || !e.cfg.CustomHorizon {
		return h
	}

	h = clampInt(*requested, minHorizon, maxHorizon)
	if h != *requested {
		e.emitter.Emit(ctx, telemetry.Event{
			Name: telemetry.EventHorizonClamped,
			Attributes: map[string]interface{}{
				"campaign_id": campaignID,
				"metric":      string(metric),
				"requested":   *requested,
				"horizon":     h,
			},
		})
	}
	return h
}

func (e *ForecastEngine) options() ForecastOptions {
	return ForecastOptions{
		Method:           e.cfg.Method,
		Alpha:            e.cfg.Alpha,
		Beta:             e.cfg.Beta,
		Gamma:            e.cfg.Gamma,
		SeasonLength:     e.cfg.SeasonLength,
		HistoricalWindow: e.cfg.Arbitration.HistoricalWindow,
	}
}

func (e *ForecastEngine) recordResolution(ctx context.Context, campaignID string, res Resolution) {
	if e.decisions != nil {
		e.decisions.Record(res, e.now())
	}
	e.emitter.Emit(ctx, telemetry.Event{
		Name: telemetry.EventCapabilityResolved,
		Attributes: map[string]interface{}{
			"campaign_id": campaignID,
			"capability":  res.Capability,
			"mode":        string(res.Mode),
			"reason":      res.Reason,
		},
	})
}

func (e *ForecastEngine) emitArbitration(ctx context.Context, campaignID string, metric models.MetricKey, a ArbitrationResult) {
	attrs := map[string]interface{}{
		"campaign_id": campaignID,
		"metric":      string(metric),
		"selected":    a.Selected,
		"confidence":  a.Confidence,
		"holdout":     a.Holdout,
	}
	for _, c := range a.Candidates {
		attrs["mae."+c.Model] = c.MAE
		attrs["mape."+c.Model] = c.MAPE
	}
	e.emitter.Emit(ctx, telemetry.Event{Name: telemetry.EventModelArbitration, Attributes: attrs})
}
