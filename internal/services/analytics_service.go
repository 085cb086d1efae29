package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/cache"
	"github.com/irfndi/leadgen-insights/internal/models"
	"github.com/irfndi/leadgen-insights/internal/utils"
)

const (
	defaultSnapshotLimit  = 500
	defaultForecastMetric = models.MetricSuccessRate
)

// Export formats served by AnalyticsService.Export.
const (
	ExportFormatJSON   = "json"
	ExportFormatCSV    = "csv"
	ExportFormatBundle = "bundle"
)

// SnapshotStore is the read side of the snapshot store.
type SnapshotStore interface {
	ListSnapshots(ctx context.Context, campaignID string, limit int) ([]models.AggregateSnapshot, error)
	ListCampaignSnapshots(ctx context.Context, campaignIDs []string) (map[string][]models.AggregateSnapshot, error)
}

// UpstreamInsights supplies server-side anomalies and ML recommendations.
type UpstreamInsights interface {
	FetchAnomalies(ctx context.Context, campaignID string) ([]models.Anomaly, error)
	FetchMLRecommendations(ctx context.Context, campaignID string) ([]models.MLRecommendation, error)
}

// ForecastResultCache caches computed forecasts.
type ForecastResultCache interface {
	Get(ctx context.Context, key cache.ForecastKey) (*models.ForecastResult, bool)
	Set(ctx context.Context, key cache.ForecastKey, result *models.ForecastResult) error
}

// AnomalyAlerter is told about every anomaly batch a campaign produces.
type AnomalyAlerter interface {
	NotifyCritical(ctx context.Context, campaignID string, anomalies []models.Anomaly) bool
}

// AnalyticsDeps holds the collaborators of an AnalyticsService. Upstream,
// Breaker, Cache and Alerter are optional.
type AnalyticsDeps struct {
	Store           SnapshotStore
	Forecasts       *ForecastEngine
	Anomalies       *AnomalyDetector
	Recommendations *RecommendationPipeline
	Cohorts         *CohortEngine
	Codec           *ShareBundleCodec
	Resolver        CapabilityResolver
	Upstream        UpstreamInsights
	Breaker         *CircuitBreaker
	Cache           ForecastResultCache
	Alerter         AnomalyAlerter
	SnapshotLimit   int
	Logger          *logrus.Logger
}

// AnalyticsService loads campaign snapshots and runs them through the
// analytics pipeline.
type AnalyticsService struct {
	deps AnalyticsDeps
}

// NewAnalyticsService creates the facade.
func NewAnalyticsService(deps AnalyticsDeps) *AnalyticsService {
	if deps.SnapshotLimit <= 0 {
		deps.SnapshotLimit = defaultSnapshotLimit
	}
	if deps.Resolver == nil {
		deps.Resolver = StaticCapabilityResolver{Mode: ResolutionClientFallback}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	return &AnalyticsService{deps: deps}
}

// CohortRequest selects the campaigns and metric of a cohort comparison.
type CohortRequest struct {
	CampaignIDs []string         `json:"campaignIds"`
	Metric      models.MetricKey `json:"metric"`
}

// ExportOptions selects the format and optional sections of an export.
type ExportOptions struct {
	Format              string
	IncludeForecast     bool
	IncludeCohorts      bool
	IncludeCapabilities bool
	// CohortCampaignIDs are compared against the exported campaign.
	CohortCampaignIDs []string
	ShareBaseURL      string
}

// ExportResult is a rendered export.
type ExportResult struct {
	Format      string
	ContentType string
	Filename    string
	Body        []byte
	Bundle      *models.ShareBundle
	ShareURL    string
}

// Forecast forecasts metric for a campaign, serving from the cache when the
// campaign has not changed since the forecast was computed.
func (s *AnalyticsService) Forecast(ctx context.Context, campaignID string, metric models.MetricKey, horizon *int) (*models.ForecastResult, error) {
	if !s.deps.Forecasts.Enabled() {
		return nil, fmt.Errorf("forecast: %w", ErrFeatureDisabled)
	}
	if err := validateCampaignID(campaignID); err != nil {
		return nil, err
	}
	if metric == "" {
		metric = defaultForecastMetric
	}
	if !models.MetricsSchemaV1.Has(metric) {
		return nil, utils.NewFieldError("metric", "unknown metric %q", metric)
	}

	snapshots, err := s.loadSnapshots(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	key, cacheable := s.cacheKey(campaignID, metric, horizon, snapshots)
	if cacheable {
		if cached, ok := s.deps.Cache.Get(ctx, key); ok {
			return cached, nil
		}
	}

	result, err := s.deps.Forecasts.GetForecast(ctx, campaignID, snapshots, metric, horizon)
	if err != nil {
		return nil, err
	}

	if cacheable && len(result.Points) > 0 {
		if err := s.deps.Cache.Set(ctx, key, result); err != nil {
			s.deps.Logger.WithFields(logrus.Fields{
				"campaign_id": campaignID,
				"error":       err.Error(),
			}).Warn("Failed to cache forecast")
		}
	}
	return result, nil
}

// Anomalies detects anomalies in a campaign's latest snapshot and alerts on
// critical ones.
func (s *AnalyticsService) Anomalies(ctx context.Context, campaignID string) ([]models.Anomaly, error) {
	if err := validateCampaignID(campaignID); err != nil {
		return nil, err
	}
	snapshots, err := s.loadSnapshots(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	anomalies := s.detectAnomalies(ctx, campaignID, snapshots)
	if s.deps.Alerter != nil && len(anomalies) > 0 {
		s.deps.Alerter.NotifyCritical(ctx, campaignID, anomalies)
	}
	return anomalies, nil
}

// Recommendations ranks operator recommendations for a campaign.
func (s *AnalyticsService) Recommendations(ctx context.Context, campaignID string) ([]models.EnhancedRecommendation, error) {
	if err := validateCampaignID(campaignID); err != nil {
		return nil, err
	}
	snapshots, err := s.loadSnapshots(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return s.buildRecommendations(ctx, campaignID, snapshots), nil
}

// Cohorts aligns several campaigns by days since launch.
func (s *AnalyticsService) Cohorts(ctx context.Context, req CohortRequest) (*models.CohortMatrix, error) {
	ids := uniqueIDs(req.CampaignIDs)
	if len(ids) == 0 {
		return nil, utils.NewFieldError("campaignIds", "at least one campaign id is required")
	}
	var metrics []models.MetricKey
	if req.Metric != "" {
		if !models.MetricsSchemaV1.Has(req.Metric) {
			return nil, utils.NewFieldError("metric", "unknown metric %q", req.Metric)
		}
		metrics = []models.MetricKey{req.Metric}
	}
	return s.buildCohorts(ctx, ids, metrics)
}

// Export renders a campaign in the requested format.
func (s *AnalyticsService) Export(ctx context.Context, campaignID string, opts ExportOptions) (*ExportResult, error) {
	if !s.deps.Codec.Enabled() {
		return nil, fmt.Errorf("export: %w", ErrFeatureDisabled)
	}
	if err := validateCampaignID(campaignID); err != nil {
		return nil, err
	}
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = ExportFormatJSON
	}
	switch format {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatBundle:
	default:
		return nil, utils.NewFieldError("format", "unsupported export format %q", opts.Format)
	}

	snapshots, err := s.loadSnapshots(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	if format == ExportFormatCSV {
		body, err := s.deps.Codec.ExportCSV(ctx, campaignID, snapshots)
		if err != nil {
			return nil, err
		}
		return &ExportResult{
			Format:      format,
			ContentType: "text/csv; charset=utf-8",
			Filename:    exportFilename(campaignID, "csv"),
			Body:        body,
		}, nil
	}

	bundle, err := s.buildBundle(ctx, campaignID, snapshots, opts)
	if err != nil {
		return nil, err
	}

	if format == ExportFormatJSON {
		body, err := s.deps.Codec.ExportJSON(ctx, bundle)
		if err != nil {
			return nil, err
		}
		return &ExportResult{
			Format:      format,
			ContentType: "application/json",
			Filename:    exportFilename(campaignID, "json"),
			Body:        body,
			Bundle:      bundle,
		}, nil
	}

	encoded, err := s.deps.Codec.EncodeBundle(ctx, bundle)
	if err != nil {
		return nil, err
	}
	result := &ExportResult{
		Format:      format,
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte(encoded),
		Bundle:      bundle,
	}
	if opts.ShareBaseURL != "" || s.deps.Codec.cfg.ShareBaseURL != "" {
		shareURL, err := s.deps.Codec.ShareURL(ctx, opts.ShareBaseURL, bundle)
		if err != nil {
			return nil, err
		}
		result.ShareURL = shareURL
	}
	return result, nil
}

// DecodeBundle parses a bundle payload or share URL.
func (s *AnalyticsService) DecodeBundle(_ context.Context, data string) (*models.ShareBundle, error) {
	if !s.deps.Codec.Enabled() {
		return nil, fmt.Errorf("import: %w", ErrFeatureDisabled)
	}
	return DecodeBundle(data)
}

// Capabilities reports the current resolution of every capability.
func (s *AnalyticsService) Capabilities() map[string]string {
	return s.deps.Resolver.Snapshot()
}

func (s *AnalyticsService) buildBundle(ctx context.Context, campaignID string, snapshots []models.AggregateSnapshot, opts ExportOptions) (*models.ShareBundle, error) {
	normalization := NormalizeSnapshotsByStart(campaignID, snapshots)
	in := BundleInput{
		CampaignID:          campaignID,
		Snapshots:           snapshots,
		Recommendations:     s.buildRecommendations(ctx, campaignID, snapshots),
		Normalization:       &normalization,
		IncludeCapabilities: opts.IncludeCapabilities,
	}
	if len(snapshots) == 0 {
		in.Normalization = nil
	}

	if opts.IncludeForecast && s.deps.Forecasts.Enabled() {
		forecast, err := s.deps.Forecasts.GetForecast(ctx, campaignID, snapshots, defaultForecastMetric, nil)
		if err != nil {
			return nil, err
		}
		in.Forecast = forecast
	}

	if opts.IncludeCohorts {
		ids := uniqueIDs(append([]string{campaignID}, opts.CohortCampaignIDs...))
		matrix, err := s.buildCohorts(ctx, ids, nil)
		if err != nil {
			return nil, err
		}
		if len(matrix.Campaigns) > 0 {
			in.Cohorts = matrix
		}
	}

	if opts.IncludeCapabilities {
		in.Capabilities = s.deps.Resolver.Snapshot()
	}
	return s.deps.Codec.BuildBundle(in), nil
}

func (s *AnalyticsService) detectAnomalies(ctx context.Context, campaignID string, snapshots []models.AggregateSnapshot) []models.Anomaly {
	var server []models.Anomaly
	if s.deps.Anomalies.Enabled() && s.useUpstream(ctx, CapabilityAnomalies) {
		err := s.callUpstream(ctx, func(ctx context.Context) error {
			var err error
			server, err = s.deps.Upstream.FetchAnomalies(ctx, campaignID)
			return err
		})
		if err != nil {
			s.deps.Logger.WithFields(logrus.Fields{
				"campaign_id": campaignID,
				"error":       err.Error(),
			}).Warn("Server anomalies unavailable, using client detection")
			server = nil
		}
	}
	return s.deps.Anomalies.Detect(ctx, campaignID, snapshots, server)
}

func (s *AnalyticsService) buildRecommendations(ctx context.Context, campaignID string, snapshots []models.AggregateSnapshot) []models.EnhancedRecommendation {
	anomalies := s.detectAnomalies(ctx, campaignID, snapshots)

	var ml []models.MLRecommendation
	if s.deps.Recommendations.MLEnabled() && s.useUpstream(ctx, CapabilityMLRecommendations) {
		err := s.callUpstream(ctx, func(ctx context.Context) error {
			var err error
			ml, err = s.deps.Upstream.FetchMLRecommendations(ctx, campaignID)
			return err
		})
		if err != nil {
			s.deps.Logger.WithFields(logrus.Fields{
				"campaign_id": campaignID,
				"error":       err.Error(),
			}).Warn("ML recommendations unavailable, using local recommendations")
			ml = nil
		}
	}
	return s.deps.Recommendations.Build(ctx, campaignID, snapshots, anomalies, ml)
}

func (s *AnalyticsService) buildCohorts(ctx context.Context, ids []string, metrics []models.MetricKey) (*models.CohortMatrix, error) {
	grouped, err := s.deps.Store.ListCampaignSnapshots(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load cohort snapshots: %w", err)
	}
	campaigns := make([]CampaignSnapshots, 0, len(ids))
	for _, id := range ids {
		campaigns = append(campaigns, CampaignSnapshots{CampaignID: id, Snapshots: grouped[id]})
	}
	return s.deps.Cohorts.BuildCohortMatrix(ctx, campaigns, metrics), nil
}

// useUpstream resolves capability and records the decision in the bundle log.
func (s *AnalyticsService) useUpstream(ctx context.Context, capability string) bool {
	if s.deps.Upstream == nil {
		return false
	}
	res := s.deps.Resolver.Resolve(ctx, capability)
	if s.deps.Codec != nil {
		s.deps.Codec.Decisions().Record(res, time.Now().UTC())
	}
	return res.Mode == ResolutionServer
}

func (s *AnalyticsService) callUpstream(ctx context.Context, fn func(context.Context) error) error {
	if s.deps.Breaker == nil {
		return fn(ctx)
	}
	return s.deps.Breaker.Execute(ctx, fn)
}

func (s *AnalyticsService) loadSnapshots(ctx context.Context, campaignID string) ([]models.AggregateSnapshot, error) {
	snapshots, err := s.deps.Store.ListSnapshots(ctx, campaignID, s.deps.SnapshotLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots for campaign %s: %w", campaignID, err)
	}
	return snapshots, nil
}

// cacheKey versions the key by the newest snapshot so new data invalidates it.
func (s *AnalyticsService) cacheKey(campaignID string, metric models.MetricKey, horizon *int, snapshots []models.AggregateSnapshot) (cache.ForecastKey, bool) {
	if s.deps.Cache == nil || len(snapshots) == 0 {
		return cache.ForecastKey{}, false
	}
	h := 0
	if horizon != nil {
		h = *horizon
	}
	latest := snapshots[len(snapshots)-1]
	return cache.ForecastKey{
		CampaignID: campaignID,
		Metric:     metric,
		Horizon:    h,
		Version:    fmt.Sprintf("%d-%s", len(snapshots), latest.ID),
	}, true
}

func validateCampaignID(campaignID string) error {
	if strings.TrimSpace(campaignID) == "" {
		return utils.NewFieldError("campaignId", "campaign id is required")
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func exportFilename(campaignID, ext string) string {
	return fmt.Sprintf("campaign-%s-analytics.%s", campaignID, ext)
}
