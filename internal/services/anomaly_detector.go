package services

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/config"
	"github.com/irfndi/leadgen-insights/internal/models"
	"github.com/irfndi/leadgen-insights/internal/observability"
	"github.com/irfndi/leadgen-insights/internal/telemetry"
)

const (
	MergeOverride  = "override"
	MergePerMetric = "per_metric"

	defaultRollingWindow = 10
	defaultMinSnapshots  = 5
	defaultZThreshold    = 2.0
	defaultCriticalZ     = 3.0
)

// AnomalyDetector flags the latest value of each monitored metric when it lies
// far from the recent rolling window.
type AnomalyDetector struct {
	cfg     config.AnomalyConfig
	metrics []models.MetricKey
	emitter telemetry.Emitter
	logger  *logrus.Logger
}

// NewAnomalyDetector creates a detector. An empty monitored metric list
// monitors every key of the metrics schema.
func NewAnomalyDetector(cfg config.AnomalyConfig, emitter telemetry.Emitter, logger *logrus.Logger) *AnomalyDetector {
	if cfg.RollingWindowSize < 2 {
		cfg.RollingWindowSize = defaultRollingWindow
	}
	if cfg.MinSnapshots <= 0 {
		cfg.MinSnapshots = defaultMinSnapshots
	}
	if cfg.ZThreshold <= 0 {
		cfg.ZThreshold = defaultZThreshold
	}
	if cfg.CriticalZThreshold < cfg.ZThreshold {
		cfg.CriticalZThreshold = math.Max(defaultCriticalZ, cfg.ZThreshold)
	}
	if cfg.MergeStrategy == "" {
		cfg.MergeStrategy = MergeOverride
	}
	if emitter == nil {
		emitter = telemetry.NopEmitter{}
	}
	if logger == nil {
		logger = logrus.New()
	}

	metrics := make([]models.MetricKey, 0, len(cfg.MonitoredMetrics))
	for _, m := range cfg.MonitoredMetrics {
		metrics = append(metrics, models.MetricKey(m))
	}
	if len(metrics) == 0 {
		metrics = append(metrics, models.MetricsSchemaV1.Keys...)
	}

	return &AnomalyDetector{cfg: cfg, metrics: metrics, emitter: emitter, logger: logger}
}

// Enabled reports whether anomaly detection is turned on.
func (d *AnomalyDetector) Enabled() bool {
	return d.cfg.Enabled
}

// Detect returns the anomalies for a campaign. Non-empty server anomalies
// replace client detection under the override strategy; under per_metric they
// only replace client results for the metrics they cover. The result is never nil.
func (d *AnomalyDetector) Detect(ctx context.Context, campaignID string, snapshots []models.AggregateSnapshot, serverAnomalies []models.Anomaly) []models.Anomaly {
	if !d.cfg.Enabled {
		return []models.Anomaly{}
	}

	_, span := observability.StartSpanWithTags(ctx, observability.SpanOpAnomaly, "AnomalyDetector.Detect", map[string]string{
		"campaign_id": campaignID,
	})
	defer observability.FinishSpan(span, nil)

	var anomalies []models.Anomaly
	switch {
	case len(serverAnomalies) > 0 && d.cfg.MergeStrategy != MergePerMetric:
		anomalies = tagServer(serverAnomalies)
	case len(serverAnomalies) > 0:
		anomalies = mergePerMetric(d.detectClient(snapshots), tagServer(serverAnomalies))
	default:
		anomalies = d.detectClient(snapshots)
	}

	if len(anomalies) > 0 {
		d.report(ctx, campaignID, anomalies)
	}
	return anomalies
}

// detectClient computes z-scores of the latest snapshot against the rolling window.
func (d *AnomalyDetector) detectClient(snapshots []models.AggregateSnapshot) []models.Anomaly {
	observed := make([]models.AggregateSnapshot, 0, len(snapshots))
	for _, s := range models.SortSnapshots(snapshots) {
		if !s.IsForecast() {
			observed = append(observed, s)
		}
	}

	anomalies := []models.Anomaly{}
	if len(observed) < d.cfg.MinSnapshots {
		return anomalies
	}

	window := observed
	if len(window) > d.cfg.RollingWindowSize {
		window = window[len(window)-d.cfg.RollingWindowSize:]
	}
	latest := window[len(window)-1]

	for _, metric := range d.metrics {
		value := latest.Metric(metric)
		if math.IsNaN(value) {
			continue
		}

		values := make([]float64, 0, len(window))
		for _, s := range window {
			if v := s.Metric(metric); !math.IsNaN(v) {
				values = append(values, v)
			}
		}
		if len(values) < 2 {
			continue
		}

		z := zScore(value, values)
		if math.Abs(z) < d.cfg.ZThreshold {
			continue
		}

		severity := models.AnomalySeverityWarning
		if math.Abs(z) >= d.cfg.CriticalZThreshold {
			severity = models.AnomalySeverityCritical
		}
		anomalies = append(anomalies, models.Anomaly{
			Metric:      metric,
			Value:       value,
			ZScore:      z,
			Severity:    severity,
			Timestamp:   latest.Timestamp,
			Description: describeAnomaly(metric, z, len(values)),
			Source:      models.AnomalySourceClient,
		})
	}
	return anomalies
}

func (d *AnomalyDetector) report(ctx context.Context, campaignID string, anomalies []models.Anomaly) {
	critical := 0
	for _, a := range anomalies {
		if a.Severity == models.AnomalySeverityCritical {
			critical++
		}
	}

	d.logger.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"anomalies":   len(anomalies),
		"critical":    critical,
	}).Info("Anomalies detected")
	d.emitter.Emit(ctx, telemetry.Event{
		Name: telemetry.EventAnomalyDetected,
		Attributes: map[string]interface{}{
			"campaign_id": campaignID,
			"count":       len(anomalies),
			"critical":    critical,
			"source":      string(anomalies[0].Source),
		},
	})
}

// zScore uses the sample standard deviation of the window. A window with no
// variance yields zero.
func zScore(value float64, window []float64) float64 {
	std := calculateStdDev(window)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return (value - calculateMeanFloat64(window)) / std
}

func describeAnomaly(metric models.MetricKey, z float64, n int) string {
	direction := "above"
	if z < 0 {
		direction = "below"
	}
	return fmt.Sprintf("%s is %.1f standard deviations %s its %d-snapshot average", metric, math.Abs(z), direction, n)
}

func tagServer(anomalies []models.Anomaly) []models.Anomaly {
	out := make([]models.Anomaly, len(anomalies))
	for i, a := range anomalies {
		if a.Source == "" {
			a.Source = models.AnomalySourceServer
		}
		out[i] = a
	}
	return out
}

// mergePerMetric keeps server anomalies and the client anomalies for metrics
// the server did not report on.
func mergePerMetric(client, server []models.Anomaly) []models.Anomaly {
	covered := make(map[models.MetricKey]bool, len(server))
	for _, a := range server {
		covered[a.Metric] = true
	}

	out := make([]models.Anomaly, 0, len(client)+len(server))
	out = append(out, server...)
	for _, a := range client {
		if !covered[a.Metric] {
			out = append(out, a)
		}
	}
	return out
}
