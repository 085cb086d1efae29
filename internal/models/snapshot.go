package models

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// MetricKey names one numeric aggregate carried by a campaign snapshot.
type MetricKey string

const (
	MetricTotalDomains       MetricKey = "totalDomains"
	MetricSuccessRate        MetricKey = "successRate"
	MetricAvgLeadScore       MetricKey = "avgLeadScore"
	MetricDNSSuccessRate     MetricKey = "dnsSuccessRate"
	MetricHTTPSuccessRate    MetricKey = "httpSuccessRate"
	MetricHighPotentialCount MetricKey = "highPotentialCount"
	MetricLeadsCount         MetricKey = "leadsCount"
	MetricAvgRichness        MetricKey = "avgRichness"
	MetricWarningRate        MetricKey = "warningRate"
	MetricKeywordCoverage    MetricKey = "keywordCoverage"
	MetricMedianGain         MetricKey = "medianGain"
)

// MetricsSchema is a closed, versioned set of aggregate keys.
type MetricsSchema struct {
	Version string
	Keys    []MetricKey
}

// MetricsSchemaV1 is the only schema currently produced by the validation phases.
var MetricsSchemaV1 = MetricsSchema{
	Version: "1",
	Keys: []MetricKey{
		MetricTotalDomains,
		MetricSuccessRate,
		MetricAvgLeadScore,
		MetricDNSSuccessRate,
		MetricHTTPSuccessRate,
		MetricHighPotentialCount,
		MetricLeadsCount,
		MetricAvgRichness,
		MetricWarningRate,
		MetricKeywordCoverage,
		MetricMedianGain,
	},
}

// IsRate reports whether the metric is a ratio. Rates are stored as fractions
// in [0,1], never as percentages.
func (k MetricKey) IsRate() bool {
	switch k {
	case MetricSuccessRate, MetricDNSSuccessRate, MetricHTTPSuccessRate, MetricWarningRate, MetricKeywordCoverage:
		return true
	default:
		return false
	}
}

// Has reports whether key belongs to the schema.
func (s MetricsSchema) Has(key MetricKey) bool {
	for _, k := range s.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// ForecastMarker tags a snapshot as a synthetic forecast point.
type ForecastMarker struct {
	Value      float64 `json:"value"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	IsForecast bool    `json:"isForecast"`
}

// AggregateSnapshot is one point-in-time roll-up of a campaign's metrics.
// Snapshots are produced by the Snapshot Store and never mutated here.
type AggregateSnapshot struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	// Aggregates holds finite values; rate metrics are fractions in [0,1].
	Aggregates       map[MetricKey]float64 `json:"aggregates"`
	ClassifiedCounts map[string]float64    `json:"classifiedCounts"`
	Forecast         *ForecastMarker       `json:"forecast,omitempty"`
	Interpolated     bool                  `json:"interpolated,omitempty"`
}

// IsForecast reports whether the snapshot is a synthetic forecast point.
func (s AggregateSnapshot) IsForecast() bool {
	return s.Forecast != nil && s.Forecast.IsForecast
}

// Metric returns the value of key, or NaN when the snapshot does not carry it.
func (s AggregateSnapshot) Metric(key MetricKey) float64 {
	v, ok := s.Aggregates[key]
	if !ok {
		return math.NaN()
	}
	return v
}

// ValidateSnapshot checks a snapshot against the schema at the ingestion boundary.
func ValidateSnapshot(s AggregateSnapshot, schema MetricsSchema) error {
	if s.ID == "" {
		return fmt.Errorf("snapshot id is required")
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("snapshot %s: timestamp is required", s.ID)
	}
	for key, value := range s.Aggregates {
		if !schema.Has(key) {
			return fmt.Errorf("snapshot %s: metric %q is not part of schema v%s", s.ID, key, schema.Version)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("snapshot %s: metric %q is not finite", s.ID, key)
		}
		if key.IsRate() && (value < 0 || value > 1) {
			return fmt.Errorf("snapshot %s: rate %q must be a fraction in [0,1], got %v", s.ID, key, value)
		}
	}
	for bucket, count := range s.ClassifiedCounts {
		if math.IsNaN(count) || math.IsInf(count, 0) || count < 0 {
			return fmt.Errorf("snapshot %s: classified count %q is invalid", s.ID, bucket)
		}
	}
	return nil
}

// SortSnapshots returns a copy of snapshots ordered by ascending timestamp.
func SortSnapshots(snapshots []AggregateSnapshot) []AggregateSnapshot {
	sorted := make([]AggregateSnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

// TimeSeriesPoint is a single observation of one metric.
type TimeSeriesPoint struct {
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
	Value     float64 `json:"value"`
}
