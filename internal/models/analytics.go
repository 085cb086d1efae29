package models

import "time"

// ForecastMethod records which execution path produced a forecast.
type ForecastMethod string

const (
	ForecastMethodServer           ForecastMethod = "server"
	ForecastMethodClient           ForecastMethod = "client"
	ForecastMethodClientWorker     ForecastMethod = "client-worker"
	ForecastMethodSkipped          ForecastMethod = "skipped"
	ForecastMethodInsufficientData ForecastMethod = "insufficient-data"
)

// ForecastPoint represents a single forecasted value with its uncertainty band.
// Bounds and quantiles are optional on the wire; when present lower <= value <= upper
// and p10 <= p50 <= p90.
type ForecastPoint struct {
	Timestamp int64     `json:"timestamp"`
	MetricKey MetricKey `json:"metricKey"`
	Value     float64   `json:"value"`
	Lower     *float64  `json:"lower,omitempty"`
	Upper     *float64  `json:"upper,omitempty"`
	P10       *float64  `json:"p10,omitempty"`
	P50       *float64  `json:"p50,omitempty"`
	P90       *float64  `json:"p90,omitempty"`
}

// HasQuantiles reports whether all three quantiles are populated.
func (p ForecastPoint) HasQuantiles() bool {
	return p.P10 != nil && p.P50 != nil && p.P90 != nil
}

// HasBounds reports whether both confidence bounds are populated.
func (p ForecastPoint) HasBounds() bool {
	return p.Lower != nil && p.Upper != nil
}

// Float returns a pointer to v, for populating optional point fields.
func Float(v float64) *float64 {
	return &v
}

// ModelCandidate is one model scored during arbitration.
type ModelCandidate struct {
	Model       string  `json:"model"`
	MAE         float64 `json:"mae"`
	MAPE        float64 `json:"mape"`
	Provisional bool    `json:"provisional,omitempty"`
}

// ModelInfo describes the model behind a forecast.
type ModelInfo struct {
	Name         string           `json:"name"`
	Version      string           `json:"version,omitempty"`
	Alpha        float64          `json:"alpha,omitempty"`
	Beta         float64          `json:"beta,omitempty"`
	Gamma        float64          `json:"gamma,omitempty"`
	SeasonLength int              `json:"seasonLength,omitempty"`
	Confidence   float64          `json:"confidence,omitempty"`
	Candidates   []ModelCandidate `json:"candidates"`
}

// QualityMetrics summarises the fit of the model on its training data.
type QualityMetrics struct {
	MAE            float64 `json:"mae"`
	MAPE           float64 `json:"mape"`
	ResidualStdDev float64 `json:"residualStdDev"`
}

// ForecastResult contains the output of a forecasting run.
// len(Points) == Horizon on success; Points is empty when data is insufficient
// or execution was skipped.
type ForecastResult struct {
	CampaignID     string          `json:"campaignId"`
	MetricKey      MetricKey       `json:"metricKey"`
	Horizon        int             `json:"horizon"`
	GeneratedAt    time.Time       `json:"generatedAt"`
	Method         ForecastMethod  `json:"method"`
	Points         []ForecastPoint `json:"points"`
	ModelInfo      *ModelInfo      `json:"modelInfo,omitempty"`
	QualityMetrics *QualityMetrics `json:"qualityMetrics,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// AnomalySeverity is derived from |z|, never set independently.
type AnomalySeverity string

const (
	AnomalySeverityWarning  AnomalySeverity = "warning"
	AnomalySeverityCritical AnomalySeverity = "critical"
)

// AnomalySource tells whether an anomaly was computed locally or supplied upstream.
type AnomalySource string

const (
	AnomalySourceClient AnomalySource = "client"
	AnomalySourceServer AnomalySource = "server"
)

// Anomaly flags a statistically significant deviation in a monitored metric.
type Anomaly struct {
	Metric      MetricKey       `json:"metric"`
	Value       float64         `json:"value"`
	ZScore      float64         `json:"zScore"`
	Severity    AnomalySeverity `json:"severity"`
	Timestamp   time.Time       `json:"timestamp"`
	Description string          `json:"description"`
	Source      AnomalySource   `json:"source"`
}

// RecommendationSeverity orders recommendations: action > warn > info.
type RecommendationSeverity string

const (
	RecommendationInfo   RecommendationSeverity = "info"
	RecommendationWarn   RecommendationSeverity = "warn"
	RecommendationAction RecommendationSeverity = "action"
)

// Rank returns the sort weight of the severity.
func (s RecommendationSeverity) Rank() int {
	switch s {
	case RecommendationAction:
		return 3
	case RecommendationWarn:
		return 2
	case RecommendationInfo:
		return 1
	default:
		return 0
	}
}

// Explanation carries explainability metadata for a recommendation.
type Explanation struct {
	Source     string   `json:"source"` // scoring, anomaly or ml
	Confidence float64  `json:"confidence"`
	Factors    []string `json:"factors"`
	Reasoning  string   `json:"reasoning"`
}

// EnhancedRecommendation is an operator-facing suggestion.
type EnhancedRecommendation struct {
	ID          string                 `json:"id"`
	Severity    RecommendationSeverity `json:"severity"`
	Title       string                 `json:"title"`
	Detail      string                 `json:"detail"`
	Rationale   string                 `json:"rationale"`
	Explanation *Explanation           `json:"explanation,omitempty"`
}

// Confidence returns the explanation confidence, or zero without an explanation.
func (r EnhancedRecommendation) Confidence() float64 {
	if r.Explanation == nil {
		return 0
	}
	return r.Explanation.Confidence
}

// MLRecommendation is a recommendation supplied by the upstream ML service.
type MLRecommendation struct {
	ID           string                 `json:"id"`
	Severity     RecommendationSeverity `json:"severity"`
	Title        string                 `json:"title"`
	Detail       string                 `json:"detail"`
	Rationale    string                 `json:"rationale"`
	Score        float64                `json:"score"`
	Factors      []string               `json:"factors,omitempty"`
	ModelVersion string                 `json:"modelVersion,omitempty"`
}

// ServerForecast is the payload returned by the upstream forecast service.
type ServerForecast struct {
	Horizon        int             `json:"horizon"`
	GeneratedAt    time.Time       `json:"generatedAt"`
	Method         string          `json:"method"`
	Points         []ForecastPoint `json:"points"`
	HasQuantiles   bool            `json:"hasQuantiles,omitempty"`
	ModelVersion   string          `json:"modelVersion,omitempty"`
	QualityMetrics *QualityMetrics `json:"qualityMetrics,omitempty"`
}
