package services

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/irfndi/leadgen-insights/internal/models"
)

// Thresholds used by DefaultScoringRecommender. Rates are fractions in [0,1].
const (
	lowSuccessRate        = 0.6
	lowDNSSuccessRate     = 0.8
	lowHTTPSuccessRate    = 0.7
	highWarningRate       = 0.25
	lowKeywordCoverage    = 0.4
	leadScoreDeclineRatio = 0.1
	highPotentialBacklog  = 10
)

// DefaultScoringRecommender applies fixed threshold rules to the latest
// observed snapshot and its predecessor.
type DefaultScoringRecommender struct{}

type scoringRule struct {
	severity models.RecommendationSeverity
	title    string
	factors  []models.MetricKey
	// check returns the detail text and whether the rule fires.
	check func(latest, previous *models.AggregateSnapshot) (string, bool)
}

var scoringRules = []scoringRule{
	{
		severity: models.RecommendationAction,
		title:    "Review DNS resolution failures",
		factors:  []models.MetricKey{models.MetricDNSSuccessRate},
		check: func(latest, _ *models.AggregateSnapshot) (string, bool) {
			v, ok := rateOf(latest, models.MetricDNSSuccessRate)
			return fmt.Sprintf("DNS success rate is %s%%.", formatPercent(v)), ok && v < lowDNSSuccessRate
		},
	},
	{
		severity: models.RecommendationWarn,
		title:    "Improve validation success rate",
		factors:  []models.MetricKey{models.MetricSuccessRate, models.MetricTotalDomains},
		check: func(latest, _ *models.AggregateSnapshot) (string, bool) {
			v, ok := rateOf(latest, models.MetricSuccessRate)
			total := latest.Metric(models.MetricTotalDomains)
			detail := fmt.Sprintf("Only %s%% of domains validated successfully.", formatPercent(v))
			if !math.IsNaN(total) {
				detail = fmt.Sprintf("Only %s%% of %s domains validated successfully.", formatPercent(v), decimal.NewFromFloat(total).String())
			}
			return detail, ok && v < lowSuccessRate
		},
	},
	{
		severity: models.RecommendationWarn,
		title:    "Review HTTP probe failures",
		factors:  []models.MetricKey{models.MetricHTTPSuccessRate},
		check: func(latest, _ *models.AggregateSnapshot) (string, bool) {
			v, ok := rateOf(latest, models.MetricHTTPSuccessRate)
			return fmt.Sprintf("HTTP success rate is %s%%.", formatPercent(v)), ok && v < lowHTTPSuccessRate
		},
	},
	{
		severity: models.RecommendationWarn,
		title:    "Reduce validation warnings",
		factors:  []models.MetricKey{models.MetricWarningRate},
		check: func(latest, _ *models.AggregateSnapshot) (string, bool) {
			v, ok := rateOf(latest, models.MetricWarningRate)
			return fmt.Sprintf("%s%% of validated domains raised warnings.", formatPercent(v)), ok && v > highWarningRate
		},
	},
	{
		severity: models.RecommendationWarn,
		title:    "Lead score is declining",
		factors:  []models.MetricKey{models.MetricAvgLeadScore},
		check: func(latest, previous *models.AggregateSnapshot) (string, bool) {
			if previous == nil {
				return "", false
			}
			cur, prev := latest.Metric(models.MetricAvgLeadScore), previous.Metric(models.MetricAvgLeadScore)
			if math.IsNaN(cur) || math.IsNaN(prev) || prev <= 0 {
				return "", false
			}
			drop := (prev - cur) / prev
			return fmt.Sprintf("Average lead score fell %s%% since the previous run.", formatPercent(drop)), drop > leadScoreDeclineRatio
		},
	},
	{
		severity: models.RecommendationInfo,
		title:    "Broaden keyword coverage",
		factors:  []models.MetricKey{models.MetricKeywordCoverage},
		check: func(latest, _ *models.AggregateSnapshot) (string, bool) {
			v, ok := rateOf(latest, models.MetricKeywordCoverage)
			return fmt.Sprintf("Keywords matched on %s%% of domains.", formatPercent(v)), ok && v < lowKeywordCoverage
		},
	},
	{
		severity: models.RecommendationInfo,
		title:    "Prioritise high-potential domains",
		factors:  []models.MetricKey{models.MetricHighPotentialCount},
		check: func(latest, _ *models.AggregateSnapshot) (string, bool) {
			v := latest.Metric(models.MetricHighPotentialCount)
			return fmt.Sprintf("%s high-potential domains are ready for outreach.", decimal.NewFromFloat(v).String()), !math.IsNaN(v) && v >= highPotentialBacklog
		},
	},
}

// Recommend implements ScoringRecommender.
func (DefaultScoringRecommender) Recommend(_ context.Context, snapshots []models.AggregateSnapshot) []models.EnhancedRecommendation {
	var observed []models.AggregateSnapshot
	for _, s := range models.SortSnapshots(snapshots) {
		if !s.IsForecast() {
			observed = append(observed, s)
		}
	}
	if len(observed) == 0 {
		return []models.EnhancedRecommendation{}
	}

	latest := &observed[len(observed)-1]
	var previous *models.AggregateSnapshot
	if len(observed) > 1 {
		previous = &observed[len(observed)-2]
	}
	confidence := scoringConfidence(len(observed))

	out := make([]models.EnhancedRecommendation, 0, len(scoringRules))
	for _, rule := range scoringRules {
		detail, fires := rule.check(latest, previous)
		if !fires {
			continue
		}
		factors := make([]string, len(rule.factors))
		for i, f := range rule.factors {
			factors[i] = string(f)
		}
		out = append(out, models.EnhancedRecommendation{
			ID:        uuid.NewString(),
			Severity:  rule.severity,
			Title:     rule.title,
			Detail:    detail,
			Rationale: "Derived from the latest campaign snapshot.",
			Explanation: &models.Explanation{
				Source:     "scoring",
				Confidence: confidence,
				Factors:    factors,
				Reasoning:  detail,
			},
		})
	}
	return out
}

// scoringConfidence grows with history and saturates at 0.9.
func scoringConfidence(n int) float64 {
	return clampFloat(0.5+0.05*float64(n), 0.5, 0.9)
}

// rateOf returns a rate metric, which snapshots carry as a fraction.
func rateOf(s *models.AggregateSnapshot, key models.MetricKey) (float64, bool) {
	v := s.Metric(key)
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func formatPercent(fraction float64) string {
	return decimal.NewFromFloat(fraction * 100).Round(1).String()
}
