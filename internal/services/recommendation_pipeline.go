package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"

	"github.com/irfndi/leadgen-insights/internal/config"
	"github.com/irfndi/leadgen-insights/internal/models"
	"github.com/irfndi/leadgen-insights/internal/observability"
)

const (
	defaultMaxRecommendations = 10
	defaultMLShare            = 0.7
)

// ScoringRecommender derives recommendations from campaign aggregates.
type ScoringRecommender interface {
	Recommend(ctx context.Context, snapshots []models.AggregateSnapshot) []models.EnhancedRecommendation
}

// RecommendationPipeline merges scoring, anomaly and ML recommendations into
// one bounded, deduplicated list.
type RecommendationPipeline struct {
	cfg    config.RecommendationsConfig
	scorer ScoringRecommender
	logger *logrus.Logger
}

// NewRecommendationPipeline creates a pipeline. A nil scorer uses DefaultScoringRecommender.
func NewRecommendationPipeline(cfg config.RecommendationsConfig, scorer ScoringRecommender, logger *logrus.Logger) *RecommendationPipeline {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxRecommendations
	}
	if cfg.MLShare <= 0 || cfg.MLShare > 1 {
		cfg.MLShare = defaultMLShare
	}
	if scorer == nil {
		scorer = DefaultScoringRecommender{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RecommendationPipeline{cfg: cfg, scorer: scorer, logger: logger}
}

// MLEnabled reports whether ML recommendations should be requested.
func (p *RecommendationPipeline) MLEnabled() bool {
	return p.cfg.MLEnabled
}

// Build returns at most MaxItems recommendations with unique titles, sorted by
// severity and then confidence.
func (p *RecommendationPipeline) Build(ctx context.Context, campaignID string, snapshots []models.AggregateSnapshot, anomalies []models.Anomaly, ml []models.MLRecommendation) []models.EnhancedRecommendation {
	ctx, span := observability.StartSpanWithTags(ctx, observability.SpanOpRecommendation, "RecommendationPipeline.Build", map[string]string{
		"campaign_id": campaignID,
	})
	defer observability.FinishSpan(span, nil)

	local := rankLocalRecommendations(p.scorer.Recommend(ctx, snapshots), recommendationsFromAnomalies(anomalies))

	var ranked []models.EnhancedRecommendation
	if p.cfg.MLEnabled && len(ml) > 0 {
		slots := int(math.Ceil(float64(p.cfg.MaxItems) * p.cfg.MLShare))
		ranked = rankMLRecommendations(ml, slots)
	}

	merged := mergeRecommendations(ranked, local, p.cfg.MaxItems)
	p.logger.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"ml":          len(ranked),
		"local":       len(local),
		"returned":    len(merged),
	}).Debug("Recommendations built")
	return merged
}

// rankMLRecommendations orders ML recommendations by severity then score and
// keeps the first slots entries with distinct titles.
func rankMLRecommendations(ml []models.MLRecommendation, slots int) []models.EnhancedRecommendation {
	sorted := make([]models.MLRecommendation, len(ml))
	copy(sorted, ml)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity.Rank() != sorted[j].Severity.Rank() {
			return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
		}
		return sorted[i].Score > sorted[j].Score
	})

	fold := cases.Fold()
	seen := make(map[string]bool, len(sorted))
	out := make([]models.EnhancedRecommendation, 0, slots)
	for _, r := range sorted {
		if len(out) >= slots {
			break
		}
		key := titleKey(fold, r.Title)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, models.EnhancedRecommendation{
			ID:        id,
			Severity:  r.Severity,
			Title:     r.Title,
			Detail:    r.Detail,
			Rationale: r.Rationale,
			Explanation: &models.Explanation{
				Source:     "ml",
				Confidence: clampFloat(r.Score, 0, 1),
				Factors:    r.Factors,
				Reasoning:  r.Rationale,
			},
		})
	}
	return out
}

// rankLocalRecommendations combines scoring and anomaly recommendations,
// keeping the strongest entry per title.
func rankLocalRecommendations(scoring, anomaly []models.EnhancedRecommendation) []models.EnhancedRecommendation {
	combined := make([]models.EnhancedRecommendation, 0, len(scoring)+len(anomaly))
	combined = append(combined, scoring...)
	combined = append(combined, anomaly...)
	sortRecommendations(combined)

	fold := cases.Fold()
	seen := make(map[string]bool, len(combined))
	out := make([]models.EnhancedRecommendation, 0, len(combined))
	for _, r := range combined {
		key := titleKey(fold, r.Title)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// mergeRecommendations fills the list with ML entries first and local entries
// after, skipping local titles already taken, then sorts and caps it.
func mergeRecommendations(ml, local []models.EnhancedRecommendation, maxItems int) []models.EnhancedRecommendation {
	fold := cases.Fold()
	seen := make(map[string]bool, len(ml)+len(local))
	out := make([]models.EnhancedRecommendation, 0, maxItems)

	add := func(r models.EnhancedRecommendation) {
		key := titleKey(fold, r.Title)
		if len(out) >= maxItems || key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, r)
	}
	for _, r := range ml {
		add(r)
	}
	for _, r := range local {
		add(r)
	}

	sortRecommendations(out)
	return out
}

func sortRecommendations(recs []models.EnhancedRecommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Severity.Rank() != recs[j].Severity.Rank() {
			return recs[i].Severity.Rank() > recs[j].Severity.Rank()
		}
		return recs[i].Confidence() > recs[j].Confidence()
	})
}

func titleKey(fold cases.Caser, title string) string {
	return fold.String(strings.TrimSpace(title))
}

type anomalyAction struct {
	Title  string
	Detail string
}

// anomalyActions maps a metric to the operator action suggested when it is anomalous.
var anomalyActions = map[models.MetricKey]anomalyAction{
	models.MetricSuccessRate:        {Title: "Investigate drop in validation success", Detail: "Check recent domain sources and validation settings for regressions."},
	models.MetricDNSSuccessRate:     {Title: "Review DNS resolution failures", Detail: "Verify resolver health and look for expired or parked domains in the latest batch."},
	models.MetricHTTPSuccessRate:    {Title: "Review HTTP probe failures", Detail: "Inspect timeouts and blocked responses from the HTTP validation phase."},
	models.MetricAvgLeadScore:       {Title: "Re-check lead scoring inputs", Detail: "A sudden lead score shift usually follows a keyword or scoring rule change."},
	models.MetricLeadsCount:         {Title: "Verify lead volume change", Detail: "Compare the latest run's input domains against previous runs."},
	models.MetricHighPotentialCount: {Title: "Prioritise high-potential domains", Detail: "Route the new high-potential domains to outreach while the signal is fresh."},
	models.MetricWarningRate:        {Title: "Reduce validation warnings", Detail: "Group warnings by type and fix the dominant cause."},
	models.MetricKeywordCoverage:    {Title: "Adjust keyword sets", Detail: "Keyword coverage moved sharply; review recently edited keyword sets."},
}

var defaultAnomalyAction = anomalyAction{
	Title:  "Review unusual metric movement",
	Detail: "A monitored metric deviated from its recent range.",
}

// recommendationsFromAnomalies maps each anomaly through the action table.
func recommendationsFromAnomalies(anomalies []models.Anomaly) []models.EnhancedRecommendation {
	out := make([]models.EnhancedRecommendation, 0, len(anomalies))
	for _, a := range anomalies {
		action, ok := anomalyActions[a.Metric]
		if !ok {
			action = defaultAnomalyAction
		}
		severity := models.RecommendationWarn
		if a.Severity == models.AnomalySeverityCritical {
			severity = models.RecommendationAction
		}

		out = append(out, models.EnhancedRecommendation{
			ID:        uuid.NewString(),
			Severity:  severity,
			Title:     action.Title,
			Detail:    action.Detail,
			Rationale: a.Description,
			Explanation: &models.Explanation{
				Source:     "anomaly",
				Confidence: clampFloat(0.5+0.1*math.Abs(a.ZScore), 0.5, 0.95),
				Factors:    []string{string(a.Metric)},
				Reasoning:  fmt.Sprintf("z-score %.2f on %s", a.ZScore, a.Metric),
			},
		})
	}
	return out
}
