package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/config"
	"github.com/irfndi/leadgen-insights/internal/models"
	"github.com/irfndi/leadgen-insights/internal/observability"
)

const defaultMaxDaySpread = 90

// CampaignSnapshots is the input of cohort construction for one campaign.
type CampaignSnapshots struct {
	CampaignID string
	Name       string
	Snapshots  []models.AggregateSnapshot
}

// CohortEngine aligns campaigns on a days-since-first-snapshot axis.
type CohortEngine struct {
	cfg    config.CohortConfig
	logger *logrus.Logger
}

// NewCohortEngine creates a cohort engine. MinCampaigns below 2 is raised to
// 2, the floor config.Validate enforces for loaded configuration.
func NewCohortEngine(cfg config.CohortConfig, logger *logrus.Logger) *CohortEngine {
	if cfg.MinCampaigns < 2 {
		cfg.MinCampaigns = 2
	}
	if cfg.MaxDaySpread <= 0 {
		cfg.MaxDaySpread = defaultMaxDaySpread
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CohortEngine{cfg: cfg, logger: logger}
}

// dayIndex is the number of whole days between t0 and ts.
func dayIndex(t0, ts time.Time) int {
	return int(math.Floor(float64(ts.UnixMilli()-t0.UnixMilli()) / float64(dayMillis)))
}

// alignedCampaign is a campaign's observed snapshots keyed by day index. When
// several snapshots share a day, the latest wins.
type alignedCampaign struct {
	info models.CohortCampaign
	days map[int]models.AggregateSnapshot
	// order holds the populated day indices ascending.
	order []int
}

func alignCampaign(c CampaignSnapshots) alignedCampaign {
	a := alignedCampaign{
		info: models.CohortCampaign{CampaignID: c.CampaignID, Name: c.Name},
		days: make(map[int]models.AggregateSnapshot),
	}

	var observed []models.AggregateSnapshot
	for _, s := range models.SortSnapshots(c.Snapshots) {
		if !s.IsForecast() {
			observed = append(observed, s)
		}
	}
	if len(observed) == 0 {
		return a
	}

	t0 := observed[0].Timestamp
	a.info.LaunchedAt = t0
	a.info.SnapshotCount = len(observed)
	for _, s := range observed {
		d := dayIndex(t0, s.Timestamp)
		if _, exists := a.days[d]; !exists {
			a.order = append(a.order, d)
		}
		a.days[d] = s
	}
	a.info.MaxDayIndex = a.order[len(a.order)-1]
	return a
}

// NormalizeSnapshotsByStart positions a campaign's snapshots on its own day axis.
func NormalizeSnapshotsByStart(campaignID string, snapshots []models.AggregateSnapshot) models.NormalizationSection {
	section := models.NormalizationSection{CampaignID: campaignID, Points: []models.NormalizedSnapshot{}}

	sorted := models.SortSnapshots(snapshots)
	if len(sorted) == 0 {
		return section
	}
	t0 := sorted[0].Timestamp
	section.LaunchedAt = t0
	for _, s := range sorted {
		section.Points = append(section.Points, models.NormalizedSnapshot{
			DayIndex:   dayIndex(t0, s.Timestamp),
			SnapshotID: s.ID,
			Timestamp:  s.Timestamp,
		})
	}
	return section
}

// BuildCohortMatrix aligns the campaigns and computes benchmarks for metrics.
// No metrics means every schema metric. Fewer than MinCampaigns campaigns with
// data yields an empty matrix.
func (e *CohortEngine) BuildCohortMatrix(ctx context.Context, campaigns []CampaignSnapshots, metrics []models.MetricKey) *models.CohortMatrix {
	_, span := observability.StartSpanWithTags(ctx, observability.SpanOpCohort, "CohortEngine.BuildCohortMatrix", map[string]string{
		"campaigns": fmt.Sprintf("%d", len(campaigns)),
	})
	defer observability.FinishSpan(span, nil)

	matrix := &models.CohortMatrix{
		Campaigns:   []models.CohortCampaign{},
		AlignedData: map[int]map[string]models.AggregateSnapshot{},
		Benchmarks:  map[models.MetricKey][]models.CohortBenchmarkPoint{},
	}

	aligned := make([]alignedCampaign, 0, len(campaigns))
	for _, c := range campaigns {
		a := alignCampaign(c)
		if len(a.order) > 0 {
			aligned = append(aligned, a)
		}
	}
	if len(aligned) < e.cfg.MinCampaigns {
		e.logger.WithFields(logrus.Fields{
			"campaigns": len(aligned),
			"required":  e.cfg.MinCampaigns,
		}).Debug("Not enough campaigns for a cohort matrix")
		return matrix
	}

	maxDays := 0
	for _, a := range aligned {
		if a.info.MaxDayIndex > maxDays {
			maxDays = a.info.MaxDayIndex
		}
		matrix.Campaigns = append(matrix.Campaigns, a.info)
	}
	if maxDays > e.cfg.MaxDaySpread {
		maxDays = e.cfg.MaxDaySpread
	}
	matrix.MaxDays = maxDays

	filled := 0
	for d := 0; d <= maxDays; d++ {
		row := make(map[string]models.AggregateSnapshot, len(aligned))
		for _, a := range aligned {
			if s, ok := a.days[d]; ok {
				row[a.info.CampaignID] = s
				filled++
				continue
			}
			if !e.cfg.Interpolation {
				continue
			}
			if s, ok := interpolateDay(a, d); ok {
				row[a.info.CampaignID] = s
				matrix.Interpolated = true
				filled++
			}
		}
		if len(row) > 0 {
			matrix.AlignedData[d] = row
		}
	}

	total := (maxDays + 1) * len(aligned)
	matrix.MatrixDensity = float64(filled) / float64(total) * 100

	if len(metrics) == 0 {
		metrics = models.MetricsSchemaV1.Keys
	}
	for _, m := range metrics {
		if points := ExtractBenchmarks(matrix, m); len(points) > 0 {
			matrix.Benchmarks[m] = points
		}
	}
	return matrix
}

// interpolateDay linearly interpolates a snapshot at day d between the nearest
// populated days on either side. Boundary gaps are never extrapolated.
func interpolateDay(a alignedCampaign, d int) (models.AggregateSnapshot, bool) {
	i := sort.SearchInts(a.order, d)
	if i == 0 || i >= len(a.order) {
		return models.AggregateSnapshot{}, false
	}
	d0, d1 := a.order[i-1], a.order[i]
	return interpolateSnapshot(a.info.CampaignID, d, a.days[d0], a.days[d1], float64(d-d0)/float64(d1-d0)), true
}

// interpolateSnapshot blends before and after by factor. Only keys present on
// both sides are carried over.
func interpolateSnapshot(campaignID string, day int, before, after models.AggregateSnapshot, factor float64) models.AggregateSnapshot {
	lerp := func(a, b float64) float64 { return a + (b-a)*factor }

	aggregates := make(map[models.MetricKey]float64, len(before.Aggregates))
	for k, v := range before.Aggregates {
		if w, ok := after.Aggregates[k]; ok {
			aggregates[k] = lerp(v, w)
		}
	}
	var counts map[string]float64
	if len(before.ClassifiedCounts) > 0 {
		counts = make(map[string]float64, len(before.ClassifiedCounts))
		for k, v := range before.ClassifiedCounts {
			if w, ok := after.ClassifiedCounts[k]; ok {
				counts[k] = lerp(v, w)
			}
		}
	}

	t0, t1 := before.Timestamp.UnixMilli(), after.Timestamp.UnixMilli()
	ts := time.UnixMilli(int64(math.Round(lerp(float64(t0), float64(t1))))).In(before.Timestamp.Location())

	return models.AggregateSnapshot{
		ID:               fmt.Sprintf("%s-interp-d%d", campaignID, day),
		Timestamp:        ts,
		Aggregates:       aggregates,
		ClassifiedCounts: counts,
		Interpolated:     true,
	}
}

// ExtractBenchmarks computes per-day median, p25 and p75 of metric across the
// campaigns present that day.
func ExtractBenchmarks(matrix *models.CohortMatrix, metric models.MetricKey) []models.CohortBenchmarkPoint {
	points := []models.CohortBenchmarkPoint{}
	for d := 0; d <= matrix.MaxDays; d++ {
		row, ok := matrix.AlignedData[d]
		if !ok {
			continue
		}
		values := make([]float64, 0, len(row))
		for _, s := range row {
			if v := s.Metric(metric); !math.IsNaN(v) {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		points = append(points, models.CohortBenchmarkPoint{
			Day:        d,
			Median:     percentile(values, 0.5),
			P25:        percentile(values, 0.25),
			P75:        percentile(values, 0.75),
			SampleSize: len(values),
		})
	}
	return points
}
