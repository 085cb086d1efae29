package services

import (
	"math"
	"sort"

	"github.com/irfndi/leadgen-insights/internal/models"
)

// ExtractSeries projects snapshots onto a single-metric time series.
// Forecast-tagged snapshots and missing or NaN values are dropped, and the
// result is ordered by ascending timestamp regardless of input order.
func ExtractSeries(snapshots []models.AggregateSnapshot, metric models.MetricKey) []models.TimeSeriesPoint {
	points := make([]models.TimeSeriesPoint, 0, len(snapshots))
	for _, s := range snapshots {
		if s.IsForecast() {
			continue
		}
		value := s.Metric(metric)
		if math.IsNaN(value) {
			continue
		}
		points = append(points, models.TimeSeriesPoint{
			Timestamp: s.Timestamp.UnixMilli(),
			Value:     value,
		})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp < points[j].Timestamp
	})
	return points
}

func seriesValues(points []models.TimeSeriesPoint) []float64 {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return values
}

func seriesTimestamps(points []models.TimeSeriesPoint) []int64 {
	ts := make([]int64, len(points))
	for i, p := range points {
		ts[i] = p.Timestamp
	}
	return ts
}
