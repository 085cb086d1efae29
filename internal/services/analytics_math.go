package services

import (
	"math"
	"sort"
)

func calculateMeanFloat64(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculateStdDev returns the sample standard deviation (n-1 denominator).
func calculateStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := calculateMeanFloat64(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	variance := sumSquares / float64(len(values)-1)
	return math.Sqrt(variance)
}

// calculateMAE is the mean absolute error between paired actual and predicted values.
func calculateMAE(actual []float64, predicted []float64) float64 {
	n := len(actual)
	if len(predicted) < n {
		n = len(predicted)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(actual[i] - predicted[i])
	}
	return sum / float64(n)
}

// calculateMAPE is the mean absolute percentage error as a fraction.
// Pairs with a zero actual value are skipped.
func calculateMAPE(actual []float64, predicted []float64) float64 {
	n := len(actual)
	if len(predicted) < n {
		n = len(predicted)
	}
	var sum float64
	var counted int
	for i := 0; i < n; i++ {
		if actual[i] == 0 {
			continue
		}
		sum += math.Abs((actual[i] - predicted[i]) / actual[i])
		counted++
	}
	if counted == 0 {
		return 0
	}
	return sum / float64(counted)
}

// percentile computes the p-th percentile (0..1) of values with linear
// interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// medianPositiveStep returns the median gap between consecutive timestamps,
// ignoring non-positive gaps. Falls back to def when no gap qualifies.
func medianPositiveStep(timestamps []int64, def int64) int64 {
	steps := make([]float64, 0, len(timestamps))
	for i := 1; i < len(timestamps); i++ {
		if d := timestamps[i] - timestamps[i-1]; d > 0 {
			steps = append(steps, float64(d))
		}
	}
	if len(steps) == 0 {
		return def
	}
	return int64(math.Round(percentile(steps, 0.5)))
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
