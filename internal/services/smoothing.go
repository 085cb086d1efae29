package services

import (
	"math"

	"github.com/irfndi/leadgen-insights/internal/models"
)

const (
	ModelSES         = "ses"
	ModelHoltWinters = "holt-winters"

	// z-value of a two-sided 95% interval
	confidenceZ95 = 1.96
	dayMillis     = int64(86_400_000)
)

// ForecastOptions carries the smoothing parameters of a client-side forecast.
type ForecastOptions struct {
	Method       string  `json:"method"`
	Alpha        float64 `json:"alpha"`
	Beta         float64 `json:"beta"`
	Gamma        float64 `json:"gamma"`
	SeasonLength int     `json:"seasonLength"`
	// Arbitrate scores every eligible model on a holdout before fitting.
	Arbitrate        bool `json:"arbitrate"`
	HistoricalWindow int  `json:"historicalWindow"`
	// IncludeServer adds a provisional server candidate to arbitration.
	IncludeServer bool `json:"includeServer,omitempty"`
}

// smoothingFit is the output of fitting one model to a training series.
type smoothingFit struct {
	Model     string
	Forecast  []float64
	Residuals []float64
	Sigma     float64
	// Widening reports whether the band grows with sqrt(h).
	Widening bool
}

// holtWintersEligible reports whether the series is long enough for a seasonal fit.
func holtWintersEligible(n int, seasonLength int) bool {
	return seasonLength >= 5 && n > 2*seasonLength
}

// fitSES runs simple exponential smoothing. The forecast is flat at the last
// smoothed level and residuals are one-step-ahead errors.
func fitSES(values []float64, horizon int, alpha float64) smoothingFit {
	fit := smoothingFit{Model: ModelSES, Forecast: make([]float64, horizon)}
	if len(values) == 0 {
		return fit
	}

	level := values[0]
	residuals := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		residuals = append(residuals, values[i]-level)
		level = alpha*values[i] + (1-alpha)*level
	}

	for h := range fit.Forecast {
		fit.Forecast[h] = level
	}
	fit.Residuals = residuals
	fit.Sigma = calculateStdDev(residuals)
	return fit
}

// fitHoltWinters runs additive Holt-Winters. The final observation is not used
// to update state; forecasts are clamped at zero.
func fitHoltWinters(values []float64, horizon int, alpha, beta, gamma float64, m int) smoothingFit {
	n := len(values)
	fit := smoothingFit{Model: ModelHoltWinters, Forecast: make([]float64, horizon), Widening: true}

	level := values[0]
	trend := (values[m] - values[0]) / float64(m)
	seasonal := make([]float64, m)
	for i := 0; i < m; i++ {
		seasonal[i] = values[i] - level
	}

	residuals := make([]float64, 0, n)
	for i := 1; i < n-1; i++ {
		idx := i % m
		s := seasonal[idx]
		residuals = append(residuals, values[i]-(level+trend+s))

		prevLevel := level
		level = alpha*(values[i]-s) + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
		seasonal[idx] = gamma*(values[i]-level) + (1-gamma)*s
	}

	for h := 1; h <= horizon; h++ {
		v := level + float64(h)*trend + seasonal[(n+h-1)%m]
		fit.Forecast[h-1] = math.Max(0, v)
	}
	fit.Residuals = residuals
	fit.Sigma = calculateStdDev(residuals)
	return fit
}

// fitModel fits the requested model, falling back to SES when Holt-Winters is
// not eligible for the series length.
func fitModel(model string, values []float64, horizon int, opts ForecastOptions) smoothingFit {
	if model == ModelHoltWinters && holtWintersEligible(len(values), opts.SeasonLength) {
		return fitHoltWinters(values, horizon, opts.Alpha, opts.Beta, opts.Gamma, opts.SeasonLength)
	}
	return fitSES(values, horizon, opts.Alpha)
}

// buildForecastPoints turns a fit into timestamped points with confidence
// bounds and quantiles. lower is floored at zero and never exceeds value.
func buildForecastPoints(fit smoothingFit, series []models.TimeSeriesPoint, metric models.MetricKey) []models.ForecastPoint {
	timestamps := seriesTimestamps(series)
	step := medianPositiveStep(timestamps, dayMillis)
	last := timestamps[len(timestamps)-1]

	points := make([]models.ForecastPoint, len(fit.Forecast))
	for i, v := range fit.Forecast {
		h := float64(i + 1)
		width := confidenceZ95 * fit.Sigma
		if fit.Widening {
			width *= math.Sqrt(h)
		}
		lower := math.Min(v, math.Max(0, v-width))
		upper := v + width

		points[i] = models.ForecastPoint{
			Timestamp: last + int64(i+1)*step,
			MetricKey: metric,
			Value:     v,
			Lower:     models.Float(lower),
			Upper:     models.Float(upper),
		}
	}
	return SynthesizeBands(points, fit.Sigma)
}
