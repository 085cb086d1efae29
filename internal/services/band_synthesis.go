package services

import "github.com/irfndi/leadgen-insights/internal/models"

// z-value of the 10th/90th percentile of a normal distribution
const quantileZ80 = 1.28

// SynthesizeBands fills missing p10/p50/p90 from sigma and backfills missing
// lower/upper from p10/p90. Points that already carry quantiles and bounds are
// returned unchanged, so applying it twice is a no-op.
func SynthesizeBands(points []models.ForecastPoint, sigma float64) []models.ForecastPoint {
	out := make([]models.ForecastPoint, len(points))
	for i, p := range points {
		if p.P10 == nil {
			p.P10 = models.Float(p.Value - quantileZ80*sigma)
		}
		if p.P50 == nil {
			p.P50 = models.Float(p.Value)
		}
		if p.P90 == nil {
			p.P90 = models.Float(p.Value + quantileZ80*sigma)
		}
		if p.Lower == nil {
			p.Lower = models.Float(*p.P10)
		}
		if p.Upper == nil {
			p.Upper = models.Float(*p.P90)
		}
		out[i] = p
	}
	return out
}

// residualSigma fits SES on the series and returns its residual standard
// deviation, used to size bands for sources that only supply point estimates.
func residualSigma(series []models.TimeSeriesPoint, alpha float64) float64 {
	if len(series) < 2 {
		return 0
	}
	return fitSES(seriesValues(series), 1, alpha).Sigma
}
