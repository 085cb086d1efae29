package services

import (
	"math"

	"github.com/irfndi/leadgen-insights/internal/models"
)

// clientForecast is the result of a local forecast computation.
type clientForecast struct {
	Points      []models.ForecastPoint
	ModelInfo   models.ModelInfo
	Quality     models.QualityMetrics
	Arbitration *ArbitrationResult
	Sigma       float64
}

// computeClientForecast fits the configured (or arbitrated) model and builds
// horizon points. It is pure and safe to run on any goroutine.
func computeClientForecast(series []models.TimeSeriesPoint, horizon int, metric models.MetricKey, opts ForecastOptions) clientForecast {
	values := seriesValues(series)

	model := opts.Method
	var arbitration *ArbitrationResult
	if opts.Arbitrate {
		result := ArbitrateModels(values, opts)
		arbitration = &result
		model = result.Selected
		if model == ModelServer {
			model = bestClientModel(result.Candidates)
		}
	}

	fit := fitModel(model, values, horizon, opts)

	info := models.ModelInfo{
		Name:  fit.Model,
		Alpha: opts.Alpha,
	}
	if fit.Model == ModelHoltWinters {
		info.Beta = opts.Beta
		info.Gamma = opts.Gamma
		info.SeasonLength = opts.SeasonLength
	}
	if arbitration != nil {
		info.Confidence = arbitration.Confidence
		info.Candidates = arbitration.Candidates
	}

	return clientForecast{
		Points:      buildForecastPoints(fit, series, metric),
		ModelInfo:   info,
		Quality:     inSampleQuality(values, fit),
		Arbitration: arbitration,
		Sigma:       fit.Sigma,
	}
}

func bestClientModel(candidates []models.ModelCandidate) string {
	local := make([]models.ModelCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Provisional {
			local = append(local, c)
		}
	}
	if len(local) == 0 {
		return ModelSES
	}
	return bestCandidate(local).Model
}

// inSampleQuality scores the one-step-ahead residuals against the observations
// they were computed for, which start at index 1.
func inSampleQuality(values []float64, fit smoothingFit) models.QualityMetrics {
	n := len(fit.Residuals)
	if n == 0 || len(values) < n+1 {
		return models.QualityMetrics{ResidualStdDev: fit.Sigma}
	}
	actual := values[1 : n+1]
	predicted := make([]float64, n)
	var absSum float64
	for i, r := range fit.Residuals {
		predicted[i] = actual[i] - r
		absSum += math.Abs(r)
	}
	return models.QualityMetrics{
		MAE:            absSum / float64(n),
		MAPE:           calculateMAPE(actual, predicted),
		ResidualStdDev: fit.Sigma,
	}
}
