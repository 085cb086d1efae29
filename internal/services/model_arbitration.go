package services

import (
	"math"

	"github.com/irfndi/leadgen-insights/internal/models"
)

const (
	ModelServer = "server"

	defaultHistoricalWindow = 14
	// minimum training points left after the holdout
	minArbitrationTraining = 8
	fallbackConfidence     = 0.5
	// the server model is not backtested locally; it is scored at a fixed
	// discount against the best client model
	provisionalServerDiscount = 0.9
)

// ArbitrationResult records which model won and how every candidate scored.
type ArbitrationResult struct {
	Selected   string
	Confidence float64
	Candidates []models.ModelCandidate
	// Holdout is false when the series was too short to backtest.
	Holdout bool
}

// ArbitrateModels backtests the eligible models on the last HistoricalWindow
// points and selects the one with the lowest MAE.
func ArbitrateModels(values []float64, opts ForecastOptions) ArbitrationResult {
	window := opts.HistoricalWindow
	if window <= 0 {
		window = defaultHistoricalWindow
	}
	if len(values) < window+minArbitrationTraining {
		return ArbitrationResult{Selected: ModelSES, Confidence: fallbackConfidence}
	}

	train := values[:len(values)-window]
	actual := values[len(values)-window:]

	candidates := []models.ModelCandidate{scoreCandidate(ModelSES, fitSES(train, window, opts.Alpha), actual)}
	if holtWintersEligible(len(train), opts.SeasonLength) {
		fit := fitHoltWinters(train, window, opts.Alpha, opts.Beta, opts.Gamma, opts.SeasonLength)
		candidates = append(candidates, scoreCandidate(ModelHoltWinters, fit, actual))
	}

	if opts.IncludeServer {
		best := bestCandidate(candidates)
		candidates = append(candidates, models.ModelCandidate{
			Model:       ModelServer,
			MAE:         best.MAE * provisionalServerDiscount,
			MAPE:        best.MAPE * provisionalServerDiscount,
			Provisional: true,
		})
	}

	winner := bestCandidate(candidates)
	return ArbitrationResult{
		Selected:   winner.Model,
		Confidence: clampFloat(1-winner.MAPE, 0.1, 0.95),
		Candidates: candidates,
		Holdout:    true,
	}
}

func scoreCandidate(model string, fit smoothingFit, actual []float64) models.ModelCandidate {
	return models.ModelCandidate{
		Model: model,
		MAE:   calculateMAE(actual, fit.Forecast),
		MAPE:  calculateMAPE(actual, fit.Forecast),
	}
}

// bestCandidate returns the lowest-MAE candidate; earlier entries win ties.
func bestCandidate(candidates []models.ModelCandidate) models.ModelCandidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.MAE < best.MAE && !math.IsNaN(c.MAE) {
			best = c
		}
	}
	return best
}
