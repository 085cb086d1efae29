package forecastapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/irfndi/leadgen-insights/internal/models"
)

// ErrNotConfigured is returned when no forecast service URL is set.
var ErrNotConfigured = errors.New("forecast service not configured")

// StatusError is returned for upstream responses with status >= 400.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("forecast service error (%d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ErrorResponse represents an error response from the service.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// AnomaliesResponse wraps server-detected anomalies.
type AnomaliesResponse struct {
	Anomalies   []models.Anomaly `json:"anomalies"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// MLRecommendationsResponse wraps model-generated recommendations.
type MLRecommendationsResponse struct {
	Recommendations []models.MLRecommendation `json:"recommendations"`
	ModelVersion    string                    `json:"modelVersion,omitempty"`
}
