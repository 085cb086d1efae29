package forecastapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/config"
	"github.com/irfndi/leadgen-insights/internal/models"
)

const userAgent = "Leadgen-Insights-Go/1.0"

// Client talks to the upstream forecast/ML service over HTTP JSON.
type Client struct {
	HTTPClient *http.Client
	baseURL    string
	logger     *logrus.Logger
}

// NewClient creates a forecast service client. An empty base URL yields a
// client that is not Enabled.
func NewClient(cfg config.ForecastServiceConfig, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:     logger,
	}
}

// Enabled reports whether an upstream base URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// BaseURL returns the base URL of the forecast service.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HealthCheck checks if the forecast service is healthy.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var response HealthResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/health", nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// FetchForecast retrieves the server forecast for a campaign metric.
func (c *Client) FetchForecast(ctx context.Context, campaignID string, metric models.MetricKey, horizon int) (*models.ServerForecast, error) {
	params := url.Values{}
	params.Set("horizon", strconv.Itoa(horizon))
	if metric != "" {
		params.Set("metric", string(metric))
	}
	path := fmt.Sprintf("/campaigns/%s/forecast?%s", url.PathEscape(campaignID), params.Encode())

	var response models.ServerForecast
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// FetchAnomalies retrieves server-detected anomalies for a campaign.
func (c *Client) FetchAnomalies(ctx context.Context, campaignID string) ([]models.Anomaly, error) {
	path := fmt.Sprintf("/campaigns/%s/anomalies", url.PathEscape(campaignID))

	var response AnomaliesResponse
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	for i := range response.Anomalies {
		response.Anomalies[i].Source = models.AnomalySourceServer
	}
	return response.Anomalies, nil
}

// FetchMLRecommendations retrieves model-generated recommendations for a campaign.
func (c *Client) FetchMLRecommendations(ctx context.Context, campaignID string) ([]models.MLRecommendation, error) {
	path := fmt.Sprintf("/campaigns/%s/recommendations/ml", url.PathEscape(campaignID))

	var response MLRecommendationsResponse
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Recommendations, nil
}

// makeRequest is a helper method to make HTTP requests to the forecast service
func (c *Client) makeRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Debug("Error closing response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var errorResp ErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error != "" {
			statusErr.Message = errorResp.Error
		}
		return statusErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
