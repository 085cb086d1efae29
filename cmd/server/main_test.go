package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/leadgen-insights/internal/api"
	"github.com/irfndi/leadgen-insights/internal/api/handlers"
	"github.com/irfndi/leadgen-insights/internal/config"
	"github.com/irfndi/leadgen-insights/internal/models"
	"github.com/irfndi/leadgen-insights/internal/services"
	"github.com/irfndi/leadgen-insights/internal/telemetry"
)

type memoryStore map[string][]models.AggregateSnapshot

func (m memoryStore) ListSnapshots(_ context.Context, campaignID string, _ int) ([]models.AggregateSnapshot, error) {
	return m[campaignID], nil
}

func (m memoryStore) ListCampaignSnapshots(_ context.Context, campaignIDs []string) (map[string][]models.AggregateSnapshot, error) {
	out := make(map[string][]models.AggregateSnapshot, len(campaignIDs))
	for _, id := range campaignIDs {
		out[id] = m[id]
	}
	return out, nil
}

func dailySnapshots(n int) []models.AggregateSnapshot {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]models.AggregateSnapshot, n)
	for i := range out {
		out[i] = models.AggregateSnapshot{
			ID:        "snap-" + string(rune('a'+i)),
			Timestamp: start.AddDate(0, 0, i),
			Aggregates: map[models.MetricKey]float64{
				models.MetricSuccessRate: 0.5 + float64(i%4)*0.01,
				models.MetricLeadsCount:  float64(100 + i),
			},
		}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		LogLevel:    "error",
		Server:      config.ServerConfig{Port: 9090},
		Telemetry: config.TelemetryConfig{
			ServiceName:    "leadgen-insights-test",
			ServiceVersion: "0.0.1",
		},
		Analytics: config.AnalyticsConfig{
			Forecast: config.ForecastConfig{
				Enabled:         true,
				DefaultHorizon:  7,
				CustomHorizon:   true,
				Method:          "ses",
				Alpha:           0.3,
				Beta:            0.1,
				Gamma:           0.1,
				SeasonLength:    7,
				MinPoints:       8,
				WorkerThreshold: 400,
				WorkerTimeout:   5 * time.Second,
				ServerTimeout:   time.Second,
				Resolution:      "client",
				CacheTTL:        time.Minute,
			},
			Anomaly: config.AnomalyConfig{
				Enabled:           true,
				RollingWindowSize: 10,
				ZThreshold:        2,
				MinSnapshots:      5,
			},
			Recommendations: config.RecommendationsConfig{MaxItems: 10, MLShare: 0.7},
			Export:          config.ExportConfig{Enabled: true, ResolutionLogCapacity: 50},
			Cohort:          config.CohortConfig{MaxDaySpread: 90, MinCampaigns: 2},
		},
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestApplication(t *testing.T, cacheClient *redis.Client) *application {
	t.Helper()
	store := memoryStore{"camp-1": dailySnapshots(20), "camp-2": dailySnapshots(12)}
	app := newApplication(testConfig(), store, cacheClient, telemetry.NopEmitter{}, quietLogger(), nil)
	t.Cleanup(app.worker.CancelAll)
	return app
}

func TestLogLevel(t *testing.T) {
	cfg := &config.Config{}
	assert.Equal(t, "info", logLevel(cfg))

	cfg.LogLevel = "warn"
	assert.Equal(t, "warn", logLevel(cfg))

	cfg.Telemetry.LogLevel = "debug"
	assert.Equal(t, "debug", logLevel(cfg))
}

func TestTelemetryConfig(t *testing.T) {
	cfg := testConfig()
	tc := telemetryConfig(cfg)
	assert.False(t, tc.Enabled)
	assert.Equal(t, "leadgen-insights-test", tc.ServiceName)
	assert.Equal(t, "0.0.1", tc.ServiceVersion)
	assert.Equal(t, telemetry.DefaultConfig().OTLPEndpoint, tc.OTLPEndpoint)
	assert.Equal(t, "test", tc.Environment)

	cfg.Telemetry.OTLPEndpoint = "http://collector:4318"
	cfg.Telemetry.Enabled = true
	lc := otlpLoggerConfig(cfg)
	assert.True(t, lc.Enabled)
	assert.Equal(t, "http://collector:4318", lc.Endpoint)
	assert.Equal(t, "error", lc.LogLevel)
}

func TestNewHTTPServer(t *testing.T) {
	srv := newHTTPServer(testConfig(), http.NewServeMux())
	assert.Equal(t, ":9090", srv.Addr)
	assert.Equal(t, 10*time.Second, srv.ReadTimeout)
	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, minWriteTimeout, srv.WriteTimeout)
}

func TestNewHTTPServer_WriteTimeoutCoversForecastChain(t *testing.T) {
	cfg := testConfig()
	cfg.Analytics.Forecast.ServerTimeout = 15 * time.Second
	cfg.Analytics.Forecast.ServerRetries = 2
	cfg.Analytics.Forecast.ServerBudget = 20 * time.Second
	cfg.Analytics.Forecast.WorkerTimeout = 30 * time.Second

	srv := newHTTPServer(cfg, http.NewServeMux())
	assert.Equal(t, 60*time.Second, srv.WriteTimeout)
	assert.Greater(t, srv.WriteTimeout, cfg.Analytics.Forecast.ChainTimeout())

	cfg.Analytics.Forecast.ServerBudget = 0
	srv = newHTTPServer(cfg, http.NewServeMux())
	assert.Equal(t, 85*time.Second, srv.WriteTimeout)
}

func TestNewApplication_CachesForecasts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	app := newTestApplication(t, client)
	require.NotNil(t, app.cache)
	assert.False(t, app.forecastClient.Enabled())
	assert.False(t, app.notifier.Enabled())

	result, err := app.analytics.Forecast(context.Background(), "camp-1", models.MetricSuccessRate, nil)
	require.NoError(t, err)
	assert.Len(t, result.Points, 7)
	assert.Equal(t, models.ForecastMethodClient, result.Method)

	_, err = app.analytics.Forecast(context.Background(), "camp-1", models.MetricSuccessRate, nil)
	require.NoError(t, err)

	stats := app.cache.GetStats()
	assert.EqualValues(t, 1, stats.Sets)
	assert.EqualValues(t, 1, stats.Hits)
}

func TestNewApplication_WithoutRedis(t *testing.T) {
	app := newTestApplication(t, nil)
	assert.Nil(t, app.cache)

	result, err := app.analytics.Forecast(context.Background(), "camp-1", models.MetricLeadsCount, nil)
	require.NoError(t, err)
	assert.Len(t, result.Points, 7)
}

func TestNewApplication_UpstreamConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.ForecastService.BaseURL = "http://forecast.internal/api/v2"
	app := newApplication(cfg, memoryStore{}, nil, nil, quietLogger(), nil)
	t.Cleanup(app.worker.CancelAll)

	assert.True(t, app.forecastClient.Enabled())
	assert.Equal(t, services.Closed, app.breaker.GetState())
}

func TestNewRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	app := newTestApplication(t, nil)

	health := handlers.NewHealthHandler(nil, nil, app.forecastClient, "0.0.1")
	router := newRouter(testConfig(), api.RouteDeps{Analytics: app.analytics, Health: health, ErrorLogger: quietLogger()})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/camp-1/forecast?horizon=3", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"horizon":3`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/camp-1/export?format=csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "campaign-camp-1-analytics.csv")
}
