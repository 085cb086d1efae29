package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/leadgen-insights/internal/api/handlers"
	"github.com/irfndi/leadgen-insights/internal/logging"
	"github.com/irfndi/leadgen-insights/internal/middleware"
	"github.com/irfndi/leadgen-insights/internal/models"
	"github.com/irfndi/leadgen-insights/internal/services"
)

// stubAnalytics answers every call with a minimal successful result.
type stubAnalytics struct{}

func (stubAnalytics) Forecast(_ context.Context, campaignID string, _ models.MetricKey, _ *int) (*models.ForecastResult, error) {
	return &models.ForecastResult{CampaignID: campaignID, Points: []models.ForecastPoint{}}, nil
}

func (stubAnalytics) Anomalies(context.Context, string) ([]models.Anomaly, error) {
	return []models.Anomaly{}, nil
}

func (stubAnalytics) Recommendations(context.Context, string) ([]models.EnhancedRecommendation, error) {
	return []models.EnhancedRecommendation{}, nil
}

func (stubAnalytics) Cohorts(context.Context, services.CohortRequest) (*models.CohortMatrix, error) {
	return &models.CohortMatrix{}, nil
}

func (stubAnalytics) Export(_ context.Context, campaignID string, _ services.ExportOptions) (*services.ExportResult, error) {
	return &services.ExportResult{
		Format:      services.ExportFormatJSON,
		ContentType: "application/json",
		Filename:    "campaign-" + campaignID + "-analytics.json",
		Body:        []byte(`{}`),
	}, nil
}

func (stubAnalytics) DecodeBundle(context.Context, string) (*models.ShareBundle, error) {
	return &models.ShareBundle{Version: models.BundleVersion1, Snapshots: []models.AggregateSnapshot{}}, nil
}

func (stubAnalytics) Capabilities() map[string]string {
	return map[string]string{}
}

type okChecker struct{}

func (okChecker) HealthCheck(context.Context) error { return nil }

func quietLoggers() (*logging.StandardLogger, *logrus.Logger) {
	errorLogger := logrus.New()
	errorLogger.SetLevel(logrus.PanicLevel)
	return logging.NewStandardLogger("error", "test"), errorLogger
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	logger, errorLogger := quietLoggers()
	SetupRoutes(router, RouteDeps{
		Analytics:   stubAnalytics{},
		Health:      handlers.NewHealthHandler(okChecker{}, okChecker{}, nil, "test"),
		Logger:      logger,
		ErrorLogger: errorLogger,
	})
	return router
}

func TestSetupRoutes_RegistersAPI(t *testing.T) {
	router := newRouter()

	registered := make(map[string]bool)
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	for _, route := range []string{
		"GET /health",
		"HEAD /health",
		"GET /live",
		"GET /api/v1/campaigns/:id/forecast",
		"GET /api/v1/campaigns/:id/anomalies",
		"GET /api/v1/campaigns/:id/recommendations",
		"GET /api/v1/campaigns/:id/export",
		"POST /api/v1/cohorts",
		"POST /api/v1/bundles/decode",
		"GET /api/v1/capabilities",
	} {
		assert.True(t, registered[route], route)
	}
}

func TestSetupRoutes_Serves(t *testing.T) {
	router := newRouter()

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/health", ""},
		{http.MethodGet, "/live", ""},
		{http.MethodGet, "/api/v1/campaigns/c1/forecast", ""},
		{http.MethodGet, "/api/v1/campaigns/c1/anomalies", ""},
		{http.MethodGet, "/api/v1/campaigns/c1/recommendations", ""},
		{http.MethodGet, "/api/v1/campaigns/c1/export", ""},
		{http.MethodPost, "/api/v1/cohorts", `{"campaignIds":["a","b"]}`},
		{http.MethodPost, "/api/v1/bundles/decode", `{"data":"abc"}`},
		{http.MethodGet, "/api/v1/capabilities", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestSetupRoutes_UnknownRoute(t *testing.T) {
	router := newRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/market/prices", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetupRoutes_WithoutHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, RouteDeps{Analytics: stubAnalytics{}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
