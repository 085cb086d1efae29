package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/api/handlers"
	"github.com/irfndi/leadgen-insights/internal/logging"
	"github.com/irfndi/leadgen-insights/internal/middleware"
)

// RouteDeps carries everything the HTTP surface needs.
type RouteDeps struct {
	Analytics handlers.AnalyticsService
	Health    *handlers.HealthHandler
	// Logger writes the access log; ErrorLogger records failed requests.
	Logger      *logging.StandardLogger
	ErrorLogger *logrus.Logger
}

func SetupRoutes(router *gin.Engine, deps RouteDeps) {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewStandardLogger("info", "")
	}
	router.Use(middleware.RequestContext(), middleware.RequestLogger(logger))

	// Health check endpoints
	if deps.Health != nil {
		router.GET("/health", deps.Health.HealthCheck)
		router.HEAD("/health", deps.Health.HealthCheck)
		router.GET("/live", deps.Health.LivenessCheck)
	}

	analytics := handlers.NewAnalyticsHandler(deps.Analytics, deps.ErrorLogger)

	v1 := router.Group("/api/v1")
	{
		campaigns := v1.Group("/campaigns/:id")
		{
			campaigns.GET("/forecast", analytics.GetForecast)
			campaigns.GET("/anomalies", analytics.GetAnomalies)
			campaigns.GET("/recommendations", analytics.GetRecommendations)
			campaigns.GET("/export", analytics.GetExport)
		}

		v1.POST("/cohorts", analytics.PostCohorts)
		v1.POST("/bundles/decode", analytics.PostDecodeBundle)
		v1.GET("/capabilities", analytics.GetCapabilities)
	}
}
