package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/models"
	"github.com/irfndi/leadgen-insights/internal/services"
	"github.com/irfndi/leadgen-insights/internal/utils"
)

// AnalyticsService is the part of services.AnalyticsService the handlers use.
type AnalyticsService interface {
	Forecast(ctx context.Context, campaignID string, metric models.MetricKey, horizon *int) (*models.ForecastResult, error)
	Anomalies(ctx context.Context, campaignID string) ([]models.Anomaly, error)
	Recommendations(ctx context.Context, campaignID string) ([]models.EnhancedRecommendation, error)
	Cohorts(ctx context.Context, req services.CohortRequest) (*models.CohortMatrix, error)
	Export(ctx context.Context, campaignID string, opts services.ExportOptions) (*services.ExportResult, error)
	DecodeBundle(ctx context.Context, data string) (*models.ShareBundle, error)
	Capabilities() map[string]string
}

type AnalyticsHandler struct {
	service AnalyticsService
	logger  *logrus.Logger
}

type AnomaliesResponse struct {
	CampaignID string           `json:"campaignId"`
	Anomalies  []models.Anomaly `json:"anomalies"`
	Count      int              `json:"count"`
	Timestamp  time.Time        `json:"timestamp"`
}

type RecommendationsResponse struct {
	CampaignID      string                          `json:"campaignId"`
	Recommendations []models.EnhancedRecommendation `json:"recommendations"`
	Count           int                             `json:"count"`
	Timestamp       time.Time                       `json:"timestamp"`
}

type BundleResponse struct {
	Version  string `json:"version"`
	Data     string `json:"data"`
	ShareURL string `json:"shareUrl,omitempty"`
}

type DecodeBundleRequest struct {
	Data string `json:"data" binding:"required"`
}

func NewAnalyticsHandler(service AnalyticsService, logger *logrus.Logger) *AnalyticsHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AnalyticsHandler{service: service, logger: logger}
}

// GetForecast handles GET /campaigns/:id/forecast?metric=&horizon=
func (h *AnalyticsHandler) GetForecast(c *gin.Context) {
	var horizon *int
	if raw := c.Query("horizon"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, h.logger, utils.NewFieldError("horizon", "must be an integer, got %q", raw))
			return
		}
		horizon = &v
	}

	result, err := h.service.Forecast(c.Request.Context(), c.Param("id"), models.MetricKey(c.Query("metric")), horizon)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetAnomalies handles GET /campaigns/:id/anomalies
func (h *AnalyticsHandler) GetAnomalies(c *gin.Context) {
	campaignID := c.Param("id")
	anomalies, err := h.service.Anomalies(c.Request.Context(), campaignID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, AnomaliesResponse{
		CampaignID: campaignID,
		Anomalies:  anomalies,
		Count:      len(anomalies),
		Timestamp:  time.Now().UTC(),
	})
}

// GetRecommendations handles GET /campaigns/:id/recommendations
func (h *AnalyticsHandler) GetRecommendations(c *gin.Context) {
	campaignID := c.Param("id")
	recs, err := h.service.Recommendations(c.Request.Context(), campaignID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, RecommendationsResponse{
		CampaignID:      campaignID,
		Recommendations: recs,
		Count:           len(recs),
		Timestamp:       time.Now().UTC(),
	})
}

// PostCohorts handles POST /cohorts
func (h *AnalyticsHandler) PostCohorts(c *gin.Context) {
	var req services.CohortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, utils.NewValidationErrorf("invalid request body: %v", err))
		return
	}

	matrix, err := h.service.Cohorts(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, matrix)
}

// GetExport handles GET /campaigns/:id/export?format=json|csv|bundle&include=forecast,cohorts,capabilities&cohort=a,b
func (h *AnalyticsHandler) GetExport(c *gin.Context) {
	opts := services.ExportOptions{
		Format:            c.DefaultQuery("format", services.ExportFormatJSON),
		CohortCampaignIDs: splitList(c.Query("cohort")),
		ShareBaseURL:      c.Query("shareBase"),
	}
	for _, section := range splitList(c.Query("include")) {
		switch strings.ToLower(section) {
		case "forecast":
			opts.IncludeForecast = true
		case "cohorts":
			opts.IncludeCohorts = true
		case "capabilities":
			opts.IncludeCapabilities = true
		default:
			respondError(c, h.logger, utils.NewFieldError("include", "unknown section %q", section))
			return
		}
	}

	result, err := h.service.Export(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if result.Format == services.ExportFormatBundle {
		c.JSON(http.StatusOK, BundleResponse{
			Version:  result.Bundle.Version,
			Data:     string(result.Body),
			ShareURL: result.ShareURL,
		})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Body)
}

// PostDecodeBundle handles POST /bundles/decode
func (h *AnalyticsHandler) PostDecodeBundle(c *gin.Context) {
	var req DecodeBundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, utils.NewFieldError("data", "is required"))
		return
	}

	bundle, err := h.service.DecodeBundle(c.Request.Context(), req.Data)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

// GetCapabilities handles GET /capabilities
func (h *AnalyticsHandler) GetCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"capabilities": h.service.Capabilities()})
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
