package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/observability"
	"github.com/irfndi/leadgen-insights/internal/services"
	"github.com/irfndi/leadgen-insights/internal/utils"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrFeatureDisabled):
		return http.StatusForbidden, "feature_disabled"
	case services.IsMalformedBundle(err):
		return http.StatusBadRequest, "malformed_bundle"
	case utils.IsValidationError(err):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, services.ErrBundleTooLarge):
		return http.StatusRequestEntityTooLarge, "bundle_too_large"
	case errors.Is(err, services.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError writes err with its mapped status. Internal errors are
// reported to Sentry and hidden from the client.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status, code := statusFor(err)
	message := err.Error()

	if status == http.StatusInternalServerError {
		observability.CaptureExceptionWithContext(c.Request.Context(), err, c.FullPath(), map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		})
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			}).Error("Request failed")
		}
		message = "internal server error"
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: message, Code: code})
}
