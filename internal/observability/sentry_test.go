package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/leadgen-insights/internal/config"
)

func TestInitSentry_DisabledIsNoop(t *testing.T) {
	assert.NoError(t, InitSentry(config.SentryConfig{Enabled: false}, "1.0.0", "test"))
	assert.NoError(t, InitSentry(config.SentryConfig{Enabled: true, DSN: ""}, "1.0.0", "test"))
}

func TestStartSpanWithTags(t *testing.T) {
	ctx, span := StartSpanWithTags(context.Background(), SpanOpForecast, "forecast successRate", map[string]string{
		"campaign_id": "c1",
	})
	require.NotNil(t, span)
	assert.NotNil(t, ctx)
	assert.Equal(t, SpanOpForecast, span.Op)
	assert.Equal(t, "forecast successRate", span.Description)
	assert.Equal(t, "c1", span.Tags["campaign_id"])

	FinishSpan(span, nil)
	assert.Equal(t, sentry.SpanStatusOK, span.Status)
}

func TestFinishSpan_RecordsError(t *testing.T) {
	_, span := StartSpan(context.Background(), SpanOpExport, "export")
	FinishSpan(span, errors.New("too large"))

	assert.Equal(t, sentry.SpanStatusInternalError, span.Status)
	assert.Equal(t, "true", span.Tags["error"])
	assert.Equal(t, "too large", span.Data["error.message"])
}

func TestFinishSpan_Nil(t *testing.T) {
	assert.NotPanics(t, func() { FinishSpan(nil, errors.New("x")) })
}

func TestCaptureHelpers_NilErrorIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		CaptureException(context.Background(), nil)
		CaptureExceptionWithContext(context.Background(), nil, "forecast", nil)
	})
}

func TestCaptureExceptionWithContext_UsesScope(t *testing.T) {
	assert.NotPanics(t, func() {
		CaptureExceptionWithContext(context.Background(), errors.New("boom"), "export", map[string]interface{}{
			"bytes": 1024,
		})
		AddBreadcrumb(context.Background(), "forecast", "strategy fallback", map[string]interface{}{"from": "server"})
	})
}

func TestFlush_RespectsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.NotPanics(t, func() { Flush(ctx) })
}
