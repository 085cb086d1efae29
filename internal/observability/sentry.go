package observability

import (
	"context"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/irfndi/leadgen-insights/internal/config"
)

// SpanOperation constants for consistent span naming
const (
	SpanOpHTTPServer     = "http.server"
	SpanOpHTTPClient     = "http.client"
	SpanOpDBQuery        = "db.query"
	SpanOpCacheGet       = "cache.get"
	SpanOpCacheSet       = "cache.set"
	SpanOpForecast       = "analytics.forecast"
	SpanOpForecastWorker = "analytics.forecast.worker"
	SpanOpAnomaly        = "analytics.anomaly"
	SpanOpRecommendation = "analytics.recommendations"
	SpanOpCohort         = "analytics.cohort"
	SpanOpExport         = "analytics.export"
	SpanOpNotification   = "notification.send"
)

// InitSentry configures the Sentry SDK using application config.
func InitSentry(cfg config.SentryConfig, fallbackRelease string, fallbackEnv string) error {
	if !cfg.Enabled || cfg.DSN == "" {
		return nil
	}

	release := cfg.Release
	if release == "" {
		release = fallbackRelease
	}

	environment := cfg.Environment
	if environment == "" {
		environment = fallbackEnv
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      environment,
		Release:          release,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			if event.Tags == nil {
				event.Tags = map[string]string{}
			}
			event.Tags["go_version"] = runtime.Version()
			return event
		},
	})
}

// Flush drains buffered Sentry events within the provided context deadline.
func Flush(ctx context.Context) {
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout < 0 {
			timeout = 0
		}
	}
	sentry.Flush(timeout)
}

// CaptureException sends an exception to Sentry, using the hub in context when available.
func CaptureException(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// CaptureExceptionWithContext sends an exception tagged with the failing operation.
func CaptureExceptionWithContext(ctx context.Context, err error, operation string, extra map[string]interface{}) {
	if err == nil {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("operation", operation)
		scope.SetLevel(sentry.LevelError)
		for k, v := range extra {
			scope.SetExtra(k, v)
		}
		hub.CaptureException(err)
	})
}

// AddBreadcrumb records a breadcrumb on the current scope.
func AddBreadcrumb(ctx context.Context, category string, message string, data map[string]interface{}) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Level:     sentry.LevelInfo,
		Data:      data,
		Timestamp: time.Now(),
	}, nil)
}

// StartSpan creates a new Sentry span. The caller must finish it with FinishSpan.
func StartSpan(ctx context.Context, operation string, description string) (context.Context, *sentry.Span) {
	span := sentry.StartSpan(ctx, operation)
	span.Description = description
	return span.Context(), span
}

// StartSpanWithTags creates a new Sentry span with tags.
func StartSpanWithTags(ctx context.Context, operation string, description string, tags map[string]string) (context.Context, *sentry.Span) {
	span := sentry.StartSpan(ctx, operation)
	span.Description = description
	for k, v := range tags {
		span.SetTag(k, v)
	}
	return span.Context(), span
}

// FinishSpan completes a span and optionally records an error.
func FinishSpan(span *sentry.Span, err error) {
	if span == nil {
		return
	}

	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		span.SetTag("error", "true")
		span.SetData("error.message", err.Error())
	} else {
		span.Status = sentry.SpanStatusOK
	}

	span.Finish()
}
