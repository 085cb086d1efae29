package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/irfndi/leadgen-insights/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiRequest struct {
	method    string
	path      string
	status    int
	requestID string
}

// recordingLogger captures API request logs; other methods are not used here.
// embeddedLogger names the embedded field so it does not shadow the Logger() method.
type embeddedLogger = logging.Logger

type recordingLogger struct {
	embeddedLogger
	mu       sync.Mutex
	requests []apiRequest
}

func (r *recordingLogger) LogAPIRequest(method string, path string, statusCode int, duration int64, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, apiRequest{method: method, path: path, status: statusCode, requestID: requestID})
}

// tracedRouter starts a recording span per request so the middleware has one to annotate.
func tracedRouter(t *testing.T) (*gin.Engine, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	router := gin.New()
	router.Use(func(c *gin.Context) {
		ctx, span := provider.Tracer("test").Start(c.Request.Context(), c.Request.URL.Path)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	return router, recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestRequestContext_GeneratesID(t *testing.T) {
	router, recorder := tracedRouter(t)
	router.Use(RequestContext())
	router.GET("/campaigns/:id/forecast", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	req := httptest.NewRequest(http.MethodGet, "/campaigns/camp-9/forecast", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(RequestIDHeader)
	assert.Len(t, id, 36)
	assert.Equal(t, id, w.Body.String())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	v, ok := spanAttr(spans[0], "http.request_id")
	require.True(t, ok)
	assert.Equal(t, id, v.AsString())
	v, ok = spanAttr(spans[0], "campaign.id")
	require.True(t, ok)
	assert.Equal(t, "camp-9", v.AsString())
}

func TestRequestContext_EchoesCallerID(t *testing.T) {
	router, _ := tracedRouter(t)
	router.Use(RequestContext())
	router.GET("/capabilities", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/capabilities", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestRequestContext_MarksServerErrors(t *testing.T) {
	router, recorder := tracedRouter(t)
	router.Use(RequestContext())
	router.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	router.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	for _, path := range []string{"/fail", "/bad"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}

func TestRequestLogger(t *testing.T) {
	rec := &recordingLogger{}
	logger := &logging.StandardLogger{}
	logger.SetLogger(rec)

	router := gin.New()
	router.Use(RequestContext(), RequestLogger(logger))
	router.GET("/campaigns/:id/anomalies", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/live", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/campaigns/c1/anomalies", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	router.ServeHTTP(httptest.NewRecorder(), req)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/live", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	require.Len(t, rec.requests, 2)
	assert.Equal(t, apiRequest{method: http.MethodGet, path: "/campaigns/:id/anomalies", status: http.StatusOK, requestID: "req-1"}, rec.requests[0])
	assert.Equal(t, "/missing", rec.requests[1].path)
	assert.Equal(t, http.StatusNotFound, rec.requests[1].status)
}

func TestRecordError(t *testing.T) {
	router, recorder := tracedRouter(t)
	router.GET("/test", func(c *gin.Context) {
		RecordError(c, errors.New("boom"), "failed")
		c.Status(http.StatusOK)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "failed", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
}

func TestRecordError_NoSpan(t *testing.T) {
	router := gin.New()
	router.GET("/test", func(c *gin.Context) {
		RecordError(c, errors.New("boom"), "failed")
		AddSpanAttribute(c, "key", "value")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAddSpanAttribute(t *testing.T) {
	router, recorder := tracedRouter(t)
	router.GET("/test", func(c *gin.Context) {
		AddSpanAttribute(c, "s", "text")
		AddSpanAttribute(c, "i", 7)
		AddSpanAttribute(c, "i64", int64(8))
		AddSpanAttribute(c, "f", 1.5)
		AddSpanAttribute(c, "b", true)
		AddSpanAttribute(c, "other", []int{1, 2})
		c.Status(http.StatusOK)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	tests := map[string]attribute.Value{
		"s":     attribute.StringValue("text"),
		"i":     attribute.IntValue(7),
		"i64":   attribute.Int64Value(8),
		"f":     attribute.Float64Value(1.5),
		"b":     attribute.BoolValue(true),
		"other": attribute.StringValue("[1 2]"),
	}
	for key, want := range tests {
		got, ok := spanAttr(spans[0], key)
		require.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
}
