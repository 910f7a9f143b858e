package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jrjohn/arcana-request-queue/internal/middleware"
	"github.com/jrjohn/arcana-request-queue/internal/requestqueue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func withSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestTracingMiddleware_QueueSpansAreChildren(t *testing.T) {
	sr := withSpanRecorder(t)

	q := requestqueue.New(requestqueue.DefaultConfig(), requestqueue.WithTracer(otel.Tracer("test")))
	router := gin.New()
	router.Use(TracingMiddleware("test-service"))
	router.GET("/work", func(c *gin.Context) {
		v, err := q.Do(c.Request.Context(), "work", func(context.Context) (any, error) { return "done", nil })
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Header(middleware.RequestIDHeader, "req-1")
		c.String(http.StatusOK, v.(string))
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/work", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	var server, attempt sdktrace.ReadOnlySpan
	for _, s := range spans {
		if s.Name() == "/work" {
			server = s
		} else {
			attempt = s
		}
	}
	require.NotNil(t, server)
	require.NotNil(t, attempt)
	assert.Equal(t, "requestqueue.execute", attempt.Name())
	assert.Equal(t, server.SpanContext().SpanID(), attempt.Parent().SpanID())
	assert.Equal(t, codes.Ok, server.Status().Code)

	var foundID bool
	for _, kv := range server.Attributes() {
		if kv.Key == AttrRequestID {
			foundID = kv.Value.AsString() == "req-1"
		}
	}
	assert.True(t, foundID)
}

func TestTracingMiddleware_ServerErrorStatus(t *testing.T) {
	sr := withSpanRecorder(t)

	router := gin.New()
	router.Use(TracingMiddleware("test-service"))
	router.GET("/fail", func(c *gin.Context) {
		c.Status(http.StatusBadGateway)
	})
	router.GET("/missing", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	for _, path := range []string{"/fail", "/missing"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	}

	spans := sr.Ended()
	require.Len(t, spans, 2)
	for _, s := range spans {
		if strings.HasSuffix(s.Name(), "fail") {
			assert.Equal(t, codes.Error, s.Status().Code)
		} else {
			assert.Equal(t, codes.Ok, s.Status().Code)
		}
	}
}

func TestMetricsMiddleware(t *testing.T) {
	mp := newEnabledProvider(t, "test-http-metrics")

	router := gin.New()
	router.Use(MetricsMiddleware(mp))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ping", nil))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	body := scrape(t, mp)
	assert.Contains(t, body, "http_requests_total")
	assert.Contains(t, body, `http_route="/ping"`)
	assert.Contains(t, body, `http_route="unmatched"`)
}
