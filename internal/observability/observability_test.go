package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(RequestTotal.WithLabelValues(http.MethodGet, "/orders/{id}", "418"))
	req := httptest.NewRequest(http.MethodGet, "/orders/abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	after := testutil.ToFloat64(RequestTotal.WithLabelValues(http.MethodGet, "/orders/{id}", "418"))
	assert.Equal(t, before+1, after)
}

func TestOTLPHostPort(t *testing.T) {
	assert.Equal(t, "collector:4318", otlpHostPort("collector:4318"))
	assert.Equal(t, "collector:4318", otlpHostPort("http://collector"))
	assert.Equal(t, "collector:9999", otlpHostPort("https://collector:9999/v1/traces"))
}

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	shutdown := InitTracing(context.Background(), "test", "", zap.NewNop())
	require.NotNil(t, shutdown)
	shutdown(context.Background())
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"dev", "prod"} {
		logger, err := NewLogger("test", env)
		require.NoError(t, err)
		logger.Info("hello")
	}
}
