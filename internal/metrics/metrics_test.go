package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMetrics(t *testing.T) {
	m := New(zap.NewNop(), prometheus.NewRegistry())

	m.RecordCodeIssued("TEST")
	m.RecordCodeIssued("TEST")
	m.RecordValidation("valid")
	m.RecordValidation("code_expired")
	m.RecordReferral("TEST", "USD", 12.5)
	m.RecordPayout("manual", "processing")
	m.ObservePayoutSubmit("manual", 0.2)
	m.SetPendingPayouts(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.codesIssued.WithLabelValues("TEST")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.codeValidations.WithLabelValues("code_expired")))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.rewardsEarned.WithLabelValues("USD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payouts.WithLabelValues("manual", "processing")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pendingPayouts))
}

func TestUnknownMetricIgnored(t *testing.T) {
	m := New(zap.NewNop(), prometheus.NewRegistry())

	assert.NotPanics(t, func() {
		m.IncrementCounter("unknown_total", "x")
		m.SetGauge("unknown", 1)
		m.ObserveHistogram("unknown", 1)
	})
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(zap.NewNop(), prometheus.NewRegistry())
	m.RecordCodeIssued("TEST")

	router := gin.New()
	router.GET("/metrics", NewHandler(m, nil, zap.NewNop()).MetricsHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `referral_codes_issued_total{program="TEST"} 1`))
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(zap.NewNop(), prometheus.NewRegistry())

	tests := []struct {
		name   string
		ping   error
		status int
	}{
		{name: "ok", ping: nil, status: http.StatusOK},
		{name: "db down", ping: errors.New("down"), status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(m, pingerFunc(func(context.Context) error { return tt.ping }), zap.NewNop())
			router := gin.New()
			router.GET("/health", h.HealthHandler)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.status, w.Code)
		})
	}
}
