package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	Init(logger)
	first := GetRegistry()
	require.NotNil(t, first)

	// Second call must not re-register or replace the registry
	Init(logger)
	assert.Same(t, first, GetRegistry())
}

func TestMetricsEndpoint(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	Init(logger)

	SessionsActive.Set(3)
	AlertsCreated.WithLabelValues("risk_threshold", "high").Inc()
	AlertThreshold.Set(70)

	mux := http.NewServeMux()
	RegisterHandler(mux)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "watchdog_sessions_active"))
	assert.True(t, strings.Contains(body, "watchdog_alerts_created_total"))
	assert.True(t, strings.Contains(body, "watchdog_alert_threshold"))
}
