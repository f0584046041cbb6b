package monitor

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorsDoNotCollide(t *testing.T) {
	a := NewMonitor("photoguess")
	b := NewMonitor("photoguess")
	a.IncOnlinePlayers()
	b.IncOnlinePlayers()
	b.IncOnlinePlayers()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.OnlinePlayers))
	assert.Equal(t, 2.0, testutil.ToFloat64(b.metrics.OnlinePlayers))
}

func TestObserveTransitionLabels(t *testing.T) {
	m := NewMonitor("pg")
	m.ObserveTransition("guess", "results", "auto", nil)
	m.ObserveTransition("guess", "results", "auto", errors.New("conflict"))
	m.ObserveTransition("guess", "results", "auto", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.StageTransitions.WithLabelValues("guess", "results", "auto", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.StageTransitions.WithLabelValues("guess", "results", "auto", "error")))
}

func TestNilMonitorIsSafe(t *testing.T) {
	var m *Monitor
	m.IncOnlinePlayers()
	m.ObserveAction("join", time.Now(), nil)
	m.AddPointsAwarded(100)
	assert.Equal(t, int64(0), m.RequestCount())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMonitor("pg")
	m.AddPointsAwarded(200)
	m.IncMessagesReceived()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "pg_points_awarded_total 200"))
	assert.True(t, strings.Contains(body, "pg_uptime_seconds"))
	assert.Equal(t, int64(1), m.RequestCount())
}
