package service

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littledevelop/student-teacher-appointment-backend/pkg/jobs"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	m := NewMetricsService()
	for i := 0; i < 19; i++ {
		m.ObserveHTTPRequest(http.MethodGet, "/api/v1/appointments", http.StatusOK, 3*time.Millisecond)
	}
	m.ObserveHTTPRequest(http.MethodPost, "/api/v1/appointments", http.StatusInternalServerError, 2*time.Second)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordEvent("appointment.booked")
	m.RecordEvent("appointment.booked")
	m.RecordEvent("")

	snap := m.Snapshot()
	assert.Equal(t, float64(20), snap.TotalRequests)
	assert.Equal(t, float64(1), snap.ErrorRequests)
	assert.InDelta(t, 0.05, snap.ErrorRate, 1e-9)
	assert.InDelta(t, 2.0/3.0, snap.CacheHitRatio, 1e-9)
	assert.Equal(t, map[string]int64{"appointment.booked": 2}, snap.DomainEvents)
	assert.InDelta(t, 5.0, snap.P95LatencyMS, 1e-9, "19 of 20 requests sit in the 5ms bucket")
}

func TestMetricsServiceP95SlowTail(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodGet, "/slow", http.StatusOK, time.Minute)
	assert.Equal(t, 10000.0, m.Snapshot().P95LatencyMS)

	empty := NewMetricsService()
	assert.Zero(t, empty.Snapshot().P95LatencyMS)
}

func TestMetricsServiceHandlerExposesCollectors(t *testing.T) {
	m := NewMetricsService()
	m.RecordEvent("message.sent")
	m.RecordJobResult(jobs.Job{Type: MailJobType}, nil)
	m.RecordJobResult(jobs.Job{Type: MailJobType}, errors.New("smtp down"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `domain_events_total{event="message.sent"} 1`)
	assert.Contains(t, string(body), `background_jobs_total{outcome="failed",type="mail.send"} 1`)
	assert.Contains(t, string(body), `background_jobs_total{outcome="succeeded",type="mail.send"} 1`)
}

func TestMetricsServiceNilIsSafe(t *testing.T) {
	var m *MetricsService
	m.ObserveHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordEvent("x")
	m.RecordJobResult(jobs.Job{}, nil)

	snap := m.Snapshot()
	assert.Empty(t, snap.DomainEvents)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
