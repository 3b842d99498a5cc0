package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustRegister_NoDuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	assert.NotPanics(t, func() { m.MustRegister(reg) })
}

func TestServer_HealthzReportsOK(t *testing.T) {
	reg := prometheus.NewRegistry()
	New().MustRegister(reg)

	srv := NewServer("127.0.0.1:0", reg)
	handler := srv.httpServer.Handler

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_MetricsExposesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	m.MustRegister(reg)
	m.ChannelsLive.Set(3)

	srv := NewServer("127.0.0.1:0", reg)
	handler := srv.httpServer.Handler

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chzzkrecd_channels_live 3")
}
