package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHealthzAndMetrics(t *testing.T) {
	srv := NewServer(context.Background(), 0, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	FramesSampledTotal.Inc()
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "annotator_frames_sampled_total")
}

func TestReadyz(t *testing.T) {
	healthy := ReadinessCheck{Name: "store", Check: func(context.Context) error { return nil }}
	broken := ReadinessCheck{Name: "rabbitmq", Check: func(context.Context) error { return errors.New("connection closed") }}

	rec := httptest.NewRecorder()
	NewServer(context.Background(), 0, zap.NewNop(), healthy).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewServer(context.Background(), 0, zap.NewNop(), healthy, broken).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"ready":false,"failures":{"rabbitmq":"connection closed"}}`, rec.Body.String())
}
