package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether a dependency the worker needs is usable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server exposes /metrics, /healthz (liveness) and /readyz, which runs every
// registered ReadinessCheck.
type Server struct {
	srv    *http.Server
	checks []ReadinessCheck
	logger *zap.Logger
}

func NewServer(ctx context.Context, port int, logger *zap.Logger, checks ...ReadinessCheck) *Server {
	s := &Server{checks: checks, logger: logger}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", s.ready)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves in the background; listen errors are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server starting", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := map[string]string{}
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			failures[c.Name] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"ready": false, "failures": failures})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ready": true})
}
