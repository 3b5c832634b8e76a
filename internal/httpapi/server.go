// Package httpapi exposes annotation runs and stored records over REST.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fiapx/fiapx-annotation-service/internal/annotator"
	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/fiapx/fiapx-annotation-service/internal/domain/port"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Annotations is the part of usecase.Session the API drives.
type Annotations interface {
	AnnotateAndSave(ctx context.Context, req annotator.Request) (*entity.StoredRecord, error)
	List(ctx context.Context) ([]entity.RecordSummary, error)
	Record(ctx context.Context, id int64) (*entity.StoredRecord, error)
	Delete(ctx context.Context, id int64) error
}

type Config struct {
	DefaultResolution entity.Resolution
	DefaultFPS        int
	MaxUploadMB       int64
	TempDir           string
	ClipContentType   string
}

type Server struct {
	echo        *echo.Echo
	annotations Annotations
	bundler     port.Bundler
	cfg         Config
	logger      *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type listResponse struct {
	Records []entity.RecordSummary `json:"records"`
	Error   string                 `json:"error,omitempty"`
}

func NewServer(annotations Annotations, bundler port.Bundler, cfg Config, logger *zap.Logger) *Server {
	if cfg.ClipContentType == "" {
		cfg.ClipContentType = "video/webm"
	}
	if cfg.DefaultFPS < 1 {
		cfg.DefaultFPS = 10
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, annotations: annotations, bundler: bundler, cfg: cfg, logger: logger}

	e.Use(middleware.Recover())
	e.Use(s.requestLogger())
	if cfg.MaxUploadMB > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMB)))
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := s.echo.Group("/api/v1/annotations")
	g.POST("", s.createAnnotation)
	g.GET("", s.listAnnotations)
	g.GET("/:id/log", s.downloadLog)
	g.GET("/:id/video", s.downloadVideo)
	g.GET("/:id/preview", s.previewVideo)
	g.GET("/:id/export", s.exportBundle)
	g.DELETE("/:id", s.deleteAnnotation)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			s.logger.Info("request", fields...)
			return nil
		},
	})
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("http api starting", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, entity.ErrLoad):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func errorJSON(c echo.Context, err error) error {
	return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
}
