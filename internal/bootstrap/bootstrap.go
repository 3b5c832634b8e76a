// Package bootstrap assembles the annotation session from configuration. It is
// shared by the worker and the CLI.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/fiapx/fiapx-annotation-service/internal/annotator"
	"github.com/fiapx/fiapx-annotation-service/internal/domain/port"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/config"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/detectorhttp"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/ffmpeg"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/postgres"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/sqlite"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/tfdetect"
	"github.com/fiapx/fiapx-annotation-service/internal/usecase"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Runtime holds the session and everything that must be released with it.
type Runtime struct {
	Session *usecase.Session
	Encoder *ffmpeg.Encoder
	closers []func()
}

func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	rt := &Runtime{}

	limits, err := cfg.OutputLimits()
	if err != nil {
		return nil, err
	}

	repo, closeRepo, err := OpenRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeRepo)

	detector, err := NewDetector(cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, func() { detector.Close() })

	source := ffmpeg.NewFrameSource(cfg.FFmpegPath, cfg.FFprobePath, logger)
	rt.Encoder = ffmpeg.NewEncoder(cfg.FFmpegPath, cfg.FFmpegCodec, cfg.FFmpegFormat, logger)

	a := annotator.New(source, rt.Encoder, detector, logger, annotator.WithLimits(limits))
	rt.Session = usecase.NewSession(a, repo, logger)
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// OpenRepository opens the record store selected by STORE_BACKEND and runs
// its schema guard.
func OpenRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.RecordRepository, func(), error) {
	switch cfg.StoreBackend {
	case "sqlite":
		store, err := sqlite.EnsureSchema(ctx, sqlite.Options{
			Path:              cfg.StorePath,
			Collection:        cfg.StoreCollection,
			Version:           cfg.StoreSchemaVersion,
			DestructiveRepair: cfg.StoreDestructiveRepair,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store, err := postgres.NewRecordStore(ctx, pool, postgres.Options{
			Collection:        cfg.StoreCollection,
			Version:           cfg.StoreSchemaVersion,
			DestructiveRepair: cfg.StoreDestructiveRepair,
		}, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// NewDetector loads the detector selected by DETECTOR_BACKEND.
func NewDetector(cfg *config.Config, logger *zap.Logger) (port.Detector, error) {
	switch cfg.DetectorBackend {
	case "tflite":
		d, err := tfdetect.NewDetector(tfdetect.Options{
			ModelPath:  cfg.DetectorModelPath,
			LabelsPath: cfg.DetectorLabelsPath,
			MinScore:   cfg.DetectorMinScore,
			MaxBoxes:   cfg.DetectorMaxBoxes,
			Threads:    cfg.DetectorThreads,
		}, logger)
		if err != nil {
			return nil, err
		}
		return d, nil

	case "http":
		return detectorhttp.NewClient(detectorhttp.Options{
			Endpoint: cfg.DetectorURL,
			Timeout:  cfg.DetectorTimeout,
			MinScore: cfg.DetectorMinScore,
			MaxBoxes: cfg.DetectorMaxBoxes,
		}, nil, logger), nil

	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.DetectorBackend)
	}
}
