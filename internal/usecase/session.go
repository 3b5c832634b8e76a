package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/fiapx/fiapx-annotation-service/internal/annotator"
	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/fiapx/fiapx-annotation-service/internal/domain/port"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Annotator interface {
	Annotate(ctx context.Context, req annotator.Request) (*annotator.Result, error)
}

// Session owns the annotator and the record store for the lifetime of a
// process. At most one annotation runs at a time.
type Session struct {
	annotator Annotator
	repo      port.RecordRepository
	logger    *zap.Logger
	running   sync.Mutex
}

func NewSession(a Annotator, repo port.RecordRepository, logger *zap.Logger) *Session {
	return &Session{annotator: a, repo: repo, logger: logger}
}

// AnnotateAndSave annotates the video and persists the result. It fails with
// entity.ErrRunInProgress instead of waiting when another run is active.
func (s *Session) AnnotateAndSave(ctx context.Context, req annotator.Request) (*entity.StoredRecord, error) {
	if !s.running.TryLock() {
		return nil, entity.ErrRunInProgress
	}
	defer s.running.Unlock()

	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	ctx, span := otel.Tracer("usecase").Start(ctx, "Session.AnnotateAndSave")
	defer span.End()
	span.SetAttributes(attribute.String("video.path", req.VideoPath))

	log := s.logger.With(zap.String("video", req.VideoPath))

	annotateStart := time.Now()
	res, err := s.annotator.Annotate(ctx, req)
	if err != nil {
		metrics.RunsProcessedTotal.WithLabelValues("failed").Inc()
		log.Error("annotation failed", zap.Error(err))
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("annotate").Observe(time.Since(annotateStart).Seconds())

	saveStart := time.Now()
	id, err := s.repo.Save(ctx, res.Clip, res.Log, res.Metadata)
	if err != nil {
		metrics.RunsProcessedTotal.WithLabelValues("failed").Inc()
		log.Error("saving annotated clip failed", zap.Error(err))
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("save").Observe(time.Since(saveStart).Seconds())
	metrics.RunsProcessedTotal.WithLabelValues("completed").Inc()

	log.Info("annotated clip saved",
		zap.Int64("record_id", id),
		zap.Int("frames", len(res.Log)),
		zap.Strings("labels", res.Metadata.Labels),
	)

	return &entity.StoredRecord{
		ID:        id,
		ClipData:  res.Clip,
		Log:       res.Log,
		Metadata:  res.Metadata,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (s *Session) List(ctx context.Context) ([]entity.RecordSummary, error) {
	summaries, err := s.repo.LoadSummaries(ctx)
	if err != nil {
		return nil, err
	}
	metrics.StoredRecords.Set(float64(len(summaries)))
	return summaries, nil
}

func (s *Session) Records(ctx context.Context) ([]entity.StoredRecord, error) {
	return s.repo.LoadAll(ctx)
}

func (s *Session) Record(ctx context.Context, id int64) (*entity.StoredRecord, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Session) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteByID(ctx, id); err != nil {
		return err
	}
	s.logger.Info("record deleted", zap.Int64("record_id", id))
	return nil
}

func (s *Session) Close() error {
	return s.repo.Close()
}
