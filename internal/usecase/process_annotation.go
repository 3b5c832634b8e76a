package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/fiapx/fiapx-annotation-service/internal/annotator"
	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/fiapx/fiapx-annotation-service/internal/domain/port"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/export"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ProcessAnnotationUseCase handles one annotation request from the queue.
// Runs are never retried: a failed run is reported and dead-lettered.
type ProcessAnnotationUseCase struct {
	session           *Session
	storage           port.VideoStorage
	publisher         port.StatusPublisher
	dlq               port.DLQPublisher
	notifier          port.FailureNotifier
	logger            *zap.Logger
	tempDir           string
	defaultResolution entity.Resolution
	defaultFPS        int
	limits            entity.OutputLimits
	clipContentType   string
}

type ProcessAnnotationConfig struct {
	TempDir           string
	DefaultResolution entity.Resolution
	DefaultFPS        int
	// Limits defaults to entity.DefaultOutputLimits.
	Limits            entity.OutputLimits
	ClipContentType   string
}

func NewProcessAnnotationUseCase(
	session *Session,
	storage port.VideoStorage,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ProcessAnnotationConfig,
) *ProcessAnnotationUseCase {
	if cfg.ClipContentType == "" {
		cfg.ClipContentType = "video/webm"
	}
	if cfg.Limits == (entity.OutputLimits{}) {
		cfg.Limits = entity.DefaultOutputLimits
	}
	return &ProcessAnnotationUseCase{
		session:           session,
		storage:           storage,
		publisher:         publisher,
		dlq:               dlq,
		notifier:          notifier,
		logger:            logger,
		tempDir:           cfg.TempDir,
		defaultResolution: cfg.DefaultResolution,
		defaultFPS:        cfg.DefaultFPS,
		limits:            cfg.Limits,
		clipContentType:   cfg.ClipContentType,
	}
}

func (uc *ProcessAnnotationUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessAnnotationUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.AnnotationRequestMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		metrics.RunsProcessedTotal.WithLabelValues("dlq").Inc()
		return nil
	}

	res, fps, resolveErr := uc.resolveOutput(msg)
	run := entity.NewRun(msg.RunID, msg.UserID, msg.VideoKey, res, fps)

	span.SetAttributes(
		attribute.String("run.id", run.ID.String()),
		attribute.String("run.video_key", msg.VideoKey),
	)
	log := uc.logger.With(zap.String("run_id", run.ID.String()), zap.String("video_key", msg.VideoKey))

	if resolveErr != nil {
		return uc.handleFailure(ctx, run, msg, rawMsg, "invalid_request: "+resolveErr.Error(), log)
	}

	run.MarkProcessing()
	uc.publishStatus(ctx, run, log)

	if errMsg := uc.runPipeline(ctx, run, msg, log); errMsg != "" {
		return uc.handleFailure(ctx, run, msg, rawMsg, errMsg, log)
	}

	metrics.StageDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())
	return nil
}

func (uc *ProcessAnnotationUseCase) resolveOutput(msg entity.AnnotationRequestMessage) (entity.Resolution, int, error) {
	res := uc.defaultResolution
	if msg.Resolution != "" {
		parsed, err := entity.ParseResolution(msg.Resolution)
		if err != nil {
			return res, 0, err
		}
		res = parsed
	}

	fps := msg.SamplesPerSecond
	if fps == 0 {
		fps = uc.defaultFPS
	}
	if fps < 1 {
		return res, fps, fmt.Errorf("%w: samples per second must be positive, got %d", entity.ErrInvalidRequest, fps)
	}
	if err := uc.limits.Check(res.Width, res.Height, fps); err != nil {
		return res, fps, err
	}
	return res, fps, nil
}

// runPipeline returns a failure description, or "" when the run completed.
func (uc *ProcessAnnotationUseCase) runPipeline(
	ctx context.Context,
	run *entity.Run,
	msg entity.AnnotationRequestMessage,
	log *zap.Logger,
) string {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.tempDir, run.ID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "create_workdir: " + err.Error()
	}
	defer os.RemoveAll(workDir)

	dlStart := time.Now()
	dlCtx, spanDl := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, "source"+path.Ext(msg.VideoKey))
	if err := uc.storage.DownloadVideo(dlCtx, msg.VideoKey, videoPath); err != nil {
		spanDl.End()
		log.Error("failed to download video", zap.Error(err))
		return "download_video: " + err.Error()
	}
	spanDl.End()
	metrics.StageDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	record, err := uc.session.AnnotateAndSave(ctx, annotator.Request{
		VideoPath:        videoPath,
		Width:            run.Resolution.Width,
		Height:           run.Resolution.Height,
		SamplesPerSecond: run.SamplesPerSecond,
	})
	if err != nil {
		return "annotate: " + err.Error()
	}
	run.MarkCompleted(*record)

	upStart := time.Now()
	upCtx, spanUp := tracer.Start(ctx, "upload_artifacts")
	logKey, clipKey, err := uc.uploadArtifacts(upCtx, run.ID.String(), record)
	spanUp.End()
	if err != nil {
		log.Error("artifact upload failed", zap.Error(err))
		return "upload_artifacts: " + err.Error()
	}
	metrics.StageDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())
	run.MarkExported(logKey, clipKey)

	uc.publishStatus(ctx, run, log)

	log.Info("run completed successfully",
		zap.Int64("record_id", run.RecordID),
		zap.Int("frame_count", run.FrameCount),
		zap.Float64("duration_secs", run.VideoDuration),
		zap.String("clip_key", clipKey),
	)
	return ""
}

func (uc *ProcessAnnotationUseCase) uploadArtifacts(ctx context.Context, prefix string, record *entity.StoredRecord) (string, string, error) {
	logData, err := export.LogJSON(record.Log)
	if err != nil {
		return "", "", err
	}

	logKey := path.Join(prefix, export.LogFileName)
	if err := uc.storage.UploadArtifact(ctx, logKey, bytes.NewReader(logData), int64(len(logData)), export.LogMediaType); err != nil {
		return "", "", err
	}

	clipKey := path.Join(prefix, export.ClipFileName)
	if err := uc.storage.UploadArtifact(ctx, clipKey, bytes.NewReader(record.ClipData), int64(len(record.ClipData)), uc.clipContentType); err != nil {
		return "", "", err
	}
	return logKey, clipKey, nil
}

func (uc *ProcessAnnotationUseCase) handleFailure(
	ctx context.Context,
	run *entity.Run,
	msg entity.AnnotationRequestMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	log.Warn("run failed, sending to DLQ", zap.String("reason", errMsg))

	run.MarkFailed(errMsg)
	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)
	uc.publishStatus(ctx, run, log)

	metrics.RunsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, run.ID.String(), msg.VideoKey, errMsg)
	}
	return nil
}

func (uc *ProcessAnnotationUseCase) publishStatus(ctx context.Context, run *entity.Run, log *zap.Logger) {
	data, _ := json.Marshal(run.StatusMessage())
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
