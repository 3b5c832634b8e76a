// Package annotator samples a video at a fixed rate, runs object detection on
// every sample, burns the detections into the frames and re-encodes them.
package annotator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/fiapx/fiapx-annotation-service/internal/domain/port"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// ProgressFunc is called after every processed sample.
type ProgressFunc func(done, total int)

type Request struct {
	VideoPath        string
	Width            int
	Height           int
	SamplesPerSecond int
	Progress         ProgressFunc
}

type Result struct {
	Clip     []byte
	Log      []entity.DetectionLogEntry
	Metadata entity.ClipMetadata
}

type Annotator struct {
	source   port.FrameSource
	encoder  port.ClipEncoder
	detector port.Detector
	limits   entity.OutputLimits
	logger   *zap.Logger
}

type Option func(*Annotator)

// WithLimits replaces entity.DefaultOutputLimits.
func WithLimits(l entity.OutputLimits) Option {
	return func(a *Annotator) { a.limits = l }
}

func New(source port.FrameSource, encoder port.ClipEncoder, detector port.Detector, logger *zap.Logger, opts ...Option) *Annotator {
	a := &Annotator{
		source:   source,
		encoder:  encoder,
		detector: detector,
		limits:   entity.DefaultOutputLimits,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TotalSamples is the number of samples taken from a video of the given duration.
func TotalSamples(duration float64, samplesPerSecond int) int {
	if duration <= 0 || samplesPerSecond <= 0 {
		return 0
	}
	return int(math.Floor(duration * float64(samplesPerSecond)))
}

func (a *Annotator) Annotate(ctx context.Context, req Request) (*Result, error) {
	if err := a.limits.Check(req.Width, req.Height, req.SamplesPerSecond); err != nil {
		return nil, err
	}

	tracer := otel.Tracer("annotator")
	ctx, span := tracer.Start(ctx, "Annotator.Annotate")
	defer span.End()
	span.SetAttributes(
		attribute.String("video.path", req.VideoPath),
		attribute.String("output.resolution", entity.FormatResolution(req.Width, req.Height)),
		attribute.Int("output.fps", req.SamplesPerSecond),
	)

	log := a.logger.With(zap.String("video", req.VideoPath))

	duration, err := a.source.Probe(ctx, req.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrLoad, err)
	}
	total := TotalSamples(duration, req.SamplesPerSecond)
	rate := float64(req.SamplesPerSecond)

	surface := image.NewRGBA(image.Rect(0, 0, req.Width, req.Height))
	session, err := a.encoder.Start(ctx, req.Width, req.Height, req.SamplesPerSecond)
	if err != nil {
		return nil, fmt.Errorf("%w: start encoder: %v", entity.ErrEncode, err)
	}

	log.Info("annotation started",
		zap.Float64("duration_secs", duration),
		zap.Int("total_samples", total),
	)

	labels := entity.NewLabelSet()
	entries := make([]entity.DetectionLogEntry, 0, total)

	for i := 0; i < total; i++ {
		position := float64(i) / rate
		if position >= duration {
			break
		}
		if err := ctx.Err(); err != nil {
			session.Abort()
			return nil, err
		}

		frame, err := a.source.FrameAt(ctx, req.VideoPath, position)
		if errors.Is(err, entity.ErrEndOfStream) {
			log.Debug("source ended before last sample", zap.Int("frame", i))
			break
		}
		if err != nil {
			session.Abort()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: seek to %.3fs: %w", entity.ErrLoad, position, err)
		}

		draw.ApproxBiLinear.Scale(surface, surface.Bounds(), frame, frame.Bounds(), draw.Src, nil)

		detectStart := time.Now()
		detections, err := a.detector.Detect(ctx, surface)
		if err != nil {
			session.Abort()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: frame %d: %w", entity.ErrDetect, i, err)
		}
		metrics.DetectionDuration.Observe(time.Since(detectStart).Seconds())
		if detections == nil {
			detections = []entity.Detection{}
		}

		for _, d := range detections {
			DrawDetection(surface, d)
			labels.Add(d.Label)
		}

		entries = append(entries, entity.DetectionLogEntry{
			FrameIndex:       i,
			TimestampSeconds: position,
			Detections:       detections,
		})

		if err := session.WriteFrame(surface); err != nil {
			session.Abort()
			return nil, fmt.Errorf("%w: frame %d: %v", entity.ErrEncode, i, err)
		}
		metrics.FramesSampledTotal.Inc()

		if req.Progress != nil {
			req.Progress(i+1, total)
		}
	}

	clip, chunks, err := session.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrEncode, err)
	}
	if chunks == 0 || len(clip) == 0 {
		return nil, fmt.Errorf("%w: encoder produced no output", entity.ErrEncode)
	}

	meta := entity.NewClipMetadata(duration, req.Width, req.Height, labels)

	log.Info("annotation finished",
		zap.Int("frames", len(entries)),
		zap.Int("labels", meta.DistinctLabelCount),
		zap.Int("clip_bytes", len(clip)),
	)

	return &Result{Clip: clip, Log: entries, Metadata: meta}, nil
}
