package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"go.uber.org/zap"
)

// FrameSource seeks into a video with one ffmpeg invocation per sample.
type FrameSource struct {
	ffmpegPath  string
	ffprobePath string
	logger      *zap.Logger
}

func NewFrameSource(ffmpegPath, ffprobePath string, logger *zap.Logger) *FrameSource {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FrameSource{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

func (s *FrameSource) Probe(ctx context.Context, videoPath string) (float64, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return 0, fmt.Errorf("stat video: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	durationStr := strings.TrimSpace(string(output))
	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", durationStr, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("video has no duration")
	}

	s.logger.Debug("video probed", zap.String("video", videoPath), zap.Float64("duration_secs", duration))
	return duration, nil
}

func (s *FrameSource) FrameAt(ctx context.Context, videoPath string, position float64) (image.Image, error) {
	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-v", "error",
		"-ss", strconv.FormatFloat(position, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg seek %.3fs: %w, output: %s", position, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, entity.ErrEndOfStream
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode frame at %.3fs: %w", position, err)
	}
	return img, nil
}
