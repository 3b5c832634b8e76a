package port

import (
	"context"
	"image"
)

// FrameSource decodes a seekable video file into still frames.
type FrameSource interface {
	// Probe returns the duration of the video in seconds.
	Probe(ctx context.Context, videoPath string) (float64, error)
	// FrameAt returns the frame shown at position seconds. It returns
	// entity.ErrEndOfStream when no frame exists at or after that position.
	FrameAt(ctx context.Context, videoPath string, position float64) (image.Image, error)
}

// ClipEncoder turns a stream of raster frames into a compressed clip.
type ClipEncoder interface {
	Start(ctx context.Context, width, height, fps int) (EncoderSession, error)
	ContentType() string
}

type EncoderSession interface {
	WriteFrame(img *image.RGBA) error
	// Close flushes the encoder and returns the concatenated output chunks.
	Close() ([]byte, int, error)
	// Abort stops the encoder and discards its output.
	Abort()
}
