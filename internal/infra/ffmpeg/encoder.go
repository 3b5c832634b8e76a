package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/port"
	"go.uber.org/zap"
)

const chunkSize = 64 * 1024

// Encoder pipes raw RGBA frames into a long-lived ffmpeg process and
// collects the container it writes to stdout.
type Encoder struct {
	ffmpegPath string
	codec      string
	format     string
	logger     *zap.Logger
}

func NewEncoder(ffmpegPath, codec, format string, logger *zap.Logger) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if codec == "" {
		codec = "libvpx"
	}
	if format == "" {
		format = "webm"
	}
	return &Encoder{ffmpegPath: ffmpegPath, codec: codec, format: format, logger: logger}
}

func (e *Encoder) ContentType() string {
	return "video/" + e.format
}

// Extension is the file extension of the produced container.
func (e *Encoder) Extension() string {
	return "." + e.format
}

func (e *Encoder) Start(ctx context.Context, width, height, fps int) (port.EncoderSession, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", "pipe:0",
		"-an",
		"-c:v", e.codec,
		"-pix_fmt", "yuv420p",
		"-b:v", "1M",
		"-f", e.format,
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("encoder stdout: %w", err)
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg encoder: %w", err)
	}

	s := &session{
		cmd:    cmd,
		cancel: cancel,
		stdin:  stdin,
		stderr: stderr,
		width:  width,
		height: height,
		done:   make(chan struct{}),
		logger: e.logger,
	}
	go s.drain(stdout)
	return s, nil
}

// syncBuffer collects ffmpeg's stderr. exec copies into it from its own
// goroutine while a failed WriteFrame may already be reading it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type session struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdin  io.WriteCloser
	stderr *syncBuffer
	width  int
	height int
	logger *zap.Logger

	done    chan struct{}
	chunks  [][]byte
	readErr error

	once   sync.Once
	frames int
}

func (s *session) drain(r io.Reader) {
	defer close(s.done)
	for {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			s.chunks = append(s.chunks, buf[:n])
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return
		}
		if err != nil {
			s.readErr = err
			return
		}
	}
}

func (s *session) WriteFrame(img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != s.width || b.Dy() != s.height {
		return fmt.Errorf("frame is %dx%d, encoder expects %dx%d", b.Dx(), b.Dy(), s.width, s.height)
	}

	rowBytes := s.width * 4
	for y := 0; y < s.height; y++ {
		off := y * img.Stride
		if _, err := s.stdin.Write(img.Pix[off : off+rowBytes]); err != nil {
			return fmt.Errorf("write frame to encoder: %w, output: %s", err, s.stderr.String())
		}
	}
	s.frames++
	return nil
}

func (s *session) Close() ([]byte, int, error) {
	var closeErr error
	s.once.Do(func() {
		defer s.cancel()
		if err := s.stdin.Close(); err != nil {
			closeErr = fmt.Errorf("close encoder stdin: %w", err)
		}
		<-s.done
		if err := s.cmd.Wait(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("ffmpeg encoder: %w, output: %s", err, s.stderr.String())
		}
		if s.readErr != nil && closeErr == nil {
			closeErr = fmt.Errorf("read encoder output: %w", s.readErr)
		}
	})
	if closeErr != nil {
		return nil, 0, closeErr
	}

	size := 0
	for _, c := range s.chunks {
		size += len(c)
	}
	clip := make([]byte, 0, size)
	for _, c := range s.chunks {
		clip = append(clip, c...)
	}

	s.logger.Debug("encoder finished",
		zap.Int("frames", s.frames),
		zap.Int("chunks", len(s.chunks)),
		zap.Int("bytes", size),
	)
	return clip, len(s.chunks), nil
}

func (s *session) Abort() {
	s.once.Do(func() {
		s.cancel()
		_ = s.stdin.Close()
		<-s.done
		_ = s.cmd.Wait()
	})
}
