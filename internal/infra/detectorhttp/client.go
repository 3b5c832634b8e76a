// Package detectorhttp calls a remote object-detection service.
package detectorhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"go.uber.org/zap"
)

// Client posts each frame as a JPEG and expects a COCO-SSD style response:
//
//	{"predictions": [{"class": "person", "bbox": [x, y, w, h], "score": 0.93}]}
type Client struct {
	endpoint   string
	httpClient *http.Client
	minScore   float64
	maxBoxes   int
	logger     *zap.Logger
}

type Options struct {
	Endpoint string
	Timeout  time.Duration
	MinScore float64
	MaxBoxes int
}

type detectResponse struct {
	Predictions []entity.Detection `json:"predictions"`
}

func NewClient(opts Options, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		endpoint:   opts.Endpoint,
		httpClient: httpClient,
		minScore:   opts.MinScore,
		maxBoxes:   opts.MaxBoxes,
		logger:     logger,
	}
}

func (c *Client) Detect(ctx context.Context, frame image.Image) ([]entity.Detection, error) {
	var body bytes.Buffer
	if err := jpeg.Encode(&body, frame, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var decoded detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}

	detections := make([]entity.Detection, 0, len(decoded.Predictions))
	for _, d := range decoded.Predictions {
		if d.Confidence < c.minScore {
			continue
		}
		detections = append(detections, d)
		if c.maxBoxes > 0 && len(detections) == c.maxBoxes {
			break
		}
	}

	c.logger.Debug("frame detected",
		zap.Int("received", len(decoded.Predictions)),
		zap.Int("kept", len(detections)),
	)
	return detections, nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
