package port

import (
	"context"
	"image"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
)

type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]entity.Detection, error)
	Close() error
}
