package port

import (
	"context"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
)

type RecordRepository interface {
	Save(ctx context.Context, clip []byte, log []entity.DetectionLogEntry, meta entity.ClipMetadata) (int64, error)
	LoadAll(ctx context.Context) ([]entity.StoredRecord, error)
	LoadSummaries(ctx context.Context) ([]entity.RecordSummary, error)
	FindByID(ctx context.Context, id int64) (*entity.StoredRecord, error)
	DeleteByID(ctx context.Context, id int64) error
	Close() error
}
