package port

import (
	"context"
	"io"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
)

type Bundler interface {
	WriteBundle(ctx context.Context, record *entity.StoredRecord, w io.Writer) error
}
