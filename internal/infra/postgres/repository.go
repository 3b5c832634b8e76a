package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type Options struct {
	Collection string
	Version    int
	// DestructiveRepair allows dropping and recreating the collection when
	// its table cannot be brought to the expected shape in place.
	DestructiveRepair bool
}

// RecordStore keeps annotated clips in one Postgres table per collection.
type RecordStore struct {
	pool   *pgxpool.Pool
	table  string
	opts   Options
	logger *zap.Logger
}

func NewRecordStore(ctx context.Context, pool *pgxpool.Pool, opts Options, logger *zap.Logger) (*RecordStore, error) {
	if opts.Collection == "" {
		return nil, fmt.Errorf("%w: empty collection name", entity.ErrStorageOpen)
	}
	if opts.Version < 1 {
		opts.Version = 1
	}

	r := &RecordStore{
		pool:   pool,
		table:  pgx.Identifier{opts.Collection}.Sanitize(),
		opts:   opts,
		logger: logger.With(zap.String("collection", opts.Collection)),
	}
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// ensure runs the migrations and, when the existing relation is unusable and
// DestructiveRepair is set, drops it and starts over. Downgrades and
// connection failures are never repaired.
func (r *RecordStore) ensure(ctx context.Context) error {
	err := RunMigrations(ctx, r.pool, r.opts.Collection, r.opts.Version)
	if err == nil {
		return nil
	}
	if !repairable(err) || !r.opts.DestructiveRepair {
		return fmt.Errorf("%w: %w", entity.ErrStorageOpen, err)
	}

	r.logger.Warn("collection could not be restored, recreating it; stored records are discarded",
		zap.Error(err),
	)
	metrics.SchemaRepairsTotal.WithLabelValues("recreate_database").Inc()

	if err := RecreateCollection(ctx, r.pool, r.opts.Collection, r.opts.Version); err != nil {
		return fmt.Errorf("%w: recreate collection: %w", entity.ErrStorageOpen, err)
	}
	return nil
}

// repairable reports whether err comes from the shape of the stored schema
// rather than from the connection or the requested version.
func repairable(err error) bool {
	if errors.Is(err, entity.ErrVersionDowngrade) {
		return false
	}
	if errors.Is(err, ErrIncompatibleSchema) {
		return true
	}
	var pgErr *pgconn.PgError
	// class 42: syntax error or access rule violation, e.g. a view or a
	// mistyped table squatting on the collection name
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "42")
}

// guard recreates the collection when it was dropped behind our back.
func (r *RecordStore) guard(ctx context.Context) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, r.table).Scan(&exists); err != nil {
		return fmt.Errorf("%w: check collection: %v", entity.ErrStorageOpen, err)
	}
	if exists {
		return nil
	}

	r.logger.Warn("collection missing from database, recreating it")
	metrics.SchemaRepairsTotal.WithLabelValues("recreate_collection").Inc()
	return r.ensure(ctx)
}

func (r *RecordStore) Save(ctx context.Context, clip []byte, log []entity.DetectionLogEntry, meta entity.ClipMetadata) (int64, error) {
	if err := r.guard(ctx); err != nil {
		return 0, err
	}
	if log == nil {
		log = []entity.DetectionLogEntry{}
	}
	if clip == nil {
		clip = []byte{}
	}

	logJSON, err := json.Marshal(log)
	if err != nil {
		return 0, fmt.Errorf("%w: encode log: %v", entity.ErrStorageWrite, err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("%w: encode metadata: %v", entity.ErrStorageWrite, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (clip_data, log, metadata, clip_size, frames, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, r.table)

	var id int64
	err = r.pool.QueryRow(ctx, query,
		clip, string(logJSON), string(metaJSON), int64(len(clip)), len(log), time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert record: %v", entity.ErrStorageWrite, err)
	}
	return id, nil
}

func (r *RecordStore) LoadAll(ctx context.Context) ([]entity.StoredRecord, error) {
	if err := r.guard(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, clip_data, log, metadata, created_at FROM %s ORDER BY id`, r.table)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query records: %v", entity.ErrStorageRead, err)
	}
	defer rows.Close()

	records := []entity.StoredRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %v", entity.ErrStorageRead, err)
	}
	return records, nil
}

func (r *RecordStore) LoadSummaries(ctx context.Context) ([]entity.RecordSummary, error) {
	if err := r.guard(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, metadata, clip_size, frames, created_at FROM %s ORDER BY id`, r.table)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query summaries: %v", entity.ErrStorageRead, err)
	}
	defer rows.Close()

	out := []entity.RecordSummary{}
	for rows.Next() {
		var s entity.RecordSummary
		var metaJSON []byte
		if err := rows.Scan(&s.ID, &metaJSON, &s.ClipSize, &s.Frames, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan summary: %v", entity.ErrStorageRead, err)
		}
		if err := json.Unmarshal(metaJSON, &s.Metadata); err != nil {
			return nil, fmt.Errorf("%w: decode metadata of record %d: %v", entity.ErrStorageRead, s.ID, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate summaries: %v", entity.ErrStorageRead, err)
	}
	return out, nil
}

func (r *RecordStore) FindByID(ctx context.Context, id int64) (*entity.StoredRecord, error) {
	if err := r.guard(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, clip_data, log, metadata, created_at FROM %s WHERE id=$1`, r.table)
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("%w: find record %d: %v", entity.ErrStorageRead, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: find record %d: %v", entity.ErrStorageRead, id, err)
		}
		return nil, fmt.Errorf("%w: id %d", entity.ErrRecordNotFound, id)
	}
	return scanRecord(rows)
}

func (r *RecordStore) DeleteByID(ctx context.Context, id int64) error {
	if err := r.guard(ctx); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, r.table)
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("%w: delete record %d: %v", entity.ErrStorageWrite, id, err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (r *RecordStore) Close() error {
	return nil
}

func scanRecord(rows pgx.Rows) (*entity.StoredRecord, error) {
	rec := &entity.StoredRecord{}
	var logJSON, metaJSON []byte
	if err := rows.Scan(&rec.ID, &rec.ClipData, &logJSON, &metaJSON, &rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: scan record: %v", entity.ErrStorageRead, err)
	}
	if err := json.Unmarshal(logJSON, &rec.Log); err != nil {
		return nil, fmt.Errorf("%w: decode log of record %d: %v", entity.ErrStorageRead, rec.ID, err)
	}
	if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("%w: decode metadata of record %d: %v", entity.ErrStorageRead, rec.ID, err)
	}
	return rec, nil
}
