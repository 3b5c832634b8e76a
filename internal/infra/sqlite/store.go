// Package sqlite keeps annotated clips in a single SQLite file. The file holds
// one named collection table plus a schema_migrations table recording which
// schema version each collection was created with.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/metrics"
	glebarez "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type Options struct {
	// Path of the database file.
	Path       string
	Collection string
	Version    int
	// DestructiveRepair allows deleting and recreating the whole database
	// file when the collection cannot be restored in place.
	DestructiveRepair bool
}

type schemaMigration struct {
	Collection string `gorm:"primaryKey;size:128"`
	Version    int    `gorm:"not null"`
	AppliedAt  time.Time
}

func (schemaMigration) TableName() string { return "schema_migrations" }

type recordRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	ClipData  []byte `gorm:"type:blob"`
	Log       string `gorm:"type:text;not null"`
	Metadata  string `gorm:"type:text;not null"`
	ClipSize  int64
	Frames    int
	CreatedAt time.Time `gorm:"index"`
}

type Store struct {
	mu     sync.Mutex
	db     *gorm.DB
	sqlDB  *sql.DB
	opts   Options
	logger *zap.Logger
}

// EnsureSchema opens the database at opts.Path and guarantees it contains
// opts.Collection at opts.Version. A missing collection is recreated in
// place; if that fails and DestructiveRepair is set, the database file is
// deleted and rebuilt from scratch.
func EnsureSchema(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if opts.Collection == "" {
		return nil, fmt.Errorf("%w: empty collection name", entity.ErrStorageOpen)
	}
	if opts.Version < 1 {
		opts.Version = 1
	}

	s := &Store{opts: opts, logger: logger.With(zap.String("db", opts.Path), zap.String("collection", opts.Collection))}
	if err := s.open(); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrStorageOpen, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensure(ctx); err != nil {
		_ = s.closeLocked()
		return nil, err
	}
	return s, nil
}

func (s *Store) open() error {
	if dir := filepath.Dir(s.opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := gorm.Open(glebarez.Open(s.opts.Path+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return fmt.Errorf("ping sqlite db: %w", err)
	}

	s.db = db
	s.sqlDB = sqlDB
	return nil
}

func (s *Store) ensure(ctx context.Context) error {
	err := s.ensureCollection(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, entity.ErrVersionDowngrade) || !s.opts.DestructiveRepair {
		return fmt.Errorf("%w: %w", entity.ErrStorageOpen, err)
	}

	s.logger.Warn("collection could not be restored, recreating database; stored records are discarded",
		zap.Error(err),
	)
	metrics.SchemaRepairsTotal.WithLabelValues("recreate_database").Inc()

	if err := s.recreate(ctx); err != nil {
		return fmt.Errorf("%w: recreate database: %v", entity.ErrStorageOpen, err)
	}
	return nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	coll := s.opts.Collection

	if err := db.AutoMigrate(&schemaMigration{}); err != nil {
		return fmt.Errorf("migrate version table: %w", err)
	}

	var current schemaMigration
	res := db.Where("collection = ?", coll).Limit(1).Find(&current)
	if res.Error != nil {
		return fmt.Errorf("read schema version: %w", res.Error)
	}
	if current.Version > s.opts.Version {
		return fmt.Errorf("%w: stored %d, requested %d", entity.ErrVersionDowngrade, current.Version, s.opts.Version)
	}

	if current.Version < s.opts.Version {
		if err := db.Table(coll).AutoMigrate(&recordRow{}); err != nil {
			return fmt.Errorf("upgrade collection: %w", err)
		}
		row := schemaMigration{Collection: coll, Version: s.opts.Version, AppliedAt: time.Now().UTC()}
		if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		s.logger.Info("collection schema upgraded",
			zap.Int("from_version", current.Version),
			zap.Int("to_version", s.opts.Version),
		)
		return nil
	}

	if db.Migrator().HasTable(coll) {
		return nil
	}

	s.logger.Warn("collection missing from database, recreating it")
	metrics.SchemaRepairsTotal.WithLabelValues("recreate_collection").Inc()
	if err := db.Table(coll).AutoMigrate(&recordRow{}); err != nil {
		return fmt.Errorf("recreate collection: %w", err)
	}
	return nil
}

func (s *Store) recreate(ctx context.Context) error {
	if err := s.closeLocked(); err != nil {
		s.logger.Warn("closing database before recreate", zap.Error(err))
	}
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(s.opts.Path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete database file: %w", err)
		}
	}
	if err := s.open(); err != nil {
		return err
	}
	return s.ensureCollection(ctx)
}

// guard runs before every operation so the collection is known to exist.
func (s *Store) guard(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("%w: store is closed", entity.ErrStorageOpen)
	}
	if s.db.WithContext(ctx).Migrator().HasTable(s.opts.Collection) {
		return nil
	}
	return s.ensure(ctx)
}

func (s *Store) Save(ctx context.Context, clip []byte, log []entity.DetectionLogEntry, meta entity.ClipMetadata) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx); err != nil {
		return 0, err
	}

	if log == nil {
		log = []entity.DetectionLogEntry{}
	}
	logJSON, err := json.Marshal(log)
	if err != nil {
		return 0, fmt.Errorf("%w: encode log: %v", entity.ErrStorageWrite, err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("%w: encode metadata: %v", entity.ErrStorageWrite, err)
	}

	row := recordRow{
		ClipData:  clip,
		Log:       string(logJSON),
		Metadata:  string(metaJSON),
		ClipSize:  int64(len(clip)),
		Frames:    len(log),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Table(s.opts.Collection).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("%w: insert record: %v", entity.ErrStorageWrite, err)
	}
	return row.ID, nil
}

func (s *Store) LoadAll(ctx context.Context) ([]entity.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	var rows []recordRow
	if err := s.db.WithContext(ctx).Table(s.opts.Collection).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: query records: %v", entity.ErrStorageRead, err)
	}

	records := make([]entity.StoredRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) LoadSummaries(ctx context.Context) ([]entity.RecordSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	var rows []recordRow
	err := s.db.WithContext(ctx).Table(s.opts.Collection).
		Select("id", "metadata", "clip_size", "frames", "created_at").
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: query summaries: %v", entity.ErrStorageRead, err)
	}

	out := make([]entity.RecordSummary, 0, len(rows))
	for _, row := range rows {
		var meta entity.ClipMetadata
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			return nil, fmt.Errorf("%w: decode metadata of record %d: %v", entity.ErrStorageRead, row.ID, err)
		}
		out = append(out, entity.RecordSummary{
			ID:        row.ID,
			Metadata:  meta,
			ClipSize:  row.ClipSize,
			Frames:    row.Frames,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*entity.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	var rows []recordRow
	if err := s.db.WithContext(ctx).Table(s.opts.Collection).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: find record %d: %v", entity.ErrStorageRead, id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: id %d", entity.ErrRecordNotFound, id)
	}
	rec, err := rows[0].toEntity()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteByID removes the record; unknown ids are not an error.
func (s *Store) DeleteByID(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Table(s.opts.Collection).Where("id = ?", id).Delete(&recordRow{}).Error; err != nil {
		return fmt.Errorf("%w: delete record %d: %v", entity.ErrStorageWrite, id, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Store) closeLocked() error {
	if s.sqlDB == nil {
		return nil
	}
	err := s.sqlDB.Close()
	s.db = nil
	s.sqlDB = nil
	return err
}

func (r recordRow) toEntity() (entity.StoredRecord, error) {
	rec := entity.StoredRecord{ID: r.ID, ClipData: r.ClipData, CreatedAt: r.CreatedAt}
	if err := json.Unmarshal([]byte(r.Log), &rec.Log); err != nil {
		return rec, fmt.Errorf("%w: decode log of record %d: %v", entity.ErrStorageRead, r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Metadata), &rec.Metadata); err != nil {
		return rec, fmt.Errorf("%w: decode metadata of record %d: %v", entity.ErrStorageRead, r.ID, err)
	}
	return rec, nil
}
