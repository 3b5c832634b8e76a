package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIncompatibleSchema is returned when a relation with the collection's
// name exists but does not have the record columns.
var ErrIncompatibleSchema = errors.New("incompatible collection schema")

var requiredColumns = []string{"id", "clip_data", "log", "metadata", "clip_size", "frames", "created_at"}

const migrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		collection TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

func collectionDDL(collection string) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id         BIGSERIAL PRIMARY KEY,
		clip_data  BYTEA NOT NULL,
		log        JSONB NOT NULL,
		metadata   JSONB NOT NULL,
		clip_size  BIGINT NOT NULL,
		frames     INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, pgx.Identifier{collection}.Sanitize())
}

// RunMigrations creates the collection table and records its schema version.
// It is idempotent; asking for a version older than the recorded one fails
// with entity.ErrVersionDowngrade.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, collection string, version int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, migrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	err = tx.QueryRow(ctx, `SELECT version FROM schema_migrations WHERE collection=$1`, collection).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > version {
		return fmt.Errorf("%w: stored %d, requested %d", entity.ErrVersionDowngrade, current, version)
	}

	if _, err := tx.Exec(ctx, collectionDDL(collection)); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	if err := checkColumns(ctx, tx, collection); err != nil {
		return err
	}

	if current < version {
		_, err = tx.Exec(ctx, `
			INSERT INTO schema_migrations (collection, version, applied_at) VALUES ($1, $2, now())
			ON CONFLICT (collection) DO UPDATE SET version=EXCLUDED.version, applied_at=EXCLUDED.applied_at`,
			collection, version,
		)
		if err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// CREATE TABLE IF NOT EXISTS skips any relation already holding the name, so
// the columns are checked explicitly.
func checkColumns(ctx context.Context, tx pgx.Tx, collection string) error {
	rows, err := tx.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1`, collection)
	if err != nil {
		return fmt.Errorf("read collection columns: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("read collection columns: %w", err)
	}

	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	var missing []string
	for _, c := range requiredColumns {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s lacks columns %v", ErrIncompatibleSchema, collection, missing)
	}
	return nil
}

// RecreateCollection drops whatever relation holds the collection name along
// with its recorded version, then runs the migrations from scratch. Every
// record in the collection is lost.
func RecreateCollection(ctx context.Context, pool *pgxpool.Pool, collection string, version int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin recreate: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, migrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	ident := pgx.Identifier{collection}.Sanitize()
	var kind string
	err = tx.QueryRow(ctx, `SELECT relkind::text FROM pg_class WHERE oid = to_regclass($1)`, ident).Scan(&kind)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("inspect collection %s: %w", collection, err)
	}
	var drop string
	switch kind {
	case "":
	case "v":
		drop = "DROP VIEW " + ident
	case "m":
		drop = "DROP MATERIALIZED VIEW " + ident
	default:
		drop = "DROP TABLE " + ident + " CASCADE"
	}
	if drop != "" {
		if _, err := tx.Exec(ctx, drop); err != nil {
			return fmt.Errorf("drop collection %s: %w", collection, err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE collection=$1`, collection); err != nil {
		return fmt.Errorf("forget schema version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit recreate: %w", err)
	}

	return RunMigrations(ctx, pool, collection, version)
}
