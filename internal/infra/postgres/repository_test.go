package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("annotations"),
		tcpostgres.WithUsername("annotator"),
		tcpostgres.WithPassword("annotator"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { pgContainer.Terminate(context.Background()) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(context.Background(), connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func sampleLog() []entity.DetectionLogEntry {
	return []entity.DetectionLogEntry{
		{FrameIndex: 0, TimestampSeconds: 0, Detections: []entity.Detection{
			{Label: "person", Box: entity.BoundingBox{X: 12.5, Y: 30, Width: 40, Height: 80.25}, Confidence: 0.91},
		}},
		{FrameIndex: 1, TimestampSeconds: 0.1, Detections: []entity.Detection{}},
	}
}

func sampleMeta() entity.ClipMetadata {
	return entity.ClipMetadata{
		DurationSeconds:    0.2,
		Resolution:         "256x144",
		DistinctLabelCount: 1,
		Labels:             []string{"person"},
	}
}

func TestRecordStore(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()

	store, err := NewRecordStore(ctx, pool, Options{Collection: "videos", Version: 1}, zap.NewNop())
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		clip := []byte{0x1A, 0x45, 0xDF, 0xA3, 0x00, 0xFF}
		id, err := store.Save(ctx, clip, sampleLog(), sampleMeta())
		require.NoError(t, err)

		rec, err := store.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, clip, rec.ClipData)
		assert.Equal(t, sampleLog(), rec.Log)
		assert.Equal(t, sampleMeta(), rec.Metadata)

		summaries, err := store.LoadSummaries(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, summaries)
		assert.Equal(t, int64(len(clip)), summaries[len(summaries)-1].ClipSize)
		assert.Equal(t, 2, summaries[len(summaries)-1].Frames)
	})

	t.Run("delete", func(t *testing.T) {
		id, err := store.Save(ctx, []byte("x"), sampleLog(), sampleMeta())
		require.NoError(t, err)
		require.NoError(t, store.DeleteByID(ctx, id))
		require.NoError(t, store.DeleteByID(ctx, id))

		_, err = store.FindByID(ctx, id)
		assert.ErrorIs(t, err, entity.ErrRecordNotFound)
	})

	t.Run("dropped collection is recreated", func(t *testing.T) {
		_, err := pool.Exec(ctx, `DROP TABLE videos`)
		require.NoError(t, err)

		records, err := store.LoadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)

		_, err = store.Save(ctx, []byte("y"), sampleLog(), sampleMeta())
		require.NoError(t, err)
	})

	t.Run("version downgrade", func(t *testing.T) {
		require.NoError(t, RunMigrations(ctx, pool, "videos", 2))
		require.NoError(t, RunMigrations(ctx, pool, "videos", 2))

		_, err := NewRecordStore(ctx, pool, Options{Collection: "videos", Version: 1, DestructiveRepair: true}, zap.NewNop())
		assert.ErrorIs(t, err, entity.ErrStorageOpen)
		assert.ErrorIs(t, err, entity.ErrVersionDowngrade)

		var version int
		require.NoError(t, pool.QueryRow(ctx, `SELECT version FROM schema_migrations WHERE collection='videos'`).Scan(&version))
		assert.Equal(t, 2, version)
	})

	t.Run("incompatible table without destructive repair", func(t *testing.T) {
		_, err := pool.Exec(ctx, `CREATE TABLE legacy (id INTEGER PRIMARY KEY, payload TEXT)`)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `INSERT INTO legacy VALUES (1, 'keep me')`)
		require.NoError(t, err)

		_, err = NewRecordStore(ctx, pool, Options{Collection: "legacy", Version: 1}, zap.NewNop())
		assert.ErrorIs(t, err, entity.ErrStorageOpen)
		assert.ErrorIs(t, err, ErrIncompatibleSchema)

		var payload string
		require.NoError(t, pool.QueryRow(ctx, `SELECT payload FROM legacy WHERE id=1`).Scan(&payload))
		assert.Equal(t, "keep me", payload)
	})

	t.Run("incompatible table is recreated", func(t *testing.T) {
		before := testutil.ToFloat64(metrics.SchemaRepairsTotal.WithLabelValues("recreate_database"))

		legacy, err := NewRecordStore(ctx, pool, Options{Collection: "legacy", Version: 1, DestructiveRepair: true}, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.SchemaRepairsTotal.WithLabelValues("recreate_database")))

		records, err := legacy.LoadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)

		id, err := legacy.Save(ctx, []byte("z"), sampleLog(), sampleMeta())
		require.NoError(t, err)
		rec, err := legacy.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []byte("z"), rec.ClipData)
	})

	t.Run("view squatting on the collection is replaced", func(t *testing.T) {
		_, err := pool.Exec(ctx, `CREATE VIEW squatter AS SELECT 1 AS id`)
		require.NoError(t, err)

		squatter, err := NewRecordStore(ctx, pool, Options{Collection: "squatter", Version: 1, DestructiveRepair: true}, zap.NewNop())
		require.NoError(t, err)
		_, err = squatter.Save(ctx, []byte("v"), sampleLog(), sampleMeta())
		require.NoError(t, err)
	})
}
