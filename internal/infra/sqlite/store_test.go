package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	glebarez "github.com/glebarez/sqlite"
)

func setupTestStore(t *testing.T) (*Store, Options) {
	t.Helper()

	opts := Options{
		Path:              filepath.Join(t.TempDir(), "annotatedVideosDB.sqlite3"),
		Collection:        "videos",
		Version:           1,
		DestructiveRepair: true,
	}
	store, err := EnsureSchema(context.Background(), opts, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, opts
}

// rawDB opens a second handle on the same file, the way another process
// would see it.
func rawDB(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(glebarez.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func sampleLog() []entity.DetectionLogEntry {
	return []entity.DetectionLogEntry{
		{FrameIndex: 0, TimestampSeconds: 0, Detections: []entity.Detection{
			{Label: "person", Box: entity.BoundingBox{X: 12.5, Y: 30, Width: 40, Height: 80.25}, Confidence: 0.91},
		}},
		{FrameIndex: 1, TimestampSeconds: 0.1, Detections: []entity.Detection{}},
		{FrameIndex: 2, TimestampSeconds: 0.2, Detections: []entity.Detection{
			{Label: "dog", Box: entity.BoundingBox{X: 1, Y: 2, Width: 3, Height: 4}, Confidence: 0.55},
			{Label: "person", Box: entity.BoundingBox{X: 10, Y: 20, Width: 30, Height: 40}, Confidence: 0.7},
		}},
	}
}

func sampleMeta() entity.ClipMetadata {
	return entity.ClipMetadata{
		DurationSeconds:    2.35,
		Resolution:         "256x144",
		DistinctLabelCount: 2,
		Labels:             []string{"person", "dog"},
	}
}

func TestEnsureSchemaCreatesCollection(t *testing.T) {
	store, _ := setupTestStore(t)

	assert.True(t, store.db.Migrator().HasTable("videos"))
	assert.True(t, store.db.Migrator().HasTable("schema_migrations"))

	var version schemaMigration
	require.NoError(t, store.db.Where("collection = ?", "videos").First(&version).Error)
	assert.Equal(t, 1, version.Version)
}

func TestSaveLoadAllRoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	clip := make([]byte, 4096)
	for i := range clip {
		clip[i] = byte(i % 251)
	}

	id, err := store.Save(ctx, clip, sampleLog(), sampleMeta())
	require.NoError(t, err)
	assert.Positive(t, id)

	records, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, sampleLog(), rec.Log)
	assert.Equal(t, sampleMeta(), rec.Metadata)
	assert.Equal(t, clip, rec.ClipData)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestSaveAssignsIncreasingIdentities(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := store.Save(ctx, []byte{byte(i)}, sampleLog(), sampleMeta())
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	records, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, ids[i], rec.ID)
	}
}

func TestDeleteByID(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	first, err := store.Save(ctx, []byte("a"), sampleLog(), sampleMeta())
	require.NoError(t, err)
	second, err := store.Save(ctx, []byte("b"), sampleLog(), sampleMeta())
	require.NoError(t, err)

	require.NoError(t, store.DeleteByID(ctx, first))

	records, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, second, records[0].ID)

	// unknown identities are a no-op
	require.NoError(t, store.DeleteByID(ctx, 9999))
	records, err = store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("b"), records[0].ClipData)
}

func TestFindByIDAndSummaries(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	id, err := store.Save(ctx, []byte("clip-bytes"), sampleLog(), sampleMeta())
	require.NoError(t, err)

	rec, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("clip-bytes"), rec.ClipData)

	_, err = store.FindByID(ctx, id+100)
	assert.ErrorIs(t, err, entity.ErrRecordNotFound)

	summaries, err := store.LoadSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, id, summaries[0].ID)
	assert.Equal(t, int64(len("clip-bytes")), summaries[0].ClipSize)
	assert.Equal(t, 3, summaries[0].Frames)
	assert.Equal(t, sampleMeta(), summaries[0].Metadata)
}

func TestExternallyDroppedCollectionIsRecreated(t *testing.T) {
	store, opts := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, []byte("x"), sampleLog(), sampleMeta())
	require.NoError(t, err)

	require.NoError(t, store.db.Migrator().DropTable("videos"))
	require.False(t, store.db.Migrator().HasTable("videos"))

	records, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.True(t, store.db.Migrator().HasTable("videos"))

	// a fresh open of a database missing its collection repairs it too
	require.NoError(t, store.Close())
	require.NoError(t, rawDB(t, opts.Path).Migrator().DropTable("videos"))

	reopened, err := EnsureSchema(ctx, opts, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.db.Migrator().HasTable("videos"))

	_, err = reopened.Save(ctx, []byte("y"), sampleLog(), sampleMeta())
	require.NoError(t, err)
}

func TestUnrepairableCollectionRecreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.sqlite3")
	// a view squatting on the collection name cannot be replaced in place
	require.NoError(t, rawDB(t, path).Exec("CREATE VIEW videos AS SELECT 1 AS id").Error)

	opts := Options{Path: path, Collection: "videos", Version: 1, DestructiveRepair: true}
	store, err := EnsureSchema(context.Background(), opts, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	assert.True(t, store.db.Migrator().HasTable("videos"))
	_, err = store.Save(context.Background(), []byte("z"), sampleLog(), sampleMeta())
	require.NoError(t, err)
}

func TestUnrepairableCollectionWithoutDestructiveRepair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.sqlite3")
	require.NoError(t, rawDB(t, path).Exec("CREATE VIEW videos AS SELECT 1 AS id").Error)

	opts := Options{Path: path, Collection: "videos", Version: 1, DestructiveRepair: false}
	_, err := EnsureSchema(context.Background(), opts, zap.NewNop())
	assert.ErrorIs(t, err, entity.ErrStorageOpen)
}

func TestVersionDowngradeFails(t *testing.T) {
	_, opts := setupTestStore(t)
	ctx := context.Background()

	opts.Version = 3
	upgraded, err := EnsureSchema(ctx, opts, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, upgraded.Close())

	opts.Version = 2
	_, err = EnsureSchema(ctx, opts, zap.NewNop())
	assert.ErrorIs(t, err, entity.ErrStorageOpen)
	assert.ErrorIs(t, err, entity.ErrVersionDowngrade)
}

func TestClosedStoreFails(t *testing.T) {
	store, _ := setupTestStore(t)
	require.NoError(t, store.Close())

	_, err := store.LoadAll(context.Background())
	assert.ErrorIs(t, err, entity.ErrStorageOpen)
}
