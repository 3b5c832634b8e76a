package cli

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/config"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seededConfig(t *testing.T, clips int) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.StorePath = filepath.Join(t.TempDir(), "annotatedVideosDB.sqlite3")
	cfg.LogLevel = "error"

	store, err := sqlite.EnsureSchema(context.Background(), sqlite.Options{
		Path:       cfg.StorePath,
		Collection: cfg.StoreCollection,
		Version:    cfg.StoreSchemaVersion,
	}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < clips; i++ {
		_, err := store.Save(context.Background(), []byte("clip-"+string(rune('a'+i))),
			[]entity.DetectionLogEntry{{FrameIndex: 0, Detections: []entity.Detection{
				{Label: "dog", Box: entity.BoundingBox{X: 1, Y: 2, Width: 3, Height: 4}, Confidence: 0.6},
			}}},
			entity.ClipMetadata{DurationSeconds: 65.4, Resolution: "640x360", DistinctLabelCount: 1, Labels: []string{"dog"}},
		)
		require.NoError(t, err)
	}
	return cfg
}

func execute(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := RootCommand(cfg)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	cfg := seededConfig(t, 2)

	out, err := execute(t, cfg, "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "01:05")
	assert.Contains(t, lines[1], "640x360")
	assert.Contains(t, lines[1], "dog")
}

func TestListCommandEmpty(t *testing.T) {
	cfg := seededConfig(t, 0)

	out, err := execute(t, cfg, "list")
	require.NoError(t, err)
	assert.Equal(t, "no stored clips\n", out)
}

func TestDeleteCommand(t *testing.T) {
	cfg := seededConfig(t, 1)

	out, err := execute(t, cfg, "delete", "1")
	require.NoError(t, err)
	assert.Equal(t, "deleted record 1\n", out)

	out, err = execute(t, cfg, "list")
	require.NoError(t, err)
	assert.Equal(t, "no stored clips\n", out)

	_, err = execute(t, cfg, "delete", "one")
	assert.ErrorIs(t, err, entity.ErrInvalidRequest)
}

func TestExportCommand(t *testing.T) {
	cfg := seededConfig(t, 2)
	outDir := t.TempDir()

	_, err := execute(t, cfg, "export", "2", "--out", outDir)
	require.NoError(t, err)

	clip, err := os.ReadFile(filepath.Join(outDir, "2", "annotated-video.webm"))
	require.NoError(t, err)
	assert.Equal(t, []byte("clip-b"), clip)
	logData, err := os.ReadFile(filepath.Join(outDir, "2", "coco-ssd-log.json"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), `"class": "dog"`)

	_, err = execute(t, cfg, "export", "42", "--out", outDir)
	assert.ErrorIs(t, err, entity.ErrRecordNotFound)
}

func TestExportAllAsZip(t *testing.T) {
	cfg := seededConfig(t, 2)
	outDir := t.TempDir()

	out, err := execute(t, cfg, "export", "--zip", "--out", outDir)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	zr, err := zip.OpenReader(filepath.Join(outDir, "annotation-1.zip"))
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"coco-ssd-log.json", "annotated-video.webm"}, names)
}

func TestRunCommandValidatesFlags(t *testing.T) {
	cfg := seededConfig(t, 0)

	_, err := execute(t, cfg, "run", "--input", "x.mp4", "--resolution", "huge")
	assert.ErrorIs(t, err, entity.ErrInvalidRequest)

	_, err = execute(t, cfg, "run", "--input", "x.mp4", "--fps", "0")
	assert.ErrorIs(t, err, entity.ErrInvalidRequest)

	_, err = execute(t, cfg, "run")
	assert.Error(t, err, "input is required")
}

func TestStoreFlagOverridesEnvironment(t *testing.T) {
	cfg := seededConfig(t, 0)

	_, err := execute(t, cfg, "--store", "leveldb", "list")
	assert.Error(t, err)
}

func TestNewRequest(t *testing.T) {
	msg, err := newRequest("/videos/holiday.mp4", "240", 5, "ana", "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ana/"+msg.RunID.String()+".mp4", msg.VideoKey)
	assert.Equal(t, "240", msg.Resolution)
	assert.Equal(t, 5, msg.SamplesPerSecond)
	assert.Equal(t, "ana@example.com", msg.UserEmail)

	_, err = newRequest("a.mp4", "nope", 5, "ana", "")
	assert.ErrorIs(t, err, entity.ErrInvalidRequest)
	_, err = newRequest("a.mp4", "144", 0, "ana", "")
	assert.ErrorIs(t, err, entity.ErrInvalidRequest)
}

func TestVideoContentType(t *testing.T) {
	assert.Equal(t, "image/png", videoContentType("a.png"))
	assert.Equal(t, "application/octet-stream", videoContentType("a.unknownext"))
}
