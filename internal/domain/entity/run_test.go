package entity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunAssignsID(t *testing.T) {
	run := NewRun(uuid.Nil, "user-1", "user-1/a.mp4", ResolutionPresets["360"], 10)
	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, RunStatusPending, run.Status)

	id := uuid.New()
	assert.Equal(t, id, NewRun(id, "u", "k", Resolution{}, 1).ID)
}

func TestRunLifecycle(t *testing.T) {
	run := NewRun(uuid.New(), "user-1", "user-1/a.mp4", ResolutionPresets["144"], 10)

	run.MarkProcessing()
	assert.Equal(t, RunStatusProcessing, run.Status)

	run.MarkCompleted(StoredRecord{
		ID:       9,
		Log:      make([]DetectionLogEntry, 4),
		Metadata: ClipMetadata{DurationSeconds: 0.45, Labels: []string{"cat"}},
	})
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, RunStatusCompleted, run.Status)

	run.MarkExported("x/coco-ssd-log.json", "x/annotated-video.webm")

	msg := run.StatusMessage()
	assert.Equal(t, run.ID, msg.RunID)
	assert.Equal(t, int64(9), msg.RecordID)
	assert.Equal(t, 4, msg.FrameCount)
	assert.Equal(t, 0.45, msg.Duration)
	assert.Equal(t, "256x144", msg.Resolution)
	assert.Equal(t, []string{"cat"}, msg.Labels)
	assert.Equal(t, "x/annotated-video.webm", msg.ClipKey)
}

func TestRunMarkFailed(t *testing.T) {
	run := NewRun(uuid.New(), "u", "k", ResolutionPresets["144"], 10)
	run.MarkFailed("annotate: video load error")

	msg := run.StatusMessage()
	assert.Equal(t, RunStatusFailed, msg.Status)
	assert.Equal(t, "annotate: video load error", msg.ErrorMessage)
}
