package entity

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusPending    RunStatus = "PENDING"
	RunStatusProcessing RunStatus = "PROCESSING"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusFailed     RunStatus = "FAILED"
)

// Run tracks one annotation request from the queue until its record is stored.
type Run struct {
	ID               uuid.UUID
	UserID           string
	VideoKey         string
	Resolution       Resolution
	SamplesPerSecond int
	Status           RunStatus
	RecordID         int64
	FrameCount       int
	VideoDuration    float64
	Labels           []string
	LogKey           string
	ClipKey          string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

func NewRun(id uuid.UUID, userID, videoKey string, res Resolution, samplesPerSecond int) *Run {
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now().UTC()
	return &Run{
		ID:               id,
		UserID:           userID,
		VideoKey:         videoKey,
		Resolution:       res,
		SamplesPerSecond: samplesPerSecond,
		Status:           RunStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (r *Run) MarkProcessing() {
	r.Status = RunStatusProcessing
	r.UpdatedAt = time.Now().UTC()
}

func (r *Run) MarkCompleted(record StoredRecord) {
	now := time.Now().UTC()
	r.Status = RunStatusCompleted
	r.RecordID = record.ID
	r.FrameCount = len(record.Log)
	r.VideoDuration = record.Metadata.DurationSeconds
	r.Labels = record.Metadata.Labels
	r.UpdatedAt = now
	r.CompletedAt = &now
}

func (r *Run) MarkExported(logKey, clipKey string) {
	r.LogKey = logKey
	r.ClipKey = clipKey
	r.UpdatedAt = time.Now().UTC()
}

func (r *Run) MarkFailed(errMsg string) {
	r.Status = RunStatusFailed
	r.ErrorMessage = errMsg
	r.UpdatedAt = time.Now().UTC()
}

func (r *Run) StatusMessage() AnnotationStatusMessage {
	return AnnotationStatusMessage{
		RunID:        r.ID,
		UserID:       r.UserID,
		Status:       r.Status,
		VideoKey:     r.VideoKey,
		RecordID:     r.RecordID,
		FrameCount:   r.FrameCount,
		Duration:     r.VideoDuration,
		Resolution:   r.Resolution.String(),
		Labels:       r.Labels,
		LogKey:       r.LogKey,
		ClipKey:      r.ClipKey,
		ErrorMessage: r.ErrorMessage,
	}
}
