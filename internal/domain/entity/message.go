package entity

import "github.com/google/uuid"

// AnnotationRequestMessage is the inbound message from the annotation.requests queue.
type AnnotationRequestMessage struct {
	RunID            uuid.UUID `json:"run_id"`
	UserID           string    `json:"user_id"`
	VideoKey         string    `json:"video_key"`
	Resolution       string    `json:"resolution"`
	SamplesPerSecond int       `json:"samples_per_second"`
	UserEmail        string    `json:"user_email"`
}

// AnnotationStatusMessage is the outbound message published to the annotation.status queue.
type AnnotationStatusMessage struct {
	RunID        uuid.UUID `json:"run_id"`
	UserID       string    `json:"user_id"`
	Status       RunStatus `json:"status"`
	VideoKey     string    `json:"video_key"`
	RecordID     int64     `json:"record_id,omitempty"`
	FrameCount   int       `json:"frame_count,omitempty"`
	Duration     float64   `json:"duration_seconds,omitempty"`
	Resolution   string    `json:"resolution,omitempty"`
	Labels       []string  `json:"labels,omitempty"`
	LogKey       string    `json:"log_key,omitempty"`
	ClipKey      string    `json:"clip_key,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
