package pipeline

import "time"

// EventKind identifies a lifecycle notification.
type EventKind string

const (
	EventRecordingStart     EventKind = "recording_start"
	EventRecordingStop      EventKind = "recording_stop"
	EventProcessingStart    EventKind = "processing_start"
	EventProcessingComplete EventKind = "processing_complete"
	EventError              EventKind = "error"
)

// Event is a fire-and-forget state-change notification. Subscribers that
// fall behind lose events rather than stalling the pipeline.
type Event struct {
	Kind    EventKind `json:"kind"`
	Message string    `json:"message,omitempty"`
	Result  *Result   `json:"result,omitempty"`
	At      time.Time `json:"at"`
}
