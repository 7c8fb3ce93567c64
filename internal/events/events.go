package events

import (
	"github.com/clipdock/clipdock/internal/models"
)

// EventType identifies one pipeline lifecycle notification.
type EventType string

const (
	TypeVideoUploaded      EventType = "video-uploaded"
	TypeProcessingStart    EventType = "video-processing-start"
	TypeProgressUpdate     EventType = "video-progress-update"
	TypeProcessingComplete EventType = "video-processing-complete"
	TypeProcessingFailed   EventType = "video-processing-failed"
)

// StartStep is the step label carried by the processing-start event.
const StartStep = "Starting video processing"

// Event is one lifecycle notification as delivered to subscribers.
// TenantID scopes delivery and never appears on the wire.
type Event struct {
	// Type identifies the notification kind.
	Type EventType `json:"type"`
	// TenantID routes the event to subscribers of the owning tenant.
	TenantID string `json:"-"`
	// VideoID is the subject video.
	VideoID models.ULID `json:"videoId"`
	// Summary accompanies video-uploaded.
	Summary *models.VideoSummary `json:"summary,omitempty"`
	// Progress is the completion percentage, 10 through 100.
	Progress int `json:"progress,omitempty"`
	// Step is the human-readable label of the current stage.
	Step string `json:"step,omitempty"`
	// Status accompanies video-processing-complete.
	Status models.VideoStatus `json:"status,omitempty"`
	// Analysis accompanies video-processing-complete.
	Analysis *models.Sensitivity `json:"analysis,omitempty"`
	// Error accompanies video-processing-failed.
	Error string `json:"error,omitempty"`
}

// Uploaded announces a newly persisted video to its tenant.
func Uploaded(v *models.Video) Event {
	summary := v.Summary()
	return Event{
		Type:     TypeVideoUploaded,
		TenantID: v.TenantID,
		VideoID:  v.ID,
		Summary:  &summary,
	}
}

// ProcessingStart marks the transition into the processing state.
func ProcessingStart(v *models.Video) Event {
	return Event{
		Type:     TypeProcessingStart,
		TenantID: v.TenantID,
		VideoID:  v.ID,
		Progress: 10,
		Step:     StartStep,
	}
}

// ProgressUpdate reports one checkpoint of the processing pipeline.
func ProgressUpdate(v *models.Video, progress int, step string) Event {
	return Event{
		Type:     TypeProgressUpdate,
		TenantID: v.TenantID,
		VideoID:  v.ID,
		Progress: progress,
		Step:     step,
	}
}

// ProcessingComplete carries the terminal verdict and the full
// analysis. The video must already hold its terminal status.
func ProcessingComplete(v *models.Video) Event {
	return Event{
		Type:     TypeProcessingComplete,
		TenantID: v.TenantID,
		VideoID:  v.ID,
		Progress: 100,
		Status:   v.Status,
		Analysis: v.Sensitivity,
	}
}

// ProcessingFailed reports a non-recoverable pipeline error.
func ProcessingFailed(v *models.Video, message string) Event {
	return Event{
		Type:     TypeProcessingFailed,
		TenantID: v.TenantID,
		VideoID:  v.ID,
		Error:    message,
	}
}
