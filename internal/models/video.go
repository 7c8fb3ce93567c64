package models

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"
)

// VideoStatus is the lifecycle state of a video.
type VideoStatus string

// Video lifecycle states. A video starts uploaded, moves to processing when
// a pipeline worker picks it up, and ends in exactly one of the terminal
// states safe, flagged or failed.
const (
	VideoStatusUploaded   VideoStatus = "uploaded"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusSafe       VideoStatus = "safe"
	VideoStatusFlagged    VideoStatus = "flagged"
	VideoStatusFailed     VideoStatus = "failed"
)

// Sensitivity verdicts.
const (
	VerdictSafe    = "safe"
	VerdictFlagged = "flagged"
)

// IsValid returns true for a known lifecycle state.
func (s VideoStatus) IsValid() bool {
	switch s {
	case VideoStatusUploaded, VideoStatusProcessing, VideoStatusSafe, VideoStatusFlagged, VideoStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true once the video can no longer change state.
func (s VideoStatus) IsTerminal() bool {
	switch s {
	case VideoStatusSafe, VideoStatusFlagged, VideoStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next. Terminal states are sinks; skipping states is forbidden, so an
// uploaded video can never fail without passing through processing.
func (s VideoStatus) CanTransitionTo(next VideoStatus) bool {
	switch s {
	case VideoStatusUploaded:
		return next == VideoStatusProcessing
	case VideoStatusProcessing:
		return next == VideoStatusSafe || next == VideoStatusFlagged || next == VideoStatusFailed
	}
	return false
}

// StatusForVerdict maps an analyzer verdict to the terminal lifecycle state.
func StatusForVerdict(verdict string) VideoStatus {
	if verdict == VerdictFlagged {
		return VideoStatusFlagged
	}
	return VideoStatusSafe
}

// ProcessingError is one recorded pipeline failure.
type ProcessingError struct {
	Step    string    `json:"step"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ProcessingErrorList is the ordered error history of a video.
type ProcessingErrorList []ProcessingError

// MarshalJSON renders a nil list as [] so API clients always see an array.
func (l ProcessingErrorList) MarshalJSON() ([]byte, error) {
	if l == nil {
		l = ProcessingErrorList{}
	}
	return json.Marshal([]ProcessingError(l))
}

// ProbeResult holds container metadata extracted during validation.
type ProbeResult struct {
	Codec                 string  `json:"codec,omitempty"`
	Container             string  `json:"container,omitempty"`
	DurationSec           float64 `json:"durationSec,omitempty"`
	WidthPx               int     `json:"widthPx,omitempty"`
	HeightPx              int     `json:"heightPx,omitempty"`
	ValidatedWithFallback bool    `json:"validatedWithFallback"`
}

// CategoryDetail is the per-category portion of a sensitivity result.
type CategoryDetail struct {
	Score    int      `json:"score"`
	Keywords []string `json:"keywords"`
}

// DetectedIssue is one triggered category with its evidence.
type DetectedIssue struct {
	Category string   `json:"category"`
	Score    int      `json:"score"`
	Keywords []string `json:"keywords"`
}

// Sensitivity is the persisted outcome of content analysis.
type Sensitivity struct {
	Score             int                       `json:"score"`
	Verdict           string                    `json:"verdict"`
	Rules             []string                  `json:"rules"`
	CategoryBreakdown map[string]CategoryDetail `json:"categoryBreakdown"`
	DetectedIssues    []DetectedIssue           `json:"detectedIssues"`
	Summary           string                    `json:"summary"`
	AnalyzedAt        time.Time                 `json:"analyzedAt,omitzero"`
}

// Video is the unit of ingestion and lifecycle.
type Video struct {
	BaseModel
	TenantID              string              `gorm:"index:idx_videos_tenant_status;not null" json:"tenantId"`
	OwnerID               string              `gorm:"index;not null" json:"ownerId"`
	Title                 string              `gorm:"not null" json:"title"`
	Description           string              `json:"description"`
	Filename              string              `gorm:"not null" json:"filename"`
	BlobRef               string              `gorm:"uniqueIndex" json:"-"`
	Size                  int64               `gorm:"not null" json:"size"`
	Status                VideoStatus         `gorm:"index:idx_videos_tenant_status;type:varchar(16);default:uploaded" json:"status"`
	Progress              int                 `gorm:"default:0" json:"progress"`
	Sensitivity           *Sensitivity        `gorm:"type:text;serializer:json" json:"sensitivity,omitempty"`
	ProbeResult           *ProbeResult        `gorm:"type:text;serializer:json" json:"probeResult,omitempty"`
	Errors                ProcessingErrorList `gorm:"type:text;serializer:json" json:"errors"`
	ProcessingStartedAt   *time.Time          `json:"processingStartedAt,omitempty"`
	ProcessingCompletedAt *time.Time          `json:"processingCompletedAt,omitempty"`
}

// TableName returns the database table name.
func (Video) TableName() string {
	return "videos"
}

// Metadata bounds enforced on every write.
const (
	TitleMinLen       = 3
	TitleMaxLen       = 100
	DescriptionMaxLen = 1000
	FilenameMinLen    = 1
	FilenameMaxLen    = 512
)

// Validate checks field bounds and state validity.
func (v *Video) Validate() error {
	if l := len(v.Title); l < TitleMinLen || l > TitleMaxLen {
		return fmt.Errorf("title length must be between %d and %d", TitleMinLen, TitleMaxLen)
	}
	if len(v.Description) > DescriptionMaxLen {
		return fmt.Errorf("description must not exceed %d characters", DescriptionMaxLen)
	}
	if l := len(v.Filename); l < FilenameMinLen || l > FilenameMaxLen {
		return fmt.Errorf("filename length must be between %d and %d", FilenameMinLen, FilenameMaxLen)
	}
	if v.Size < 0 {
		return fmt.Errorf("size must not be negative")
	}
	if v.Status == "" {
		v.Status = VideoStatusUploaded
	}
	if !v.Status.IsValid() {
		return fmt.Errorf("invalid status %q", v.Status)
	}
	if v.Progress < 0 || v.Progress > 100 {
		return fmt.Errorf("progress must be between 0 and 100")
	}
	if v.TenantID == "" {
		return fmt.Errorf("tenantId is required")
	}
	return nil
}

// BeforeSave enforces model invariants on create and update.
func (v *Video) BeforeSave(tx *gorm.DB) error {
	return v.Validate()
}

// MarkProcessing moves the video from uploaded to processing.
func (v *Video) MarkProcessing(now time.Time) error {
	if !v.Status.CanTransitionTo(VideoStatusProcessing) {
		return fmt.Errorf("cannot start processing from status %q", v.Status)
	}
	v.Status = VideoStatusProcessing
	v.Progress = 10
	v.ProcessingStartedAt = &now
	return nil
}

// MarkCompleted moves the video from processing to the verdict's terminal
// state, records the sensitivity result and completes the timeline.
func (v *Video) MarkCompleted(sens *Sensitivity, now time.Time) error {
	next := StatusForVerdict(sens.Verdict)
	if !v.Status.CanTransitionTo(next) {
		return fmt.Errorf("cannot complete from status %q", v.Status)
	}
	v.Status = next
	v.Progress = 100
	v.Sensitivity = sens
	v.ProcessingCompletedAt = &now
	return nil
}

// MarkFailed moves the video from processing to failed, appending the
// failure to the error history. Progress keeps its last value and no
// sensitivity result is recorded.
func (v *Video) MarkFailed(step, message string, now time.Time) error {
	if !v.Status.CanTransitionTo(VideoStatusFailed) {
		return fmt.Errorf("cannot fail from status %q", v.Status)
	}
	v.Status = VideoStatusFailed
	v.AppendError(step, message, now)
	return nil
}

// AdvanceProgress raises progress to p. Progress is monotonic within a job;
// moving backwards is an error, repeating the current value is a no-op.
func (v *Video) AdvanceProgress(p int) error {
	if p < v.Progress {
		return fmt.Errorf("progress cannot decrease from %d to %d", v.Progress, p)
	}
	if p > 100 {
		return fmt.Errorf("progress cannot exceed 100")
	}
	v.Progress = p
	return nil
}

// AppendError records a pipeline failure without changing state.
func (v *Video) AppendError(step, message string, at time.Time) {
	v.Errors = append(v.Errors, ProcessingError{Step: step, Message: message, At: at})
}

// Ext returns the lowercase filename extension without the leading dot.
func (v *Video) Ext() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(v.Filename), "."))
}

// VideoSummary is the compact representation carried in upload events.
type VideoSummary struct {
	Title     string      `json:"title"`
	Status    VideoStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	OwnerRef  string      `json:"ownerRef"`
	Size      int64       `json:"size"`
}

// Summary returns the event representation of the video.
func (v *Video) Summary() VideoSummary {
	return VideoSummary{
		Title:     v.Title,
		Status:    v.Status,
		CreatedAt: v.CreatedAt,
		OwnerRef:  v.OwnerID,
		Size:      v.Size,
	}
}
