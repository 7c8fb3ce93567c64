package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVideo() *Video {
	return &Video{
		TenantID: "tenant-a",
		OwnerID:  "user-1",
		Title:    "My Family Vacation",
		Filename: "vacation.mp4",
		Size:     1 << 20,
		Status:   VideoStatusUploaded,
	}
}

func TestVideoStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    VideoStatus
		to      VideoStatus
		allowed bool
	}{
		{"uploaded to processing", VideoStatusUploaded, VideoStatusProcessing, true},
		{"uploaded to safe skips processing", VideoStatusUploaded, VideoStatusSafe, false},
		{"uploaded to failed skips processing", VideoStatusUploaded, VideoStatusFailed, false},
		{"processing to safe", VideoStatusProcessing, VideoStatusSafe, true},
		{"processing to flagged", VideoStatusProcessing, VideoStatusFlagged, true},
		{"processing to failed", VideoStatusProcessing, VideoStatusFailed, true},
		{"processing back to uploaded", VideoStatusProcessing, VideoStatusUploaded, false},
		{"safe is a sink", VideoStatusSafe, VideoStatusProcessing, false},
		{"flagged is a sink", VideoStatusFlagged, VideoStatusFailed, false},
		{"failed is a sink", VideoStatusFailed, VideoStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestVideoStatusTerminal(t *testing.T) {
	assert.False(t, VideoStatusUploaded.IsTerminal())
	assert.False(t, VideoStatusProcessing.IsTerminal())
	assert.True(t, VideoStatusSafe.IsTerminal())
	assert.True(t, VideoStatusFlagged.IsTerminal())
	assert.True(t, VideoStatusFailed.IsTerminal())
}

func TestStatusForVerdict(t *testing.T) {
	assert.Equal(t, VideoStatusSafe, StatusForVerdict(VerdictSafe))
	assert.Equal(t, VideoStatusFlagged, StatusForVerdict(VerdictFlagged))
}

func TestMarkProcessing(t *testing.T) {
	v := testVideo()
	now := time.Now()

	require.NoError(t, v.MarkProcessing(now))
	assert.Equal(t, VideoStatusProcessing, v.Status)
	assert.Equal(t, 10, v.Progress)
	require.NotNil(t, v.ProcessingStartedAt)
	assert.Equal(t, now, *v.ProcessingStartedAt)

	// Second start is rejected.
	assert.Error(t, v.MarkProcessing(now))
}

func TestMarkCompleted(t *testing.T) {
	v := testVideo()
	require.NoError(t, v.MarkProcessing(time.Now()))

	sens := &Sensitivity{Score: 0, Verdict: VerdictSafe, Rules: []string{"Passed all content checks"}}
	now := time.Now()
	require.NoError(t, v.MarkCompleted(sens, now))

	assert.Equal(t, VideoStatusSafe, v.Status)
	assert.Equal(t, 100, v.Progress)
	assert.Same(t, sens, v.Sensitivity)
	require.NotNil(t, v.ProcessingCompletedAt)

	// Terminal states are sinks.
	assert.Error(t, v.MarkCompleted(sens, now))
}

func TestMarkCompletedFlagged(t *testing.T) {
	v := testVideo()
	require.NoError(t, v.MarkProcessing(time.Now()))

	require.NoError(t, v.MarkCompleted(&Sensitivity{Score: 84, Verdict: VerdictFlagged}, time.Now()))
	assert.Equal(t, VideoStatusFlagged, v.Status)
}

func TestMarkFailed(t *testing.T) {
	v := testVideo()

	// An uploaded video cannot fail directly.
	assert.Error(t, v.MarkFailed("validation", "boom", time.Now()))

	require.NoError(t, v.MarkProcessing(time.Now()))
	require.NoError(t, v.AdvanceProgress(35))

	now := time.Now()
	require.NoError(t, v.MarkFailed("validation", "unsupported container", now))

	assert.Equal(t, VideoStatusFailed, v.Status)
	assert.Equal(t, 35, v.Progress, "failed keeps last progress")
	assert.Nil(t, v.Sensitivity)
	assert.Nil(t, v.ProcessingCompletedAt)
	require.Len(t, v.Errors, 1)
	assert.Equal(t, "validation", v.Errors[0].Step)
	assert.Equal(t, "unsupported container", v.Errors[0].Message)
}

func TestAdvanceProgress(t *testing.T) {
	v := testVideo()
	require.NoError(t, v.MarkProcessing(time.Now()))

	require.NoError(t, v.AdvanceProgress(20))
	require.NoError(t, v.AdvanceProgress(35))
	require.NoError(t, v.AdvanceProgress(35), "repeating the current value is allowed")
	assert.Error(t, v.AdvanceProgress(20), "progress must not decrease")
	assert.Error(t, v.AdvanceProgress(101))
	assert.Equal(t, 35, v.Progress)
}

func TestVideoValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Video)
		wantErr string
	}{
		{"valid", func(v *Video) {}, ""},
		{"short title", func(v *Video) { v.Title = "ab" }, "title"},
		{"long title", func(v *Video) { v.Title = string(make([]byte, 101)) }, "title"},
		{"long description", func(v *Video) { v.Description = string(make([]byte, 1001)) }, "description"},
		{"empty filename", func(v *Video) { v.Filename = "" }, "filename"},
		{"negative size", func(v *Video) { v.Size = -1 }, "size"},
		{"bad status", func(v *Video) { v.Status = "pending" }, "status"},
		{"progress out of range", func(v *Video) { v.Progress = 101 }, "progress"},
		{"missing tenant", func(v *Video) { v.TenantID = "" }, "tenantId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testVideo()
			tt.mutate(v)
			err := v.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestVideoValidateDefaultsStatus(t *testing.T) {
	v := testVideo()
	v.Status = ""
	require.NoError(t, v.Validate())
	assert.Equal(t, VideoStatusUploaded, v.Status)
}

func TestVideoExt(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"vacation.mp4", "mp4"},
		{"CLIP.MKV", "mkv"},
		{"archive.tar.gz", "gz"},
		{"noext", ""},
	}

	for _, tt := range tests {
		v := &Video{Filename: tt.filename}
		assert.Equal(t, tt.want, v.Ext(), tt.filename)
	}
}

func TestVideoSummary(t *testing.T) {
	v := testVideo()
	v.CreatedAt = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	s := v.Summary()
	assert.Equal(t, "My Family Vacation", s.Title)
	assert.Equal(t, VideoStatusUploaded, s.Status)
	assert.Equal(t, "user-1", s.OwnerRef)
	assert.Equal(t, int64(1<<20), s.Size)
	assert.Equal(t, v.CreatedAt, s.CreatedAt)
}

func TestProcessingErrorListJSON(t *testing.T) {
	v := testVideo()

	data, err := json.Marshal(v.Errors)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data), "nil error history renders as empty array")

	v.AppendError("validation", "boom", time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	data, err = json.Marshal(v.Errors)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"step":"validation"`)
	assert.Contains(t, string(data), `"message":"boom"`)
}

func TestVideoJSONShape(t *testing.T) {
	v := testVideo()
	v.BlobRef = "tenant-a/01ABC.mp4"

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	assert.Contains(t, m, "tenantId")
	assert.Contains(t, m, "ownerId")
	assert.Contains(t, m, "status")
	assert.Contains(t, m, "errors")
	assert.NotContains(t, m, "BlobRef", "blob ref is internal")
	assert.NotContains(t, m, "blobRef", "blob ref is internal")
	assert.NotContains(t, m, "sensitivity", "absent until terminal")
	assert.NotContains(t, m, "processingStartedAt")
}
