package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/clipdock/clipdock/internal/models"
)

// DefaultProbeTimeout bounds one ffprobe invocation.
const DefaultProbeTimeout = 5 * time.Second

// ErrNoVideoStream reports a file that probed cleanly but contains no
// video stream. Unlike a probe failure this is fatal: the upload is not
// a video, so the fallback validator must not rescue it.
var ErrNoVideoStream = errors.New("no video stream found")

// Prober validates a media file and reports its characteristics. The
// implementation must observe ctx cancellation.
type Prober interface {
	Probe(ctx context.Context, path string) (*models.ProbeResult, error)
}

// ffprobeOutput mirrors the subset of ffprobe JSON output we consume.
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeStream struct {
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// FFProber shells out to ffprobe for media inspection.
type FFProber struct {
	ffprobePath string
	timeout     time.Duration
}

// NewFFProber creates a prober using the given ffprobe binary. An empty
// path resolves from PATH.
func NewFFProber(ffprobePath string) *FFProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFProber{
		ffprobePath: ffprobePath,
		timeout:     DefaultProbeTimeout,
	}
}

// WithTimeout sets the probe timeout.
func (p *FFProber) WithTimeout(timeout time.Duration) *FFProber {
	if timeout > 0 {
		p.timeout = timeout
	}
	return p
}

// Probe inspects the file at path. The returned result carries the
// codec and dimensions of the first video stream.
func (p *FFProber) Probe(ctx context.Context, path string) (*models.ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseProbeOutput(output)
}

// parseProbeOutput maps ffprobe JSON to a probe result. Output without
// a video stream yields ErrNoVideoStream.
func parseProbeOutput(output []byte) (*models.ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	video := raw.videoStream()
	if video == nil {
		return nil, ErrNoVideoStream
	}

	result := &models.ProbeResult{
		Codec:     video.CodecName,
		Container: raw.Format.FormatName,
		WidthPx:   video.Width,
		HeightPx:  video.Height,
	}
	if raw.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil {
			result.DurationSec = dur
		}
	}
	return result, nil
}

// videoStream returns the first video stream, or nil.
func (o *ffprobeOutput) videoStream() *ffprobeStream {
	for i := range o.Streams {
		if o.Streams[i].CodecType == "video" {
			return &o.Streams[i]
		}
	}
	return nil
}

// Size bounds applied by the fallback validator.
const (
	fallbackMinSize = 1 << 10 // 1 KiB
	fallbackMaxSize = 2 << 30 // 2 GiB
)

// fallbackExtensions are containers accepted when the probe cannot run.
var fallbackExtensions = map[string]bool{
	"mp4":  true,
	"webm": true,
	"mkv":  true,
	"avi":  true,
	"mov":  true,
	"flv":  true,
}

// fallbackValidate accepts a video on extension and size alone, used
// when the probe times out or crashes. Rejection here is fatal.
func fallbackValidate(video *models.Video) (*models.ProbeResult, error) {
	ext := video.Ext()
	if !fallbackExtensions[ext] {
		return nil, fmt.Errorf("unsupported file extension %q", ext)
	}
	if video.Size < fallbackMinSize || video.Size > fallbackMaxSize {
		return nil, fmt.Errorf("file size %d outside accepted range [%d, %d]", video.Size, fallbackMinSize, fallbackMaxSize)
	}
	return &models.ProbeResult{
		Container:             ext,
		ValidatedWithFallback: true,
	}, nil
}
