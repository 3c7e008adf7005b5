package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Result is the subset of ffprobe's JSON report the pipeline reads.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream is one elementary stream.
type Stream struct {
	Index       int         `json:"index"`
	CodecName   string      `json:"codec_name"`
	CodecType   string      `json:"codec_type"`
	Duration    string      `json:"duration"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Disposition Disposition `json:"disposition"`
}

// Disposition flags that change how a stream is treated.
type Disposition struct {
	AttachedPic int `json:"attached_pic"`
}

// Format is container-level metadata.
type Format struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

var probeArgs = []string{"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json"}

// Inspect runs binary (ffprobe when empty) against path.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe: empty path")
	}

	args := append(append([]string(nil), probeArgs...), "--", path)
	output, err := exec.CommandContext(ctx, binary, args...).Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Result{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return Parse(output)
}

// Parse decodes an ffprobe JSON report.
func Parse(data []byte) (Result, error) {
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe: decode report: %w", err)
	}
	return result, nil
}

// Count returns how many streams have codecType ("video", "audio"). Cover
// art attached to audio files is not counted as video.
func (r Result) Count(codecType string) int {
	n := 0
	for _, s := range r.Streams {
		if s.is(codecType) {
			n++
		}
	}
	return n
}

// AudioStreamCount returns the number of audio streams.
func (r Result) AudioStreamCount() int { return r.Count("audio") }

// PrimaryVideo returns the first real picture stream.
func (r Result) PrimaryVideo() (Stream, bool) {
	for _, s := range r.Streams {
		if s.is("video") && s.Width > 0 && s.Height > 0 {
			return s, true
		}
	}
	return Stream{}, false
}

// DurationSeconds is the container duration, falling back to the primary
// video stream. It is 0 when neither reports a usable value.
func (r Result) DurationSeconds() float64 {
	if d, ok := seconds(r.Format.Duration); ok {
		return d
	}
	if video, ok := r.PrimaryVideo(); ok {
		if d, ok := seconds(video.Duration); ok {
			return d
		}
	}
	return 0
}

func (s Stream) is(codecType string) bool {
	if !strings.EqualFold(s.CodecType, codecType) {
		return false
	}
	return !strings.EqualFold(codecType, "video") || s.Disposition.AttachedPic == 0
}

func seconds(value string) (float64, bool) {
	d, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 0, false
	}
	return d, true
}
