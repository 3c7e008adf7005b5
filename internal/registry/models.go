package registry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"deeplinker/internal/media"
)

// Stage identifies a derivation stage.
type Stage string

const (
	StagePreview   Stage = "preview"
	StageCollage   Stage = "collage"
	StageWatermark Stage = "watermark"
)

// Stages lists every derivation stage in scheduling order.
var Stages = []Stage{StagePreview, StageCollage, StageWatermark}

// ParseStage normalizes a stage name.
func ParseStage(value string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(value)))
	switch stage {
	case StagePreview, StageCollage, StageWatermark:
		return stage, nil
	default:
		return "", fmt.Errorf("unknown stage %q", value)
	}
}

// Status is the terminal outcome recorded for an artifact.
type Status string

const (
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
	// StatusNoop marks a stage that had nothing to do, such as a preview of a
	// source already shorter than the requested clip.
	StatusNoop Status = "no-op"
)

// MediaDescriptor is the persisted record behind a token.
type MediaDescriptor struct {
	Token      string     `json:"token"`
	SourceRef  string     `json:"source_ref"`
	Kind       media.Kind `json:"kind"`
	Protected  bool       `json:"protected"`
	SourceSize int64      `json:"source_size,omitempty"`
	Title      string     `json:"title,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Artifact is the outcome of one derivation stage for a token.
type Artifact struct {
	Token      string          `json:"token"`
	Stage      Stage           `json:"stage"`
	StorageRef string          `json:"storage_ref,omitempty"`
	Status     Status          `json:"status"`
	Error      string          `json:"error,omitempty"`
	Meta       json.RawMessage `json:"meta,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Stats summarizes registry contents.
type Stats struct {
	Media     int            `json:"media"`
	ByKind    map[string]int `json:"by_kind"`
	Artifacts int            `json:"artifacts"`
	ByStatus  map[string]int `json:"by_status"`
	Settings  int            `json:"settings"`
}
