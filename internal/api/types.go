package api

import (
	"encoding/json"

	"deeplinker/internal/ingest"
	"deeplinker/internal/logging"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// MediaItem describes a token in a transport-friendly format.
type MediaItem struct {
	Token      string     `json:"token"`
	Kind       string     `json:"kind"`
	SourceRef  string     `json:"sourceRef"`
	Protected  bool       `json:"protected"`
	SourceSize int64      `json:"sourceSize,omitempty"`
	Title      string     `json:"title,omitempty"`
	CreatedAt  string     `json:"createdAt,omitempty"`
	Link       string     `json:"link,omitempty"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
}

// Artifact describes one derivation outcome.
type Artifact struct {
	Stage      string          `json:"stage"`
	Status     string          `json:"status"`
	StorageRef string          `json:"storageRef,omitempty"`
	Error      string          `json:"error,omitempty"`
	Meta       json.RawMessage `json:"meta,omitempty"`
	UpdatedAt  string          `json:"updatedAt,omitempty"`
}

// Job describes a pipeline job.
type Job struct {
	ID         string `json:"id"`
	Token      string `json:"token"`
	Stage      string `json:"stage"`
	Kind       string `json:"kind"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
	StartedAt  string `json:"startedAt,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

// IngestRequest is the body of POST /api/media.
type IngestRequest struct {
	Source  string         `json:"source"`
	Kind    string         `json:"kind"`
	Options ingest.Options `json:"options"`
}

// IngestResponse reports an accepted upload.
type IngestResponse struct {
	Item MediaItem `json:"item"`
	Jobs []Job     `json:"jobs"`
}

// MediaListResponse wraps a page of tokens. Next is the cursor for the
// following page and is empty on the last one.
type MediaListResponse struct {
	Items []MediaItem `json:"items"`
	Next  string      `json:"next,omitempty"`
}

// MediaItemResponse wraps a single token.
type MediaItemResponse struct {
	Item MediaItem `json:"item"`
}

// DeleteResponse confirms a deletion.
type DeleteResponse struct {
	Token   string `json:"token"`
	Deleted bool   `json:"deleted"`
}

// JobsResponse wraps job snapshots.
type JobsResponse struct {
	Jobs []Job `json:"jobs"`
}

// PipelineStatus summarizes worker pool occupancy.
type PipelineStatus struct {
	Started    bool `json:"started"`
	Workers    int  `json:"workers"`
	QueueDepth int  `json:"queueDepth"`
	Pending    int  `json:"pending"`
	Reserved   int  `json:"reserved"`
	Running    int  `json:"running"`
	Sources    int  `json:"sources"`
}

// RegistryStatus summarizes registry contents.
type RegistryStatus struct {
	Media     int            `json:"media"`
	ByKind    map[string]int `json:"byKind"`
	Artifacts int            `json:"artifacts"`
	ByStatus  map[string]int `json:"byStatus"`
	Settings  int            `json:"settings"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	DatabasePath string             `json:"databasePath"`
	LockFilePath string             `json:"lockFilePath"`
	StorageDir   string             `json:"storageDir"`
	FreeBytes    uint64             `json:"freeBytes"`
	Preference   []string           `json:"preference"`
	Pipeline     PipelineStatus     `json:"pipeline"`
	Registry     RegistryStatus     `json:"registry"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// SettingsResponse carries every effective setting.
type SettingsResponse struct {
	Settings map[string]json.RawMessage `json:"settings"`
}

// SettingResponse carries one effective setting.
type SettingResponse struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// LogStreamResponse carries a batch of log events and the next cursor.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
