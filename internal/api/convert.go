package api

import (
	"strings"
	"time"

	"deeplinker/internal/deps"
	"deeplinker/internal/pipeline"
	"deeplinker/internal/registry"
)

// FromDescriptor converts a registry descriptor to its API representation.
// baseURL, when set, is used to build the public link.
func FromDescriptor(desc registry.MediaDescriptor, baseURL string) MediaItem {
	return MediaItem{
		Token:      desc.Token,
		Kind:       string(desc.Kind),
		SourceRef:  desc.SourceRef,
		Protected:  desc.Protected,
		SourceSize: desc.SourceSize,
		Title:      desc.Title,
		CreatedAt:  formatTime(desc.CreatedAt),
		Link:       LinkFor(baseURL, desc.Token),
	}
}

// FromArtifacts converts artifact records.
func FromArtifacts(artifacts []registry.Artifact) []Artifact {
	if len(artifacts) == 0 {
		return nil
	}
	out := make([]Artifact, 0, len(artifacts))
	for _, art := range artifacts {
		out = append(out, Artifact{
			Stage:      string(art.Stage),
			Status:     string(art.Status),
			StorageRef: art.StorageRef,
			Error:      art.Error,
			Meta:       art.Meta,
			UpdatedAt:  formatTime(art.UpdatedAt),
		})
	}
	return out
}

// FromSnapshots converts pipeline job snapshots.
func FromSnapshots(snaps []pipeline.Snapshot) []Job {
	out := make([]Job, 0, len(snaps))
	for _, snap := range snaps {
		job := Job{
			ID:        snap.ID,
			Token:     snap.Token,
			Stage:     string(snap.Stage),
			Kind:      string(snap.Kind),
			State:     string(snap.State),
			Error:     snap.Error,
			CreatedAt: formatTime(snap.CreatedAt),
		}
		if snap.StartedAt != nil {
			job.StartedAt = formatTime(*snap.StartedAt)
		}
		if snap.FinishedAt != nil {
			job.FinishedAt = formatTime(*snap.FinishedAt)
		}
		out = append(out, job)
	}
	return out
}

// FromPipelineStats converts pool occupancy.
func FromPipelineStats(stats pipeline.Stats) PipelineStatus {
	return PipelineStatus{
		Started:    stats.Started,
		Workers:    stats.Workers,
		QueueDepth: stats.QueueDepth,
		Pending:    stats.Pending,
		Reserved:   stats.Reserved,
		Running:    stats.Running,
		Sources:    stats.Sources,
	}
}

// FromRegistryStats converts registry counts.
func FromRegistryStats(stats registry.Stats) RegistryStatus {
	return RegistryStatus{
		Media:     stats.Media,
		ByKind:    stats.ByKind,
		Artifacts: stats.Artifacts,
		ByStatus:  stats.ByStatus,
		Settings:  stats.Settings,
	}
}

// FromDependencies converts external tool checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Version:     dep.Version,
			Detail:      dep.Detail,
		}
	}
	return out
}

// LinkFor joins baseURL and the link path for token. An empty baseURL
// yields an empty link.
func LinkFor(baseURL, token string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" || token == "" {
		return ""
	}
	return baseURL + "/l/" + token
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
