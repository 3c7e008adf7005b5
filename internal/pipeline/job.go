package pipeline

import (
	"context"
	"sync"
	"time"

	"deeplinker/internal/media"
	"deeplinker/internal/registry"
)

// State is a job lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// Target selects the artifact a watermark is drawn on.
type Target string

const (
	TargetRaw     Target = "raw"
	TargetPreview Target = "preview"
	TargetCollage Target = "collage"
)

// Params carries the effective derivation parameters of a job.
type Params struct {
	PreviewSeconds  int             `json:"preview_seconds,omitempty"`
	PreviewJitter   bool            `json:"preview_jitter,omitempty"`
	Frames          int             `json:"frames,omitempty"`
	CollageQuality  int             `json:"collage_quality,omitempty"`
	CellWidth       int             `json:"cell_width,omitempty"`
	Watermark       media.Watermark `json:"watermark"`
	WatermarkTarget Target          `json:"watermark_target,omitempty"`
}

// Spec describes a job to submit.
type Spec struct {
	Token      string
	Stage      registry.Stage
	Kind       media.Kind
	SourceRef  string
	SourceSize int64
	Params     Params
}

// Job is a handle on one scheduled stage.
type Job struct {
	ID         string
	Token      string
	Stage      registry.Stage
	Kind       media.Kind
	SourceRef  string
	SourceSize int64
	Params     Params

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	// release runs once the job is terminal with the state it left.
	release func(j *Job, from State)

	// Guarded by the owning Pipeline's mu. queued is set while the job sits
	// in the worker channel; retired once it ended without being run.
	queued  bool
	retired bool

	mu         sync.Mutex
	state      State
	err        error
	artifact   *registry.Artifact
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// Snapshot is a point-in-time copy of a job for diagnostics.
type Snapshot struct {
	ID         string         `json:"id"`
	Token      string         `json:"token"`
	Stage      registry.Stage `json:"stage"`
	Kind       media.Kind     `json:"kind"`
	State      State          `json:"state"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the failure cause once the job is terminal.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Artifact returns the recorded artifact, if any.
func (j *Job) Artifact() (registry.Artifact, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.artifact == nil {
		return registry.Artifact{}, false
	}
	return *j.artifact, true
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job is terminal or ctx ends.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the job. A pending job is cancelled immediately; a running job
// is signalled and Cancel returns once its workspace has been released.
func (j *Job) Cancel() {
	if j.transition(StatePending, StateCancelled, context.Canceled) {
		j.finalize(StatePending)
		return
	}
	j.cancel()
	<-j.done
}

// Snapshot copies the job state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	snap := Snapshot{
		ID:        j.ID,
		Token:     j.Token,
		Stage:     j.Stage,
		Kind:      j.Kind,
		State:     j.state,
		CreatedAt: j.createdAt,
	}
	if j.err != nil {
		snap.Error = j.err.Error()
	}
	if !j.startedAt.IsZero() {
		started := j.startedAt
		snap.StartedAt = &started
	}
	if !j.finishedAt.IsZero() {
		finished := j.finishedAt
		snap.FinishedAt = &finished
	}
	return snap
}

// transition moves the job from one state to another and reports whether the
// move happened.
func (j *Job) transition(from, to State, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != from {
		return false
	}
	j.state = to
	now := time.Now().UTC()
	switch {
	case to == StateRunning:
		j.startedAt = now
	case to.Terminal():
		j.finishedAt = now
		j.err = err
	}
	return true
}

func (j *Job) setArtifact(art registry.Artifact) {
	j.mu.Lock()
	j.artifact = &art
	j.mu.Unlock()
}

// finalize runs bookkeeping and wakes waiters. Callers reach it only after a
// successful transition into a terminal state, so it runs once per job.
func (j *Job) finalize(from State) {
	if j.release != nil {
		j.release(j, from)
	}
	j.cancel()
	close(j.done)
}
