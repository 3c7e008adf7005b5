package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"deeplinker/internal/config"
	"deeplinker/internal/logging"
	"deeplinker/internal/media"
	"deeplinker/internal/registry"
	"deeplinker/internal/services"
	"deeplinker/internal/storage"
	"deeplinker/internal/transfer"
)

// Registry is the subset of the token registry the pipeline writes to.
type Registry interface {
	AttachArtifact(ctx context.Context, art registry.Artifact) error
	Artifact(ctx context.Context, token string, stage registry.Stage) (registry.Artifact, error)
}

// Blobs stores finished artifacts and resolves stored sources.
type Blobs interface {
	Import(path string) (storage.SaveResult, error)
	Path(ref string) (string, error)
	Release(ref string) error
}

// Downloader fetches remote sources.
type Downloader interface {
	Download(ctx context.Context, req transfer.Request) (transfer.Result, error)
}

// ProcessorFactory returns the capability set for a media kind.
type ProcessorFactory func(kind media.Kind) (media.Processor, error)

// Deps bundles the collaborators of a Pipeline.
type Deps struct {
	Registry   Registry
	Blobs      Blobs
	Downloader Downloader
	Processors ProcessorFactory
	Notifier   Notifier
	Logger     *slog.Logger
}

// Notifier is told when a stage ends in failure.
type Notifier interface {
	NotifyDerivationFailed(ctx context.Context, token, stage string, cause error) error
}

const recentLimit = 100

type jobKey struct {
	token string
	stage registry.Stage
}

// Pipeline schedules derivation jobs on a fixed set of workers.
type Pipeline struct {
	reg          Registry
	blobs        Blobs
	processors   ProcessorFactory
	notifier     Notifier
	sources      *sourceCache
	logger       *slog.Logger
	workRoot     string
	workers      int
	depth        int
	stageTimeout time.Duration

	queue chan *Job

	mu       sync.Mutex
	running  bool
	stopped  bool
	runCtx   context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	inflight map[jobKey]*Job
	pending  int
	reserved int
	active   int
	// stale counts cancelled jobs still occupying a channel slot.
	stale  int
	recent []Snapshot
}

// Stats summarizes pool occupancy.
type Stats struct {
	Workers    int  `json:"workers"`
	QueueDepth int  `json:"queue_depth"`
	Pending    int  `json:"pending"`
	Reserved   int  `json:"reserved"`
	Running    int  `json:"running"`
	Stale      int  `json:"stale"`
	Sources    int  `json:"cached_sources"`
	Started    bool `json:"started"`
}

// New builds a pipeline from cfg. Start must be called before jobs run.
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if deps.Registry == nil || deps.Blobs == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new", "registry and blob store are required", nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "pipeline")
	processors := deps.Processors
	if processors == nil {
		tools := media.NewToolchain(cfg.Tools.FFmpeg, cfg.Tools.FFprobe)
		processors = func(kind media.Kind) (media.Processor, error) {
			return media.ForKind(kind, tools)
		}
	}
	workers := max(1, cfg.Pipeline.Workers)
	depth := max(1, cfg.Pipeline.QueueDepth)
	return &Pipeline{
		reg:          deps.Registry,
		blobs:        deps.Blobs,
		processors:   processors,
		notifier:     deps.Notifier,
		sources:      newSourceCache(deps.Blobs, deps.Downloader, cfg.Paths.WorkDir, cfg.MaxBytes, logger),
		logger:       logger,
		workRoot:     cfg.Paths.WorkDir,
		workers:      workers,
		depth:        depth,
		stageTimeout: cfg.StageTimeout(),
		queue:        make(chan *Job, depth),
		inflight:     make(map[jobKey]*Job),
	}, nil
}

// Start launches the workers. Jobs submitted before Start wait in the queue.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return errors.New("pipeline already started")
	}
	p.runCtx, p.stop = context.WithCancel(ctx)
	p.running = true
	p.wg.Add(p.workers)
	for range p.workers {
		go p.worker()
	}
	p.logger.Info("pipeline started",
		logging.Int("workers", p.workers),
		logging.Int("queue_depth", p.depth),
		logging.Event("pipeline_started"),
	)
	return nil
}

// Stop cancels every job, waits for workers to exit and marks still-queued
// jobs cancelled.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.stopped = true
	stop := p.stop
	jobs := make([]*Job, 0, len(p.inflight))
	for _, job := range p.inflight {
		jobs = append(jobs, job)
	}
	p.mu.Unlock()

	stop()
	for _, job := range jobs {
		job.cancel()
	}
	p.wg.Wait()
	for {
		select {
		case job := <-p.queue:
			if p.dequeued(job) && job.transition(StatePending, StateCancelled, context.Canceled) {
				job.finalize(StatePending)
			}
		default:
			p.logger.Info("pipeline stopped", logging.Event("pipeline_stopped"))
			return
		}
	}
}

// Reservation holds queue slots claimed ahead of submission.
type Reservation struct {
	p     *Pipeline
	mu    sync.Mutex
	slots int
}

// Reserve claims n queue slots or fails with services.ErrBusy.
func (p *Pipeline) Reserve(n int) (*Reservation, error) {
	if n <= 0 {
		return &Reservation{p: p}, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if used := p.occupied(); used+n > p.depth {
		busyTotal.Inc()
		return nil, services.Wrap(services.ErrBusy, "pipeline", "reserve",
			fmt.Sprintf("queue full (%d of %d slots in use)", used, p.depth), nil)
	}
	p.reserved += n
	queueDepth.Set(float64(p.occupied()))
	return &Reservation{p: p, slots: n}, nil
}

// Submit schedules spec using one reserved slot. A job already in flight for
// the same (token, stage) is returned instead and the slot stays reserved.
func (r *Reservation) Submit(spec Spec) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots <= 0 {
		return nil, services.Wrap(services.ErrBusy, "pipeline", "submit", "reservation exhausted", nil)
	}
	job, created, err := r.p.submit(spec, true)
	if err != nil {
		return nil, err
	}
	if created {
		r.slots--
	}
	return job, nil
}

// Release returns unused slots to the pool. It is safe to call more than once.
func (r *Reservation) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots <= 0 {
		return
	}
	r.p.mu.Lock()
	r.p.reserved -= r.slots
	queueDepth.Set(float64(r.p.occupied()))
	r.p.mu.Unlock()
	r.slots = 0
}

// Submit schedules a single job, reserving its slot on the spot.
func (p *Pipeline) Submit(spec Spec) (*Job, error) {
	res, err := p.Reserve(1)
	if err != nil {
		p.mu.Lock()
		existing := p.inflight[jobKey{spec.Token, spec.Stage}]
		p.mu.Unlock()
		if existing != nil {
			coalescedTotal.Inc()
			return existing, nil
		}
		return nil, err
	}
	defer res.Release()
	return res.Submit(spec)
}

func (p *Pipeline) submit(spec Spec, fromReservation bool) (*Job, bool, error) {
	if err := validateSpec(spec); err != nil {
		return nil, false, err
	}
	key := jobKey{spec.Token, spec.Stage}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, false, services.Wrap(services.ErrBusy, "pipeline", "submit", "pipeline stopped", nil)
	}
	if existing := p.inflight[key]; existing != nil {
		p.mu.Unlock()
		coalescedTotal.Inc()
		p.logger.Debug("coalesced submission",
			logging.Token(spec.Token),
			logging.Stage(string(spec.Stage)),
			logging.JobID(existing.ID),
		)
		return existing, false, nil
	}
	parent := p.runCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	job := &Job{
		ID:         uuid.NewString(),
		Token:      spec.Token,
		Stage:      spec.Stage,
		Kind:       spec.Kind,
		SourceRef:  spec.SourceRef,
		SourceSize: spec.SourceSize,
		Params:     spec.Params,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		release:    p.jobFinished,
		state:      StatePending,
		createdAt:  time.Now().UTC(),
	}
	var base *Job
	if spec.Stage == registry.StageWatermark {
		if target := spec.Params.WatermarkTarget; target == TargetPreview || target == TargetCollage {
			base = p.inflight[jobKey{spec.Token, registry.Stage(target)}]
		}
	}
	p.inflight[key] = job
	if fromReservation {
		p.reserved--
	}
	p.pending++
	queueDepth.Set(float64(p.occupied()))
	if base != nil {
		p.wg.Add(1)
	}
	p.mu.Unlock()

	p.logger.Debug("job submitted",
		logging.Token(job.Token),
		logging.Stage(string(job.Stage)),
		logging.JobID(job.ID),
	)
	if base != nil {
		go p.enqueueAfter(job, base)
	} else {
		p.enqueue(job)
	}
	return job, true, nil
}

// occupied is the number of queue slots spoken for. Callers hold p.mu.
func (p *Pipeline) occupied() int {
	return p.pending + p.reserved + p.stale
}

// enqueue hands job to the workers. The send does not block: every pending
// job holds a slot from admission until a worker takes it off the channel,
// cancelled or not, so the channel always has room.
func (p *Pipeline) enqueue(job *Job) {
	p.mu.Lock()
	if job.retired {
		p.mu.Unlock()
		return
	}
	job.queued = true
	p.mu.Unlock()
	p.queue <- job
}

// dequeued frees the channel slot of job and reports whether it still needs
// to run.
func (p *Pipeline) dequeued(job *Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	job.queued = false
	if job.retired {
		p.stale--
		queueDepth.Set(float64(p.occupied()))
		return false
	}
	return true
}

// enqueueAfter holds a watermark job back until its base stage is terminal.
func (p *Pipeline) enqueueAfter(job, base *Job) {
	defer p.wg.Done()
	select {
	case <-base.Done():
	case <-job.Done():
		return
	case <-job.ctx.Done():
	}
	p.enqueue(job)
}

// jobFinished updates counters and forgets the job.
func (p *Pipeline) jobFinished(job *Job, from State) {
	snap := job.Snapshot()
	p.mu.Lock()
	switch from {
	case StatePending:
		p.pending--
		job.retired = true
		if job.queued {
			p.stale++
		}
	case StateRunning:
		p.active--
	}
	if p.inflight[jobKey{job.Token, job.Stage}] == job {
		delete(p.inflight, jobKey{job.Token, job.Stage})
	}
	p.recent = append(p.recent, snap)
	if len(p.recent) > recentLimit {
		p.recent = p.recent[len(p.recent)-recentLimit:]
	}
	queueDepth.Set(float64(p.occupied()))
	runningJobs.Set(float64(p.active))
	p.mu.Unlock()
	jobsTotal.WithLabelValues(string(job.Stage), string(snap.State)).Inc()
}

// CancelToken cancels every in-flight job for token and returns once they are
// all terminal.
func (p *Pipeline) CancelToken(token string) int {
	p.mu.Lock()
	var jobs []*Job
	for key, job := range p.inflight {
		if key.token == token {
			jobs = append(jobs, job)
		}
	}
	p.mu.Unlock()
	for _, job := range jobs {
		job.Cancel()
	}
	if len(jobs) > 0 {
		p.logger.Info("cancelled jobs for token",
			logging.Token(token),
			logging.Int("jobs", len(jobs)),
			logging.Event("jobs_cancelled"),
		)
	}
	return len(jobs)
}

// Lookup returns the in-flight job for (token, stage).
func (p *Pipeline) Lookup(token string, stage registry.Stage) (*Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.inflight[jobKey{token, stage}]
	return job, ok
}

// Jobs returns snapshots of in-flight jobs followed by recently finished ones.
func (p *Pipeline) Jobs() []Snapshot {
	p.mu.Lock()
	live := make([]*Job, 0, len(p.inflight))
	for _, job := range p.inflight {
		live = append(live, job)
	}
	recent := append([]Snapshot(nil), p.recent...)
	p.mu.Unlock()

	out := make([]Snapshot, 0, len(live)+len(recent))
	for _, job := range live {
		out = append(out, job.Snapshot())
	}
	return append(out, recent...)
}

// Stats reports pool occupancy.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers:    p.workers,
		QueueDepth: p.depth,
		Pending:    p.pending,
		Reserved:   p.reserved,
		Running:    p.active,
		Stale:      p.stale,
		Sources:    p.sources.Len(),
		Started:    p.running,
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.runCtx.Done():
			return
		case job := <-p.queue:
			if p.dequeued(job) {
				p.run(job)
			}
		}
	}
}

func validateSpec(spec Spec) error {
	if spec.Token == "" {
		return services.ValidationError("pipeline", "submit", "token is required")
	}
	if _, err := registry.ParseStage(string(spec.Stage)); err != nil {
		return services.ValidationError("pipeline", "submit", "%v", err)
	}
	if _, err := media.ParseKind(string(spec.Kind)); err != nil {
		return services.ValidationError("pipeline", "submit", "%v", err)
	}
	if spec.SourceRef == "" {
		return services.ValidationError("pipeline", "submit", "source reference is required")
	}
	return nil
}
