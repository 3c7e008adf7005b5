package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"deeplinker/internal/logging"
	"deeplinker/internal/media"
	"deeplinker/internal/registry"
	"deeplinker/internal/services"
	"deeplinker/internal/storage"
)

const recordTimeout = 10 * time.Second

// run drives one job from pending to a terminal state.
func (p *Pipeline) run(job *Job) {
	if !job.transition(StatePending, StateRunning, nil) {
		return
	}
	p.mu.Lock()
	p.pending--
	p.active++
	queueDepth.Set(float64(p.occupied()))
	runningJobs.Set(float64(p.active))
	p.mu.Unlock()

	ctx := services.WithToken(job.ctx, job.Token)
	ctx = services.WithStage(ctx, string(job.Stage))
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, p.logger)

	start := time.Now()
	art, err := p.execute(ctx, job)
	stageDuration.WithLabelValues(string(job.Stage)).Observe(time.Since(start).Seconds())

	state := StateDone
	switch {
	case job.ctx.Err() != nil:
		state = StateCancelled
		if art.StorageRef != "" {
			_ = p.blobs.Release(art.StorageRef)
		}
		err = context.Canceled
		logger.Info("stage cancelled", logging.Event("stage_cancelled"))
	case err != nil:
		state = StateFailed
		art = registry.Artifact{Token: job.Token, Stage: job.Stage, Status: registry.StatusFailed, Error: err.Error()}
		logging.WarnWithContext(logger, "stage failed", "stage_failed",
			logging.Error(err),
			logging.Hint(stageHint(err)),
			logging.Impact("artifact recorded as failed; other stages continue"),
		)
	default:
		logger.Info("stage complete",
			logging.String("status", string(art.Status)),
			logging.String("storage_ref", art.StorageRef),
			logging.Duration("elapsed", time.Since(start)),
			logging.Event("stage_complete"),
		)
	}

	if state != StateCancelled {
		if recErr := p.record(art); recErr != nil {
			logging.WarnWithContext(logger, "failed to record artifact", "artifact_record_failed",
				logging.Error(recErr),
				logging.Hint("token may have been deleted while the stage ran"),
			)
			if art.StorageRef != "" {
				_ = p.blobs.Release(art.StorageRef)
			}
			if state == StateDone {
				state, err = StateFailed, recErr
			}
		} else {
			job.setArtifact(art)
			artifactsTotal.WithLabelValues(string(art.Stage), string(art.Status)).Inc()
		}
	}

	if job.transition(StateRunning, state, err) {
		job.finalize(StateRunning)
		if state == StateFailed {
			p.notifyFailure(ctx, logger, job, err)
		}
	}
}

const notifyTimeout = 15 * time.Second

func (p *Pipeline) notifyFailure(ctx context.Context, logger *slog.Logger, job *Job, cause error) {
	if p.notifier == nil {
		return
	}
	p.wg.Go(func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := p.notifier.NotifyDerivationFailed(nctx, job.Token, string(job.Stage), cause); err != nil {
			logger.Debug("derivation failure notification not sent", logging.Error(err))
		}
	})
}

func (p *Pipeline) record(art registry.Artifact) error {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	return p.reg.AttachArtifact(ctx, art)
}

// execute runs the stage inside a fresh workspace. The workspace is gone by
// the time execute returns.
func (p *Pipeline) execute(ctx context.Context, job *Job) (registry.Artifact, error) {
	if p.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}
	ws, err := storage.NewWorkspace(p.workRoot, job.Token+"-"+string(job.Stage))
	if err != nil {
		return registry.Artifact{}, services.Wrap(services.ErrFatal, "pipeline", string(job.Stage), "create workspace", err)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			p.logger.Warn("workspace cleanup failed", logging.String("dir", ws.Dir()), logging.Error(err))
		}
	}()

	proc, err := p.processors(job.Kind)
	if err != nil {
		return registry.Artifact{}, services.Wrap(services.ErrConfiguration, "pipeline", string(job.Stage), "select processor", err)
	}

	var art registry.Artifact
	switch job.Stage {
	case registry.StagePreview:
		art, err = p.preview(ctx, job, proc, ws)
	case registry.StageCollage:
		art, err = p.collage(ctx, job, proc, ws)
	case registry.StageWatermark:
		art, err = p.watermark(ctx, job, proc, ws)
	default:
		err = services.ValidationError("pipeline", "execute", "unknown stage %q", job.Stage)
	}
	if errors.Is(err, media.ErrUnsupported) {
		return noop(job, map[string]any{"reason": fmt.Sprintf("%s has no %s capability", job.Kind, job.Stage)}), nil
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && job.ctx.Err() == nil {
		err = services.Wrap(services.ErrTimeout, "pipeline", string(job.Stage), fmt.Sprintf("stage exceeded %s", p.stageTimeout), err)
	}
	return art, err
}

func (p *Pipeline) preview(ctx context.Context, job *Job, proc media.Processor, ws *storage.Workspace) (registry.Artifact, error) {
	src, release, err := p.sources.Acquire(ctx, job)
	if err != nil {
		return registry.Artifact{}, err
	}
	defer release()

	info, err := proc.Probe(ctx, src)
	if err != nil {
		return registry.Artifact{}, services.Wrap(services.ErrExternalTool, "pipeline", "preview", "inspect source", err)
	}
	clip := float64(job.Params.PreviewSeconds)
	var rng *rand.Rand
	if job.Params.PreviewJitter {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	start, isNoop := media.PreviewWindow(info.DurationSeconds, clip, rng)
	if isNoop {
		return noop(job, map[string]any{
			"reason":          "source shorter than clip",
			"source_seconds":  info.DurationSeconds,
			"preview_seconds": clip,
		}), nil
	}

	out := ws.Path("preview.mp4")
	if err := proc.ExtractPreview(ctx, src, out, start, clip); err != nil {
		if errors.Is(err, media.ErrUnsupported) {
			return registry.Artifact{}, err
		}
		return registry.Artifact{}, services.Wrap(services.ErrExternalTool, "pipeline", "preview", "extract clip", err)
	}
	return p.store(job, out, map[string]any{
		"start_seconds":    start,
		"duration_seconds": clip,
		"source_seconds":   info.DurationSeconds,
	})
}

func (p *Pipeline) collage(ctx context.Context, job *Job, proc media.Processor, ws *storage.Workspace) (registry.Artifact, error) {
	n := job.Params.Frames
	cols, rows, err := media.Grid(n)
	if err != nil {
		return registry.Artifact{}, services.ValidationError("pipeline", "collage", "%v", err)
	}
	src, release, err := p.sources.Acquire(ctx, job)
	if err != nil {
		return registry.Artifact{}, err
	}
	defer release()

	info, err := proc.Probe(ctx, src)
	if err != nil {
		return registry.Artifact{}, services.Wrap(services.ErrExternalTool, "pipeline", "collage", "inspect source", err)
	}
	framesDir := ws.Path("frames")
	if err := os.MkdirAll(framesDir, 0o750); err != nil {
		return registry.Artifact{}, services.Wrap(services.ErrFatal, "pipeline", "collage", "create frames directory", err)
	}
	frames, err := proc.ExtractFrames(ctx, src, framesDir, media.FrameOffsets(info.DurationSeconds, n))
	if err != nil {
		if errors.Is(err, media.ErrUnsupported) || isContextErr(err) {
			return registry.Artifact{}, err
		}
		return registry.Artifact{}, services.Wrap(services.ErrExternalTool, "pipeline", "collage", "extract frames", err)
	}
	if len(frames) < n {
		return registry.Artifact{}, services.Wrap(services.ErrInsufficientFrames, "pipeline", "collage",
			fmt.Sprintf("extracted %d of %d frames", len(frames), n), nil)
	}

	out := ws.Path("collage.jpg")
	opts := media.CollageOptions{Quality: job.Params.CollageQuality, CellWidth: job.Params.CellWidth}
	if err := media.ComposeCollage(frames[:n], out, opts); err != nil {
		return registry.Artifact{}, services.Wrap(services.ErrFatal, "pipeline", "collage", "compose collage", err)
	}
	return p.store(job, out, map[string]any{"frames": n, "cols": cols, "rows": rows})
}

func (p *Pipeline) watermark(ctx context.Context, job *Job, proc media.Processor, ws *storage.Workspace) (registry.Artifact, error) {
	wm := job.Params.Watermark
	if wm.Text == "" {
		return registry.Artifact{}, services.ValidationError("pipeline", "watermark", "watermark text is required")
	}
	base, baseStage, release, err := p.watermarkBase(ctx, job)
	if err != nil {
		return registry.Artifact{}, err
	}
	defer release()

	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".mp4"
		if job.Kind == media.KindPhoto {
			ext = ".jpg"
		}
	}
	out := ws.Path("watermark" + ext)
	if err := proc.OverlayWatermark(ctx, base, out, wm); err != nil {
		if isContextErr(err) {
			return registry.Artifact{}, err
		}
		return registry.Artifact{}, services.Wrap(services.ErrExternalTool, "pipeline", "watermark", "overlay text", err)
	}
	return p.store(job, out, map[string]any{
		"base":     baseStage,
		"position": wm.Position,
		"opacity":  wm.Opacity,
	})
}

// watermarkBase picks the file the watermark is drawn on: the targeted
// artifact when it finished, else the raw source.
func (p *Pipeline) watermarkBase(ctx context.Context, job *Job) (string, string, func(), error) {
	target := job.Params.WatermarkTarget
	if target == TargetPreview || target == TargetCollage {
		art, err := p.reg.Artifact(ctx, job.Token, registry.Stage(target))
		if err == nil && art.Status == registry.StatusDone {
			if path, pathErr := p.blobs.Path(art.StorageRef); pathErr == nil {
				if _, statErr := os.Stat(path); statErr == nil {
					return path, string(target), func() {}, nil
				}
			}
		}
		reason := "base artifact missing"
		if err == nil {
			reason = "base artifact " + string(art.Status)
		}
		logging.WithContext(ctx, p.logger).Info("watermark falling back to raw source",
			logging.String("target", string(target)),
			logging.String("reason", reason),
			logging.Event("watermark_fallback"),
		)
	}
	src, release, err := p.sources.Acquire(ctx, job)
	if err != nil {
		return "", "", nil, err
	}
	return src, string(TargetRaw), release, nil
}

// store moves a finished output into blob storage and describes it.
func (p *Pipeline) store(job *Job, out string, meta map[string]any) (registry.Artifact, error) {
	res, err := p.blobs.Import(out)
	if err != nil {
		return registry.Artifact{}, services.Wrap(services.ErrFatal, "pipeline", string(job.Stage), "store artifact", err)
	}
	return registry.Artifact{
		Token:      job.Token,
		Stage:      job.Stage,
		StorageRef: res.Ref,
		Status:     registry.StatusDone,
		Meta:       encodeMeta(meta),
	}, nil
}

func noop(job *Job, meta map[string]any) registry.Artifact {
	return registry.Artifact{
		Token:  job.Token,
		Stage:  job.Stage,
		Status: registry.StatusNoop,
		Meta:   encodeMeta(meta),
	}
}

func encodeMeta(meta map[string]any) json.RawMessage {
	if len(meta) == 0 {
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return data
}

func stageHint(err error) string {
	switch {
	case errors.Is(err, services.ErrInsufficientFrames):
		return "source may be too short or partially corrupt for the requested frame count"
	case errors.Is(err, services.ErrExternalTool):
		return "check ffmpeg/ffprobe installation and the source file"
	case errors.Is(err, services.ErrTimeout):
		return "raise pipeline.stage_timeout_seconds for long sources"
	case errors.Is(err, services.ErrChunkFetch), errors.Is(err, services.ErrSizeMismatch):
		return "remote source could not be downloaded intact"
	default:
		return "see error detail"
	}
}
