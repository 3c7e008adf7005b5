package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deeplinker/internal/config"
	"deeplinker/internal/media"
	"deeplinker/internal/pipeline"
	"deeplinker/internal/registry"
	"deeplinker/internal/services"
	"deeplinker/internal/storage"
	"deeplinker/internal/testsupport"
	"deeplinker/internal/transfer"
)

type fakeProcessor struct {
	kind          media.Kind
	duration      float64
	frameFailures int
	gate          chan struct{}
	started       chan struct{}
	startOnce     sync.Once
}

func (f *fakeProcessor) Kind() media.Kind { return f.kind }

func (f *fakeProcessor) Probe(context.Context, string) (media.Info, error) {
	if f.kind == media.KindPhoto {
		return media.Info{Width: 64, Height: 36}, nil
	}
	return media.Info{DurationSeconds: f.duration, Width: 64, Height: 36, HasAudio: true}, nil
}

func (f *fakeProcessor) ExtractPreview(ctx context.Context, _, dst string, start, duration float64) error {
	if f.kind == media.KindPhoto {
		return media.ErrUnsupported
	}
	if f.gate != nil {
		f.startOnce.Do(func() { close(f.started) })
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return os.WriteFile(dst, []byte(fmt.Sprintf("clip %.1f+%.1f", start, duration)), 0o644)
}

func (f *fakeProcessor) ExtractFrames(ctx context.Context, _, dir string, offsets []float64) ([]string, error) {
	if f.kind == media.KindPhoto {
		return nil, media.ErrUnsupported
	}
	var frames []string
	for i := range offsets {
		if i < f.frameFailures {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("frame_%02d.png", i+1))
		if err := writeFrame(path); err != nil {
			return nil, err
		}
		frames = append(frames, path)
	}
	return frames, ctx.Err()
}

func (f *fakeProcessor) OverlayWatermark(_ context.Context, src, dst string, wm media.Watermark) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, append([]byte(wm.Text+":"), data...), 0o644)
}

func writeFrame(path string) error {
	img := image.NewRGBA(image.Rect(0, 0, 16, 9))
	for y := range 9 {
		for x := range 16 {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

type countingDownloader struct {
	calls atomic.Int32
	delay time.Duration

	mu   sync.Mutex
	reqs []transfer.Request
}

func (d *countingDownloader) Download(ctx context.Context, req transfer.Request) (transfer.Result, error) {
	d.calls.Add(1)
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	d.mu.Unlock()
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return transfer.Result{}, ctx.Err()
	}
	if err := os.WriteFile(req.Destination, []byte("remote-bytes"), 0o644); err != nil {
		return transfer.Result{}, err
	}
	return transfer.Result{Path: req.Destination, Size: 12, Mode: transfer.ModeStream}, nil
}

type harness struct {
	cfg   *config.Config
	reg   *registry.Registry
	blobs *storage.Store
	pipe  *pipeline.Pipeline
	video *fakeProcessor
	photo *fakeProcessor
	dl    *countingDownloader
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	blobs := testsupport.MustOpenStorage(t, cfg)
	reg := testsupport.MustOpenRegistry(t, cfg, registry.WithBlobs(blobs))
	h := &harness{
		cfg:   cfg,
		reg:   reg,
		blobs: blobs,
		video: &fakeProcessor{kind: media.KindVideo, duration: 120},
		photo: &fakeProcessor{kind: media.KindPhoto},
		dl:    &countingDownloader{delay: 20 * time.Millisecond},
	}
	pipe, err := pipeline.New(cfg, pipeline.Deps{
		Registry:   reg,
		Blobs:      blobs,
		Downloader: h.dl,
		Processors: func(kind media.Kind) (media.Processor, error) {
			if kind == media.KindPhoto {
				return h.photo, nil
			}
			return h.video, nil
		},
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	if err := pipe.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(pipe.Stop)
	h.pipe = pipe
	return h
}

func (h *harness) media(t *testing.T, kind media.Kind) registry.MediaDescriptor {
	t.Helper()
	res, err := h.blobs.Save(strings.NewReader("source-bytes"), ".bin")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	return testsupport.PutMedia(t, h.reg, res.Ref, kind)
}

func defaultParams() pipeline.Params {
	return pipeline.Params{
		PreviewSeconds: 3,
		Frames:         4,
		CollageQuality: 85,
		CellWidth:      32,
		Watermark:      media.Watermark{Text: "@chan", Position: media.BottomRight, Opacity: 0.5},
	}
}

func jobSpec(desc registry.MediaDescriptor, stage registry.Stage, params pipeline.Params) pipeline.Spec {
	return pipeline.Spec{Token: desc.Token, Stage: stage, Kind: desc.Kind, SourceRef: desc.SourceRef, Params: params}
}

func wait(t *testing.T, job *pipeline.Job) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-job.Done():
		return job.Err()
	case <-ctx.Done():
		t.Fatalf("job %s/%s did not finish (state %s)", job.Token, job.Stage, job.State())
		return nil
	}
}

func workDirEntries(t *testing.T, cfg *config.Config) int {
	t.Helper()
	entries, err := os.ReadDir(cfg.Paths.WorkDir)
	if err != nil {
		t.Fatalf("read work dir: %v", err)
	}
	return len(entries)
}

func TestPreviewAndCollageProduceArtifacts(t *testing.T) {
	h := newHarness(t)
	desc := h.media(t, media.KindVideo)

	res, err := h.pipe.Reserve(2)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer res.Release()
	preview, err := res.Submit(jobSpec(desc, registry.StagePreview, defaultParams()))
	if err != nil {
		t.Fatalf("Submit preview: %v", err)
	}
	collage, err := res.Submit(jobSpec(desc, registry.StageCollage, defaultParams()))
	if err != nil {
		t.Fatalf("Submit collage: %v", err)
	}
	if err := wait(t, preview); err != nil {
		t.Fatalf("preview: %v", err)
	}
	if err := wait(t, collage); err != nil {
		t.Fatalf("collage: %v", err)
	}

	arts, err := h.reg.Artifacts(context.Background(), desc.Token)
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	if len(arts) != 2 {
		t.Fatalf("expected 2 artifacts, got %+v", arts)
	}
	for _, art := range arts {
		if art.Status != registry.StatusDone || !h.blobs.Exists(art.StorageRef) {
			t.Fatalf("unexpected artifact %+v", art)
		}
	}
	var meta struct {
		Start float64 `json:"start_seconds"`
	}
	if err := json.Unmarshal(arts[0].Meta, &meta); err != nil || meta.Start != 58.5 {
		t.Fatalf("expected centered preview start 58.5, got %+v err=%v", meta, err)
	}
	if filepath.Ext(arts[1].StorageRef) != ".jpg" {
		t.Fatalf("expected jpeg collage, got %s", arts[1].StorageRef)
	}
	if preview.State() != pipeline.StateDone || collage.State() != pipeline.StateDone {
		t.Fatalf("unexpected states %s %s", preview.State(), collage.State())
	}
	if n := workDirEntries(t, h.cfg); n != 0 {
		t.Fatalf("expected workspaces released, found %d entries", n)
	}
}

func TestShortSourcePreviewIsNoop(t *testing.T) {
	h := newHarness(t)
	h.video.duration = 2
	desc := h.media(t, media.KindVideo)

	job, err := h.pipe.Submit(jobSpec(desc, registry.StagePreview, defaultParams()))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := wait(t, job); err != nil {
		t.Fatalf("wait: %v", err)
	}
	art, err := h.reg.Artifact(context.Background(), desc.Token, registry.StagePreview)
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	if art.Status != registry.StatusNoop || art.StorageRef != "" {
		t.Fatalf("expected no-op artifact without storage, got %+v", art)
	}
}

func TestInsufficientFramesFailsOnlyCollage(t *testing.T) {
	h := newHarness(t)
	h.video.frameFailures = 1
	desc := h.media(t, media.KindVideo)

	res, err := h.pipe.Reserve(2)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer res.Release()
	collage, _ := res.Submit(jobSpec(desc, registry.StageCollage, defaultParams()))
	preview, _ := res.Submit(jobSpec(desc, registry.StagePreview, defaultParams()))

	if err := wait(t, collage); !errors.Is(err, services.ErrInsufficientFrames) {
		t.Fatalf("expected ErrInsufficientFrames, got %v", err)
	}
	if err := wait(t, preview); err != nil {
		t.Fatalf("preview should be unaffected: %v", err)
	}
	art, err := h.reg.Artifact(context.Background(), desc.Token, registry.StageCollage)
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	if art.Status != registry.StatusFailed || !strings.Contains(art.Error, "3 of 4") {
		t.Fatalf("unexpected collage artifact %+v", art)
	}
	if collage.State() != pipeline.StateFailed {
		t.Fatalf("expected failed state, got %s", collage.State())
	}
}

func TestPhotoStagesWithoutTimelineAreNoop(t *testing.T) {
	h := newHarness(t)
	desc := h.media(t, media.KindPhoto)

	for _, stage := range []registry.Stage{registry.StagePreview, registry.StageCollage} {
		job, err := h.pipe.Submit(jobSpec(desc, stage, defaultParams()))
		if err != nil {
			t.Fatalf("Submit %s: %v", stage, err)
		}
		if err := wait(t, job); err != nil {
			t.Fatalf("%s: %v", stage, err)
		}
		art, _ := job.Artifact()
		if art.Status != registry.StatusNoop {
			t.Fatalf("%s: expected no-op, got %+v", stage, art)
		}
	}
}

func TestWatermarkWaitsForBaseArtifact(t *testing.T) {
	h := newHarness(t)
	h.video.gate = make(chan struct{})
	h.video.started = make(chan struct{})
	desc := h.media(t, media.KindVideo)

	params := defaultParams()
	params.WatermarkTarget = pipeline.TargetPreview
	res, err := h.pipe.Reserve(2)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer res.Release()
	preview, _ := res.Submit(jobSpec(desc, registry.StagePreview, params))
	wm, _ := res.Submit(jobSpec(desc, registry.StageWatermark, params))

	<-h.video.started
	time.Sleep(20 * time.Millisecond)
	if state := wm.State(); state != pipeline.StatePending {
		t.Fatalf("watermark should wait for preview, state %s", state)
	}
	close(h.video.gate)

	if err := wait(t, preview); err != nil {
		t.Fatalf("preview: %v", err)
	}
	if err := wait(t, wm); err != nil {
		t.Fatalf("watermark: %v", err)
	}
	art, _ := wm.Artifact()
	var meta struct {
		Base string `json:"base"`
	}
	_ = json.Unmarshal(art.Meta, &meta)
	if meta.Base != "preview" || filepath.Ext(art.StorageRef) != ".mp4" {
		t.Fatalf("expected watermark on preview, got %+v meta=%+v", art, meta)
	}
	f, err := h.blobs.Open(art.StorageRef)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	buf := make([]byte, 6)
	_, _ = f.Read(buf)
	if string(buf) != "@chan:" {
		t.Fatalf("expected watermarked content, got %q", buf)
	}
}

func TestWatermarkFallsBackToRawWhenBaseNoop(t *testing.T) {
	h := newHarness(t)
	h.video.duration = 1
	desc := h.media(t, media.KindVideo)

	params := defaultParams()
	params.WatermarkTarget = pipeline.TargetPreview
	res, _ := h.pipe.Reserve(2)
	defer res.Release()
	preview, _ := res.Submit(jobSpec(desc, registry.StagePreview, params))
	wm, _ := res.Submit(jobSpec(desc, registry.StageWatermark, params))
	_ = wait(t, preview)
	if err := wait(t, wm); err != nil {
		t.Fatalf("watermark: %v", err)
	}
	art, _ := wm.Artifact()
	if !strings.Contains(string(art.Meta), `"base":"raw"`) {
		t.Fatalf("expected raw fallback, meta %s", art.Meta)
	}
}

func TestSubmitCoalescesInFlightJob(t *testing.T) {
	h := newHarness(t)
	h.video.gate = make(chan struct{})
	h.video.started = make(chan struct{})
	desc := h.media(t, media.KindVideo)

	first, err := h.pipe.Submit(jobSpec(desc, registry.StagePreview, defaultParams()))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-h.video.started
	second, err := h.pipe.Submit(jobSpec(desc, registry.StagePreview, defaultParams()))
	if err != nil {
		t.Fatalf("Submit again: %v", err)
	}
	if first != second {
		t.Fatal("expected the in-flight job handle to be returned")
	}
	close(h.video.gate)
	if err := wait(t, first); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if stats := h.pipe.Stats(); stats.Reserved != 0 || stats.Pending != 0 {
		t.Fatalf("expected slots returned, got %+v", stats)
	}
}

func TestReserveFailsWhenQueueFull(t *testing.T) {
	h := newHarness(t, testsupport.WithPipeline(1, 2))
	first, err := h.pipe.Reserve(2)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := h.pipe.Reserve(1); !errors.Is(err, services.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	first.Release()
	first.Release()
	if _, err := h.pipe.Reserve(2); err != nil {
		t.Fatalf("expected capacity after release: %v", err)
	}
}

func TestCancelledQueuedJobsHoldSlotsUntilDequeued(t *testing.T) {
	h := newHarness(t, testsupport.WithPipeline(1, 2))
	h.video.gate = make(chan struct{})
	h.video.started = make(chan struct{})

	running := h.media(t, media.KindVideo)
	first, err := h.pipe.Submit(jobSpec(running, registry.StagePreview, defaultParams()))
	if err != nil {
		t.Fatalf("Submit running: %v", err)
	}
	<-h.video.started

	var queued []*pipeline.Job
	for range 2 {
		desc := h.media(t, media.KindVideo)
		job, err := h.pipe.Submit(jobSpec(desc, registry.StageCollage, defaultParams()))
		if err != nil {
			t.Fatalf("Submit queued: %v", err)
		}
		queued = append(queued, job)
		h.pipe.CancelToken(desc.Token)
	}
	for _, job := range queued {
		if job.State() != pipeline.StateCancelled {
			t.Fatalf("expected cancelled queued job, got %s", job.State())
		}
	}
	if stats := h.pipe.Stats(); stats.Pending != 0 || stats.Stale != 2 {
		t.Fatalf("expected two stale slots, got %+v", stats)
	}

	late := h.media(t, media.KindVideo)
	if _, err := h.pipe.Submit(jobSpec(late, registry.StageCollage, defaultParams())); !errors.Is(err, services.ErrBusy) {
		t.Fatalf("expected ErrBusy while cancelled jobs occupy the queue, got %v", err)
	}

	close(h.video.gate)
	if err := wait(t, first); err != nil {
		t.Fatalf("running job: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for h.pipe.Stats().Stale != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stale slots never drained: %+v", h.pipe.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}

	job, err := h.pipe.Submit(jobSpec(late, registry.StageCollage, defaultParams()))
	if err != nil {
		t.Fatalf("Submit after drain: %v", err)
	}
	if err := wait(t, job); err != nil {
		t.Fatalf("accepted job must run, got %v", err)
	}
	if art, err := h.reg.Artifact(context.Background(), late.Token, registry.StageCollage); err != nil || art.Status != registry.StatusDone {
		t.Fatalf("expected done collage, got %+v err=%v", art, err)
	}
}

func TestCancelTokenStopsRunningJob(t *testing.T) {
	h := newHarness(t)
	h.video.gate = make(chan struct{})
	h.video.started = make(chan struct{})
	desc := h.media(t, media.KindVideo)

	job, err := h.pipe.Submit(jobSpec(desc, registry.StagePreview, defaultParams()))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-h.video.started
	if n := h.pipe.CancelToken(desc.Token); n != 1 {
		t.Fatalf("expected 1 cancelled job, got %d", n)
	}
	if job.State() != pipeline.StateCancelled {
		t.Fatalf("expected cancelled, got %s", job.State())
	}
	if n := workDirEntries(t, h.cfg); n != 0 {
		t.Fatalf("expected workspace released before CancelToken returned, found %d", n)
	}
	if _, err := h.reg.Artifact(context.Background(), desc.Token, registry.StagePreview); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("cancelled job must not record an artifact, got %v", err)
	}
}

func TestRemoteSourceDownloadedOnce(t *testing.T) {
	h := newHarness(t)
	desc := testsupport.PutMedia(t, h.reg, "https://cdn.example.test/video.mp4", media.KindVideo)

	res, err := h.pipe.Reserve(2)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer res.Release()
	preview, _ := res.Submit(jobSpec(desc, registry.StagePreview, defaultParams()))
	collage, _ := res.Submit(jobSpec(desc, registry.StageCollage, defaultParams()))
	if err := wait(t, preview); err != nil {
		t.Fatalf("preview: %v", err)
	}
	if err := wait(t, collage); err != nil {
		t.Fatalf("collage: %v", err)
	}
	if calls := h.dl.calls.Load(); calls != 1 {
		t.Fatalf("expected one download, got %d", calls)
	}
	if stats := h.pipe.Stats(); stats.Sources != 0 {
		t.Fatalf("expected source cache drained, got %d", stats.Sources)
	}
	if n := workDirEntries(t, h.cfg); n != 0 {
		t.Fatalf("expected source workspace released, found %d entries", n)
	}
}

func TestRemoteSourceRefetchedAfterLastRelease(t *testing.T) {
	h := newHarness(t)
	h.cfg.Limits.MaxVideoBytes = 1 << 20
	desc := testsupport.PutMedia(t, h.reg, "https://cdn.example.test/video.mp4", media.KindVideo)

	for _, stage := range []registry.Stage{registry.StagePreview, registry.StageCollage} {
		res, err := h.pipe.Reserve(1)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		job, err := res.Submit(jobSpec(desc, stage, defaultParams()))
		res.Release()
		if err != nil {
			t.Fatalf("Submit %s: %v", stage, err)
		}
		if err := wait(t, job); err != nil {
			t.Fatalf("%s: %v", stage, err)
		}
		if stats := h.pipe.Stats(); stats.Sources != 0 {
			t.Fatalf("expected source cache drained after %s, got %d", stage, stats.Sources)
		}
		if n := workDirEntries(t, h.cfg); n != 0 {
			t.Fatalf("expected source workspace released after %s, found %d entries", stage, n)
		}
	}
	if calls := h.dl.calls.Load(); calls != 2 {
		t.Fatalf("expected a fresh download per holder generation, got %d", calls)
	}
	h.dl.mu.Lock()
	defer h.dl.mu.Unlock()
	for _, req := range h.dl.reqs {
		if req.MaxBytes != 1<<20 {
			t.Fatalf("expected video size limit on download, got %d", req.MaxBytes)
		}
		if req.URL != desc.SourceRef {
			t.Fatalf("unexpected download url %q", req.URL)
		}
	}
}

func TestStageTimeoutRecordsFailure(t *testing.T) {
	h := newHarness(t)
	h.cfg.Pipeline.StageTimeoutSeconds = 1
	notifier := &recordingNotifier{sent: make(chan string, 1)}
	pipe, err := pipeline.New(h.cfg, pipeline.Deps{
		Registry: h.reg,
		Blobs:    h.blobs,
		Notifier: notifier,
		Processors: func(media.Kind) (media.Processor, error) {
			return &fakeProcessor{kind: media.KindVideo, duration: 60, gate: make(chan struct{}), started: make(chan struct{})}, nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := pipe.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pipe.Stop()
	desc := h.media(t, media.KindVideo)

	job, err := pipe.Submit(jobSpec(desc, registry.StagePreview, defaultParams()))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := wait(t, job); !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	art, err := h.reg.Artifact(context.Background(), desc.Token, registry.StagePreview)
	if err != nil || art.Status != registry.StatusFailed {
		t.Fatalf("expected failed artifact, got %+v err=%v", art, err)
	}
	select {
	case got := <-notifier.sent:
		if got != desc.Token+"/preview" {
			t.Fatalf("unexpected failure notification %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected derivation failure notification")
	}
}

type recordingNotifier struct {
	sent chan string
}

func (n *recordingNotifier) NotifyDerivationFailed(_ context.Context, token, stage string, _ error) error {
	n.sent <- token + "/" + stage
	return nil
}

func TestJobsListsRecentSnapshots(t *testing.T) {
	h := newHarness(t)
	desc := h.media(t, media.KindVideo)
	job, _ := h.pipe.Submit(jobSpec(desc, registry.StagePreview, defaultParams()))
	_ = wait(t, job)

	found := false
	for _, snap := range h.pipe.Jobs() {
		if snap.ID == job.ID {
			found = snap.State == pipeline.StateDone && snap.FinishedAt != nil
		}
	}
	if !found {
		t.Fatalf("expected finished job in snapshots: %+v", h.pipe.Jobs())
	}
}
