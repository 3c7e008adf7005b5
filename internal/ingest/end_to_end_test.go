package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"deeplinker/internal/delivery"
	"deeplinker/internal/ingest"
	"deeplinker/internal/media"
	"deeplinker/internal/media/ffprobe"
	"deeplinker/internal/pipeline"
	"deeplinker/internal/registry"
	"deeplinker/internal/services"
	"deeplinker/internal/testsupport"
)

// ffmpegRecorder stands in for ffmpeg: it records each invocation and writes
// a plausible file to the output path (the last argument).
type ffmpegRecorder struct {
	mu        sync.Mutex
	calls     [][]string
	failFrame bool
}

func (r *ffmpegRecorder) run(_ context.Context, _ string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), args...))
	r.mu.Unlock()

	out := args[len(args)-1]
	if filepath.Ext(out) == ".png" {
		if r.failFrame {
			return []byte("decoder error"), errors.New("exit status 1")
		}
		return nil, writePNG(out)
	}
	return nil, os.WriteFile(out, []byte("encoded "+filepath.Base(out)), 0o644)
}

// call returns the recorded invocation whose arguments include marker.
func (r *ffmpegRecorder) call(marker string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, args := range r.calls {
		if strings.Contains(strings.Join(args, " "), marker) {
			return args
		}
	}
	return nil
}

func writePNG(path string) error {
	img := image.NewRGBA(image.Rect(0, 0, 32, 18))
	for y := range 18 {
		for x := range 32 {
			img.Set(x, y, color.RGBA{G: 160, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func thirtySecondClip(context.Context, string, string) (ffprobe.Result, error) {
	return ffprobe.Result{
		Format: ffprobe.Format{FormatName: "mov,mp4", Duration: "30.000000"},
		Streams: []ffprobe.Stream{
			{Index: 0, CodecName: "h264", CodecType: "video", Width: 1280, Height: 720},
			{Index: 1, CodecName: "aac", CodecType: "audio"},
		},
	}, nil
}

type flow struct {
	*env
	gate   *delivery.Gate
	ffmpeg *ffmpegRecorder
}

// newFlow wires ingest, a pipeline driving the real media processors over a
// recorded ffmpeg, and the delivery gate.
func newFlow(t *testing.T) *flow {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	blobs := testsupport.MustOpenStorage(t, cfg)
	reg := testsupport.MustOpenRegistry(t, cfg, registry.WithBlobs(blobs))
	recorder := &ffmpegRecorder{}
	tools := media.NewToolchain("ffmpeg", "ffprobe").WithRunner(recorder.run).WithProbe(thirtySecondClip)
	pipe, err := pipeline.New(cfg, pipeline.Deps{
		Registry: reg,
		Blobs:    blobs,
		Processors: func(kind media.Kind) (media.Processor, error) {
			return media.ForKind(kind, tools)
		},
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	t.Cleanup(pipe.Stop)
	gate, err := delivery.New(cfg, reg, blobs)
	if err != nil {
		t.Fatalf("delivery.New: %v", err)
	}
	e := &env{
		cfg:         cfg,
		reg:         reg,
		blobs:       blobs,
		pipe:        pipe,
		fetcher:     &fakeFetcher{size: -1},
		invalidated: &recordingInvalidator{},
		notifier:    &recordingNotifier{events: make(chan linkEvent, 8)},
	}
	coord, err := ingest.New(cfg, ingest.Deps{
		Registry: reg,
		Pipeline: pipe,
		Blobs:    blobs,
		Fetcher:  e.fetcher,
		Delivery: gate,
		Notifier: e.notifier,
	})
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}
	e.coord = coord
	return &flow{env: e, gate: gate, ffmpeg: recorder}
}

// ingestAndRun uploads a 30s video with every stage enabled, then starts the
// workers and waits for each job to settle.
func (f *flow) ingestAndRun(t *testing.T) (ingest.Result, map[registry.Stage]error) {
	t.Helper()
	src := testsupport.WriteSource(t, t.TempDir(), "concert.mp4", 4096)
	res, err := f.coord.Ingest(context.Background(), ingest.UploadRequest{
		SourceHandle: src,
		Kind:         media.KindVideo,
		Options: ingest.Options{
			PreviewSeconds:    ptr(5),
			CollageFrames:     ptr(6),
			Watermark:         ptr(true),
			WatermarkText:     ptr("@deeplinker"),
			WatermarkPosition: ptr("center"),
			WatermarkOpacity:  ptr(0.5),
		},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Jobs) != 3 {
		t.Fatalf("expected three scheduled stages, got %+v", res.Jobs)
	}
	jobs := make(map[registry.Stage]*pipeline.Job, len(registry.Stages))
	for _, stage := range registry.Stages {
		job, ok := f.pipe.Lookup(res.Token, stage)
		if !ok {
			t.Fatalf("expected pending %s job", stage)
		}
		jobs[stage] = job
	}
	if err := f.pipe.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	outcomes := make(map[registry.Stage]error, len(jobs))
	for stage, job := range jobs {
		select {
		case <-job.Done():
			outcomes[stage] = job.Err()
		case <-time.After(10 * time.Second):
			t.Fatalf("%s did not finish (state %s)", stage, job.State())
		}
	}
	return res, outcomes
}

func artifactMeta(t *testing.T, f *flow, token string, stage registry.Stage) (registry.Artifact, map[string]any) {
	t.Helper()
	art, err := f.reg.Artifact(context.Background(), token, stage)
	if err != nil {
		t.Fatalf("Artifact %s: %v", stage, err)
	}
	meta := map[string]any{}
	if len(art.Meta) > 0 {
		if err := json.Unmarshal(art.Meta, &meta); err != nil {
			t.Fatalf("decode %s meta: %v", stage, err)
		}
	}
	return art, meta
}

func TestUploadDerivesEveryStageAndDeliversWatermark(t *testing.T) {
	f := newFlow(t)
	res, outcomes := f.ingestAndRun(t)
	for stage, err := range outcomes {
		if err != nil {
			t.Fatalf("%s: %v", stage, err)
		}
	}

	preview, meta := artifactMeta(t, f, res.Token, registry.StagePreview)
	if preview.Status != registry.StatusDone || meta["duration_seconds"] != 5.0 || meta["source_seconds"] != 30.0 {
		t.Fatalf("unexpected preview %+v meta=%v", preview, meta)
	}
	collage, meta := artifactMeta(t, f, res.Token, registry.StageCollage)
	if collage.Status != registry.StatusDone || meta["frames"] != 6.0 {
		t.Fatalf("unexpected collage %+v meta=%v", collage, meta)
	}
	wm, meta := artifactMeta(t, f, res.Token, registry.StageWatermark)
	if wm.Status != registry.StatusDone {
		t.Fatalf("unexpected watermark %+v", wm)
	}
	if meta["position"] != "center" || meta["opacity"] != 0.5 || meta["base"] != "preview" {
		t.Fatalf("unexpected watermark meta %v", meta)
	}

	args := f.ffmpeg.call("drawtext=")
	if args == nil {
		t.Fatal("expected a watermark ffmpeg invocation")
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{"-c:a copy", "-map 0:a?", "text='@deeplinker'", "x=(w-text_w)/2:y=(h-text_h)/2", "white@0.50"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in watermark args: %s", want, joined)
		}
	}
	if i := slices.Index(args, "-i"); i < 0 || filepath.Ext(args[i+1]) != ".mp4" {
		t.Fatalf("expected watermark drawn on the preview clip: %v", args)
	}

	resolved, err := f.gate.Resolve(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Stage != string(registry.StageWatermark) || resolved.StorageRef != wm.StorageRef {
		t.Fatalf("expected watermark delivered, got %+v", resolved)
	}
}

func TestCollageFailureLeavesTokenDeliverable(t *testing.T) {
	f := newFlow(t)
	f.ffmpeg.failFrame = true
	res, outcomes := f.ingestAndRun(t)

	if !errors.Is(outcomes[registry.StageCollage], services.ErrInsufficientFrames) {
		t.Fatalf("expected ErrInsufficientFrames from collage, got %v", outcomes[registry.StageCollage])
	}
	if outcomes[registry.StagePreview] != nil || outcomes[registry.StageWatermark] != nil {
		t.Fatalf("preview and watermark should succeed: %v", outcomes)
	}
	collage, _ := artifactMeta(t, f, res.Token, registry.StageCollage)
	if collage.Status != registry.StatusFailed {
		t.Fatalf("expected failed collage artifact, got %+v", collage)
	}

	resolved, err := f.gate.Resolve(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Stage != string(registry.StageWatermark) {
		t.Fatalf("expected watermark delivered despite failed collage, got %+v", resolved)
	}
	desc, err := f.reg.Get(context.Background(), res.Token)
	if err != nil || desc.Token != res.Token {
		t.Fatalf("expected token to stay valid, got %+v err=%v", desc, err)
	}
}
