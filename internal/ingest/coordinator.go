package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deeplinker/internal/config"
	"deeplinker/internal/logging"
	"deeplinker/internal/media"
	"deeplinker/internal/pipeline"
	"deeplinker/internal/registry"
	"deeplinker/internal/services"
	"deeplinker/internal/storage"
	"deeplinker/internal/transfer"
)

// UploadRequest describes one upload. SourceHandle is a local path or an
// http(s) URL.
type UploadRequest struct {
	SourceHandle string     `json:"source"`
	Kind         media.Kind `json:"kind"`
	Options      Options    `json:"options"`
}

// DeleteRequest removes a token and everything derived from it.
type DeleteRequest struct {
	Token string `json:"token"`
}

// Result reports an accepted upload.
type Result struct {
	Token      string                   `json:"token"`
	Descriptor registry.MediaDescriptor `json:"descriptor"`
	Jobs       []pipeline.Snapshot      `json:"jobs,omitempty"`
}

// Registry is the persistence surface the coordinator needs.
type Registry interface {
	SettingsStore
	Put(ctx context.Context, desc registry.MediaDescriptor) error
	Create(ctx context.Context, desc registry.MediaDescriptor) (registry.MediaDescriptor, error)
	Delete(ctx context.Context, token string) (registry.MediaDescriptor, error)
}

// Scheduler is the pipeline surface the coordinator needs.
type Scheduler interface {
	Reserve(n int) (*pipeline.Reservation, error)
	CancelToken(token string) int
	Jobs() []pipeline.Snapshot
}

// Blobs stores uploaded sources.
type Blobs interface {
	Save(r io.Reader, ext string) (storage.SaveResult, error)
	Release(ref string) error
	FreeBytes() (uint64, error)
}

// Invalidator drops cached lookups for a deleted token.
type Invalidator interface {
	Invalidate(token string)
}

// Deps bundles the coordinator's collaborators.
type Deps struct {
	Registry Registry
	Pipeline Scheduler
	Blobs    Blobs
	Fetcher  transfer.Fetcher
	Delivery Invalidator
	Notifier LinkNotifier
	Logger   *slog.Logger
}

// LinkNotifier announces freshly minted links.
type LinkNotifier interface {
	NotifyLinkReady(ctx context.Context, token, title, link string) error
}

// Coordinator turns uploads into tokens and scheduled derivations.
type Coordinator struct {
	cfg      *config.Config
	registry Registry
	pipeline Scheduler
	blobs    Blobs
	fetcher  transfer.Fetcher
	delivery Invalidator
	notifier LinkNotifier
	defaults Settings
	logger   *slog.Logger
}

// New validates deps and returns a coordinator.
func New(cfg *config.Config, deps Deps) (*Coordinator, error) {
	if cfg == nil {
		return nil, errors.New("ingest: config is required")
	}
	if deps.Registry == nil || deps.Pipeline == nil || deps.Blobs == nil {
		return nil, errors.New("ingest: registry, pipeline and blobs are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = transfer.NewHTTPFetcher(cfg.RequestTimeout())
	}
	return &Coordinator{
		cfg:      cfg,
		registry: deps.Registry,
		pipeline: deps.Pipeline,
		blobs:    deps.Blobs,
		fetcher:  fetcher,
		delivery: deps.Delivery,
		notifier: deps.Notifier,
		defaults: DefaultSettings(cfg),
		logger:   logging.NewComponentLogger(logger, "ingest"),
	}, nil
}

// Ingest validates req, persists its descriptor and schedules the requested
// stages. It returns as soon as the stages are queued.
func (c *Coordinator) Ingest(ctx context.Context, req UploadRequest) (Result, error) {
	kind, err := media.ParseKind(string(req.Kind))
	if err != nil {
		return Result{}, services.ValidationError("ingest", "ingest", "%v", err)
	}
	handle := strings.TrimSpace(req.SourceHandle)
	if handle == "" {
		return Result{}, services.ValidationError("ingest", "ingest", "source is required")
	}
	if err := req.Options.validate(); err != nil {
		return Result{}, err
	}
	settings, err := c.EffectiveSettings(ctx)
	if err != nil {
		return Result{}, err
	}
	p, err := resolvePlan(c.cfg, settings, req.Options)
	if err != nil {
		return Result{}, err
	}

	remote := transfer.IsRemote(handle)
	var size int64
	if remote {
		size = c.remoteSize(ctx, handle, req.Options.SourceSize)
	} else {
		if handle, err = filepath.Abs(handle); err != nil {
			return Result{}, services.ValidationError("ingest", "ingest", "resolve source path: %v", err)
		}
		if size, err = localSize(handle); err != nil {
			return Result{}, err
		}
	}
	if limit := c.cfg.MaxBytes(string(kind)); size > limit {
		return Result{}, services.ValidationError("ingest", "ingest", "%s of %d bytes exceeds the %d byte limit", kind, size, limit)
	}
	if !remote {
		if err := c.checkFreeSpace(size); err != nil {
			return Result{}, err
		}
	}

	var reservation *pipeline.Reservation
	if len(p.stages) > 0 {
		reservation, err = c.pipeline.Reserve(len(p.stages))
		if err != nil {
			return Result{}, err
		}
		defer reservation.Release()
	}

	sourceRef := handle
	if !remote {
		sourceRef, err = c.storeSource(handle)
		if err != nil {
			return Result{}, err
		}
	}

	desc := registry.MediaDescriptor{
		Token:      req.Options.Token,
		SourceRef:  sourceRef,
		Kind:       kind,
		Protected:  p.protected,
		SourceSize: size,
		Title:      strings.TrimSpace(req.Options.Title),
	}
	if desc.Title == "" && !remote {
		desc.Title = filepath.Base(handle)
	}
	if desc.Token != "" {
		desc.CreatedAt = time.Now().UTC()
		err = c.registry.Put(ctx, desc)
	} else {
		desc, err = c.registry.Create(ctx, desc)
	}
	if err != nil {
		if !remote {
			c.releaseBlob(ctx, sourceRef)
		}
		return Result{}, err
	}

	logger := logging.WithContext(services.WithToken(ctx, desc.Token), c.logger)
	result := Result{Token: desc.Token, Descriptor: desc}
	for _, stage := range p.stages {
		job, err := reservation.Submit(pipeline.Spec{
			Token:      desc.Token,
			Stage:      stage,
			Kind:       kind,
			SourceRef:  sourceRef,
			SourceSize: size,
			Params:     p.params,
		})
		if err != nil {
			logging.WarnWithContext(logger, "stage submission failed", "stage_submit_failed",
				logging.Stage(string(stage)),
				logging.Error(err),
				logging.Impact("link resolves without this artifact"),
			)
			continue
		}
		result.Jobs = append(result.Jobs, job.Snapshot())
	}
	mode := "instant"
	if len(p.stages) > 0 {
		mode = "derived"
	}
	logger.Info("media ingested",
		logging.String("kind", string(kind)),
		logging.String("mode", mode),
		logging.Int("stages", len(result.Jobs)),
		logging.Int64("source_size", size),
		logging.Bool("remote", remote),
		logging.Event("media_ingested"),
	)
	c.announce(ctx, logger, desc)
	return result, nil
}

const notifyTimeout = 15 * time.Second

// announce pushes the link without holding up the ingest response.
func (c *Coordinator) announce(ctx context.Context, logger *slog.Logger, desc registry.MediaDescriptor) {
	if c.notifier == nil {
		return
	}
	link := ""
	if base := strings.TrimRight(strings.TrimSpace(c.cfg.Delivery.PublicBaseURL), "/"); base != "" {
		link = base + "/l/" + desc.Token
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	go func() {
		defer cancel()
		if err := c.notifier.NotifyLinkReady(nctx, desc.Token, desc.Title, link); err != nil {
			logger.Debug("link ready notification not sent", logging.Error(err))
		}
	}()
}

// Delete cancels in-flight jobs for the token, removes the record with its
// artifacts and releases the stored source.
func (c *Coordinator) Delete(ctx context.Context, req DeleteRequest) error {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return services.ValidationError("ingest", "delete", "token is required")
	}
	cancelled := c.pipeline.CancelToken(token)
	desc, err := c.registry.Delete(ctx, token)
	if c.delivery != nil {
		c.delivery.Invalidate(token)
	}
	if err != nil {
		return err
	}
	if !transfer.IsRemote(desc.SourceRef) {
		c.releaseBlob(ctx, desc.SourceRef)
	}
	c.logger.Info("media deleted",
		logging.Token(token),
		logging.Int("cancelled_jobs", cancelled),
		logging.Event("media_deleted"),
	)
	return nil
}

// Jobs returns pipeline job snapshots for diagnostics.
func (c *Coordinator) Jobs() []pipeline.Snapshot {
	return c.pipeline.Jobs()
}

func localSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, services.ValidationError("ingest", "ingest", "source %s does not exist", path)
		}
		return 0, services.Wrap(services.ErrFatal, "ingest", "ingest", "inspect source", err)
	}
	if !info.Mode().IsRegular() {
		return 0, services.ValidationError("ingest", "ingest", "source %s is not a regular file", path)
	}
	return info.Size(), nil
}

// remoteSize prefers the declared size and falls back to a HEAD request. An
// unknown size is reported as zero and left to the transfer manager.
func (c *Coordinator) remoteSize(ctx context.Context, url string, declared int64) int64 {
	if declared > 0 {
		return declared
	}
	size, _, err := c.fetcher.Stat(ctx, url)
	if err != nil || size < 0 {
		logging.WarnWithContext(c.logger, "remote size unknown", "remote_size_unknown",
			logging.String("url", url),
			logging.Error(err),
			logging.Impact("size limit cannot be enforced before download"),
		)
		return 0
	}
	return size
}

func (c *Coordinator) checkFreeSpace(size int64) error {
	floor := c.cfg.Limits.MinFreeBytes
	if floor <= 0 {
		return nil
	}
	free, err := c.blobs.FreeBytes()
	if err != nil {
		return services.Wrap(services.ErrFatal, "ingest", "ingest", "check free space", err)
	}
	if int64(free)-size < floor {
		return services.Wrap(services.ErrBusy, "ingest", "ingest",
			fmt.Sprintf("storing %d bytes would leave less than %d bytes free", size, floor), nil)
	}
	return nil
}

func (c *Coordinator) storeSource(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", services.Wrap(services.ErrFatal, "ingest", "ingest", "open source", err)
	}
	defer f.Close()
	saved, err := c.blobs.Save(f, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return "", services.Wrap(services.ErrFatal, "ingest", "ingest", "store source", err)
	}
	return saved.Ref, nil
}

func (c *Coordinator) releaseBlob(ctx context.Context, ref string) {
	if err := c.blobs.Release(ref); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "source release failed", "blob_release_failed",
			logging.String("ref", ref),
			logging.Error(err),
			logging.Hint("remove the orphaned blob from the storage directory"),
		)
	}
}

// MarshalSettings renders settings as a key to raw JSON map.
func MarshalSettings(s Settings) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	return out, json.Unmarshal(data, &out)
}
