package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"deeplinker/internal/api"
	"deeplinker/internal/config"
	"deeplinker/internal/delivery"
	"deeplinker/internal/deps"
	"deeplinker/internal/ingest"
	"deeplinker/internal/logging"
	"deeplinker/internal/logs"
	"deeplinker/internal/notifications"
	"deeplinker/internal/pipeline"
	"deeplinker/internal/registry"
	"deeplinker/internal/storage"
	"deeplinker/internal/transfer"
)

// staleWorkspaceAge is how old a leftover workspace must be before startup
// removes it.
const staleWorkspaceAge = time.Hour

// Components are the services the daemon serves.
type Components struct {
	Registry *registry.Registry
	Blobs    *storage.Store
	Pipeline *pipeline.Pipeline
	Ingest   *ingest.Coordinator
	Gate     *delivery.Gate
	Hub      *logging.StreamHub
}

// Build opens storage and the registry and assembles every component from cfg.
func Build(cfg *config.Config, logger *slog.Logger, hub *logging.StreamHub) (Components, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return Components{}, err
	}
	blobs, err := storage.New(cfg.Paths.StorageDir)
	if err != nil {
		return Components{}, err
	}
	reg, err := registry.Open(cfg, registry.WithBlobs(blobs), registry.WithLogger(logger))
	if err != nil {
		return Components{}, err
	}
	fetcher := transfer.NewHTTPFetcher(cfg.RequestTimeout())
	notifier := notifications.NewService(cfg)
	pipe, err := pipeline.New(cfg, pipeline.Deps{
		Registry:   reg,
		Blobs:      blobs,
		Downloader: transfer.NewManager(cfg, fetcher, logger),
		Notifier:   notifier,
		Logger:     logger,
	})
	if err != nil {
		reg.Close()
		return Components{}, err
	}
	gate, err := delivery.New(cfg, reg, blobs, delivery.WithFetcher(fetcher), delivery.WithLogger(logger))
	if err != nil {
		reg.Close()
		return Components{}, err
	}
	coord, err := ingest.New(cfg, ingest.Deps{
		Registry: reg,
		Pipeline: pipe,
		Blobs:    blobs,
		Fetcher:  fetcher,
		Delivery: gate,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		reg.Close()
		return Components{}, err
	}
	return Components{Registry: reg, Blobs: blobs, Pipeline: pipe, Ingest: coord, Gate: gate, Hub: hub}, nil
}

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	comps  Components
	server *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a daemon around already-built components.
func New(cfg *config.Config, comps Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || comps.Registry == nil || comps.Blobs == nil || comps.Pipeline == nil || comps.Ingest == nil || comps.Gate == nil {
		return nil, errors.New("daemon requires config, registry, blobs, pipeline, ingest and delivery")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.DataDir, "deeplinker.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		comps:    comps,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, reclaims stale workspaces, starts the
// pipeline and begins serving HTTP.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another deeplinker daemon instance is already running")
	}

	storage.CleanStaleWorkspaces(d.cfg.Paths.WorkDir, staleWorkspaceAge, d.logger)
	logging.CleanupOldLogs(d.logger, d.cfg.Logging.RetentionDays,
		logging.RetentionTarget{
			Dir:     d.cfg.Paths.LogDir,
			Pattern: "*.log*",
			Exclude: []string{logs.FilePath(d.cfg.Paths.LogDir)},
		},
		logging.RetentionTarget{Dir: filepath.Join(d.cfg.Paths.LogDir, "debug"), Pattern: "deeplinker-*.log"},
	)

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.comps.Pipeline.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.server.start(d.ctx); err != nil {
		d.comps.Pipeline.Stop()
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("deeplinker daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.addr()),
		logging.Event("daemon_started"),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops serving, drains the pipeline and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.server.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.comps.Pipeline.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.Hint("remove "+d.lockPath+" if the next start fails"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("deeplinker daemon stopped", logging.Event("daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.comps.Registry.Close()
}

// Addr returns the bound HTTP address once started.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// LockPath returns the single-instance lock file.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.comps.Registry.Path(),
		LockFilePath: d.lockPath,
		StorageDir:   d.comps.Blobs.Root(),
		Preference:   d.comps.Gate.Preference(),
		Pipeline:     api.FromPipelineStats(d.comps.Pipeline.Stats()),
		Dependencies: api.FromDependencies(deps.CheckMedia(ctx, d.cfg)),
	}
	if free, err := d.comps.Blobs.FreeBytes(); err == nil {
		status.FreeBytes = free
	}
	if stats, err := d.comps.Registry.Stats(ctx); err == nil {
		status.Registry = api.FromRegistryStats(stats)
	} else {
		logging.WarnWithContext(d.logger, "registry stats unavailable", "status_degraded", logging.Error(err))
	}
	return status
}
