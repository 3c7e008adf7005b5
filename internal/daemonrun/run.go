package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"deeplinker/internal/config"
	"deeplinker/internal/daemon"
	"deeplinker/internal/deps"
	"deeplinker/internal/logging"
)

// streamCapacity is the number of log events kept for the log API.
const streamCapacity = 4096

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel   string
	Diagnostic bool
}

// PIDPath returns the pid file written by a running daemon.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "deeplinker.pid")
}

// Run starts the deeplinker daemon and blocks until the context is cancelled
// or the process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	hub := logging.NewStreamHub(streamCapacity)

	var sessionID string
	if opts.Diagnostic {
		sessionID = uuid.NewString()
	}
	logger, err := logging.NewFromConfig(cfg, sessionID, hub)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if opts.Diagnostic {
		logger, err = attachDebugLog(logger, cfg, runID, sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", err)
		}
	}

	logDependencySnapshot(signalCtx, logger, cfg)

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	comps, err := daemon.Build(cfg, logger, hub)
	if err != nil {
		logger.Error("assemble components", logging.Error(err))
		return err
	}
	d, err := daemon.New(cfg, comps, logger)
	if err != nil {
		_ = comps.Registry.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.Hint("check the lock file, bind address and data directory permissions"),
			logging.Impact("links are not being served"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("deeplinker daemon shutting down", logging.Event("daemon_shutdown"))
	return nil
}

func attachDebugLog(logger *slog.Logger, cfg *config.Config, runID, sessionID string) (*slog.Logger, error) {
	debugDir := filepath.Join(cfg.Paths.LogDir, "debug")
	if err := os.MkdirAll(debugDir, 0o755); err != nil {
		return logger, fmt.Errorf("create debug log directory: %w", err)
	}
	debugPath := filepath.Join(debugDir, fmt.Sprintf("deeplinker-%s.log", runID))
	debugLogger, err := logging.New(logging.Options{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{debugPath},
		Development: true,
		SessionID:   sessionID,
	})
	if err != nil {
		return logger, err
	}
	logger = logging.TeeLogger(logger, debugLogger.Handler())
	logger.Info("diagnostic mode enabled",
		logging.Event("diagnostic_mode_enabled"),
		logging.String(logging.FieldSessionID, sessionID),
		logging.String("debug_log_path", debugPath),
	)
	return logger, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	statuses := deps.CheckMedia(ctx, cfg)
	attrs := []logging.Attr{logging.Event("dependency_snapshot")}
	for _, status := range statuses {
		name := strings.ToLower(status.Name)
		attrs = append(attrs,
			logging.Bool(name+"_available", status.Available),
			logging.String(name+"_binary", status.Command),
		)
		if status.Version != "" {
			attrs = append(attrs, logging.String(name+"_version", status.Version))
		}
	}
	attrs = append(attrs,
		logging.String("bind", cfg.API.Bind),
		logging.Bool("api_auth", strings.TrimSpace(cfg.API.Token) != ""),
		logging.Bool("content_protection", cfg.Delivery.ProtectContent),
	)
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
