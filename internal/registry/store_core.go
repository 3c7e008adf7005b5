package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"deeplinker/internal/config"
	"deeplinker/internal/logging"
	"deeplinker/internal/services"
)

// BlobReleaser frees blob storage that is no longer referenced.
type BlobReleaser interface {
	Release(ref string) error
}

// Registry manages descriptor, artifact and settings persistence.
type Registry struct {
	db       *sql.DB
	path     string
	blobs    BlobReleaser
	logger   *slog.Logger
	pageSize int
}

// Option customizes a Registry.
type Option func(*Registry)

// WithBlobs sets the releaser used for replaced and deleted artifacts.
func WithBlobs(blobs BlobReleaser) Option {
	return func(r *Registry) { r.blobs = blobs }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPageSize overrides the keyset page size used by List.
func WithPageSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

const (
	defaultPageSize         = 100
	sqliteBusyCode          = 5
	sqliteConstraintCode    = 19
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func sqliteCode(err error) (int, bool) {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code(), true
	}
	return 0, false
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok && code&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok && code&0xff == sqliteConstraintCode {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (r *Registry) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = r.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// inTx runs fn inside a transaction, retrying the whole transaction when
// SQLite reports the database busy.
func (r *Registry) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Open initializes or connects to the registry database at
// cfg.Paths.DatabasePath.
func Open(cfg *config.Config, opts ...Option) (*Registry, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "registry", "open", "config is required", nil)
	}
	dbPath := strings.TrimSpace(cfg.Paths.DatabasePath)
	if dbPath == "" {
		return nil, services.Wrap(services.ErrConfiguration, "registry", "open", "paths.database_path is required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("ensure database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	// foreign_keys is per connection; pin the pool to one connection so the
	// pragma holds for every statement.
	db.SetMaxOpenConns(1)

	reg := &Registry{
		db:       db,
		path:     dbPath,
		logger:   logging.NewNop(),
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(reg)
	}
	if err := reg.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return reg, nil
}

// Path returns the database file path.
func (r *Registry) Path() string {
	return r.path
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// releaseBlobs frees storage after a commit. Failures leave an orphaned blob,
// which is logged but not returned.
func (r *Registry) releaseBlobs(ctx context.Context, refs ...string) {
	if r.blobs == nil {
		return
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := r.blobs.Release(ref); err != nil {
			logging.WarnWithContext(r.logger, "failed to release artifact blob", "blob_release_failed",
				logging.String("storage_ref", ref),
				logging.Error(err),
				logging.Hint("check paths.storage_dir permissions"),
				logging.Impact("orphaned blob remains on disk"),
			)
			continue
		}
		r.logger.DebugContext(ctx, "released artifact blob", logging.String("storage_ref", ref))
	}
}

func fatal(op, message string, err error) error {
	return services.Wrap(services.ErrFatal, "registry", op, message, err)
}
