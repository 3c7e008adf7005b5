package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"deeplinker/internal/config"
	"deeplinker/internal/fileutil"
	"deeplinker/internal/logging"
	"deeplinker/internal/services"
	"deeplinker/internal/storage"
)

// Mode records how a download was carried out.
type Mode string

const (
	ModeChunked Mode = "chunked"
	ModeStream  Mode = "stream"
)

// Request describes one remote source to fetch.
type Request struct {
	URL         string
	Destination string
	// ExpectedSize is the declared size in bytes; zero or less triggers a
	// HEAD request. The server's reported length must agree with it.
	ExpectedSize int64
	// MaxBytes aborts the download once the object is known to be larger.
	// Zero disables the cap.
	MaxBytes int64
}

// Result describes a completed download.
type Result struct {
	Path     string
	Size     int64
	Mode     Mode
	Chunks   []Chunk
	Duration time.Duration
}

// Manager runs download sessions.
type Manager struct {
	fetcher      Fetcher
	workRoot     string
	chunkSize    int64
	concurrency  int
	retries      int
	backoffStart time.Duration
	backoffMax   time.Duration
	logger       *slog.Logger
}

// NewManager builds a manager from the transfer section of cfg. A nil
// fetcher selects the HTTP implementation.
func NewManager(cfg *config.Config, fetcher Fetcher, logger *slog.Logger) *Manager {
	if fetcher == nil {
		fetcher = NewHTTPFetcher(cfg.RequestTimeout())
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	initial, maxDelay := cfg.RetryBackoff()
	return &Manager{
		fetcher:      fetcher,
		workRoot:     cfg.Paths.WorkDir,
		chunkSize:    cfg.Transfer.ChunkSizeBytes,
		concurrency:  max(1, cfg.Transfer.Concurrency),
		retries:      max(0, cfg.Transfer.Retries),
		backoffStart: initial,
		backoffMax:   maxDelay,
		logger:       logging.NewComponentLogger(logger, "transfer"),
	}
}

// Download fetches req.URL into req.Destination. On any failure the
// destination is absent and the session directory has been removed.
func (m *Manager) Download(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.URL) == "" {
		return Result{}, services.ValidationError("transfer", "download", "url is required")
	}
	if strings.TrimSpace(req.Destination) == "" {
		return Result{}, services.ValidationError("transfer", "download", "destination is required")
	}
	start := time.Now()
	activeDownloads.Inc()
	defer activeDownloads.Dec()

	size, ranges := req.ExpectedSize, true
	if size <= 0 {
		statSize, ok, err := m.fetcher.Stat(ctx, req.URL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, cancelled(ctxErr)
			}
			m.logger.Warn("size lookup failed; streaming",
				logging.String("url", req.URL),
				logging.Error(err),
				logging.Event("transfer_stat_failed"),
				logging.Hint("server may not answer HEAD requests"),
				logging.Impact("download runs over a single connection"),
			)
			statSize = -1
		}
		size, ranges = statSize, ok
	}
	if req.MaxBytes > 0 && size > req.MaxBytes {
		return Result{}, tooLarge(size, req.MaxBytes)
	}

	ws, err := storage.NewWorkspace(m.workRoot, "download")
	if err != nil {
		return Result{}, services.Wrap(services.ErrFatal, "transfer", "download", "create session directory", err)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			m.logger.Warn("session cleanup failed", logging.Error(err))
		}
	}()

	var res Result
	if size > 0 && ranges {
		res, err = m.chunked(ctx, ws, req, size)
		if errors.Is(err, ErrRangeUnsupported) {
			m.logger.Info("server ignored range request; streaming",
				logging.String("url", req.URL),
				logging.Event("transfer_fallback"),
			)
			res, err = m.stream(ctx, ws, req, size)
		}
	} else {
		res, err = m.stream(ctx, ws, req, size)
	}

	mode := string(res.Mode)
	if mode == "" {
		mode = string(ModeStream)
	}
	if err != nil {
		_ = os.Remove(req.Destination)
		downloadsTotal.WithLabelValues(mode, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, cancelled(ctxErr)
		}
		return Result{}, err
	}
	res.Duration = time.Since(start)
	downloadsTotal.WithLabelValues(mode, "success").Inc()
	bytesTotal.WithLabelValues(mode).Add(float64(res.Size))
	downloadDuration.Observe(res.Duration.Seconds())
	m.logger.Info("download complete",
		logging.String("url", req.URL),
		logging.String("mode", mode),
		logging.Int64("bytes", res.Size),
		logging.Int("chunks", len(res.Chunks)),
		logging.Duration("elapsed", res.Duration),
		logging.Event("transfer_complete"),
	)
	return res, nil
}

func (m *Manager) chunked(ctx context.Context, ws *storage.Workspace, req Request, size int64) (Result, error) {
	chunks := PlanChunks(size, m.chunkSize)
	cm := newChunkMap(chunks, size)
	progress := newProgressLogger(m.logger, req.URL)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	parts := make([]string, len(chunks))
	for i, chunk := range chunks {
		parts[i] = ws.Path(fmt.Sprintf("chunk_%06d.part", i))
		path := parts[i]
		g.Go(func() error {
			return m.fetchChunk(gctx, req.URL, path, size, cm, chunk, progress)
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrRangeNotSatisfiable) {
			return Result{Mode: ModeChunked}, services.Wrap(services.ErrSizeMismatch, "transfer", "download",
				fmt.Sprintf("remote object is shorter than %d bytes", size), err)
		}
		return Result{Mode: ModeChunked}, err
	}
	if !cm.allVerified() {
		return Result{Mode: ModeChunked}, services.Wrap(services.ErrFatal, "transfer", "download", "chunk map incomplete after fetch", nil)
	}

	written, err := m.commit(req.Destination, func(tmp string) (int64, error) {
		return fileutil.Concat(tmp, parts)
	}, size)
	if err != nil {
		return Result{Mode: ModeChunked}, err
	}
	return Result{Path: req.Destination, Size: written, Mode: ModeChunked, Chunks: cm.snapshot()}, nil
}

func (m *Manager) fetchChunk(ctx context.Context, url, path string, size int64, cm *chunkMap, chunk Chunk, progress *progressLogger) error {
	delay := m.backoffStart
	var lastErr error
	for attempt := 0; attempt <= m.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			chunkRetriesTotal.Inc()
			if err := sleepWithContext(ctx, delay); err != nil {
				return err
			}
			delay = min(delay*2, m.backoffMax)
		}
		cm.attempt(chunk.Index)
		n, total, err := fetchInto(ctx, m.fetcher, url, path, chunk)
		if total >= 0 && total != size {
			return services.Wrap(services.ErrSizeMismatch, "transfer", "fetch chunk",
				fmt.Sprintf("server reports %d bytes, expected %d", total, size), nil)
		}
		if err == nil {
			cm.fetched(chunk.Index)
			var percent float64
			if percent, err = cm.verify(chunk.Index, n); err == nil {
				progress.observe(percent)
				return nil
			}
		}
		if errors.Is(err, ErrRangeUnsupported) || errors.Is(err, ErrRangeNotSatisfiable) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
		m.logger.Debug("chunk attempt failed",
			logging.Int("chunk", chunk.Index),
			logging.Int("attempt", attempt+1),
			logging.Error(err),
		)
	}
	return services.Wrap(services.ErrChunkFetch, "transfer", "fetch chunk",
		fmt.Sprintf("chunk %d at offset %d failed after %d attempts", chunk.Index, chunk.Offset, m.retries+1), lastErr)
}

func fetchInto(ctx context.Context, fetcher Fetcher, url, path string, chunk Chunk) (int64, int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, -1, fmt.Errorf("create chunk file: %w", err)
	}
	n, total, err := fetcher.FetchRange(ctx, url, chunk.Offset, chunk.Length, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	return n, total, err
}

func (m *Manager) stream(ctx context.Context, ws *storage.Workspace, req Request, expected int64) (Result, error) {
	part := ws.Path("stream.part")
	delay := m.backoffStart
	var (
		n       int64
		lastErr error
		fetched bool
	)
	for attempt := 0; attempt <= m.retries; attempt++ {
		if attempt > 0 {
			chunkRetriesTotal.Inc()
			if err := sleepWithContext(ctx, delay); err != nil {
				return Result{Mode: ModeStream}, err
			}
			delay = min(delay*2, m.backoffMax)
		}
		f, err := os.Create(part)
		if err != nil {
			return Result{Mode: ModeStream}, fmt.Errorf("create stream file: %w", err)
		}
		var w io.Writer = f
		if req.MaxBytes > 0 {
			w = &cappedWriter{w: f, limit: req.MaxBytes}
		}
		n, err = m.fetcher.FetchAll(ctx, req.URL, w)
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
		if err == nil {
			fetched = true
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Mode: ModeStream}, ctxErr
		}
		if errors.Is(err, services.ErrValidation) {
			return Result{Mode: ModeStream}, err
		}
		lastErr = err
	}
	if !fetched {
		return Result{Mode: ModeStream}, services.Wrap(services.ErrChunkFetch, "transfer", "stream",
			fmt.Sprintf("failed after %d attempts", m.retries+1), lastErr)
	}

	written, err := m.commit(req.Destination, func(tmp string) (int64, error) {
		if err := fileutil.MoveFile(part, tmp); err != nil {
			return 0, err
		}
		return n, nil
	}, expected)
	if err != nil {
		return Result{Mode: ModeStream}, err
	}
	return Result{Path: req.Destination, Size: written, Mode: ModeStream}, nil
}

// commit builds the destination through a sibling temp file so readers never
// see a partial download. expected <= 0 skips the size check.
func (m *Manager) commit(dst string, build func(tmp string) (int64, error), expected int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return 0, fmt.Errorf("create destination directory: %w", err)
	}
	tmp := dst + ".part"
	written, err := build(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return 0, services.Wrap(services.ErrFatal, "transfer", "assemble", "write destination", err)
	}
	if expected > 0 && written != expected {
		_ = os.Remove(tmp)
		return 0, services.Wrap(services.ErrSizeMismatch, "transfer", "assemble",
			fmt.Sprintf("got %d bytes, want %d", written, expected), nil)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return 0, services.Wrap(services.ErrFatal, "transfer", "assemble", "commit destination", err)
	}
	return written, nil
}

func tooLarge(size, limit int64) error {
	return services.ValidationError("transfer", "download", "remote object of %d bytes exceeds the %d byte limit", size, limit)
}

// cappedWriter fails the write that would take the total past limit.
type cappedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	if c.written+int64(len(p)) > c.limit {
		return 0, services.ValidationError("transfer", "download", "remote object exceeds the %d byte limit", c.limit)
	}
	n, err := c.w.Write(p)
	c.written += int64(n)
	return n, err
}

func cancelled(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "transfer", "download", "deadline exceeded", err)
	}
	return fmt.Errorf("download cancelled: %w", err)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// progressLogger rate-limits chunk completion logs across workers.
type progressLogger struct {
	sampler *logging.ProgressSampler
	logger  *slog.Logger
	url     string
}

func newProgressLogger(logger *slog.Logger, url string) *progressLogger {
	return &progressLogger{sampler: logging.NewProgressSampler(10), logger: logger, url: url}
}

func (p *progressLogger) observe(percent float64) {
	if !p.sampler.Sample(percent) {
		return
	}
	p.logger.Info("download progress",
		logging.String("url", p.url),
		logging.Float64("percent", percent),
		logging.Event("transfer_progress"),
	)
}
