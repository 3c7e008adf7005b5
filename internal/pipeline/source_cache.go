package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"sync"

	"golang.org/x/sync/singleflight"

	"deeplinker/internal/logging"
	"deeplinker/internal/services"
	"deeplinker/internal/storage"
	"deeplinker/internal/transfer"
)

const maxSharedRetries = 3

// sourceEntry is one token's materialized source.
type sourceEntry struct {
	refs int
	path string
	ws   *storage.Workspace
}

// sourceCache shares one local copy of a token's source between concurrent
// jobs. Remote sources are downloaded once into a workspace that is removed
// when the last job holding a reference releases it. Stored blobs are used in
// place.
type sourceCache struct {
	blobs      Blobs
	downloader Downloader
	workRoot   string
	maxBytes   func(kind string) int64
	logger     *slog.Logger

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*sourceEntry
}

func newSourceCache(blobs Blobs, downloader Downloader, workRoot string, maxBytes func(string) int64, logger *slog.Logger) *sourceCache {
	return &sourceCache{
		blobs:      blobs,
		downloader: downloader,
		workRoot:   workRoot,
		maxBytes:   maxBytes,
		logger:     logger,
		entries:    make(map[string]*sourceEntry),
	}
}

// Acquire returns a local path for the job's source and a release func that
// must be called exactly once.
func (c *sourceCache) Acquire(ctx context.Context, job *Job) (string, func(), error) {
	token := job.Token
	req := transfer.Request{URL: job.SourceRef, ExpectedSize: job.SourceSize}
	if c.maxBytes != nil {
		req.MaxBytes = c.maxBytes(string(job.Kind))
	}

	c.mu.Lock()
	entry := c.entries[token]
	if entry == nil {
		entry = &sourceEntry{}
		c.entries[token] = entry
	}
	entry.refs++
	c.mu.Unlock()

	var once sync.Once
	release := func() { once.Do(func() { c.release(token, entry) }) }

	for attempt := 0; ; attempt++ {
		v, err, _ := c.group.Do(token, func() (any, error) {
			c.mu.Lock()
			if current := c.entries[token]; current != nil && current.path != "" {
				p := current.path
				c.mu.Unlock()
				return p, nil
			}
			c.mu.Unlock()
			p, ws, err := c.materialize(ctx, token, req)
			if err != nil {
				return "", err
			}
			c.mu.Lock()
			current := c.entries[token]
			if current == nil {
				c.mu.Unlock()
				// Every holder released while the download ran.
				if ws != nil {
					_ = ws.Release()
				}
				return "", services.Wrap(services.ErrNotFound, "pipeline", "source", "source released during download", nil)
			}
			current.path, current.ws = p, ws
			c.mu.Unlock()
			return p, nil
		})
		if err != nil {
			// A shared call can fail because the caller that started it was
			// cancelled; try again under our own context.
			if isContextErr(err) && ctx.Err() == nil && attempt < maxSharedRetries {
				continue
			}
			release()
			return "", nil, err
		}
		return v.(string), release, nil
	}
}

func (c *sourceCache) release(token string, entry *sourceEntry) {
	c.mu.Lock()
	entry.refs--
	if entry.refs > 0 {
		c.mu.Unlock()
		return
	}
	if c.entries[token] == entry {
		delete(c.entries, token)
	}
	ws := entry.ws
	entry.ws, entry.path = nil, ""
	c.mu.Unlock()

	if ws != nil {
		if err := ws.Release(); err != nil {
			c.logger.Warn("failed to remove cached source", logging.String("token", token), logging.Error(err))
		}
	}
}

// Len reports how many tokens currently hold a cached source.
func (c *sourceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *sourceCache) materialize(ctx context.Context, token string, req transfer.Request) (string, *storage.Workspace, error) {
	ref := req.URL
	if !transfer.IsRemote(ref) {
		p, err := c.blobs.Path(ref)
		if err != nil {
			return "", nil, services.Wrap(services.ErrNotFound, "pipeline", "source", fmt.Sprintf("source %s", ref), err)
		}
		if _, err := os.Stat(p); err != nil {
			return "", nil, services.Wrap(services.ErrNotFound, "pipeline", "source", fmt.Sprintf("source %s", ref), err)
		}
		return p, nil, nil
	}
	if c.downloader == nil {
		return "", nil, services.Wrap(services.ErrConfiguration, "pipeline", "source", "remote source without downloader", nil)
	}

	ws, err := storage.NewWorkspace(c.workRoot, "src-"+token)
	if err != nil {
		return "", nil, services.Wrap(services.ErrFatal, "pipeline", "source", "create source workspace", err)
	}
	dest := ws.Path("source" + remoteExt(ref))
	req.Destination = dest
	if _, err := c.downloader.Download(ctx, req); err != nil {
		_ = ws.Release()
		return "", nil, err
	}
	sourceDownloadsTotal.Inc()
	c.logger.Debug("source materialized", logging.String("token", token), logging.String("path", dest))
	return dest, ws, nil
}

func remoteExt(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
