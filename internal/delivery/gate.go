package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"deeplinker/internal/config"
	"deeplinker/internal/logging"
	"deeplinker/internal/media"
	"deeplinker/internal/registry"
	"deeplinker/internal/services"
	"deeplinker/internal/transfer"
)

// StageRaw names the unprocessed source in preference lists and results.
const StageRaw = "raw"

// Lookup is the registry surface the gate reads.
type Lookup interface {
	Get(ctx context.Context, token string) (registry.MediaDescriptor, error)
	Artifacts(ctx context.Context, token string) ([]registry.Artifact, error)
}

// Blobs opens stored artifacts and sources.
type Blobs interface {
	Open(ref string) (*os.File, error)
	Exists(ref string) bool
}

// ResolveResult describes what a link visit should deliver.
type ResolveResult struct {
	Token      string     `json:"token"`
	Stage      string     `json:"stage"`
	Kind       media.Kind `json:"kind"`
	StorageRef string     `json:"storage_ref"`
	SourceRef  string     `json:"source_ref"`
	Protected  bool       `json:"protected"`
	Title      string     `json:"title,omitempty"`

	open func(ctx context.Context) (io.ReadCloser, error)
}

// Remote reports whether the result streams from a remote source.
func (r ResolveResult) Remote() bool {
	return transfer.IsRemote(r.StorageRef)
}

// Open returns the content. Remote raw sources are streamed through the
// fetcher.
func (r ResolveResult) Open(ctx context.Context) (io.ReadCloser, error) {
	if r.open == nil {
		return nil, errors.New("delivery: result has no content")
	}
	return r.open(ctx)
}

// Gate resolves tokens.
type Gate struct {
	lookup     Lookup
	blobs      Blobs
	fetcher    transfer.Fetcher
	cache      *expirable.LRU[string, registry.MediaDescriptor]
	preference []string
	logger     *slog.Logger
}

// Option customizes a Gate.
type Option func(*Gate)

// WithFetcher sets the fetcher used to stream remote raw sources.
func WithFetcher(f transfer.Fetcher) Option {
	return func(g *Gate) {
		if f != nil {
			g.fetcher = f
		}
	}
}

// WithLogger sets the gate logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New builds a gate using cfg.Delivery for the preference order and cache.
func New(cfg *config.Config, lookup Lookup, blobs Blobs, opts ...Option) (*Gate, error) {
	if lookup == nil || blobs == nil {
		return nil, errors.New("delivery: lookup and blobs are required")
	}
	preference, err := normalizePreference(cfg.Delivery.Preference)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "delivery", "new", "invalid preference", err)
	}
	size := cfg.Delivery.CacheSize
	if size <= 0 {
		size = 1
	}
	g := &Gate{
		lookup:     lookup,
		blobs:      blobs,
		fetcher:    transfer.NewHTTPFetcher(cfg.RequestTimeout()),
		cache:      expirable.NewLRU[string, registry.MediaDescriptor](size, nil, cfg.CacheTTL()),
		preference: preference,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.NewComponentLogger(g.logger, "delivery")
	return g, nil
}

// Preference returns the stage order the gate tries.
func (g *Gate) Preference() []string {
	return slices.Clone(g.preference)
}

// Resolve picks the artifact to deliver for token.
func (g *Gate) Resolve(ctx context.Context, token string) (ResolveResult, error) {
	desc, err := g.descriptor(ctx, token)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			resolvesTotal.WithLabelValues("not_found").Inc()
		}
		return ResolveResult{}, err
	}
	artifacts, err := g.lookup.Artifacts(ctx, token)
	if err != nil {
		return ResolveResult{}, err
	}
	byStage := make(map[string]registry.Artifact, len(artifacts))
	for _, art := range artifacts {
		if art.Status == registry.StatusDone && art.StorageRef != "" {
			byStage[string(art.Stage)] = art
		}
	}

	result := ResolveResult{
		Token:     desc.Token,
		Kind:      desc.Kind,
		SourceRef: desc.SourceRef,
		Protected: desc.Protected,
		Title:     desc.Title,
	}
	for _, stage := range g.preference {
		if stage == StageRaw {
			break
		}
		art, ok := byStage[stage]
		if !ok {
			continue
		}
		if !g.blobs.Exists(art.StorageRef) {
			logging.WarnWithContext(g.logger, "artifact blob missing", "artifact_blob_missing",
				logging.Token(token),
				logging.Stage(stage),
				logging.String("ref", art.StorageRef),
				logging.Impact("falling back to next preferred stage"),
			)
			continue
		}
		result.Stage = stage
		result.StorageRef = art.StorageRef
		result.open = g.openBlob(art.StorageRef)
		resolvesTotal.WithLabelValues(stage).Inc()
		return result, nil
	}

	// Raw is always the last resort even when the preference omits it.
	result.Stage = StageRaw
	result.StorageRef = desc.SourceRef
	if transfer.IsRemote(desc.SourceRef) {
		result.open = g.openRemote(desc.SourceRef)
	} else {
		result.open = g.openBlob(desc.SourceRef)
	}
	resolvesTotal.WithLabelValues(StageRaw).Inc()
	return result, nil
}

// Invalidate drops the cached descriptor for token.
func (g *Gate) Invalidate(token string) {
	g.cache.Remove(token)
}

// CacheLen reports the number of cached descriptors.
func (g *Gate) CacheLen() int {
	return g.cache.Len()
}

func (g *Gate) descriptor(ctx context.Context, token string) (registry.MediaDescriptor, error) {
	if desc, ok := g.cache.Get(token); ok {
		cacheHitsTotal.Inc()
		return desc, nil
	}
	cacheMissesTotal.Inc()
	desc, err := g.lookup.Get(ctx, token)
	if err != nil {
		return registry.MediaDescriptor{}, err
	}
	g.cache.Add(token, desc)
	return desc, nil
}

func (g *Gate) openBlob(ref string) func(context.Context) (io.ReadCloser, error) {
	return func(context.Context) (io.ReadCloser, error) {
		f, err := g.blobs.Open(ref)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, services.Wrap(services.ErrNotFound, "delivery", "open", "stored content missing", err)
			}
			return nil, err
		}
		return f, nil
	}
}

func (g *Gate) openRemote(url string) func(context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			_, err := g.fetcher.FetchAll(ctx, url, pw)
			pw.CloseWithError(err)
		}()
		return pr, nil
	}
}

func normalizePreference(values []string) ([]string, error) {
	if len(values) == 0 {
		values = config.DefaultPreference
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != StageRaw {
			if _, err := registry.ParseStage(v); err != nil {
				return nil, fmt.Errorf("unknown stage %q", v)
			}
		}
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out, nil
}
