package testsupport

import (
	"context"
	"testing"

	"deeplinker/internal/config"
	"deeplinker/internal/media"
	"deeplinker/internal/registry"
	"deeplinker/internal/storage"
)

// MustOpenStorage opens the blob store rooted at cfg.Paths.StorageDir.
func MustOpenStorage(t testing.TB, cfg *config.Config) *storage.Store {
	t.Helper()

	store, err := storage.New(cfg.Paths.StorageDir)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return store
}

// MustOpenRegistry opens a registry for tests and registers cleanup.
func MustOpenRegistry(t testing.TB, cfg *config.Config, opts ...registry.Option) *registry.Registry {
	t.Helper()

	reg, err := registry.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		reg.Close()
	})
	return reg
}

// PutMedia inserts a descriptor with a generated token.
func PutMedia(t testing.TB, reg *registry.Registry, sourceRef string, kind media.Kind) registry.MediaDescriptor {
	t.Helper()

	desc, err := reg.Create(context.Background(), registry.MediaDescriptor{
		SourceRef: sourceRef,
		Kind:      kind,
		Protected: true,
	})
	if err != nil {
		t.Fatalf("registry.Create: %v", err)
	}
	return desc
}
