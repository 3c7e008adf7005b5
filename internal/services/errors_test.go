package services_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"deeplinker/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "pipeline", "collage", "ffmpeg failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"pipeline", "collage", "ffmpeg failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{services.ValidationError("ingest", "validate", "bad kind %q", "audio"), http.StatusBadRequest},
		{services.Wrap(services.ErrNotFound, "registry", "get", "", nil), http.StatusNotFound},
		{services.Wrap(services.ErrDuplicateToken, "registry", "put", "", nil), http.StatusConflict},
		{services.Wrap(services.ErrBusy, "ingest", "reserve", "", nil), http.StatusServiceUnavailable},
		{services.Wrap(services.ErrChunkFetch, "transfer", "fetch", "", nil), http.StatusBadGateway},
		{services.Wrap(services.ErrFatal, "registry", "open", "", errors.New("disk")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := services.HTTPStatus(tt.err); got != tt.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
