package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"deeplinker/internal/api"
	"deeplinker/internal/apiclient"
)

func TestClientSendsTokenAndDecodes(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(api.MediaListResponse{
			Items: []api.MediaItem{{Token: "abc", Kind: "video"}},
			Next:  "abc",
		})
	}))
	defer srv.Close()

	client := apiclient.New(srv.URL, "tok", time.Second)
	resp, err := client.List(context.Background(), "zzz", 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotQuery != "after=zzz&limit=1" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if len(resp.Items) != 1 || resp.Next != "abc" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestClientSurfacesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "token already exists"})
	}))
	defer srv.Close()

	_, err := apiclient.New(srv.URL, "", time.Second).Ingest(context.Background(), api.IngestRequest{Source: "x", Kind: "video"})
	if !apiclient.IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 error, got %v", err)
	}
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) || apiErr.Message != "token already exists" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestClientReportsUnavailableDaemon(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	_, err = apiclient.New(addr, "", time.Second).Status(context.Background())
	if !apiclient.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestNewAddsScheme(t *testing.T) {
	if got := apiclient.New("127.0.0.1:7580/", "", 0).Base(); got != "http://127.0.0.1:7580" {
		t.Fatalf("unexpected base %q", got)
	}
}
