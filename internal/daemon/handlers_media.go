package daemon

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"deeplinker/internal/api"
	"deeplinker/internal/ingest"
	"deeplinker/internal/media"
	"deeplinker/internal/services"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

func (s *apiServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req api.IngestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.daemon.comps.Ingest.Ingest(r.Context(), ingest.UploadRequest{
		SourceHandle: req.Source,
		Kind:         media.Kind(strings.TrimSpace(req.Kind)),
		Options:      req.Options,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.IngestResponse{
		Item: api.FromDescriptor(result.Descriptor, s.baseURL),
		Jobs: api.FromSnapshots(result.Jobs),
	})
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := defaultPageSize
	if value := strings.TrimSpace(query.Get("limit")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			s.writeError(w, r, services.ValidationError("api", "list", "limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxPageSize)
	}
	after := strings.TrimSpace(query.Get("after"))

	resp := api.MediaListResponse{Items: make([]api.MediaItem, 0, min(limit, defaultPageSize))}
	for desc, err := range s.daemon.comps.Registry.ListAfter(r.Context(), after) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if len(resp.Items) == limit {
			resp.Next = resp.Items[len(resp.Items)-1].Token
			break
		}
		resp.Items = append(resp.Items, api.FromDescriptor(desc, s.baseURL))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleDescribe(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	desc, err := s.daemon.comps.Registry.Get(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	artifacts, err := s.daemon.comps.Registry.Artifacts(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	item := api.FromDescriptor(desc, s.baseURL)
	item.Artifacts = api.FromArtifacts(artifacts)
	writeJSON(w, http.StatusOK, api.MediaItemResponse{Item: item})
}

func (s *apiServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := s.daemon.comps.Ingest.Delete(r.Context(), ingest.DeleteRequest{Token: token}); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.DeleteResponse{Token: token, Deleted: true})
}
