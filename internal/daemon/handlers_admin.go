package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"deeplinker/internal/api"
	"deeplinker/internal/ingest"
	"deeplinker/internal/logging"
	"deeplinker/internal/services"
)

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	jobs := api.FromSnapshots(s.daemon.comps.Ingest.Jobs())
	if token != "" {
		filtered := jobs[:0]
		for _, job := range jobs {
			if job.Token == token {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}
	writeJSON(w, http.StatusOK, api.JobsResponse{Jobs: jobs})
}

func (s *apiServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.daemon.comps.Ingest.EffectiveSettings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fields, err := ingest.MarshalSettings(settings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SettingsResponse{Settings: fields})
}

func (s *apiServer) handleSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := s.daemon.comps.Ingest.Setting(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SettingResponse{Key: key, Value: value})
}

func (s *apiServer) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		s.writeError(w, r, services.ValidationError("api", "set setting", "read body: %v", err))
		return
	}
	if _, err := s.daemon.comps.Ingest.SetSetting(r.Context(), key, json.RawMessage(body)); err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := s.daemon.comps.Ingest.Setting(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SettingResponse{Key: key, Value: value})
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.comps.Hub
	if hub == nil {
		writeJSON(w, http.StatusOK, api.LogStreamResponse{})
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")
	tail := query.Get("tail") == "1" || strings.EqualFold(query.Get("tail"), "true")
	token := strings.TrimSpace(query.Get("token"))
	component := strings.TrimSpace(query.Get("component"))

	var (
		events []logging.LogEvent
		next   uint64
	)
	if tail && since == 0 && !follow {
		events, next = hub.Tail(limit)
	} else {
		var err error
		events, next, err = hub.Fetch(r.Context(), since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, r, err)
			return
		}
	}

	filtered := make([]logging.LogEvent, 0, len(events))
	for _, evt := range events {
		if token != "" && evt.Token != token {
			continue
		}
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		filtered = append(filtered, evt)
	}
	writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: filtered, Next: next})
}
