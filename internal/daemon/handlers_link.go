package daemon

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"deeplinker/internal/logging"
	"deeplinker/internal/services"
	"deeplinker/internal/textutil"
)

// Response headers consumed by the delivery transport.
const (
	headerProtection = "X-Content-Protection"
	headerStage      = "X-Artifact-Stage"
)

func (s *apiServer) handleLink(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	res, err := s.daemon.comps.Gate.Resolve(r.Context(), token)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("link unavailable"))
			return
		}
		s.writeError(w, r, err)
		return
	}
	content, err := res.Open(r.Context())
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("link unavailable"))
			return
		}
		s.writeError(w, r, err)
		return
	}
	defer content.Close()

	w.Header().Set(headerProtection, strconv.FormatBool(res.Protected))
	w.Header().Set(headerStage, res.Stage)
	if res.Protected {
		w.Header().Set("Cache-Control", "private, no-store")
	}
	name := path.Base(res.StorageRef)
	if disposition := mime.FormatMediaType("inline", map[string]string{
		"filename": textutil.DownloadName(res.Title, res.Token, res.StorageRef, res.Stage),
	}); disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}

	if seeker, ok := content.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, time.Time{}, seeker)
		return
	}
	written, err := io.Copy(w, content)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "link stream interrupted", "link_stream_failed",
			logging.Token(token),
			logging.Int64("bytes_written", written),
			logging.Error(err),
		)
	}
}
