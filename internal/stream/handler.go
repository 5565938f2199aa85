package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the stream lifecycle over HTTP using go-chi. Responses use
// the {success, ...} envelope the web player expects.
type Handler struct {
	orch      *Orchestrator
	log       *slog.Logger
	startedAt time.Time
}

// NewHandler returns a Handler backed by the given Orchestrator.
func NewHandler(orch *Orchestrator, log *slog.Logger) *Handler {
	return &Handler{orch: orch, log: log, startedAt: time.Now()}
}

type envelope struct {
	Success bool      `json:"success"`
	Count   *int      `json:"count,omitempty"`
	Stream  *Session  `json:"stream,omitempty"`
	Streams []Session `json:"streams,omitempty"`
	Stats   *Stats    `json:"stats,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// validateCreate enforces the request contract before any session state is
// touched: name and source are required, and the source scheme must be on
// the allow-list.
func validateCreate(req CreateRequest) error {
	if req.Name == "" || req.SourceURL == "" {
		return fmt.Errorf("%w: name and rtspUrl are required", ErrInvalidRequest)
	}
	u := req.SourceURL
	if !strings.HasPrefix(u, "rtsp://") && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("%w: url must start with rtsp://, http://, or https://", ErrInvalidRequest)
	}
	if req.Quality != "" && !ValidQuality(req.Quality) {
		return fmt.Errorf("%w: unknown quality %q", ErrInvalidRequest, req.Quality)
	}
	return nil
}

// CreateStream handles POST /api/streams.
func (h *Handler) CreateStream(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateCreate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, err := h.orch.CreateSession(req)
	if err != nil {
		if errors.Is(err, ErrCapacity) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.log.Error("create stream failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, envelope{Success: true, Stream: &s})
}

// ListStreams handles GET /api/streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	streams := h.orch.Sessions()
	n := len(streams)
	writeJSON(w, http.StatusOK, envelope{Success: true, Count: &n, Streams: streams})
}

// GetStream handles GET /api/streams/{id}.
func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.orch.Session(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Stream not found")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Stream: &s})
}

// StopStream handles DELETE /api/streams/{id}.
func (h *Handler) StopStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.orch.StopSession(id) {
		writeError(w, http.StatusNotFound, "Stream not found")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Stream stopped successfully"})
}

// GetStats handles GET /api/streams/{id}/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, err := h.orch.StatsFor(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Stats not found")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Stats: &stats})
}

// Health handles GET /health with uptime and per-status session counts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	streams := h.orch.Sessions()
	counts := map[Status]int{}
	for _, s := range streams {
		counts[s.Status]++
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"uptime":    time.Since(h.startedAt).Seconds(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"streams": map[string]int{
			"total":  len(streams),
			"active": counts[StatusActive],
			"error":  counts[StatusError],
		},
	})
}

// HLSFileServer serves the segmented output below dir at /streams/*. The
// manifests must never be cached; players poll them for the rolling window.
func HLSFileServer(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-cache")
		fs.ServeHTTP(w, r)
	})
}
