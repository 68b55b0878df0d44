package orchestrator

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"stream-acquirer/internal/candidate"
	"stream-acquirer/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	jsonContentType     = "application/json"
	maxBodyBytes        = 1 << 20
)

// Session IDs double as output directory names.
var validSessionID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Handler exposes session HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	if m != nil {
		svc.WithEventRecorder(m)
	}
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes mounts every session endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/sessions/{session_id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/events", h.ReportEvent)
		r.Post("/close", h.CloseSession)
		r.Post("/acquire", h.StartAcquisition)
		r.Delete("/acquire", h.CancelAcquisition)
		r.Get("/playlist.m3u8", h.GetPlaylist)
	})
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (SessionID, bool) {
	id := chi.URLParam(r, "session_id")
	if !validSessionID.MatchString(id) {
		w.WriteHeader(http.StatusBadRequest)
		return "", false
	}
	return SessionID(id), true
}

// ReportEvent handles POST /sessions/{session_id}/events.
// Body: { "url": "https://cdn/x/master.m3u8", "method": "GET", "status": 200,
// "headers": {...}, "resource_type": "xhr", "source": "network" }.
func (h *Handler) ReportEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var ev candidate.ObservedEvent
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		h.log.Debug("invalid event body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	c, accepted, err := h.svc.ReportEvent(id, ev)
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			h.log.Info("event rejected session closed",
				slog.String("session_id", string(id)),
				slog.String("url", ev.URL))
			w.WriteHeader(http.StatusConflict)
			return
		}
		h.log.Error("report event failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !accepted {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.log.Debug("candidate recorded",
		slog.String("session_id", string(id)),
		slog.String("url", c.URL),
		slog.String("type", string(c.Kind)))
	writeJSON(w, http.StatusAccepted, c)
}

// CloseSession handles POST /sessions/{session_id}/close.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.svc.CloseSession(id); err != nil {
		h.log.Error("close session failed", slog.String("session_id", string(id)), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	h.log.Info("session closed", slog.String("session_id", string(id)))
	w.WriteHeader(http.StatusOK)
}

// StartAcquisition handles POST /sessions/{session_id}/acquire. The body is
// optional: { "quality": "720p", "output": "clip.mp4", "headers": {...} }.
func (h *Handler) StartAcquisition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req AcquireRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug("invalid acquire body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	status, err := h.svc.StartAcquisition(id, req)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionNotFound):
		w.WriteHeader(http.StatusNotFound)
		return
	case errors.Is(err, ErrJobRunning):
		w.WriteHeader(http.StatusConflict)
		return
	case errors.Is(err, ErrNoCandidates):
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	default:
		h.log.Error("start acquisition failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

// CancelAcquisition handles DELETE /sessions/{session_id}/acquire.
func (h *Handler) CancelAcquisition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	switch err := h.svc.CancelAcquisition(id); {
	case err == nil:
		h.log.Info("acquisition cancel requested", slog.String("session_id", string(id)))
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, ErrSessionNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, ErrJobNotRunning):
		w.WriteHeader(http.StatusConflict)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// GetSession handles GET /sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	view, ok := h.svc.Status(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetPlaylist handles GET /sessions/{session_id}/playlist.m3u8.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	m3u8, ok, err := h.svc.Playlist(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("render playlist failed", slog.String("session_id", string(id)), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(m3u8))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
