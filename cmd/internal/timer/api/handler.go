// Package timerapi exposes the timer engine over HTTP.
package timerapi

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"tracker/cmd/internal/auth/session"
	"tracker/cmd/internal/httpx"
	"tracker/cmd/internal/timer"
	"tracker/cmd/internal/timer/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Authenticator resolves the caller's session, writing a 401 itself on failure.
type Authenticator interface {
	Authenticate(w http.ResponseWriter, r *http.Request) (session.Session, bool)
}

// Handler serves the /timer routes.
type Handler struct {
	log          *slog.Logger
	engine       *timer.Engine
	auth         Authenticator
	maxBodyBytes int64
}

// NewHandler constructs a timer Handler.
func NewHandler(log *slog.Logger, engine *timer.Engine, auth Authenticator) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("timer api: nil engine")
	}
	if auth == nil {
		return nil, errors.New("timer api: nil authenticator")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, engine: engine, auth: auth, maxBodyBytes: httpx.DefaultMaxBodyBytes}, nil
}

// Register wires timer routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /timer/start", h.authed(h.handleStart))
	mux.HandleFunc("POST /timer/stop", h.authed(h.handleStop))
	mux.HandleFunc("POST /timer/stop-manual", h.authed(h.handleStopManual))
	mux.HandleFunc("POST /timer/abort", h.authed(h.handleAbort))
	mux.HandleFunc("GET /timer/active", h.authed(h.handleActive))
	mux.HandleFunc("GET /timer/stats", h.authed(h.handleStats))
	mux.HandleFunc("GET /timer/stats.xlsx", h.authed(h.handleStatsXLSX))
	mux.HandleFunc("GET /timer/entries", h.authed(h.handleListEntries))
	mux.HandleFunc("POST /timer/entries", h.authed(h.handleCreateEntry))
	mux.HandleFunc("PUT /timer/entries/{id}", h.authed(h.handleUpdateEntry))
	mux.HandleFunc("DELETE /timer/entries/{id}", h.authed(h.handleDeleteEntry))
}

type authedHandler func(w http.ResponseWriter, r *http.Request, s session.Session)

// authed runs next only for requests carrying a live session.
func (h *Handler) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.auth.Authenticate(w, r)
		if !ok {
			return
		}
		next(w, r, s)
	}
}

// ---- handlers ----

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request, s session.Session) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.Start(r.Context(), s.UserID, req.IssueID)
	if err != nil {
		h.writeEngineError(w, "timer.start", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request, s session.Session) {
	res, err := h.engine.Stop(r.Context(), s.UserID)
	if err != nil {
		h.writeEngineError(w, "timer.stop", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleStopManual(w http.ResponseWriter, r *http.Request, s session.Session) {
	var req stopManualRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Hours == nil || req.Minutes == nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "hours and minutes are required")
		return
	}
	res, err := h.engine.StopManual(r.Context(), s.UserID, *req.Hours, *req.Minutes)
	if err != nil {
		h.writeEngineError(w, "timer.stop_manual", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request, s session.Session) {
	if err := h.engine.Abort(r.Context(), s.UserID); err != nil {
		h.writeEngineError(w, "timer.abort", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleActive(w http.ResponseWriter, r *http.Request, s session.Session) {
	at, err := h.engine.GetActiveTimer(r.Context(), s.UserID)
	if err != nil {
		h.writeEngineError(w, "timer.active", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, activeResponse{Active: at})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request, _ session.Session) {
	f, ok := statsFilterFromQuery(w, r)
	if !ok {
		return
	}
	st, err := h.engine.GetTimeStats(r.Context(), f)
	if err != nil {
		h.writeEngineError(w, "timer.stats", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) handleStatsXLSX(w http.ResponseWriter, r *http.Request, _ session.Session) {
	f, ok := statsFilterFromQuery(w, r)
	if !ok {
		return
	}
	st, err := h.engine.GetTimeStats(r.Context(), f)
	if err != nil {
		h.writeEngineError(w, "timer.stats_xlsx", err)
		return
	}

	// Render fully before writing headers so a failure can still produce a JSON error.
	var buf bytes.Buffer
	if err := report.WriteStatsXLSX(&buf, st, f); err != nil {
		h.log.Error("timer.stats_xlsx.render.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="time-stats.xlsx"`)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request, _ session.Session) {
	issueID, ok := queryID(w, r, "issue_id")
	if !ok {
		return
	}
	entries, err := h.engine.GetTimerEntries(r.Context(), issueID)
	if err != nil {
		h.writeEngineError(w, "timer.entries", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entriesResponse{Entries: entries})
}

func (h *Handler) handleCreateEntry(w http.ResponseWriter, r *http.Request, s session.Session) {
	var req createEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.StartTime == nil || req.StopTime == nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "start_time and stop_time are required")
		return
	}
	iv, err := h.engine.CreateEntry(r.Context(), s.UserID, req.IssueID, *req.StartTime, *req.StopTime)
	if err != nil {
		h.writeEngineError(w, "timer.entry.create", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toEntry(iv))
}

func (h *Handler) handleUpdateEntry(w http.ResponseWriter, r *http.Request, _ session.Session) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.StartTime == nil || req.StopTime == nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "start_time and stop_time are required")
		return
	}
	iv, err := h.engine.UpdateEntry(r.Context(), id, *req.StartTime, *req.StopTime)
	if err != nil {
		h.writeEngineError(w, "timer.entry.update", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toEntry(iv))
}

func (h *Handler) handleDeleteEntry(w http.ResponseWriter, r *http.Request, _ session.Session) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeleteEntry(r.Context(), id); err != nil {
		h.writeEngineError(w, "timer.entry.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, h.maxBodyBytes, dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return false
	}
	return true
}

// writeEngineError maps engine error kinds to status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, timer.ErrInvalidArgument):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", timer.Message(err))
	case errors.Is(err, timer.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", timer.Message(err))
	case errors.Is(err, timer.ErrNoActiveTimer):
		httpx.WriteError(w, http.StatusConflict, "no_active_timer", "no active timer found")
	case errors.Is(err, timer.ErrLockTimeout):
		h.log.Warn(op+".lock_timeout", "err", err)
		w.Header().Set("Retry-After", "1")
		httpx.WriteError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
	default:
		h.log.Error(op+".fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func statsFilterFromQuery(w http.ResponseWriter, r *http.Request) (timer.StatsFilter, bool) {
	var f timer.StatsFilter
	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"user_id", &f.UserID},
		{"issue_id", &f.IssueID},
		{"project_id", &f.ProjectID},
	} {
		raw := strings.TrimSpace(r.URL.Query().Get(p.name))
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", p.name+" must be a positive integer")
			return timer.StatsFilter{}, false
		}
		*p.dst = n
	}
	return f, true
}

func queryID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get(name)), 10, 64)
	if err != nil || n <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", name+" is required")
		return 0, false
	}
	return n, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	n, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || n <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "id must be a positive integer")
		return 0, false
	}
	return n, true
}
