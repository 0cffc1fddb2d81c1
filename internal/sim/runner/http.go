package runner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"caddie.ai/internal/persistence/indexdb"
	plog "caddie.ai/internal/persistence/log"
	"caddie.ai/internal/protocol"
	"caddie.ai/internal/sim/session"
)

// Auditor records operator actions.
type Auditor interface {
	WriteAudit(e plog.AuditEntry) error
}

// History lists finished sessions from the index.
type History interface {
	RecentSessions(ctx context.Context, limit int) ([]indexdb.SessionRow, error)
}

type API struct {
	r       *Runner
	audit   Auditor
	history History
	log     *log.Logger

	// AllowRemote lifts the loopback-only restriction on mutating endpoints.
	AllowRemote bool
	// Timeout bounds how long a request waits for the loop.
	Timeout time.Duration
}

func NewAPI(r *Runner, audit Auditor, history History, logger *log.Logger) *API {
	return &API{r: r, audit: audit, history: history, log: logger, Timeout: 5 * time.Second}
}

// Register mounts the session control endpoints on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/session/start", a.handleStart)
	mux.HandleFunc("/v1/session/stop", a.handleStop)
	mux.HandleFunc("/v1/session", a.handleSession)
	mux.HandleFunc("/v1/settings", a.handleSettings)
	mux.HandleFunc("/v1/sessions/recent", a.handleRecent)
}

func (a *API) handleStart(rw http.ResponseWriter, req *http.Request) {
	if !a.mutating(rw, req) {
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), a.Timeout)
	defer cancel()
	id, err := a.r.RequestStart(ctx)
	if err != nil {
		a.fail(rw, req, "session.start", err)
		return
	}
	a.record(req, "session.start", id, "", nil)
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "session_id": id})
}

func (a *API) handleStop(rw http.ResponseWriter, req *http.Request) {
	if !a.mutating(rw, req) {
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), a.Timeout)
	defer cancel()
	id := a.r.Snapshot().ID
	if err := a.r.RequestStop(ctx); err != nil {
		a.fail(rw, req, "session.stop", err)
		return
	}
	a.record(req, "session.stop", id, "", nil)
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "session_id": id})
}

func (a *API) handleSession(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(rw, http.StatusOK, a.r.SessionState())
}

func (a *API) handleSettings(rw http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodGet {
		writeJSON(rw, http.StatusOK, wireSettings(a.r.Tuning().Settings()))
		return
	}
	if !a.mutating(rw, req) {
		return
	}
	// Omitted fields keep their current values.
	s := a.r.Tuning().Settings()
	dec := json.NewDecoder(io.LimitReader(req.Body, 64*1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		a.reject(rw, req, "settings", http.StatusBadRequest, protocol.ErrBadRequest, "bad settings body: "+err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), a.Timeout)
	defer cancel()
	applied, err := a.r.RequestSettings(ctx, s)
	if err != nil {
		a.fail(rw, req, "settings", err)
		return
	}
	a.record(req, "settings", "", "", applied)
	writeJSON(rw, http.StatusOK, wireSettings(applied))
}

func (a *API) handleRecent(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.history == nil {
		writeJSON(rw, http.StatusOK, []indexdb.SessionRow{})
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	rows, err := a.history.RecentSessions(req.Context(), limit)
	if err != nil {
		a.reject(rw, req, "sessions.recent", http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	if rows == nil {
		rows = []indexdb.SessionRow{}
	}
	writeJSON(rw, http.StatusOK, rows)
}

// mutating enforces POST and the loopback guard.
func (a *API) mutating(rw http.ResponseWriter, req *http.Request) bool {
	if req.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if !a.AllowRemote && !isLoopbackRemote(req.RemoteAddr) {
		a.reject(rw, req, "forbidden", http.StatusForbidden, protocol.ErrForbidden, "loopback only")
		return false
	}
	return true
}

func (a *API) fail(rw http.ResponseWriter, req *http.Request, action string, err error) {
	status, code := classify(err)
	a.reject(rw, req, action, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNoSession):
		return http.StatusConflict, protocol.ErrNoSession
	case errors.Is(err, ErrNotRunning):
		return http.StatusServiceUnavailable, protocol.ErrBusy
	case errors.Is(err, session.ErrInvalidConfig),
		errors.Is(err, session.ErrMissingNavigator),
		errors.Is(err, session.ErrMissingValidator),
		errors.Is(err, session.ErrMissingPool):
		return http.StatusUnprocessableEntity, protocol.ErrConfig
	default:
		return http.StatusInternalServerError, protocol.ErrInternal
	}
}

func (a *API) reject(rw http.ResponseWriter, req *http.Request, action string, status int, code, msg string) {
	a.record(req, action, "", code, msg)
	writeJSON(rw, status, protocol.NewError(code, msg))
}

func (a *API) record(req *http.Request, action, sessionID, code string, detail any) {
	if a.audit == nil {
		return
	}
	err := a.audit.WriteAudit(plog.AuditEntry{
		Action:     action,
		RemoteAddr: req.RemoteAddr,
		SessionID:  sessionID,
		Code:       code,
		Detail:     detail,
	})
	if err != nil && a.log != nil {
		a.log.Printf("audit: %v", err)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
