// Package statusapi exposes the agent's session state over a localhost HTTP
// listener: health and readiness probes, Prometheus metrics, a sanitized
// session snapshot, permission queries and the development persona endpoints.
package statusapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"rentdesk.org/internal/obs"
	"rentdesk.org/internal/persona"
	"rentdesk.org/internal/session"
)

// API is the HTTP layer over the session store.
type API struct {
	mux     *http.ServeMux
	store   *session.Store
	log     *zap.Logger
	version string
}

func New(store *session.Store, log *zap.Logger, version string) *API {
	if log == nil {
		log = zap.NewNop()
	}
	a := &API{
		mux:     http.NewServeMux(),
		store:   store,
		log:     log,
		version: version,
	}

	a.mux.HandleFunc("GET /healthz", a.healthz)
	a.mux.HandleFunc("GET /readyz", a.readyz)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("GET /v1/session", a.sessionSnapshot)
	a.mux.HandleFunc("GET /v1/session/permissions", a.checkPermissions)
	a.mux.HandleFunc("POST /v1/session/logout", a.logout)

	a.mux.HandleFunc("GET /v1/personas", a.listPersonas)
	a.mux.HandleFunc("POST /v1/personas/{id}", a.activatePersona)

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(SecurityHeaders(Logging(a.log, a.mux))))
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "rentdesk-sessiond",
		"version": a.version,
	})
}

// readyz reports backend connectivity. The probe is rate limited inside the
// API client, so aggressive scraping degrades to the cached verdict.
func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	online := a.store.CheckBackendHealth(r.Context())
	_, checkedAt := a.store.BackendOnline()
	if !online {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":     "backend_unreachable",
			"checked_at": checkedAt.UTC().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"checked_at": checkedAt.UTC().Format(time.RFC3339),
	})
}

// sessionSnapshot returns the session state minus token material.
func (a *API) sessionSnapshot(w http.ResponseWriter, r *http.Request) {
	sessionID, deviceID := a.store.SessionInfo()
	online, checkedAt := a.store.BackendOnline()

	out := map[string]any{
		"is_authenticated": a.store.IsAuthenticated(),
		"is_loading":       a.store.IsLoading(),
		"permissions":      a.store.Permissions(),
		"session_id":       sessionID,
		"device_id":        deviceID,
		"backend_online":   online,
	}
	if !checkedAt.IsZero() {
		out["health_checked_at"] = checkedAt.UTC().Format(time.RFC3339)
	}
	if u := a.store.User(); u != nil {
		out["user"] = u
	}
	writeJSON(w, http.StatusOK, out)
}

// checkPermissions evaluates ?perm=A&perm=B conjunctively.
func (a *API) checkPermissions(w http.ResponseWriter, r *http.Request) {
	perms := r.URL.Query()["perm"]
	if len(perms) == 0 {
		respondError(w, http.StatusBadRequest, "at least one perm parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": perms,
		"granted":     a.store.HasAllPermissions(perms),
	})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	a.store.Logout(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) listPersonas(w http.ResponseWriter, r *http.Request) {
	type item struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		UserType    string `json:"user_type"`
	}
	items := make([]item, 0)
	for _, p := range persona.List() {
		items = append(items, item{
			ID:          p.ID,
			Description: p.Description,
			UserType:    string(p.User.UserType),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"personas": items,
		"allowed":  persona.Allowed(),
	})
}

func (a *API) activatePersona(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := a.store.SwitchToPersona(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrBypassRefused):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, persona.ErrNotFound):
		respondError(w, http.StatusNotFound, "unknown persona")
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "switched", "persona": id})
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
