// Package httpapi is the hub's HTTP side surface: health, token issuance,
// the /ws upgrade, and a minimal metrics dump. Everything protected beyond
// bearer auth (the admin surface) is a stub, per the "interface only"
// scope note.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xelth-com/cdchub/internal/buildinfo"
	"github.com/xelth-com/cdchub/internal/hub"
	"github.com/xelth-com/cdchub/internal/middleware"
)

// Pinger reports whether the metadata store is currently reachable; the
// hub's *database.DB satisfies this.
type Pinger interface {
	Ping() error
}

// Router wraps mux.Router with the hub's dependencies.
type Router struct {
	*mux.Router
	auth     *hub.Authenticator
	registry *hub.Registry
	sessions *hub.Router
	metrics  *Metrics
	db       Pinger
}

func NewRouter(auth *hub.Authenticator, registry *hub.Registry, sessions *hub.Router, metrics *Metrics, db Pinger, adminAPIKey string) *Router {
	r := &Router{
		Router:   mux.NewRouter(),
		auth:     auth,
		registry: registry,
		sessions: sessions,
		metrics:  metrics,
		db:       db,
	}

	r.HandleFunc("/health", r.health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/auth/token", r.issueToken).Methods("POST")

	ws := middleware.RequireSession(auth, http.HandlerFunc(r.serveWS))
	r.Handle("/ws", ws).Methods("GET")

	admin := middleware.RequireAdminKey(adminAPIKey, http.HandlerFunc(r.adminStub))
	r.PathPrefix("/admin/").Handler(admin)

	return r
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := r.db.Ping(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"start_time": buildinfo.StartTime,
	})
}

type tokenRequest struct {
	TenantID string `json:"tenant_id"`
	BranchID string `json:"branch_id"`
	APIKey   string `json:"api_key"`
}

func (r *Router) issueToken(w http.ResponseWriter, req *http.Request) {
	var body tokenRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	token, err := r.auth.IssueToken(body.TenantID, body.BranchID, body.APIKey)
	if err != nil {
		switch err {
		case hub.ErrTenantInactive:
			respondError(w, http.StatusForbidden, "tenant inactive")
		default:
			respondError(w, http.StatusUnauthorized, "invalid credentials")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"access_token": token})
}

func (r *Router) serveWS(w http.ResponseWriter, req *http.Request) {
	identity, ok := middleware.Identity(req)
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing session identity")
		return
	}

	sessionID := uuid.NewString()
	onRegistered := func() {
		r.metrics.ConnectionOpened()
		r.sessions.DrainOffline(identity.TenantID, identity.BranchID, 100)
	}
	onClosed := r.metrics.ConnectionClosed
	session, err := hub.NewSession(w, req, sessionID, identity.TenantID, identity.BranchID, r.registry, r.sessions, onRegistered, onClosed)
	if err != nil {
		return
	}

	session.Handle()
}

func (r *Router) adminStub(w http.ResponseWriter, req *http.Request) {
	http.Error(w, "admin surface not implemented in this core", http.StatusNotImplemented)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
