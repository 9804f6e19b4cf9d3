// Package httpapi is the HTTP surface of the metadata service.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"brownie.dev/internal/audit"
	"brownie.dev/internal/auth"
	"brownie.dev/internal/metadata"
	"brownie.dev/internal/obs"
	"brownie.dev/internal/stream"
)

// ReadyProbe reports whether downstream dependencies answer.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API wires routes, middleware and handlers.
type API struct {
	router     *mux.Router
	svc        *metadata.Service
	tokens     *auth.TokenService
	stream     *stream.Stream
	audit      *audit.Logger
	log        *zap.Logger
	readyProbe ReadyProbe
	version    string
}

// Options carries optional API collaborators.
type Options struct {
	Stream     *stream.Stream
	Audit      *audit.Logger
	Logger     *zap.Logger
	ReadyProbe ReadyProbe
	Version    string
}

// New assembles the API. svc and tokens are required.
func New(svc *metadata.Service, tokens *auth.TokenService, opts Options) *API {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	a := &API{
		router:     mux.NewRouter(),
		svc:        svc,
		tokens:     tokens,
		stream:     opts.Stream,
		audit:      opts.Audit,
		log:        log,
		readyProbe: opts.ReadyProbe,
		version:    opts.Version,
	}
	if a.audit == nil {
		a.audit = audit.NewLogger(log)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router

	// health/ready/metrics live outside authentication
	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/auth/signup", a.handleSignup).Methods(http.MethodPost)
	v1.HandleFunc("/auth/login", a.handleLogin).Methods(http.MethodPost)
	v1.HandleFunc("/auth/me", a.handleMe).Methods(http.MethodGet)
	v1.HandleFunc("/auth/okta/login", a.handleOktaStub).Methods(http.MethodGet, http.MethodPost)
	v1.HandleFunc("/auth/okta/callback", a.handleOktaStub).Methods(http.MethodGet, http.MethodPost)

	v1.HandleFunc("/organizations", a.handleCreateOrganization).Methods(http.MethodPost)
	v1.HandleFunc("/organizations", a.handleListOrganizations).Methods(http.MethodGet)
	v1.HandleFunc("/organizations/{id}", a.handleGetOrganization).Methods(http.MethodGet)
	v1.HandleFunc("/organizations/{id}", a.handleUpdateOrganization).Methods(http.MethodPut)

	v1.HandleFunc("/organizations/{id}/teams", a.handleCreateTeam).Methods(http.MethodPost)
	v1.HandleFunc("/organizations/{id}/teams", a.handleListTeams).Methods(http.MethodGet)
	v1.HandleFunc("/teams/{id}", a.handleGetTeam).Methods(http.MethodGet)
	v1.HandleFunc("/teams/{id}", a.handleUpdateTeam).Methods(http.MethodPut)
	v1.HandleFunc("/teams/{id}/members", a.handleAddTeamMember).Methods(http.MethodPost)
	v1.HandleFunc("/teams/{id}/members/{uid}", a.handleUpdateTeamMemberRole).Methods(http.MethodPut)
	v1.HandleFunc("/teams/{id}/members/{uid}", a.handleRemoveTeamMember).Methods(http.MethodDelete)

	v1.HandleFunc("/organizations/{id}/users", a.handleCreateUser).Methods(http.MethodPost)
	v1.HandleFunc("/organizations/{id}/users", a.handleListUsers).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}", a.handleGetUser).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}", a.handleUpdateUser).Methods(http.MethodPut)
	v1.HandleFunc("/users/{id}", a.handleDeleteUser).Methods(http.MethodDelete)

	v1.HandleFunc("/teams/{id}/incidents", a.handleCreateIncident).Methods(http.MethodPost)
	v1.HandleFunc("/teams/{id}/incidents", a.handleListIncidents).Methods(http.MethodGet)
	v1.HandleFunc("/incidents/{id}", a.handleGetIncident).Methods(http.MethodGet)
	v1.HandleFunc("/incidents/{id}", a.handleUpdateIncident).Methods(http.MethodPut)
	v1.HandleFunc("/incidents/{id}", a.handleDeleteIncident).Methods(http.MethodDelete)

	v1.HandleFunc("/teams/{id}/agent-configs", a.handleCreateAgentConfig).Methods(http.MethodPost)
	v1.HandleFunc("/teams/{id}/agent-configs", a.handleListAgentConfigs).Methods(http.MethodGet)
	v1.HandleFunc("/agent-configs/{id}", a.handleGetAgentConfig).Methods(http.MethodGet)
	v1.HandleFunc("/agent-configs/{id}", a.handleUpdateAgentConfig).Methods(http.MethodPut)
	v1.HandleFunc("/agent-configs/{id}", a.handleDeleteAgentConfig).Methods(http.MethodDelete)

	v1.HandleFunc("/teams/{id}/stats", a.handleCreateStat).Methods(http.MethodPost)
	v1.HandleFunc("/teams/{id}/stats", a.handleListStats).Methods(http.MethodGet)

	v1.HandleFunc("/stream/incidents", a.handleStream).Methods(http.MethodGet)
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 50, 25)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(a.log, h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
