package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/service"
	"github.com/aussiebroadwan/faceguard/internal/guard/store"
	"github.com/aussiebroadwan/faceguard/pkg/httpx"
	"github.com/aussiebroadwan/faceguard/pkg/slogx"
)

// Router serves the local, read-only status API.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store       store.Store
	Coordinator *service.Coordinator
	Profiles    *service.ProfileService
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.LoopbackOnly,
	}
	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSystem()
	r.registerStatus()
}

// ServeHTTP applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSystem() {
	probes := httpx.RateLimitByIP(httpx.ProbeLimit)

	r.Mux.Handle("GET /livez", httpx.Chain(LivezHandler(r.startTime, r.buildVersion), probes))
	r.Mux.Handle("GET /readyz", httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.Profiles), probes))
}

func (r *Router) registerStatus() {
	queries := httpx.RateLimitByIP(httpx.QueryLimit)

	r.Mux.Handle("GET /v1/status", httpx.Chain(&StatusHandler{Coordinator: r.Coordinator}, queries))
	r.Mux.Handle("GET /v1/attempts", httpx.Chain(&AttemptsHandler{Attempts: r.store.Attempts()}, queries))
	r.Mux.Handle("GET /v1/profiles", httpx.Chain(&ProfilesHandler{Profiles: r.Profiles}, queries))
}
