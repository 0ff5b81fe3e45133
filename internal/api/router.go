// Package api exposes the parental-control and rendering-surface HTTP API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/safebrowse/internal/activity"
	"github.com/nikhilbhutani/safebrowse/internal/api/handlers"
	"github.com/nikhilbhutani/safebrowse/internal/api/middleware"
	"github.com/nikhilbhutani/safebrowse/internal/auth"
	"github.com/nikhilbhutani/safebrowse/internal/browsing"
	"github.com/nikhilbhutani/safebrowse/internal/config"
	"github.com/nikhilbhutani/safebrowse/internal/guardrails"
	"github.com/nikhilbhutani/safebrowse/internal/policy"
)

// Deps are the services the router serves.
type Deps struct {
	Policy  *policy.Store
	History *activity.Log
	Auth    *auth.Authenticator
	Session *browsing.Session
	Matcher *guardrails.Matcher
	Ready   map[string]handlers.ReadyCheck
	Log     *slog.Logger
}

type Router struct {
	mux  *chi.Mux
	cfg  *config.Config
	deps Deps
	rl   *middleware.RateLimiter
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Router{mux: chi.NewRouter(), cfg: cfg, deps: deps}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux
	log := rt.deps.Log.With("component", "api")

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.AllowedOrigins))

	if rt.cfg.Server.RateLimit > 0 {
		rt.rl = middleware.NewRateLimiter(rt.cfg.Server.RateLimit)
		r.Use(rt.rl.Limit)
	}

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.deps.Ready)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	browseH := handlers.NewBrowseHandler(rt.deps.Session, rt.cfg.Browser.NoticeBaseURL, rt.cfg.Browser.HomeURL)
	r.Get("/blocked", browseH.Notice)

	r.Route("/api/v1", func(r chi.Router) {
		authH := handlers.NewAuthHandler(rt.deps.Auth, log)
		r.Post("/auth/login", authH.Login)

		// Rendering surface
		r.Route("/browse", func(r chi.Router) {
			r.Post("/navigate", browseH.Navigate)
			r.Post("/page", browseH.Page)
		})

		// Parent-only routes
		r.Group(func(r chi.Router) {
			r.Use(rt.deps.Auth.RequireParent)

			policyH := handlers.NewPolicyHandler(rt.deps.Policy, log)
			r.Route("/policy", func(r chi.Router) {
				r.Get("/", policyH.Get)
				r.Post("/blocked", policyH.Block)
				r.Delete("/blocked", policyH.Unblock)
				r.Post("/allowed", policyH.Allow)
				r.Delete("/allowed", policyH.Disallow)
			})

			historyH := handlers.NewHistoryHandler(rt.deps.History)
			r.Get("/history", historyH.List)

			diagH := handlers.NewDiagnosticsHandler(rt.deps.Matcher)
			r.Get("/diagnostics/match", diagH.Match)
		})
	})

	return r
}

// Close releases background resources started by Setup.
func (rt *Router) Close() {
	if rt.rl != nil {
		rt.rl.Stop()
	}
}
