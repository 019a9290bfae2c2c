// Package httpapi exposes the rules function over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/ezachrisen/ruleswp"
	"github.com/ezachrisen/ruleswp/internal/function"
)

// DefaultMaxBodyBytes limits the size of request bodies when no limit is
// configured.
const DefaultMaxBodyBytes = 1 << 20

// RulesFunction runs rule sets for the function endpoint. It is implemented
// by *function.Handler.
type RulesFunction interface {
	RunRules(ctx context.Context, req function.Request) (*function.Result, error)
}

// API holds the dependencies and the router of the HTTP interface.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	rules        RulesFunction
	ruleSets     ruleswp.RuleSetProvider
	maxBodyBytes int64
	log          *slog.Logger
}

// Option configures an API.
type Option func(*API)

// MaxBodyBytes limits the size of request bodies. Values below 1 are ignored.
// Default: DefaultMaxBodyBytes
func MaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// Logger sets the base logger of every request.
// Default: slog.Default()
func Logger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// NewAPI creates the HTTP interface. Panics if a dependency is nil.
func NewAPI(rules RulesFunction, ruleSets ruleswp.RuleSetProvider, opts ...Option) *API {
	if rules == nil {
		panic("httpapi: rules function cannot be nil")
	}
	if ruleSets == nil {
		panic("httpapi: rule set provider cannot be nil")
	}

	api := &API{
		Router:       chi.NewRouter(),
		rules:        rules,
		ruleSets:     ruleSets,
		maxBodyBytes: DefaultMaxBodyBytes,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(api)
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(WithLogger(a.log))
	a.Router.Use(RequestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Post("/rules/execute", a.handleExecute)
		r.Get("/rulesets/{name}", a.handleGetRuleSet)
	})
}

func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
