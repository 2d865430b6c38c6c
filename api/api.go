// Package api defines the HTTP API of the vault.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apiCommon "github.com/oasisprotocol/yieldvault/api/common"
	v1 "github.com/oasisprotocol/yieldvault/api/v1"
	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/metrics"
)

const (
	moduleName = "api"
)

// APIHandler is a handler that handles API requests.
type APIHandler interface {
	// RegisterRoutes registers routes for this API Handler
	RegisterRoutes(chi.Router)

	// Name returns the name of this API handler.
	Name() string
}

// VaultAPI is the HTTP API of one vault.
type VaultAPI struct {
	router   *chi.Mux
	handlers []APIHandler
	logger   *log.Logger
}

// NewVaultAPI creates a new API serving the given v1 handler.
func NewVaultAPI(v1Handler *v1.Handler, allowedOrigins []string, l *log.Logger) *VaultAPI {
	logger := l.WithModule(moduleName)
	r := chi.NewRouter()
	r.Use(NewCorsMiddleware(allowedOrigins))
	r.Use(MetricsMiddleware(metrics.NewDefaultRequestMetrics(moduleName), logger))
	r.Use(middleware.Recoverer)

	handlers := []APIHandler{
		v1Handler,
	}
	for _, handler := range handlers {
		handler.RegisterRoutes(r)
		logger.Info("registered api handler", "handler", handler.Name())
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apiCommon.ReplyWithError(w, apiCommon.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	return &VaultAPI{
		router:   r,
		handlers: handlers,
		logger:   logger,
	}
}

// Router gets the router for this API.
func (a *VaultAPI) Router() *chi.Mux {
	return a.router
}
