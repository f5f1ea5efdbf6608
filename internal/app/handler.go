package app

import (
	"net/http"

	"github.com/giantswarm/mcp-oauth-proxy/internal/observability/middleware"
)

// Handler returns the root HTTP handler: proxy routes, health checks and
// the request-scoped middlewares.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", a.proxy.Routes())
	mux.HandleFunc("GET "+LivenessPath, a.health.ServeLiveness)
	mux.HandleFunc("GET "+ReadinessPath, a.health.ServeReadiness)

	return applyMiddlewares(mux,
		middleware.RequestIDGeneration,
		middleware.Logging(a.logger),
		middleware.RequestIDPropagation,
		middleware.TraceContextExtraction,
	)
}

// applyMiddlewares applies middlewares to a handler in the order they appear.
// The first middleware in the slice is the outermost (executes first).
func applyMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
