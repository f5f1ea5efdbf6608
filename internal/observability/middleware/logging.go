package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
)

// Logging logs HTTP requests with method, path, status, and duration.
// Query strings are hidden from the logger because they carry codes and
// states; the wrapped handler still sees them.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	requestLogger := httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		// Never log headers or bodies: they carry tokens and verifiers
		LogRequestHeaders:  []string{"Content-Type", "Origin"},
		LogResponseHeaders: []string{},
		LogRequestBody:     nil,
		LogResponseBody:    nil,

		RecoverPanics: true,
	})

	return func(next http.Handler) http.Handler {
		return hideQuery(requestLogger(restoreQuery(next)))
	}
}

// SetLogAttrs sets attributes on the request log.
func SetLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	httplog.SetAttrs(ctx, attrs...)
}

type hiddenQuery struct {
	rawQuery   string
	requestURI string
}

type hiddenQueryKey struct{}

func hideQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), hiddenQueryKey{}, hiddenQuery{
			rawQuery:   r.URL.RawQuery,
			requestURI: r.RequestURI,
		})
		r = r.WithContext(ctx)
		u := *r.URL
		u.RawQuery = ""
		r.URL = &u
		r.RequestURI = u.RequestURI()

		next.ServeHTTP(w, r)
	})
}

func restoreQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hidden, ok := r.Context().Value(hiddenQueryKey{}).(hiddenQuery); ok {
			r = r.WithContext(r.Context())
			u := *r.URL
			u.RawQuery = hidden.rawQuery
			r.URL = &u
			r.RequestURI = hidden.requestURI
		}
		next.ServeHTTP(w, r)
	})
}
