package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Routes bundles the handlers served by the application
type Routes struct {
	Auth           *AuthHandlers
	Posts          *PostHandlers
	AllowedOrigins []string
}

// NewRouter registers every endpoint and wraps them in the common
// middleware
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()

	apiLogger := NewLoggerMiddleware("api")
	authLogger := NewLoggerMiddleware("auth")
	recoverer := NewRecoverMiddleware("api")
	cors := NewCORSMiddleware(routes.AllowedOrigins)

	auth := func(h http.HandlerFunc) http.Handler {
		return ChainMiddleware(h, recoverer, authLogger)
	}
	api := func(h http.HandlerFunc) http.Handler {
		return ChainMiddleware(h, recoverer, apiLogger, cors)
	}

	mux.Handle("GET /health", NewHealthHandler())
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /api/auth/login", auth(routes.Auth.LoginHandler))
	mux.Handle("GET /api/auth/callback", auth(routes.Auth.CallbackHandler))
	mux.Handle("GET /api/auth/me", api(routes.Auth.MeHandler))
	mux.Handle("POST /api/auth/logout", api(routes.Auth.LogoutHandler))
	mux.Handle("OPTIONS /api/", api(func(http.ResponseWriter, *http.Request) {}))

	mux.Handle("POST /api/tweet", api(routes.Posts.PostHandler))
	mux.Handle("POST /api/thread", api(routes.Posts.ThreadHandler))
	mux.Handle("GET /api/tweets", api(routes.Posts.TimelineHandler))
	mux.Handle("POST /api/generate", api(routes.Posts.GenerateHandler))

	handler := otelhttp.NewHandler(mux, "xpost",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return ChainMiddleware(handler, NewRequestIDMiddleware())
}
