package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"todo-auth/internal/auth"
	"todo-auth/internal/observability"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type RouterDeps struct {
	Auth           *auth.Handler
	Verifier       auth.AccessTokenVerifier
	LoginLimiter   *auth.LoginRateLimiter
	Database       Pinger
	AllowedOrigins []string
	Logger         *zap.Logger
	// TrustProxyHeaders rewrites RemoteAddr from X-Forwarded-For and
	// X-Real-IP before logging and login throttling see the request.
	TrustProxyHeaders bool
}

func NewRouter(deps RouterDeps) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", healthHandler(deps.Database))

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", deps.Auth.Register)
		r.With(deps.LoginLimiter.Middleware).Post("/login", deps.Auth.Login)
		r.Post("/refresh", deps.Auth.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAccessToken(deps.Verifier))
			r.Get("/me", deps.Auth.Me)
			r.Delete("/me", deps.Auth.DeleteAccount)
		})
	})

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "endpoint not found"})
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})

	var handler http.Handler = observability.RecoverMiddleware(deps.Logger, observability.RequestLoggingMiddleware(deps.Logger, router))
	if deps.TrustProxyHeaders {
		handler = middleware.RealIP(handler)
	}
	return handler
}

func healthHandler(database Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		writeJSON(w, status, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
