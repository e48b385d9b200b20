package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/filevault/app"
	"github.com/upb/filevault/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Browser frontend sends the session cookie cross-origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// One authentication pass per request; anonymous requests continue
	r.Use(deps.Authenticator.Authenticate)

	health := handlers.NewHealthHandler(deps.HealthChecks(), deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// OAuth2 login flow
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login/{provider}", handlers.AuthLoginHandler(deps))
		r.Get("/callback/{provider}", handlers.AuthCallbackHandler(deps))
		r.Get("/providers", handlers.AuthProvidersHandler(deps))
		r.Post("/logout", handlers.AuthLogoutHandler(deps))
		r.Get("/logout", handlers.AuthLogoutHandler(deps))
	})

	users := handlers.NewUserHandler(deps.Logger)
	files := handlers.NewFileHandler(deps.FileService, deps.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(deps.Authenticator.RequireAuth)

		r.Get("/users", users.HandleCurrentUser)
		r.Get("/users/me", users.HandleCurrentUser)

		r.Route("/files", func(r chi.Router) {
			r.Get("/", files.HandleList)
			r.Post("/upload", files.HandleUpload)
			r.Get("/{id}", files.HandleDownload)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
