package api

import (
	"net/http"

	"github.com/dom/genstudio/internal/api/handlers"
	"github.com/dom/genstudio/internal/api/middleware"
	"github.com/dom/genstudio/internal/config"
	"github.com/dom/genstudio/internal/service"
	"github.com/dom/genstudio/internal/upload"
	"github.com/dom/genstudio/internal/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(services *service.Services, hub *websocket.Hub, store upload.AssetStore, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	policy := upload.DefaultPolicy()
	policy.MaxBytes = cfg.MaxUploadBytes
	gate := upload.NewGate(policy)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(services.Auth)
	generationHandler := handlers.NewGenerationHandler(services.Generation, gate, store)
	uploadHandler := handlers.NewUploadHandler(store)
	wsHandler := handlers.NewWebSocketHandler(hub, services.Auth)

	r.Get("/uploads/{storedName}", uploadHandler.Serve)

	r.Route("/api", func(r chi.Router) {
		// Public auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.Signup)
			r.Post("/login", authHandler.Login)

			// Protected auth routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(services.Auth))
				r.Get("/me", authHandler.Me)
			})
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(services.Auth))

			r.Route("/generations", func(r chi.Router) {
				r.Post("/", generationHandler.Create)
				r.Get("/", generationHandler.List)
			})
		})

		// WebSocket endpoint
		r.Get("/ws", wsHandler.Handle)
	})

	return r
}
