package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dom/genstudio/internal/api"
	"github.com/dom/genstudio/internal/config"
	"github.com/dom/genstudio/internal/repository/postgres"
	"github.com/dom/genstudio/internal/service"
	"github.com/dom/genstudio/internal/upload"
	"github.com/dom/genstudio/internal/websocket"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logLevel := logger.Warn
	if cfg.IsDevelopment() {
		logLevel = logger.Info
	}

	// Initialize database
	db, err := postgres.NewConnection(cfg.DatabaseURL, logLevel)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	// Initialize repositories
	repos := postgres.NewRepositories(db)

	// Initialize asset storage
	store, err := newAssetStore(cfg)
	if err != nil {
		log.Fatalf("failed to initialize asset store: %v", err)
	}

	// Initialize history cache
	cache, closeCache, err := newHistoryCache(cfg)
	if err != nil {
		log.Fatalf("failed to initialize history cache: %v", err)
	}
	defer closeCache()

	// Initialize WebSocket hub
	hub := websocket.NewHub()

	// Initialize services
	services := service.NewServices(repos, cfg, cache, hub)

	// Initialize router
	router := api.NewRouter(services, hub, store, cfg)

	// Create server
	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run()
		return nil
	})

	g.Go(func() error {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		hub.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server stopped with error: %v", err)
	}

	log.Println("Server stopped")
}

func newAssetStore(cfg *config.Config) (upload.AssetStore, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendMinIO:
		log.Printf("Storing uploads in MinIO bucket %s at %s", cfg.MinIOBucket, cfg.MinIOEndpoint)
		return upload.NewMinIOStore(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL)
	default:
		log.Printf("Storing uploads in %s", cfg.UploadDir)
		return upload.NewDiskStore(cfg.UploadDir)
	}
}

func newHistoryCache(cfg *config.Config) (service.HistoryCache, func(), error) {
	if cfg.RedisURL == "" {
		return service.NopHistoryCache{}, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("WARN [main.newHistoryCache] redis unavailable, history cache disabled: %v", err)
		client.Close()
		return service.NopHistoryCache{}, func() {}, nil
	}

	log.Printf("History cache enabled (ttl %s)", cfg.HistoryCacheTTL)
	return service.NewRedisHistoryCache(client, "history", cfg.HistoryCacheTTL), func() { client.Close() }, nil
}
