package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dom/genstudio/internal/api"
	"github.com/dom/genstudio/internal/config"
	"github.com/dom/genstudio/internal/repository"
	repoPostgres "github.com/dom/genstudio/internal/repository/postgres"
	"github.com/dom/genstudio/internal/service"
	"github.com/dom/genstudio/internal/upload"
	"github.com/dom/genstudio/internal/websocket"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB manages a database for a test. Container is nil for SQLite.
type TestDB struct {
	Container testcontainers.Container
	DB        *gorm.DB
	DSN       string
}

// NewTestDB creates a new PostgreSQL testcontainer and returns a connection
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()

	container, err := tcPostgres.Run(ctx,
		"postgres:15-alpine",
		tcPostgres.WithDatabase("test_genstudio"),
		tcPostgres.WithUsername("test"),
		tcPostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := gorm.Open(gormPostgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := repoPostgres.Migrate(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	testDB := &TestDB{
		Container: container,
		DB:        db,
		DSN:       dsn,
	}

	t.Cleanup(func() {
		testDB.Cleanup()
	})

	return testDB
}

// NewSQLiteDB opens a throwaway SQLite database in the test's temp dir. It
// needs no Docker and suits fast repository and handler tests.
func NewSQLiteDB(t *testing.T) *TestDB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}

	if err := repoPostgres.Migrate(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	testDB := &TestDB{DB: db, DSN: "sqlite://" + dsn}

	t.Cleanup(func() {
		testDB.Cleanup()
	})

	return testDB
}

// Cleanup terminates the container or closes the SQLite handle.
func (tdb *TestDB) Cleanup() {
	if tdb.Container != nil {
		ctx := context.Background()
		tdb.Container.Terminate(ctx)
		return
	}
	if sqlDB, err := tdb.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// Truncate clears all tables for test isolation
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	tables := []string{
		"generations",
		"users",
	}

	for _, table := range tables {
		stmt := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)
		if tdb.Container == nil {
			stmt = fmt.Sprintf("DELETE FROM %s", table)
		}
		if err := tdb.DB.Exec(stmt).Error; err != nil {
			t.Logf("warning: failed to truncate %s: %v", table, err)
		}
	}
}

// TestConfig returns a configuration suitable for testing
func TestConfig() *config.Config {
	return &config.Config{
		Port:                 "0", // Random port
		Environment:          "test",
		CORSAllowedOrigins:   []string{"*"},
		JWTSecret:            "test-jwt-secret-key-for-testing-only",
		JWTExpiration:        time.Hour,
		MaxUploadBytes:       upload.MaxImageBytes,
		StorageBackend:       config.StorageBackendDisk,
		DisableModelOverload: true,
		ModelOverloadRate:    0,
		ModelMinDelay:        0,
		ModelMaxDelay:        0,
	}
}

// ServerOption customizes NewTestServer.
type ServerOption func(*serverOptions)

type serverOptions struct {
	useSQLite bool
	simulator service.Simulator
	cache     service.HistoryCache
}

// WithSQLite backs the server with SQLite instead of a Postgres container.
func WithSQLite() ServerOption {
	return func(o *serverOptions) { o.useSQLite = true }
}

// WithSimulator replaces the configured simulator.
func WithSimulator(sim service.Simulator) ServerOption {
	return func(o *serverOptions) { o.simulator = sim }
}

// WithHistoryCache installs a history cache.
func WithHistoryCache(cache service.HistoryCache) ServerOption {
	return func(o *serverOptions) { o.cache = cache }
}

// TestServer holds all components for integration testing
type TestServer struct {
	Server   *httptest.Server
	DB       *TestDB
	Repos    *repository.Repositories
	Services *service.Services
	Hub      *websocket.Hub
	Store    *upload.DiskStore
	Config   *config.Config
}

// NewTestServer creates a complete test server with all dependencies
func NewTestServer(t *testing.T, opts ...ServerOption) *TestServer {
	t.Helper()

	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	var testDB *TestDB
	if o.useSQLite {
		testDB = NewSQLiteDB(t)
	} else {
		testDB = NewTestDB(t)
	}
	cfg := TestConfig()
	cfg.UploadDir = filepath.Join(t.TempDir(), "uploads")

	store, err := upload.NewDiskStore(cfg.UploadDir)
	if err != nil {
		t.Fatalf("failed to create upload store: %v", err)
	}

	repos := repoPostgres.NewRepositories(testDB.DB)
	hub := websocket.NewHub()
	go hub.Run()

	services := service.NewServices(repos, cfg, o.cache, hub)
	if o.simulator != nil {
		services.Generation = service.NewGenerationService(repos.Generation, o.simulator, o.cache, hub)
	}
	router := api.NewRouter(services, hub, store, cfg)

	server := httptest.NewServer(router)

	ts := &TestServer{
		Server:   server,
		DB:       testDB,
		Repos:    repos,
		Services: services,
		Hub:      hub,
		Store:    store,
		Config:   cfg,
	}

	t.Cleanup(func() {
		server.Close()
		hub.Stop()
	})

	return ts
}

// BaseURL returns the test server's base URL
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL
}

// APIURL returns the full API URL for a given path
func (ts *TestServer) APIURL(path string) string {
	return fmt.Sprintf("%s/api%s", ts.Server.URL, path)
}

// WebSocketURL returns the WebSocket URL with token
func (ts *TestServer) WebSocketURL(token string) string {
	wsURL := "ws" + ts.Server.URL[4:] // Replace "http" with "ws"
	return fmt.Sprintf("%s/api/ws?token=%s", wsURL, token)
}
