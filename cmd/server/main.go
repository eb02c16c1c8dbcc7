/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the parking reservation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the SQL store (SQLite or PostgreSQL)
  4. Choose the occupancy cache (Redis or in-memory)
  5. Wire reporter, engine and identity service; seed the admin
  6. Configure HTTP router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides SERVER_PORT)
  -db      Database DSN or SQLite path (overrides DB_DSN)
           Use ":memory:" with the sqlite3 driver for a throwaway database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close cache and database connections
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/parking.db"

  # Run against PostgreSQL
  DB_DRIVER=pgx DB_DSN="postgres://localhost/parking" ./server

SEE ALSO:
  - config/config.go: Environment variables and defaults
  - api/server.go:    Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/parking-engine/api"
	"github.com/warp/parking-engine/cache"
	"github.com/warp/parking-engine/config"
	"github.com/warp/parking-engine/identity"
	"github.com/warp/parking-engine/logging"
	"github.com/warp/parking-engine/parking"
	"github.com/warp/parking-engine/store/sqlstore"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.ServerPort, "HTTP server port")
	dsn := flag.String("db", cfg.DBDSN, "Database DSN or SQLite path")
	flag.Parse()
	cfg.ServerPort = *port
	cfg.DBDSN = *dsn

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	occupancyCache, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	reporter := parking.NewReporter(store,
		parking.WithCache(occupancyCache, cfg.CacheTTL),
		parking.WithReporterLogger(logger.Named("reporter")),
	)
	engine := parking.NewEngine(store,
		parking.WithLogger(logger.Named("engine")),
		parking.WithInvalidator(reporter),
	)
	ident := identity.NewService(store, cfg.JWTSecret, cfg.JWTExpiration,
		identity.WithLogger(logger.Named("identity")),
	)

	if _, err := ident.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return fmt.Errorf("failed to seed admin: %w", err)
	}

	handler := api.NewHandler(api.Deps{
		Engine:        engine,
		Reporter:      reporter,
		Identity:      ident,
		Store:         store,
		Logger:        logger.Named("http"),
		AdminEmail:    cfg.AdminEmail,
		AdminPassword: cfg.AdminPassword,
	})

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		BookingLimiter:  api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		EnableScenarios: cfg.EnableScenarios,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.ServerPort),
			zap.String("db_driver", cfg.DBDriver),
			zap.Bool("scenarios", cfg.EnableScenarios))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openCache returns Redis when REDIS_ADDR is set, otherwise an in-process cache.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (parking.Cache, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory occupancy cache")
		return cache.NewMemory(), func() {}, nil
	}

	rc, err := cache.NewRedis(ctx, cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   "parking:",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("using redis occupancy cache", zap.String("addr", cfg.RedisAddr))
	return rc, func() { rc.Close() }, nil
}
