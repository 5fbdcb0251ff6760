package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openprovision/provd/internal/catalog"
	"github.com/openprovision/provd/internal/config"
	"github.com/openprovision/provd/internal/database"
	"github.com/openprovision/provd/internal/middleware"
	"github.com/openprovision/provd/internal/notify"
	"github.com/openprovision/provd/internal/render"
	"github.com/openprovision/provd/internal/workflow/engine"
	"github.com/openprovision/provd/internal/workflow/recorder"
	"github.com/openprovision/provd/internal/workflow/router"
	"github.com/openprovision/provd/internal/workflow/service"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	slog.Info("configuration loaded successfully",
		"db_host", cfg.Database.Host,
		"db_port", cfg.Database.Port,
		"db_name", cfg.Database.Name,
		"db_sslmode", cfg.Database.SSLMode,
		"recorder_backend", cfg.Recorder.Backend,
	)

	slog.Info("server configuration",
		"port", cfg.Server.Port,
	)

	// Initialize database connection
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	// Perform health check and apply schema
	if err := database.HealthCheck(db); err != nil {
		log.Fatalf("database health check failed: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}

	// Execution records live in postgres by default; redis is available for
	// ephemeral deployments.
	var rec recorder.Store
	switch cfg.Recorder.Backend {
	case "redis":
		redisStore, err := recorder.NewRedisStore(recorder.RedisOptions{
			Addr:     cfg.Recorder.RedisAddr,
			Password: cfg.Recorder.RedisPassword,
			DB:       cfg.Recorder.RedisDB,
			PoolSize: cfg.Recorder.RedisPoolSize,
		})
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer func() {
			if err := redisStore.Close(); err != nil {
				slog.Error("failed to close redis store", "error", err)
			}
		}()
		rec = redisStore
	default:
		rec = recorder.NewGormStore(db)
	}

	catalogStore := catalog.NewStore(db)

	// Import the YAML task library if one is configured
	if cfg.Catalog.LibraryDir != "" {
		result, err := catalog.LoadLibrary(context.Background(), catalogStore, cfg.Catalog.LibraryDir)
		if err != nil {
			log.Fatalf("failed to load task library: %v", err)
		}
		slog.Info("task library loaded",
			"dir", cfg.Catalog.LibraryDir,
			"tasks", result.TasksLoaded,
			"implementations", result.ImplementationsLoaded,
			"errors", len(result.Errors),
		)
	}

	renderer := render.NewRenderer()
	notifier := notify.NewWebhookNotifier()
	eng := engine.New(rec, catalogStore, renderer, engine.NewExprEvaluator(), engine.WithNotifier(notifier))

	workflows := service.NewWorkflowRepository(db)
	es := service.NewExecutionService(workflows, catalogStore, eng, rec, renderer)
	ws := service.NewWorkflowService(workflows, catalogStore)

	// Set up HTTP routes
	mux := http.NewServeMux()
	er := router.NewExecutionRouter(es, catalogStore)
	er.Register(mux)
	wr := router.NewWorkflowRouter(ws)
	wr.Register(mux)

	// Set up graceful shutdown
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)

	// Wrap handler with CORS middleware
	handler := middleware.CORS(&cfg.CORS)(mux)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: handler,
	}

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		slog.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	// Wait for interrupt signal
	<-quit
	slog.Info("shutting down server...")

	// Create a context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Attempt graceful shutdown of HTTP server
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	} else {
		slog.Info("server gracefully stopped")
	}

	slog.Info("server stopped")
}
