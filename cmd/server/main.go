package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/datamigrate/internal/config"
	"github.com/rpattn/datamigrate/internal/db"
	"github.com/rpattn/datamigrate/internal/export"
	"github.com/rpattn/datamigrate/internal/importer"
	"github.com/rpattn/datamigrate/internal/ingestion"
	"github.com/rpattn/datamigrate/internal/middleware"
	"github.com/rpattn/datamigrate/internal/migration"
	"github.com/rpattn/datamigrate/internal/migration/rules"
	"github.com/rpattn/datamigrate/internal/repository"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Create repositories
	sessionRepo := repository.NewSessionRepository(conn.Pool)
	chunkRepo := repository.NewChunkRepository(conn.Pool)
	resultRepo := repository.NewResultRepository(conn.Pool)
	entityRepo := repository.NewEntityRepository(conn.Pool)

	// Create pipeline services
	ruleRegistry := rules.DefaultRegistry()
	importers := importer.NewRegistry(importer.NewEntityImporter(entityRepo, ruleRegistry))
	locks := migration.NewLockTable()

	sessionManager := migration.NewSessionManager(sessionRepo, ruleRegistry, locks, logger, cfg.Pipeline.SessionTTL)
	chunkStore := migration.NewChunkStore(sessionRepo, chunkRepo, locks, logger, cfg.Pipeline.MaxChunkRows)
	validator := migration.NewValidator(sessionRepo, chunkRepo, resultRepo, entityRepo, ruleRegistry, locks, logger, cfg.Pipeline.ValidationWorkers)
	workbench := migration.NewWorkbench(sessionRepo, resultRepo, entityRepo, ruleRegistry, locks, logger)
	executor := migration.NewExecutor(sessionRepo, chunkRepo, resultRepo, importers, locks, logger)
	sweeper := migration.NewSweeper(sessionRepo, chunkRepo, locks, logger, cfg.Pipeline.SweepInterval)

	ingestService := ingestion.NewService(chunkStore, logger, cfg.Pipeline.UploadChunkSize)
	ingestHandler := ingestion.NewHTTPHandler(ingestService)

	exportService := export.NewService(resultRepo, 0)
	exportHandler := export.NewHTTPHandler(exportService, sessionManager, logger)

	// Setup routes
	mux := http.NewServeMux()
	pipelineHandler := migration.NewHTTPHandler(sessionManager, chunkStore, validator, workbench, executor, logger)
	pipelineHandler.Register(mux)
	mux.HandleFunc("POST /api/sessions/{id}/upload", ingestHandler.Upload)
	mux.HandleFunc("POST /api/sessions/{id}/upload/preview", ingestHandler.Preview)
	exportHandler.Register(mux)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	handler := corsHandler.Handler(
		middleware.LoggingMiddleware(logger)(
			middleware.TenantMiddleware(mux),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Expire abandoned sessions in the background
	go sweeper.Run(ctx)

	// Start server in a goroutine
	go func() {
		logger.Info("migration server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
