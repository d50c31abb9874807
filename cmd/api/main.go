package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-analytics/internal/analytics"
	"github.com/dvloznov/statement-analytics/internal/api/handlers"
	"github.com/dvloznov/statement-analytics/internal/app"
	"github.com/dvloznov/statement-analytics/internal/config"
	"github.com/dvloznov/statement-analytics/internal/gcsuploader"
	"github.com/dvloznov/statement-analytics/internal/jobs/inmemory"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/dvloznov/statement-analytics/internal/worker"
	"github.com/joho/godotenv"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", "", "Path to the YAML config file (or set CONFIG_FILE env)")
		port       = flag.String("port", "", "HTTP server port (overrides config)")
		workers    = flag.Int("workers", inmemory.DefaultWorkers, "Number of job workers")
	)
	flag.Parse()

	// A missing .env file is fine; the environment may be set another way.
	_ = godotenv.Load()

	ctx := context.Background()
	ctx = logger.WithContext(ctx, logger.Nop())

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.API.Port = *port
	}

	log := logger.NewWithLevel(cfg.Log.Level)
	ctx = logger.WithContext(ctx, log)

	// Initialize repositories
	stmts, closeStatements, err := app.OpenStatements(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to statement store")
	}
	defer closeStatements()

	ledger, err := app.OpenLedger(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger repository")
	}
	defer ledger.Close()

	var archive gcsuploader.ObjectStore
	bucket, err := app.OpenArchive(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open upload archive")
	}
	if bucket != nil {
		defer bucket.Close()
		archive = bucket
	} else {
		log.Warn().Msg("No GCS bucket configured - uploads will not be archived")
	}

	categorizer, closeArtifacts, err := app.NewCategorizer(ctx, cfg, ledger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create categorizer")
	}
	defer closeArtifacts()

	var suggester handlers.Suggester
	if s, err := app.Suggester(ctx, cfg); err != nil {
		log.Warn().Err(err).Msg("Gemini not configured - suggestions disabled")
	} else {
		suggester = s
	}

	cache := analytics.NewCache()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)
	jobQueue.Workers = *workers

	processor := &worker.Processor{
		Statements: stmts,
		Pipeline:   app.PipelineDeps(cfg, categorizer, ledger),
		Ledger:     ledger,
		Trainer:    categorizer,
		Cache:      cache,
	}

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, processor.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	router := handlers.NewRouter(handlers.Handlers{
		Statements: handlers.NewStatementsHandler(stmts, jobQueue, archive),
		Jobs:       handlers.NewJobsHandler(jobStore),
		Analytics:  handlers.NewAnalyticsHandler(ledger, app.Engine(cfg), cache),
		Categories: handlers.NewCategoriesHandler(categorizer, jobQueue, ledger, suggester),
	}, log)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.API.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
