/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the report calculation server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment (.env supported)
  2. Load the variable catalog (YAML file or the built-in default)
  3. Initialize SQLite store
  4. Build the report service and API handler
  5. Start the monthly sweep scheduler
  6. Start the HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler, waiting for a running sweep to finish
  2. Stop accepting new connections, drain active requests (30s timeout)
  3. Close the database connection
  4. Exit

EXAMPLES:
  # Run with file database
  DB_PATH=./data/reports.db ./server

  # Run with in-memory database and a custom catalog
  DB_PATH=:memory: CATALOG_PATH=./catalog.yml ./server

  # Disable the monthly sweep
  CRON_SPEC= ./server

SEE ALSO:
  - config/config.go: Environment variables and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian/report-engine/api"
	"github.com/meridian/report-engine/config"
	"github.com/meridian/report-engine/reports"
	"github.com/meridian/report-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := cfg.Logger()

	// Catalog
	cat := reports.DefaultCatalog()
	if cfg.CatalogPath != "" {
		cat, err = reports.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load catalog")
		}
		log.WithField("path", cfg.CatalogPath).Info("catalog loaded")
	}

	// Store
	store, err := sqlite.New(cfg.DBPath, cat.YTDMetric)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Service and API
	svc, err := reports.NewService(cat, store, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build report service")
	}
	handler := api.NewHandler(svc, store, log)
	router := api.NewRouter(handler)

	// Scheduler
	scheduler, err := api.NewScheduler(svc, cfg.CronSpec, log)
	if err != nil {
		log.WithError(err).Fatal("invalid schedule")
	}
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("forced shutdown")
	}
	log.Info("server stopped")
}
