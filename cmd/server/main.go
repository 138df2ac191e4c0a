/*
main.go - Application entry point

PURPOSE:
  Starts the payroll equation service: the HTTP API over the equation
  cache, backed by SQLite and a directory of compiled-set artifacts.

STARTUP SEQUENCE:
  1. Load configuration (file, then PAYROLL_* environment)
  2. Build the logger
  3. Open the SQLite store and the artifact directory
  4. Create compiler, cache, handler and router
  5. Start the cache warmer
  6. Serve with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: config.yaml, optional)
  -db      Overrides storage_path; use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the warmer and release every compiled set
  4. Close the database

SEE ALSO:
  - config/config.go: Settings and their environment variables
  - api/server.go: Router configuration
*/
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

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/artifact"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "YAML config file")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// no logger yet
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.StoragePath = *dbPath
	}

	if cfg.IsDev() {
		cfg.Log.Format = "console"
	}
	log := logging.New(cfg.Log)

	store, err := sqlite.New(cfg.StoragePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StoragePath).Msg("failed to initialize database")
	}
	defer store.Close()

	artifacts, err := artifact.NewFileStore(cfg.ArtifactDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ArtifactDir).Msg("failed to open artifact directory")
	}

	compiler := equation.NewCompiler(
		equation.WithArtifactStore(artifacts),
		equation.WithLogger(log),
	)
	cache := equation.NewCache(compiler, logging.Component(log, "cache"))
	defer cache.Close()

	handler := api.NewHandler(store, cache, log)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Timeout:        cfg.Timeout,
	})

	warmer := api.NewCacheWarmer(store, cache, log)
	warmer.Interval = cfg.WarmInterval
	warmer.Start()
	defer warmer.Stop()

	server := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout + 5*time.Second,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		log.Info().Str("address", cfg.Address).Str("env", cfg.Env).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server stopped")
}
