package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/history-extracts/internal/api"
	"github.com/andresuchdata/history-extracts/internal/config"
	"github.com/andresuchdata/history-extracts/internal/repository/postgres"
	"github.com/andresuchdata/history-extracts/internal/service"
	"github.com/andresuchdata/history-extracts/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.SetLevel(cfg.Log.Level)
	log.Logger = logger.Log
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// run history is optional; the extracts view only needs the filesystem
	var runs service.RunStore
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("Run history disabled: database unavailable")
		} else {
			defer db.Close()
			runs = postgres.NewRunRepository(db)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router := api.NewRouter(&api.Services{
		Extracts: service.NewExtractsService(cfg.Paths.Layout(), cfg.Paths.ConfigExt, runs),
		Gatherer: registry,
	}, cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		logger.Log.Info().Str("port", cfg.Server.Port).Str("root", cfg.Paths.OutputRoot).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Log.Info().Msg("Server exiting")
}
