package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/divvyqueue/gateway/internal/api"
	"github.com/divvyqueue/gateway/internal/bootstrap"
	"github.com/divvyqueue/gateway/internal/config"
	"github.com/divvyqueue/gateway/internal/db"
	"github.com/divvyqueue/gateway/internal/diag"
	"github.com/divvyqueue/gateway/internal/logging"
	"github.com/divvyqueue/gateway/internal/tryton"
)

func main() {
	// A .env file is a development convenience; on Railway the variables
	// come from the service environment.
	godotenv.Load()

	cfg, result := config.Load()
	if result.HasErrors() {
		result.Print(os.Stderr)
		fmt.Fprintln(os.Stderr, "\nconfiguration validation failed, refusing to start")
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)
	for _, warning := range result.Warnings {
		logger.Warn().Msg(warning)
	}

	if err := tryton.WriteConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("could not write trytond configuration")
	}
	logger.Info().Str("path", cfg.ConfigFile).Msg("trytond configuration written")

	admin := db.NewAdminManager(logger, cfg.Database)
	inspector := db.NewInspector(logger, cfg.Database, cfg.DatabaseName)
	initializer := tryton.NewAdmin(logger, cfg.ConfigFile)
	machine := bootstrap.NewMachine(logger, inspector, admin, initializer, admin, cfg.DatabaseName, cfg.AdminPassword)
	reporter := diag.NewReporter(logger, cfg, inspector, machine, admin)

	backend, err := tryton.NewBackend(cfg.BackendURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid backend URL")
	}
	if backend == nil {
		logger.Warn().Msg("no backend URL configured, delegated requests will answer 503")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap in the background so the health endpoint is reachable while
	// the schema initialization runs.
	go func() {
		status := machine.Run(ctx)
		if status.Initialized() {
			logger.Info().Int("users", status.UserCount).Msg("database ready")
		} else {
			logger.Error().Str("status", status.String()).Msg("database bootstrap did not complete")
		}
	}()

	srv := api.NewServer(logger, cfg, machine, reporter, backend)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting gateway server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}
