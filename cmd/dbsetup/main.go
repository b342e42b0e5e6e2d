package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/divvyqueue/gateway/internal/bootstrap"
	"github.com/divvyqueue/gateway/internal/config"
	"github.com/divvyqueue/gateway/internal/db"
	"github.com/divvyqueue/gateway/internal/logging"
	"github.com/divvyqueue/gateway/internal/tryton"
)

// dbsetup runs the database bootstrap once and exits: 0 when the database is
// ready, 1 on failure, 130 when interrupted.
func main() {
	godotenv.Load()

	cfg, result := config.Load()
	if result.HasErrors() {
		result.Print(os.Stderr)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if err := tryton.WriteConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("could not write trytond configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	admin := db.NewAdminManager(logger, cfg.Database)
	inspector := db.NewInspector(logger, cfg.Database, cfg.DatabaseName)
	initializer := tryton.NewAdmin(logger, cfg.ConfigFile)
	machine := bootstrap.NewMachine(logger, inspector, admin, initializer, admin, cfg.DatabaseName, cfg.AdminPassword)

	status := machine.Run(ctx)

	if errors.Is(ctx.Err(), context.Canceled) {
		fmt.Fprintln(os.Stderr, "interrupted")
		os.Exit(130)
	}

	fmt.Println(status.String())
	if status.CredentialWarning != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", status.CredentialWarning)
	}
	if !status.Initialized() {
		os.Exit(1)
	}
}
