package tryton

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/divvyqueue/gateway/internal/bootstrap"
)

const (
	// initializeTimeout bounds the full schema initialization, which installs
	// every configured module and can legitimately run for minutes.
	initializeTimeout = 10 * time.Minute
	// credentialTimeout bounds the admin password update, a single statement.
	credentialTimeout = 60 * time.Second
)

// Admin drives the trytond-admin CLI for schema initialization and admin
// credential provisioning. Implements bootstrap.Initializer.
type Admin struct {
	logger     zerolog.Logger
	configFile string
}

// NewAdmin creates an Admin using the given trytond configuration file.
func NewAdmin(logger zerolog.Logger, configFile string) *Admin {
	return &Admin{
		logger:     logger.With().Str("component", "trytond-admin").Logger(),
		configFile: configFile,
	}
}

// Initialize runs the full schema initialization for the database. It is the
// long step of the bootstrap; its deadline surfaces as bootstrap.ErrTimeout.
func (a *Admin) Initialize(ctx context.Context, database string) error {
	ctx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	a.logger.Info().Str("database", database).Msg("running schema initialization")

	cmd := exec.CommandContext(ctx, "trytond-admin", "-c", a.configFile, "-d", database, "--all")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return wrapRunError(ctx, "schema initialization", output, err)
	}
	return nil
}

// SetAdminPassword updates the admin user's password. The credential is
// passed on stdin, never on the command line.
func (a *Admin) SetAdminPassword(ctx context.Context, database, password string) error {
	ctx, cancel := context.WithTimeout(ctx, credentialTimeout)
	defer cancel()

	a.logger.Info().Str("database", database).Msg("provisioning admin credential")

	cmd := exec.CommandContext(ctx, "trytond-admin", "-c", a.configFile, "-d", database, "--password")
	cmd.Stdin = strings.NewReader(password + "\n" + password + "\n")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return wrapRunError(ctx, "credential provisioning", output, err)
	}
	return nil
}

// wrapRunError folds the command output into the error so the bootstrap
// failure reason carries the tool's own message. A deadline expiry maps to
// the bootstrap timeout error.
func wrapRunError(ctx context.Context, step string, output []byte, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", step, bootstrap.ErrTimeout)
	}
	if tail := lastLine(output); tail != "" {
		return fmt.Errorf("%s: %w: %s", step, err, tail)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// lastLine returns the final non-empty line of command output, which for
// trytond-admin carries the actual error message.
func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
