package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/divvyqueue/gateway/internal/config"
)

// NewLogger creates a structured zerolog.Logger with deployment context
// fields from the config. The configured level uses the uppercase convention
// of the deployment environment (INFO, WARNING, ERROR).
func NewLogger(cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(os.Stdout).With().Timestamp()

	if cfg.Environment != "" {
		ctx = ctx.Str("environment", cfg.Environment)
	}
	if cfg.DatabaseName != "" {
		ctx = ctx.Str("database", cfg.DatabaseName)
	}

	return ctx.Logger().Level(parseLevel(cfg.LogLevel))
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARNING", "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
