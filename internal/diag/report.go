package diag

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/divvyqueue/gateway/internal/bootstrap"
	"github.com/divvyqueue/gateway/internal/config"
	"github.com/divvyqueue/gateway/internal/db"
)

// Inspector runs the read-only database probes the report is built from.
type Inspector interface {
	Inspect(ctx context.Context) (*db.TargetInfo, error)
	Name() string
}

// Prober classifies the bootstrap state without mutating anything.
type Prober interface {
	Probe(ctx context.Context) bootstrap.Status
}

// Lister enumerates the databases present on the server.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Connectivity describes the live state of the target database.
type Connectivity struct {
	Status       string          `json:"status"`
	Database     string          `json:"database"`
	Version      string          `json:"version,omitempty"`
	MarkerTables map[string]bool `json:"marker_tables,omitempty"`
	UserCount    int             `json:"user_count,omitempty"`
	QueryTimeMS  float64         `json:"query_time_ms,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Report is a full diagnostic snapshot. Environment entries are presence
// flags only; configured values never leave the process.
type Report struct {
	ReportID        string           `json:"report_id"`
	Timestamp       time.Time        `json:"timestamp"`
	Environment     map[string]bool  `json:"environment"`
	Database        Connectivity     `json:"database"`
	ServerDatabases []string         `json:"server_databases,omitempty"`
	Bootstrap       bootstrap.Status `json:"bootstrap"`
}

// Reporter aggregates configuration, connectivity and bootstrap state into
// operator-facing reports. Every report probes the live system; nothing is
// cached between calls.
type Reporter struct {
	logger    zerolog.Logger
	cfg       *config.Config
	inspector Inspector
	prober    Prober
	lister    Lister
}

// NewReporter creates a Reporter.
func NewReporter(logger zerolog.Logger, cfg *config.Config, inspector Inspector, prober Prober, lister Lister) *Reporter {
	return &Reporter{
		logger:    logger.With().Str("component", "diagnostics").Logger(),
		cfg:       cfg,
		inspector: inspector,
		prober:    prober,
		lister:    lister,
	}
}

// Report builds a diagnostic snapshot. It never returns an error: failures
// are folded into the report so the endpoint stays useful exactly when
// things are broken.
func (r *Reporter) Report(ctx context.Context) *Report {
	report := &Report{
		ReportID:  uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Environment: map[string]bool{
			"DATABASE_URL":   r.cfg.DatabaseURL != "",
			"DATABASE_NAME":  r.cfg.DatabaseName != "",
			"ADMIN_PASSWORD": r.cfg.AdminPassword != "",
			"SECRET_KEY":     r.cfg.SecretKey != "",
			"FRONTEND_URL":   r.cfg.FrontendURL != "",
			"CORS_ORIGINS":   len(r.cfg.CORSOrigins) > 0,
		},
		Database: Connectivity{Database: r.inspector.Name()},
	}

	info, err := r.inspector.Inspect(ctx)
	switch {
	case err == nil:
		report.Database.Status = "connected"
		report.Database.Version = info.Version
		report.Database.MarkerTables = info.MarkerTables
		report.Database.UserCount = info.UserCount
		report.Database.QueryTimeMS = float64(info.QueryTime.Microseconds()) / 1000
	case errors.As(err, new(*db.ConnectivityError)):
		report.Database.Status = "unreachable"
		report.Database.Error = err.Error()
	default:
		report.Database.Status = "error"
		report.Database.Error = err.Error()
	}

	// The server-wide list is informational; a failure to fetch it must not
	// take the rest of the report down.
	if names, err := r.lister.List(ctx); err == nil {
		report.ServerDatabases = names
	} else {
		r.logger.Warn().Err(err).Msg("could not list server databases")
	}

	report.Bootstrap = r.prober.Probe(ctx)

	r.logger.Debug().
		Str("report_id", report.ReportID).
		Str("database_status", report.Database.Status).
		Str("bootstrap_state", report.Bootstrap.State.String()).
		Msg("diagnostic report generated")

	return report
}
