package bootstrap

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrTimeout marks an initialization step that exceeded its deadline. The
// database may be left partially initialized; a later run re-probes and
// continues or reports the failure.
var ErrTimeout = errors.New("initialization timed out")

var attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bootstrap_attempts_total",
	Help: "Bootstrap runs by outcome.",
}, []string{"result"})

// Prober reads the administrative user count of the target database inside a
// transaction. An error means the database is missing or has no schema.
type Prober interface {
	UserCount(ctx context.Context) (int, error)
}

// Databases checks for and creates databases on the server.
type Databases interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, name string) error
}

// Initializer performs the opaque external initialization steps: full schema
// initialization and admin credential provisioning. Both are deadline-bounded
// by the implementation; expiry surfaces as ErrTimeout.
type Initializer interface {
	Initialize(ctx context.Context, database string) error
	SetAdminPassword(ctx context.Context, database, password string) error
}

// Locker serializes the mutating bootstrap steps across process instances.
type Locker interface {
	Lock(ctx context.Context, name string) (release func(), err error)
}

// Machine drives the idempotent database bootstrap: probe, create if missing,
// initialize schema, provision credentials, verify. Safe to invoke from every
// instance on every start; an already-initialized database short-circuits
// before any mutation.
type Machine struct {
	logger        zerolog.Logger
	prober        Prober
	databases     Databases
	initializer   Initializer
	locker        Locker
	database      string
	adminPassword string

	group singleflight.Group
}

// NewMachine creates a bootstrap Machine for the named database.
func NewMachine(logger zerolog.Logger, prober Prober, databases Databases, initializer Initializer, locker Locker, database, adminPassword string) *Machine {
	return &Machine{
		logger:        logger.With().Str("component", "bootstrap").Logger(),
		prober:        prober,
		databases:     databases,
		initializer:   initializer,
		locker:        locker,
		database:      database,
		adminPassword: adminPassword,
	}
}

// Run executes the bootstrap sequence. Concurrent calls within the process
// collapse into a single run; concurrent runs across instances serialize on
// the advisory lock and the loser finds the work already done.
func (m *Machine) Run(ctx context.Context) Status {
	v, _, _ := m.group.Do(m.database, func() (any, error) {
		return m.run(ctx), nil
	})
	return v.(Status)
}

func (m *Machine) run(ctx context.Context) Status {
	// The sequence is not cancellable once started: a caller that goes away
	// (client disconnect, HTTP write timeout) must not kill a schema
	// initialization in flight and leave a half-initialized database. The
	// step-level deadlines of the initializer are the only bounds.
	ctx = context.WithoutCancel(ctx)

	runID := uuid.NewString()
	logger := m.logger.With().Str("run_id", runID).Str("database", m.database).Logger()

	// Probe first: on the overwhelmingly common path the database is already
	// initialized and no lock or mutation is needed.
	if count, err := m.prober.UserCount(ctx); err == nil {
		logger.Debug().Int("users", count).Msg("database already initialized")
		attemptsTotal.WithLabelValues("already_initialized").Inc()
		return initialized(count)
	}

	logger.Info().Msg("database not ready, starting bootstrap")

	release, err := m.locker.Lock(ctx, m.database)
	if err != nil {
		logger.Error().Err(err).Msg("could not acquire bootstrap lock")
		attemptsTotal.WithLabelValues("failed").Inc()
		return failed("acquire bootstrap lock: %v", err)
	}
	defer release()

	// Another instance may have finished the work while we waited.
	if count, err := m.prober.UserCount(ctx); err == nil {
		logger.Info().Int("users", count).Msg("database initialized by another instance")
		attemptsTotal.WithLabelValues("already_initialized").Inc()
		return initialized(count)
	}

	exists, err := m.databases.Exists(ctx, m.database)
	if err != nil {
		logger.Error().Err(err).Msg("existence check failed")
		attemptsTotal.WithLabelValues("failed").Inc()
		return failed("check database existence: %v", err)
	}
	if !exists {
		if err := m.databases.Create(ctx, m.database); err != nil {
			logger.Error().Err(err).Msg("database creation failed")
			attemptsTotal.WithLabelValues("failed").Inc()
			return failed("create database: %v", err)
		}
		logger.Info().Msg("database created")
	}

	logger.Info().Msg("initializing schema, this can take several minutes")
	if err := m.initializer.Initialize(ctx, m.database); err != nil {
		attemptsTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, ErrTimeout) {
			logger.Error().Msg("schema initialization timed out")
			return failed("schema initialization timed out")
		}
		logger.Error().Err(err).Msg("schema initialization failed")
		return failed("schema initialization failed: %v", err)
	}

	var credentialWarning string
	if m.adminPassword != "" {
		// Credential failure does not roll back the schema; the database is
		// usable and the warning is surfaced for the operator.
		if err := m.initializer.SetAdminPassword(ctx, m.database, m.adminPassword); err != nil {
			logger.Warn().Err(err).Msg("admin credential provisioning failed")
			credentialWarning = err.Error()
		}
	}

	count, err := m.prober.UserCount(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("post-initialization verification failed")
		attemptsTotal.WithLabelValues("failed").Inc()
		return failed("post-initialization verification failed: %v", err)
	}

	logger.Info().Int("users", count).Msg("bootstrap complete")
	attemptsTotal.WithLabelValues("initialized").Inc()
	status := initialized(count)
	status.CredentialWarning = credentialWarning
	return status
}

// Probe classifies the database without mutating anything. Used by the
// diagnostics report.
func (m *Machine) Probe(ctx context.Context) Status {
	if count, err := m.prober.UserCount(ctx); err == nil {
		return initialized(count)
	}

	exists, err := m.databases.Exists(ctx, m.database)
	if err != nil {
		return Status{State: StateUnknown, Reason: err.Error()}
	}
	if !exists {
		return Status{State: StateDatabaseMissing}
	}
	return Status{State: StateDatabaseEmpty}
}
