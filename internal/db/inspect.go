package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// markerTables are the tables whose presence marks an initialized Tryton
// schema. ir_module holds the module registry, res_user the user accounts.
var markerTables = []string{"ir_module", "res_user"}

// TargetInfo is the result of a read-only inspection of the target database.
type TargetInfo struct {
	Version      string
	MarkerTables map[string]bool
	UserCount    int
	QueryTime    time.Duration
}

// Inspector runs read-only probes against the target database. Every probe
// opens its own connection and transaction; nothing is held across calls.
type Inspector struct {
	logger zerolog.Logger
	desc   *Descriptor
	name   string
}

// NewInspector creates an Inspector for the named database on the server
// described by desc.
func NewInspector(logger zerolog.Logger, desc *Descriptor, name string) *Inspector {
	return &Inspector{
		logger: logger.With().Str("component", "db-inspector").Logger(),
		desc:   desc,
		name:   name,
	}
}

// connect opens a connection to the target database.
func (i *Inspector) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, i.desc.AdminURL(i.name))
	if err != nil {
		return nil, &ConnectivityError{Err: err}
	}
	return conn, nil
}

// UserCount opens a transaction against the target database and counts the
// administrative user records. Implements the bootstrap probe: an error means
// the database is missing or not yet schema-initialized.
func (i *Inspector) UserCount(ctx context.Context) (int, error) {
	conn, err := i.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close(ctx)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx, "SELECT count(*) FROM res_user").Scan(&count); err != nil {
		return 0, err
	}
	return count, tx.Commit(ctx)
}

// Inspect gathers the full read-only picture of the target database used by
// diagnostics: server version, marker-table presence, user count and timing.
func (i *Inspector) Inspect(ctx context.Context) (*TargetInfo, error) {
	start := time.Now()

	conn, err := i.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	info := &TargetInfo{MarkerTables: make(map[string]bool, len(markerTables))}

	if err := conn.QueryRow(ctx, "SELECT version()").Scan(&info.Version); err != nil {
		return nil, err
	}

	for _, table := range markerTables {
		var reg *uint32
		if err := conn.QueryRow(ctx, "SELECT to_regclass($1)::oid", table).Scan(&reg); err != nil {
			return nil, err
		}
		info.MarkerTables[table] = reg != nil
	}

	if info.MarkerTables["res_user"] {
		if err := conn.QueryRow(ctx, "SELECT count(*) FROM res_user").Scan(&info.UserCount); err != nil {
			return nil, err
		}
	}

	info.QueryTime = time.Since(start)
	return info, nil
}

// Name returns the target database name.
func (i *Inspector) Name() string { return i.name }
