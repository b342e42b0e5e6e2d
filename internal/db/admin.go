package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// maintenanceDatabase is the default administrative database on a PostgreSQL
// server. Catalog queries and CREATE DATABASE run against it.
const maintenanceDatabase = "postgres"

// validDBNameRe matches only alphanumeric characters and underscores.
// This prevents SQL injection in database names.
var validDBNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// DB defines the database operations used by the admin manager and probes.
// *pgx.Conn satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ConnectivityError wraps a failure to reach the database server. Callers
// treat it as recoverable: it is logged and surfaced in diagnostics, and the
// bootstrap retries on a later invocation.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("database unreachable: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// AdminManager performs server-level operations: checking for, creating and
// listing databases. Every operation opens its own administrative connection
// and closes it before returning; nothing is held across calls.
type AdminManager struct {
	logger zerolog.Logger
	desc   *Descriptor
}

// NewAdminManager creates an AdminManager for the given server descriptor.
func NewAdminManager(logger zerolog.Logger, desc *Descriptor) *AdminManager {
	return &AdminManager{
		logger: logger.With().Str("component", "db-admin").Logger(),
		desc:   desc,
	}
}

// Connect opens an administrative connection, preferring the default
// maintenance database and falling back to the database named in the
// descriptor when the former is refused.
func (m *AdminManager) Connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, m.desc.AdminURL(maintenanceDatabase))
	if err == nil {
		return conn, nil
	}

	m.logger.Warn().Err(err).Msg("maintenance database refused, retrying with target database")

	conn, err = pgx.Connect(ctx, m.desc.URL())
	if err != nil {
		return nil, &ConnectivityError{Err: err}
	}
	return conn, nil
}

// Exists reports whether a database with the given name exists. Read-only.
func (m *AdminManager) Exists(ctx context.Context, name string) (bool, error) {
	conn, err := m.Connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close(ctx)
	return exists(ctx, conn, name)
}

// Create issues CREATE DATABASE for the given name. Creating a database that
// already exists fails; callers must call Exists first.
func (m *AdminManager) Create(ctx context.Context, name string) error {
	conn, err := m.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	return m.create(ctx, conn, name)
}

// List returns all non-template database names, for diagnostic reporting.
func (m *AdminManager) List(ctx context.Context) ([]string, error) {
	conn, err := m.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)
	return list(ctx, conn)
}

func exists(ctx context.Context, db DB, name string) (bool, error) {
	var one int
	err := db.QueryRow(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", name).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check database existence: %w", err)
	}
	return true, nil
}

// create issues CREATE DATABASE with a safely quoted identifier and UTF-8
// encoding. The name is never interpolated unescaped.
func (m *AdminManager) create(ctx context.Context, db DB, name string) error {
	if !validDBNameRe.MatchString(name) {
		return fmt.Errorf("invalid database name %q: only alphanumeric and underscore allowed", name)
	}

	m.logger.Info().Str("database", name).Msg("creating database")

	sql := fmt.Sprintf(`CREATE DATABASE %s WITH ENCODING 'UTF8'`, quoteIdentifier(name))
	if _, err := db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

func list(ctx context.Context, db DB) ([]string, error) {
	rows, err := db.Query(ctx, "SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname")
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan database name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// quoteIdentifier double-quotes a SQL identifier, doubling embedded quotes.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
