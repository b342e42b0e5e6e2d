package db

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/rs/zerolog"
)

// lockKey derives a stable advisory lock key from a database name.
func lockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// AdvisoryLock serializes the bootstrap sequence across process instances
// using a session-scoped PostgreSQL advisory lock keyed by the target
// database name. The lock is cooperative: it guards the create/initialize/
// verify sequence, not the storage engine's own locking.
type AdvisoryLock struct {
	logger zerolog.Logger
}

// NewAdvisoryLock creates an AdvisoryLock.
func NewAdvisoryLock(logger zerolog.Logger) *AdvisoryLock {
	return &AdvisoryLock{logger: logger.With().Str("component", "advisory-lock").Logger()}
}

// Acquire blocks until the lock for name is held on the given administrative
// connection, then returns a release function. The release function must be
// called on every exit path; it unlocks on the same session.
func (l *AdvisoryLock) Acquire(ctx context.Context, db DB, name string) (func(), error) {
	key := lockKey(name)

	if _, err := db.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return nil, fmt.Errorf("acquire advisory lock for %s: %w", name, err)
	}

	l.logger.Debug().Str("database", name).Int64("key", key).Msg("advisory lock acquired")

	return func() {
		// Release with a fresh context so an expired request context cannot
		// leave the lock held for the lifetime of the session.
		if _, err := db.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", key); err != nil {
			l.logger.Warn().Err(err).Str("database", name).Msg("failed to release advisory lock")
		}
	}, nil
}

// Lock acquires the advisory lock for name on a dedicated administrative
// session. The returned release function unlocks and closes the session.
func (m *AdminManager) Lock(ctx context.Context, name string) (func(), error) {
	conn, err := m.Connect(ctx)
	if err != nil {
		return nil, err
	}

	release, err := NewAdvisoryLock(m.logger).Acquire(ctx, conn, name)
	if err != nil {
		conn.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return func() {
		release()
		conn.Close(context.WithoutCancel(ctx))
	}, nil
}
