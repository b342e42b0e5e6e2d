package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestAdminManager(t *testing.T) *AdminManager {
	t.Helper()
	desc, err := ParseURL("postgres://u:p@dbhost:5432/target")
	require.NoError(t, err)
	return NewAdminManager(zerolog.Nop(), desc)
}

func TestExists_Present(t *testing.T) {
	db := &mockDB{}
	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int)) = 1
		return nil
	}}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"target"}).Return(row).Once()

	found, err := exists(context.Background(), db, "target")
	require.NoError(t, err)
	assert.True(t, found)
	db.AssertExpectations(t)
}

func TestExists_Absent(t *testing.T) {
	db := &mockDB{}
	row := &mockRow{scanFunc: func(dest ...any) error {
		return pgx.ErrNoRows
	}}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"target"}).Return(row).Once()

	found, err := exists(context.Background(), db, "target")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExists_QueryError(t *testing.T) {
	db := &mockDB{}
	row := &mockRow{scanFunc: func(dest ...any) error {
		return errors.New("connection reset")
	}}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row).Once()

	_, err := exists(context.Background(), db, "target")
	assert.Error(t, err)
}

func TestCreate_QuotesIdentifier(t *testing.T) {
	m := newTestAdminManager(t)
	db := &mockDB{}

	var gotSQL string
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { gotSQL = args.String(1) }).
		Return(pgconn.NewCommandTag("CREATE DATABASE"), nil).Once()

	err := m.create(context.Background(), db, "divvyqueue_prod")
	require.NoError(t, err)
	assert.Equal(t, `CREATE DATABASE "divvyqueue_prod" WITH ENCODING 'UTF8'`, gotSQL)
	db.AssertExpectations(t)
}

func TestCreate_RejectsUnsafeNames(t *testing.T) {
	m := newTestAdminManager(t)
	db := &mockDB{}

	unsafe := []string{
		"",
		"db;DROP DATABASE x",
		`db"name`,
		"db name",
		"db-name",
		"../etc",
	}
	for _, name := range unsafe {
		t.Run(name, func(t *testing.T) {
			err := m.create(context.Background(), db, name)
			assert.Error(t, err, "name %q should be rejected", name)
		})
	}
	// No statement may ever reach the server for a rejected name.
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreate_SurfacesServerError(t *testing.T) {
	m := newTestAdminManager(t)
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New(`database "target" already exists`)).Once()

	err := m.create(context.Background(), db, "target")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestList(t *testing.T) {
	db := &mockDB{}
	rows := newMockRows(
		func(dest ...any) error { *(dest[0].(*string)) = "divvyqueue_prod"; return nil },
		func(dest ...any) error { *(dest[0].(*string)) = "postgres"; return nil },
	)
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil).Once()

	names, err := list(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, []string{"divvyqueue_prod", "postgres"}, names)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"plain"`, quoteIdentifier("plain"))
	assert.Equal(t, `"with""quote"`, quoteIdentifier(`with"quote`))
}

func TestConnectivityError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &ConnectivityError{Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestLockKey_Stable(t *testing.T) {
	assert.Equal(t, lockKey("divvyqueue_prod"), lockKey("divvyqueue_prod"))
	assert.NotEqual(t, lockKey("divvyqueue_prod"), lockKey("other_db"))
}

func TestAdvisoryLock_AcquireRelease(t *testing.T) {
	lock := NewAdvisoryLock(zerolog.Nop())
	db := &mockDB{}

	key := lockKey("divvyqueue_prod")
	db.On("Exec", mock.Anything, "SELECT pg_advisory_lock($1)", []any{key}).
		Return(pgconn.NewCommandTag("SELECT 1"), nil).Once()
	db.On("Exec", mock.Anything, "SELECT pg_advisory_unlock($1)", []any{key}).
		Return(pgconn.NewCommandTag("SELECT 1"), nil).Once()

	release, err := lock.Acquire(context.Background(), db, "divvyqueue_prod")
	require.NoError(t, err)
	release()

	db.AssertExpectations(t)
}

func TestAdvisoryLock_AcquireFails(t *testing.T) {
	lock := NewAdvisoryLock(zerolog.Nop())
	db := &mockDB{}
	db.On("Exec", mock.Anything, "SELECT pg_advisory_lock($1)", mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection closed")).Once()

	_, err := lock.Acquire(context.Background(), db, "divvyqueue_prod")
	assert.Error(t, err)
}
