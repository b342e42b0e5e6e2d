package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProber struct{ mock.Mock }

func (m *mockProber) UserCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockDatabases struct{ mock.Mock }

func (m *mockDatabases) Exists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *mockDatabases) Create(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

type mockInitializer struct{ mock.Mock }

func (m *mockInitializer) Initialize(ctx context.Context, database string) error {
	return m.Called(ctx, database).Error(0)
}

func (m *mockInitializer) SetAdminPassword(ctx context.Context, database, password string) error {
	return m.Called(ctx, database, password).Error(0)
}

type mockLocker struct{ mock.Mock }

func (m *mockLocker) Lock(ctx context.Context, name string) (func(), error) {
	args := m.Called(ctx, name)
	release, _ := args.Get(0).(func())
	if release == nil {
		release = func() {}
	}
	return release, args.Error(1)
}

func newTestMachine(prober *mockProber, databases *mockDatabases, init *mockInitializer, locker *mockLocker) *Machine {
	return NewMachine(zerolog.Nop(), prober, databases, init, locker, "target", "Xk9!mQ2#vL7z")
}

var errNoTable = errors.New(`relation "res_user" does not exist`)

func TestRun_AlreadyInitialized_NoMutation(t *testing.T) {
	prober := &mockProber{}
	databases := &mockDatabases{}
	init := &mockInitializer{}
	locker := &mockLocker{}
	prober.On("UserCount", mock.Anything).Return(3, nil).Once()

	m := newTestMachine(prober, databases, init, locker)
	status := m.Run(context.Background())

	assert.True(t, status.Initialized())
	assert.Equal(t, 3, status.UserCount)
	// Neither lock nor any mutating dependency is touched.
	locker.AssertNotCalled(t, "Lock", mock.Anything, mock.Anything)
	databases.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	init.AssertNotCalled(t, "Initialize", mock.Anything, mock.Anything)
}

func TestRun_FullSequence_MissingDatabase(t *testing.T) {
	prober := &mockProber{}
	databases := &mockDatabases{}
	init := &mockInitializer{}
	locker := &mockLocker{}

	// Probe fails before and under the lock, succeeds after initialization.
	prober.On("UserCount", mock.Anything).Return(0, errNoTable).Twice()
	locker.On("Lock", mock.Anything, "target").Return(func() {}, nil).Once()
	databases.On("Exists", mock.Anything, "target").Return(false, nil).Once()
	databases.On("Create", mock.Anything, "target").Return(nil).Once()
	init.On("Initialize", mock.Anything, "target").Return(nil).Once()
	init.On("SetAdminPassword", mock.Anything, "target", "Xk9!mQ2#vL7z").Return(nil).Once()
	prober.On("UserCount", mock.Anything).Return(1, nil).Once()

	m := newTestMachine(prober, databases, init, locker)
	status := m.Run(context.Background())

	require.True(t, status.Initialized())
	assert.Equal(t, 1, status.UserCount)
	assert.Empty(t, status.CredentialWarning)
	prober.AssertExpectations(t)
	databases.AssertExpectations(t)
	init.AssertExpectations(t)
	locker.AssertExpectations(t)
}

func TestRun_ExistingEmptyDatabase_SkipsCreate(t *testing.T) {
	prober := &mockProber{}
	databases := &mockDatabases{}
	init := &mockInitializer{}
	locker := &mockLocker{}

	prober.On("UserCount", mock.Anything).Return(0, errNoTable).Twice()
	locker.On("Lock", mock.Anything, "target").Return(func() {}, nil).Once()
	databases.On("Exists", mock.Anything, "target").Return(true, nil).Once()
	init.On("Initialize", mock.Anything, "target").Return(nil).Once()
	init.On("SetAdminPassword", mock.Anything, "target", mock.Anything).Return(nil).Once()
	prober.On("UserCount", mock.Anything).Return(1, nil).Once()

	m := newTestMachine(prober, databases, init, locker)
	status := m.Run(context.Background())

	require.True(t, status.Initialized())
	databases.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRun_SecondInvocation_Idempotent(t *testing.T) {
	prober := &mockProber{}
	databases := &mockDatabases{}
	init := &mockInitializer{}
	locker := &mockLocker{}

	prober.On("UserCount", mock.Anything).Return(0, errNoTable).Twice()
	locker.On("Lock", mock.Anything, "target").Return(func() {}, nil).Once()
	databases.On("Exists", mock.Anything, "target").Return(false, nil).Once()
	databases.On("Create", mock.Anything, "target").Return(nil).Once()
	init.On("Initialize", mock.Anything, "target").Return(nil).Once()
	init.On("SetAdminPassword", mock.Anything, "target", mock.Anything).Return(nil).Once()
	// Verification probe of the first run, then the probe of the second run.
	prober.On("UserCount", mock.Anything).Return(1, nil).Twice()

	m := newTestMachine(prober, databases, init, locker)
	first := m.Run(context.Background())
	second := m.Run(context.Background())

	assert.True(t, first.Initialized())
	assert.True(t, second.Initialized())
	// Create and Initialize ran exactly once across both invocations.
	databases.AssertNumberOfCalls(t, "Create", 1)
	init.AssertNumberOfCalls(t, "Initialize", 1)
}

func TestRun_LockLoserFindsWorkDone(t *testing.T) {
	prober := &mockProber{}
	databases := &mockDatabases{}
	init := &mockInitializer{}
	locker := &mockLocker{}

	// First probe sees no schema; under the lock another instance has
	// finished, so the re-probe succeeds.
	prober.On("UserCount", mock.Anything).Return(0, errNoTable).Once()
	locker.On("Lock", mock.Anything, "target").Return(func() {}, nil).Once()
	prober.On("UserCount", mock.Anything).Return(1, nil).Once()

	m := newTestMachine(prober, databases, init, locker)
	status := m.Run(context.Background())

	assert.True(t, status.Initialized())
	databases.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
	init.AssertNotCalled(t, "Initialize", mock.Anything, mock.Anything)
}

func TestRun_CreateFails(t *testing.T) {
	prober := &mockProber{}
	databases := &mockDatabases{}
	init := &mockInitializer{}
	locker := &mockLocker{}

	prober.On("UserCount", mock.Anything).Return(0, errNoTable)
	locker.On("Lock", mock.Anything, "target").Return(func() {}, nil).Once()
	databases.On("Exists", mock.Anything, "target").Return(false, nil).Once()
	databases.On("Create", mock.Anything, "target").Return(errors.New("permission denied")).Once()

	m := newTestMachine(prober, databases, init, locker)
	status := m.Run(context.Background())

	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.Reason, "create database")
	init.AssertNotCalled(t, "Initialize", mock.Anything, mock.Anything)
}

func TestRun_InitializeTimeout_DistinctReason(t *testing.T) {
	prober := &mockProber{}
	databases := &mockDatabases{}
	init := &mockInitializer{}
	locker := &mockLocker{}

	prober.On("UserCount", mock.Anything).Return(0, errNoTable)
	locker.On("Lock", mock.Anything, "target").Return(func() {}, nil).Once()
	databases.On("Exists", mock.Anything, "target").Return(true, nil).Once()
	init.On("Initialize", mock.Anything, "target").
		Return(fmt.Errorf("run schema initialization: %w", ErrTimeout)).Once()

	m := newTestMachine(prober, databases, init, locker)
	status := m.Run(context.Background())

	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, "schema initialization timed out", status.Reason)
}

func TestRun_CredentialFailure_PartialSuccess(t *testing.T) {
	prober := &mockProber{}
	databases := &mockDatabases{}
	init := &mockInitializer{}
	locker := &mockLocker{}

	prober.On("UserCount", mock.Anything).Return(0, errNoTable).Twice()
	locker.On("Lock", mock.Anything, "target").Return(func() {}, nil).Once()
	databases.On("Exists", mock.Anything, "target").Return(true, nil).Once()
	init.On("Initialize", mock.Anything, "target").Return(nil).Once()
	init.On("SetAdminPassword", mock.Anything, "target", mock.Anything).
		Return(errors.New("credential tool exited with status 1")).Once()
	prober.On("UserCount", mock.Anything).Return(1, nil).Once()

	m := newTestMachine(prober, databases, init, locker)
	status := m.Run(context.Background())

	// The schema survives; only the warning records the credential failure.
	require.True(t, status.Initialized())
	assert.Contains(t, status.CredentialWarning, "credential tool")
}

func TestRun_SurvivesCallerCancellation(t *testing.T) {
	prober := &mockProber{}
	databases := &mockDatabases{}
	init := &mockInitializer{}
	locker := &mockLocker{}

	ctx, cancel := context.WithCancel(context.Background())

	prober.On("UserCount", mock.Anything).Return(0, errNoTable).Twice()
	locker.On("Lock", mock.Anything, "target").Return(func() {}, nil).Once()
	databases.On("Exists", mock.Anything, "target").Return(true, nil).Once()
	// The caller goes away while the long step runs; the step context must
	// stay live so the external tool is not killed mid-initialization.
	init.On("Initialize", mock.Anything, "target").
		Run(func(args mock.Arguments) {
			cancel()
			stepCtx := args.Get(0).(context.Context)
			assert.NoError(t, stepCtx.Err())
		}).
		Return(nil).Once()
	init.On("SetAdminPassword", mock.Anything, "target", mock.Anything).Return(nil).Once()
	prober.On("UserCount", mock.Anything).Return(1, nil).Once()

	m := newTestMachine(prober, databases, init, locker)
	status := m.Run(ctx)

	require.True(t, status.Initialized())
	assert.Equal(t, 1, status.UserCount)
	init.AssertExpectations(t)
}

func TestRun_VerificationFailure(t *testing.T) {
	prober := &mockProber{}
	databases := &mockDatabases{}
	init := &mockInitializer{}
	locker := &mockLocker{}

	prober.On("UserCount", mock.Anything).Return(0, errNoTable)
	locker.On("Lock", mock.Anything, "target").Return(func() {}, nil).Once()
	databases.On("Exists", mock.Anything, "target").Return(true, nil).Once()
	init.On("Initialize", mock.Anything, "target").Return(nil).Once()
	init.On("SetAdminPassword", mock.Anything, "target", mock.Anything).Return(nil).Once()

	m := newTestMachine(prober, databases, init, locker)
	status := m.Run(context.Background())

	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.Reason, "post-initialization verification failed")
}

func TestRun_ConcurrentCallsCollapse(t *testing.T) {
	prober := &mockProber{}
	databases := &mockDatabases{}
	init := &mockInitializer{}
	locker := &mockLocker{}

	gate := make(chan struct{})
	prober.On("UserCount", mock.Anything).Run(func(mock.Arguments) { <-gate }).Return(2, nil)

	m := newTestMachine(prober, databases, init, locker)

	var wg sync.WaitGroup
	ready := make(chan struct{}, 4)
	results := make([]Status, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ready <- struct{}{}
			results[i] = m.Run(context.Background())
		}()
	}
	for range results {
		<-ready
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for _, status := range results {
		assert.True(t, status.Initialized())
	}
	// All four callers shared one probe.
	prober.AssertNumberOfCalls(t, "UserCount", 1)
}

func TestProbe_Classification(t *testing.T) {
	cases := []struct {
		name      string
		userCount func(*mockProber)
		databases func(*mockDatabases)
		want      State
	}{
		{
			name:      "initialized",
			userCount: func(p *mockProber) { p.On("UserCount", mock.Anything).Return(1, nil) },
			databases: func(*mockDatabases) {},
			want:      StateInitialized,
		},
		{
			name:      "missing",
			userCount: func(p *mockProber) { p.On("UserCount", mock.Anything).Return(0, errNoTable) },
			databases: func(d *mockDatabases) { d.On("Exists", mock.Anything, "target").Return(false, nil) },
			want:      StateDatabaseMissing,
		},
		{
			name:      "empty",
			userCount: func(p *mockProber) { p.On("UserCount", mock.Anything).Return(0, errNoTable) },
			databases: func(d *mockDatabases) { d.On("Exists", mock.Anything, "target").Return(true, nil) },
			want:      StateDatabaseEmpty,
		},
		{
			name:      "unreachable",
			userCount: func(p *mockProber) { p.On("UserCount", mock.Anything).Return(0, errors.New("dial tcp: refused")) },
			databases: func(d *mockDatabases) {
				d.On("Exists", mock.Anything, "target").Return(false, errors.New("dial tcp: refused"))
			},
			want: StateUnknown,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prober := &mockProber{}
			databases := &mockDatabases{}
			tc.userCount(prober)
			tc.databases(databases)

			m := newTestMachine(prober, databases, &mockInitializer{}, &mockLocker{})
			assert.Equal(t, tc.want, m.Probe(context.Background()).State)
		})
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "initialized (2 users)", initialized(2).String())
	assert.Equal(t, "initialization failed: boom", failed("boom").String())
	assert.Equal(t, "database_missing", Status{State: StateDatabaseMissing}.String())
}
