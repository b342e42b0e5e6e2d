package bootstrap

import (
	"encoding/json"
	"fmt"
)

// State is the position of the target database in the bootstrap lifecycle.
// It is recomputed by probing the live database on every request, never
// cached: stale state would make the front door report incorrect health.
type State int

const (
	StateUnknown State = iota
	StateDatabaseMissing
	StateDatabaseEmpty
	StateInitializing
	StateInitialized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDatabaseMissing:
		return "database_missing"
	case StateDatabaseEmpty:
		return "database_empty"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateFailed:
		return "initialization_failed"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state by name, not by ordinal.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Status is the observable outcome of a bootstrap run or probe.
type Status struct {
	State State `json:"state"`
	// UserCount is the number of administrative user records, set when
	// State is StateInitialized.
	UserCount int `json:"user_count,omitempty"`
	// Reason describes the failure when State is StateFailed.
	Reason string `json:"reason,omitempty"`
	// CredentialWarning records a failed admin-credential provisioning on
	// an otherwise successful bootstrap. Partial success is a valid
	// terminal state; the schema is not rolled back.
	CredentialWarning string `json:"credential_warning,omitempty"`
}

// Initialized reports whether the database is ready for the application.
func (s Status) Initialized() bool { return s.State == StateInitialized }

func (s Status) String() string {
	switch s.State {
	case StateInitialized:
		return fmt.Sprintf("initialized (%d users)", s.UserCount)
	case StateFailed:
		return fmt.Sprintf("initialization failed: %s", s.Reason)
	default:
		return s.State.String()
	}
}

func initialized(count int) Status {
	return Status{State: StateInitialized, UserCount: count}
}

func failed(format string, args ...any) Status {
	return Status{State: StateFailed, Reason: fmt.Sprintf(format, args...)}
}
