package pgplan

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// UnsafeStatementError is returned when the safety classifier rejects a
// statement. The statement never reached the database.
type UnsafeStatementError struct {
	Reason string
}

func (e *UnsafeStatementError) Error() string {
	return "unsafe statement: " + e.Reason
}

// MissingExtensionError is returned by the hypothetical-index explain
// path when the hypopg extension is not installed. Detail carries
// actionable guidance for the agent and is reported as data (the tool's
// response text), not as a protocol error.
type MissingExtensionError struct {
	Detail string
}

func (e *MissingExtensionError) Error() string {
	return e.Detail
}

// QueryError wraps an error reported by the PostgreSQL server (syntax or
// semantic). The server's message is passed through verbatim.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string { return e.Err.Error() }
func (e *QueryError) Unwrap() error { return e.Err }

// ExecutionError wraps a transport-level failure (connection loss, pool
// exhaustion, context cancellation) as opposed to an error the server
// itself reported.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return e.Err.Error() }
func (e *ExecutionError) Unwrap() error { return e.Err }

// wrapDBError classifies an error from a pgx call: errors carrying a
// PostgreSQL error code become QueryError, everything else is
// transport-level.
func wrapDBError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &QueryError{Err: err}
	}
	return &ExecutionError{Err: err}
}
