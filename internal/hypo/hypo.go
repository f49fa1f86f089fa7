// Package hypo manages transaction-scoped sessions of hypothetical
// indexes backed by the hypopg extension. A hypothetical index is
// planner-visible metadata with no physical structure: the planner can
// cost it, but nothing can be read from it.
//
// hypopg virtual indexes live in backend memory, not in the
// transaction, so rolling back is not enough to remove them from a
// pooled connection — every session explicitly issues hypopg_reset() on
// every exit path before the transaction is released.
package hypo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// IndexSpec describes one hypothetical index: a table and an ordered
// list of columns. Both must be non-empty; whether they exist is the
// database's call.
type IndexSpec struct {
	Table   string
	Columns []string
}

// Tx is the transactional scope a session runs in. pgx.Tx satisfies it.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Rollback(ctx context.Context) error
}

// Beginner opens a transactional scope. Adapt *pgxpool.Conn with a thin
// wrapper; fakes implement it directly in tests.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Rower is the read surface used by the installation check.
type Rower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	installedSQL = `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'hypopg')`
	availableSQL = `SELECT EXISTS (SELECT 1 FROM pg_available_extensions WHERE name = 'hypopg')`
)

// CheckInstalled reports whether hypopg is installed in the current
// database. When it is not, the returned message carries actionable
// guidance distinguishing "present on the server but not enabled" from
// "not installed on the server at all".
func CheckInstalled(ctx context.Context, db Rower) (bool, string, error) {
	var installed bool
	if err := db.QueryRow(ctx, installedSQL).Scan(&installed); err != nil {
		return false, "", fmt.Errorf("failed to check hypopg installation: %w", err)
	}
	if installed {
		return true, "", nil
	}

	var available bool
	if err := db.QueryRow(ctx, availableSQL).Scan(&available); err != nil {
		return false, "", fmt.Errorf("failed to check hypopg availability: %w", err)
	}
	if available {
		return false, "The hypopg extension is available on the server but not enabled in this database. " +
			"Hypothetical index analysis requires it. Ask a database administrator to run: CREATE EXTENSION hypopg;", nil
	}
	return false, "The hypopg extension is required to analyze hypothetical indexes, but it is not installed on this server. " +
		"Install the extension package (e.g. postgresql-16-hypopg) and run CREATE EXTENSION hypopg; then try again.", nil
}

// Manager runs bodies inside hypothetical-index sessions.
type Manager struct {
	Logger zerolog.Logger

	// OnCleanupFailure, when set, is called if hypopg_reset fails. The
	// caller uses it to destroy the underlying connection instead of
	// returning a backend with stray virtual indexes to the pool.
	OnCleanupFailure func(error)
}

const cleanupTimeout = 5 * time.Second

// WithIndexes opens a transaction on db, creates one virtual index per
// spec, and invokes body with the live transaction so the planner can
// consider them. On every exit path — normal return, error, panic,
// cancellation — all virtual indexes are removed and the transaction is
// rolled back before WithIndexes returns; nothing is ever committed.
// Cleanup failures are logged and reported via OnCleanupFailure, and
// never override body's result.
func (m *Manager) WithIndexes(ctx context.Context, db Beginner, specs []IndexSpec, body func(tx Tx) error) error {
	for _, spec := range specs {
		if err := spec.validate(); err != nil {
			return err
		}
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open hypothetical-index session: %w", err)
	}
	defer m.cleanup(ctx, tx)

	for _, spec := range specs {
		if _, err := tx.Exec(ctx, "SELECT * FROM hypopg_create_index($1)", spec.createIndexSQL()); err != nil {
			return fmt.Errorf("failed to create hypothetical index on %s: %w", spec.Table, err)
		}
	}

	return body(tx)
}

// cleanup removes every virtual index created in this session and rolls
// the transaction back. It runs detached from the caller's context so
// cancellation of the request cannot skip it.
func (m *Manager) cleanup(ctx context.Context, tx Tx) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if _, err := tx.Exec(cctx, "SELECT hypopg_reset()"); err != nil {
		m.Logger.Error().Err(err).Msg("failed to remove hypothetical indexes")
		if m.OnCleanupFailure != nil {
			m.OnCleanupFailure(err)
		}
	}
	if err := tx.Rollback(cctx); err != nil && err != pgx.ErrTxClosed {
		m.Logger.Error().Err(err).Msg("failed to roll back hypothetical-index session")
	}
}

func (s IndexSpec) validate() error {
	if strings.TrimSpace(s.Table) == "" {
		return fmt.Errorf("hypothetical index spec has empty table name")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("hypothetical index spec for table %q has no columns", s.Table)
	}
	for _, col := range s.Columns {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("hypothetical index spec for table %q has an empty column name", s.Table)
		}
	}
	return nil
}

// createIndexSQL builds the CREATE INDEX statement hypopg_create_index
// parses. The statement is only ever passed as a bind parameter to
// hypopg_create_index — it is never executed as DDL.
func (s IndexSpec) createIndexSQL() string {
	cols := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		cols[i] = quoteIdent(col)
	}
	return fmt.Sprintf("CREATE INDEX ON %s (%s)", quoteIdent(s.Table), strings.Join(cols, ", "))
}

// quoteIdent escapes a SQL identifier: doubles embedded double-quotes
// and wraps in double-quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
