package pgplan

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickchristie/pgplan-mcp/internal/hypo"
	"github.com/rickchristie/pgplan-mcp/internal/safety"
)

// Explain plans sql without executing it and returns the parsed plan
// artifact. The inner statement is classified first; EXPLAIN is never
// sent to the database for a rejected statement.
func (p *PostgresPlan) Explain(ctx context.Context, sql string) (*ExplainArtifact, error) {
	return p.explain(ctx, sql, false, nil)
}

// ExplainAnalyze executes sql inside a rolled-back transaction and
// returns the plan artifact with actual row counts and timings. The
// statement really runs, so the same classifier policy applies as for
// Query; the enclosing transaction guarantees nothing persists.
func (p *PostgresPlan) ExplainAnalyze(ctx context.Context, sql string) (*ExplainArtifact, error) {
	return p.explain(ctx, sql, true, nil)
}

// ExplainWithHypotheticalIndexes plans sql with the given virtual
// indexes visible to the planner, via the hypopg extension. The indexes
// exist only for the duration of this call; they are removed before it
// returns on every path. Returns MissingExtensionError when hypopg is
// not installed. Analyze mode is not supported with hypothetical
// indexes — a hypothetical index cannot be read from, only costed.
func (p *PostgresPlan) ExplainWithHypotheticalIndexes(ctx context.Context, sql string, indexes []HypotheticalIndex) (*ExplainArtifact, error) {
	if len(indexes) == 0 {
		return p.explain(ctx, sql, false, nil)
	}
	return p.explain(ctx, sql, false, indexes)
}

func (p *PostgresPlan) explain(ctx context.Context, sql string, analyze bool, indexes []HypotheticalIndex) (*ExplainArtifact, error) {
	startTime := time.Now()

	select {
	case p.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, &ExecutionError{Err: fmt.Errorf("failed to acquire query slot: all %d connection slots are in use, context cancelled while waiting: %w", cap(p.semaphore), ctx.Err())}
	}
	defer func() { <-p.semaphore }()

	if len(sql) > p.config.Query.MaxSQLLength {
		return nil, &UnsafeStatementError{Reason: fmt.Sprintf("SQL query too long: %d bytes exceeds maximum of %d bytes", len(sql), p.config.Query.MaxSQLLength)}
	}

	// Classify the inner statement before anything reaches the database.
	if err := safety.Check(sql); err != nil {
		return nil, &UnsafeStatementError{Reason: err.Error()}
	}

	timeout := time.Duration(p.config.Query.ExplainTimeoutSeconds) * time.Second
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.pool.Acquire(queryCtx)
	if err != nil {
		return nil, &ExecutionError{Err: err}
	}

	// A failed hypopg_reset leaves virtual indexes in the backend's
	// memory; such a connection must not go back to the pool.
	poisoned := false
	defer func() {
		if poisoned {
			hijacked := conn.Hijack()
			closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer closeCancel()
			if err := hijacked.Close(closeCtx); err != nil {
				p.logger.Error().Err(err).Msg("failed to close poisoned connection")
			}
			p.logger.Warn().Msg("destroyed connection after hypothetical-index cleanup failure")
		} else {
			conn.Release()
		}
	}()

	var artifact *ExplainArtifact

	if len(indexes) > 0 {
		installed, detail, err := hypo.CheckInstalled(queryCtx, conn)
		if err != nil {
			return nil, &ExecutionError{Err: err}
		}
		if !installed {
			return nil, &MissingExtensionError{Detail: detail}
		}

		mgr := &hypo.Manager{
			Logger:           p.logger,
			OnCleanupFailure: func(error) { poisoned = true },
		}
		err = mgr.WithIndexes(queryCtx, txBeginner{conn}, indexSpecs(indexes), func(tx hypo.Tx) error {
			artifact, err = runExplain(queryCtx, tx, sql, false)
			return err
		})
		if err != nil {
			return nil, err
		}
		artifact.HypotheticalIndexes = indexes
	} else {
		tx, err := conn.Begin(queryCtx)
		if err != nil {
			return nil, &ExecutionError{Err: err}
		}
		defer tx.Rollback(ctx)

		artifact, err = runExplain(queryCtx, tx, sql, analyze)
		if err != nil {
			return nil, err
		}
	}

	artifact.Analyze = analyze

	p.logger.Info().
		Str("sql", truncateForLog(sql, 200)).
		Dur("duration", time.Since(startTime)).
		Bool("analyze", analyze).
		Int("hypothetical_indexes", len(indexes)).
		Msg("explain executed")

	return artifact, nil
}

// runExplain issues the EXPLAIN statement over q and parses the JSON
// plan document it returns. The caller has already classified sql.
func runExplain(ctx context.Context, q Querier, sql string, analyze bool) (*ExplainArtifact, error) {
	stmt := "EXPLAIN (FORMAT JSON) " + sql
	if analyze {
		stmt = "EXPLAIN (ANALYZE, FORMAT JSON) " + sql
	}

	rows, err := q.Query(ctx, stmt)
	if err != nil {
		return nil, wrapDBError(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrapDBError(err)
		}
		return nil, &PlanParseError{Reason: "EXPLAIN returned no rows"}
	}
	values, err := rows.Values()
	if err != nil {
		return nil, wrapDBError(err)
	}
	if len(values) != 1 {
		return nil, &PlanParseError{Reason: fmt.Sprintf("EXPLAIN returned %d columns, expected 1", len(values))}
	}
	raw := values[0]
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapDBError(err)
	}

	return parseExplainOutput(raw)
}

// txBeginner adapts *pgxpool.Conn to hypo.Beginner.
type txBeginner struct {
	conn *pgxpool.Conn
}

func (b txBeginner) Begin(ctx context.Context) (hypo.Tx, error) {
	return b.conn.Begin(ctx)
}

func indexSpecs(indexes []HypotheticalIndex) []hypo.IndexSpec {
	specs := make([]hypo.IndexSpec, len(indexes))
	for i, idx := range indexes {
		specs[i] = hypo.IndexSpec{Table: idx.Table, Columns: idx.Columns}
	}
	return specs
}
