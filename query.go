package pgplan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"github.com/rickchristie/pgplan-mcp/internal/codec"
	"github.com/rickchristie/pgplan-mcp/internal/safety"
)

// Querier is the minimal read surface a statement executes against.
// pgx.Tx, *pgxpool.Pool, and *pgxpool.Conn all satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Query classifies and executes input.SQL inside a rolled-back
// transaction and returns only QueryOutput. All errors (classifier
// rejections, Postgres errors, codec errors, Go errors) are converted to
// output.Error. The error message is then evaluated against
// error_prompts patterns — any matching prompt messages are appended.
// This means callers only need to check output.Error, never a Go error.
func (p *PostgresPlan) Query(ctx context.Context, input QueryInput) *QueryOutput {
	startTime := time.Now()
	sql := input.SQL

	// 1. Acquire semaphore (respects context cancellation to prevent deadlock)
	select {
	case p.semaphore <- struct{}{}:
	case <-ctx.Done():
		return p.handleError(fmt.Errorf("failed to acquire query slot: all %d connection slots are in use, context cancelled while waiting: %w", cap(p.semaphore), ctx.Err()))
	}
	defer func() { <-p.semaphore }()

	// 2. Check SQL length before any parsing
	if len(sql) > p.config.Query.MaxSQLLength {
		return p.handleError(fmt.Errorf("SQL query too long: %d bytes exceeds maximum of %d bytes", len(sql), p.config.Query.MaxSQLLength))
	}

	// 3. Classify before touching the database — a rejected statement
	// must fail without a connection ever being acquired
	if err := safety.Check(sql); err != nil {
		return p.handleError(&UnsafeStatementError{Reason: err.Error()})
	}

	// 4. Determine timeout
	timeout, timeoutRule := p.timeoutMgr.GetTimeoutWithPattern(sql)
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 5. Acquire connection and execute in transaction
	conn, err := p.pool.Acquire(queryCtx)
	if err != nil {
		return p.handleError(&ExecutionError{Err: err})
	}
	defer conn.Release()

	tx, err := conn.Begin(queryCtx)
	if err != nil {
		return p.handleError(&ExecutionError{Err: err})
	}
	defer tx.Rollback(ctx) // use parent ctx, not queryCtx — if query timed out, queryCtx is cancelled and rollback would fail

	// 6. Execute and collect
	columns, rawRows, err := executeStatement(queryCtx, tx, sql, input.Params)
	if err != nil {
		return p.handleError(err)
	}

	// Nothing is ever committed; roll back eagerly instead of holding
	// the transaction open through normalization.
	tx.Rollback(ctx)

	// 7. Normalize engine values to JSON-safe kinds
	rows, err := codec.NormalizeRows(rawRows)
	if err != nil {
		return p.handleError(err)
	}

	result := &QueryOutput{Columns: columns, Rows: rows}

	// 8. Apply sanitization (per-field, recursive into JSONB/arrays)
	sanitized := p.sanitizer.HasRules()
	result.Rows = p.sanitizer.Apply(result.Rows)

	// 9. Apply max result length truncation
	p.truncateIfNeeded(result)

	// 10. Log successful execution with pipeline details
	logEvent := p.logger.Info().
		Str("sql", truncateForLog(sql, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(result.Rows)).
		Int("param_count", len(input.Params))
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if sanitized {
		logEvent = logEvent.Bool("sanitized", true)
	}
	logEvent.Msg("query executed")

	return result
}

// executeStatement runs the classify-then-execute core: sql is checked
// by the safety classifier first, and q is never touched when the
// statement is rejected. Params are bound positionally over the
// extended query protocol. Returned row values are raw engine values,
// not yet normalized.
func executeStatement(ctx context.Context, q Querier, sql string, params []any) ([]string, []map[string]any, error) {
	if err := safety.Check(sql); err != nil {
		return nil, nil, &UnsafeStatementError{Reason: err.Error()}
	}

	rows, err := q.Query(ctx, sql, params...)
	if err != nil {
		return nil, nil, wrapDBError(err)
	}
	return collectRows(rows)
}

// collectRows reads all rows from pgx.Rows into column-keyed maps.
func collectRows(rows pgx.Rows) ([]string, []map[string]any, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, wrapDBError(err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapDBError(err)
	}

	return columns, resultRows, nil
}

// handleError converts any error into a QueryOutput with error message.
// The error message is evaluated against error_prompts — matching prompt messages are appended.
func (p *PostgresPlan) handleError(err error) *QueryOutput {
	errMsg := err.Error()
	prompt, patterns := p.errPrompts.Match(errMsg)

	logEvent := p.logger.Error().Err(err)
	if len(patterns) > 0 {
		logEvent = logEvent.Strs("error_prompts", patterns)
	}
	logEvent.Msg("query error")

	if prompt != "" {
		errMsg = errMsg + "\n\n" + prompt
	}
	return &QueryOutput{Error: errMsg}
}

// truncateIfNeeded truncates query output rows if they exceed MaxResultLength (in characters).
func (p *PostgresPlan) truncateIfNeeded(output *QueryOutput) {
	jsonBytes, _ := json.Marshal(output.Rows)
	jsonStr := string(jsonBytes)
	if utf8.RuneCountInString(jsonStr) <= p.config.Query.MaxResultLength {
		return
	}
	// Truncate to MaxResultLength characters (runes)
	runes := []rune(jsonStr)
	truncated := string(runes[:p.config.Query.MaxResultLength])
	output.Rows = nil
	output.Error = truncated + "...[truncated] Result is too long! Add limits in your query!"
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
