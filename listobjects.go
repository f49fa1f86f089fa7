package pgplan

import (
	"context"
	"fmt"
	"time"
)

const listObjectsSQL = `
SELECT
    n.nspname AS schema,
    c.relname AS name,
    CASE c.relkind
        WHEN 'r' THEN 'table'
        WHEN 'v' THEN 'view'
        WHEN 'm' THEN 'materialized_view'
        WHEN 'f' THEN 'foreign_table'
        WHEN 'p' THEN 'partitioned_table'
    END AS type,
    pg_catalog.pg_get_userbyid(c.relowner) AS owner,
    NOT has_schema_privilege(n.oid, 'USAGE') AS schema_access_limited
FROM pg_catalog.pg_class c
LEFT JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'v', 'm', 'f', 'p')
  AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
  AND has_table_privilege(c.oid, 'SELECT')
ORDER BY n.nspname, c.relname;
`

// ListObjects returns all tables, views, materialized views, foreign
// tables, and partitioned tables accessible to the current user. Runs a
// fixed catalog query; does not go through the classifier/sanitization
// pipeline.
func (p *PostgresPlan) ListObjects(ctx context.Context, input ListObjectsInput) (*ListObjectsOutput, error) {
	startTime := time.Now()

	// 1. Acquire semaphore
	select {
	case p.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("ListObjects: failed to acquire query slot: all %d connection slots are in use, context cancelled while waiting: %w", cap(p.semaphore), ctx.Err())
	}
	defer func() { <-p.semaphore }()

	// 2. Apply configurable timeout
	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(p.config.Query.ListObjectsTimeoutSeconds)*time.Second)
	defer cancel()

	// 3. Acquire connection and execute
	conn, err := p.pool.Acquire(queryCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(queryCtx, listObjectsSQL)
	if err != nil {
		return nil, fmt.Errorf("ListObjects query failed: %w", err)
	}
	defer rows.Close()

	var objects []ObjectEntry
	for rows.Next() {
		var entry ObjectEntry
		if err := rows.Scan(&entry.Schema, &entry.Name, &entry.Type, &entry.Owner, &entry.SchemaAccessLimited); err != nil {
			return nil, fmt.Errorf("ListObjects scan failed: %w", err)
		}
		objects = append(objects, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListObjects rows error: %w", err)
	}

	if objects == nil {
		objects = []ObjectEntry{}
	}

	p.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int("object_count", len(objects)).
		Msg("ListObjects executed")

	return &ListObjectsOutput{Objects: objects}, nil
}
