// Package pgplan provides safe, read-only PostgreSQL query execution and
// execution-plan analysis for AI agents through the Model Context
// Protocol (MCP).
//
// It exposes four tools — Query, Explain, ListObjects, and
// DescribeObject. Every statement passes through an AST-based safety
// classifier (using PostgreSQL's actual C parser via pg_query) before it
// can touch the database: only single read-only statements (SELECT,
// VALUES, TABLE, SHOW, EXPLAIN, and WITH ... SELECT with read-only CTEs)
// are ever executed. Bind parameters are passed positionally over the
// pgx extended query protocol and are never interpolated into SQL text.
//
// Explain can evaluate hypothetical indexes that do not physically
// exist, using the hypopg extension. Virtual indexes live only inside a
// single transaction-scoped session and are always torn down before the
// call returns — on success, on failure, and on cancellation — so no
// schema change is ever observable afterwards.
//
// Engine-native values (numeric, interval, bytea, timestamps, arrays)
// are converted at the output boundary into a small set of JSON-safe
// kinds with deterministic rules; values the codec cannot represent fail
// loudly instead of being silently stringified.
//
// # Library Usage
//
//	p, err := pgplan.New(ctx, connString, pgplan.Config{
//		Pool:     pgplan.PoolConfig{MaxConns: 10},
//		ReadOnly: true,
//		Query: pgplan.QueryConfig{
//			DefaultTimeoutSeconds:        30,
//			ExplainTimeoutSeconds:        30,
//			ListObjectsTimeoutSeconds:    10,
//			DescribeObjectTimeoutSeconds: 10,
//		},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer p.Close(ctx)
//
//	// Use directly
//	output := p.Query(ctx, pgplan.QueryInput{SQL: "SELECT * FROM users LIMIT 10"})
//
//	// Or register as MCP tools
//	pgplan.RegisterMCPTools(mcpServer, p)
//
// For configuration reference and the server CLI, see cmd/gopgplan.
package pgplan
