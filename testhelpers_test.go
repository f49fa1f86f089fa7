package pgplan_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/rickchristie/govner/pgflock/client"
	pgplan "github.com/rickchristie/pgplan-mcp"
	"github.com/rs/zerolog"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig() pgplan.Config {
	return pgplan.Config{
		Pool: pgplan.PoolConfig{MaxConns: 5},
		Query: pgplan.QueryConfig{
			DefaultTimeoutSeconds:        30,
			ExplainTimeoutSeconds:        60,
			ListObjectsTimeoutSeconds:    10,
			DescribeObjectTimeoutSeconds: 10,
			MaxSQLLength:                 100000,
			MaxResultLength:              100000,
		},
	}
}

func newTestInstance(t *testing.T, config pgplan.Config) (*pgplan.PostgresPlan, string) {
	t.Helper()
	connStr := acquireTestDB(t)
	ctx := context.Background()
	p, err := pgplan.New(ctx, connStr, config, testLogger())
	if err != nil {
		t.Fatalf("Failed to create PostgresPlan: %v", err)
	}
	t.Cleanup(func() { p.Close(ctx) })
	return p, connStr
}

// setupSchema runs DDL/DML statements over a direct connection. The
// engine itself only executes read statements, so test fixtures are
// created out of band.
func setupSchema(t *testing.T, connStr string, statements ...string) {
	t.Helper()
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("setup connection failed: %v", err)
	}
	defer conn.Close(ctx)
	for _, sql := range statements {
		if _, err := conn.Exec(ctx, sql); err != nil {
			t.Fatalf("setup failed on %q: %v", sql, err)
		}
	}
}

// countRows returns the row count of table using a direct connection,
// bypassing the engine under test.
func countRows(t *testing.T, connStr, table string) int64 {
	t.Helper()
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("count connection failed: %v", err)
	}
	defer conn.Close(ctx)
	var n int64
	if err := conn.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}
