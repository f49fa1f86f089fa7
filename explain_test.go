package pgplan

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func explainRows(fixture string) *fakeRows {
	return &fakeRows{
		columns: []string{"QUERY PLAN"},
		values:  [][]any{{fixture}},
	}
}

func TestRunExplain_StatementShape(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{rows: explainRows(seqScanFixture)}

	artifact, err := runExplain(context.Background(), q, "SELECT * FROM users", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(q.statements))
	}
	if q.statements[0] != "EXPLAIN (FORMAT JSON) SELECT * FROM users" {
		t.Fatalf("unexpected statement: %q", q.statements[0])
	}
	if artifact.Plan.NodeType != "Seq Scan" {
		t.Fatalf("expected Seq Scan, got %q", artifact.Plan.NodeType)
	}
}

func TestRunExplain_AnalyzeStatementShape(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{rows: explainRows(analyzeFixture)}

	artifact, err := runExplain(context.Background(), q, "SELECT * FROM users WHERE email = 'a@example.com'", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(q.statements[0], "EXPLAIN (ANALYZE, FORMAT JSON) ") {
		t.Fatalf("unexpected analyze statement: %q", q.statements[0])
	}
	if !artifact.Plan.HasActual {
		t.Fatal("expected actual stats from analyze output")
	}
}

func TestRunExplain_AcceptsBytesColumn(t *testing.T) {
	t.Parallel()
	// Depending on the exec mode pgx may surface the json column as raw
	// bytes rather than a decoded value.
	q := &fakeQuerier{rows: &fakeRows{
		columns: []string{"QUERY PLAN"},
		values:  [][]any{{[]byte(seqScanFixture)}},
	}}

	artifact, err := runExplain(context.Background(), q, "SELECT * FROM users", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.Plan.RelationName != "users" {
		t.Fatalf("expected relation users, got %q", artifact.Plan.RelationName)
	}
}

func TestRunExplain_NoRows(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{rows: &fakeRows{columns: []string{"QUERY PLAN"}}}

	_, err := runExplain(context.Background(), q, "SELECT 1", false)
	var parseErr *PlanParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected PlanParseError for empty result, got %v", err)
	}
}

func TestRunExplain_UnexpectedColumnCount(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{rows: &fakeRows{
		columns: []string{"a", "b"},
		values:  [][]any{{"x", "y"}},
	}}

	_, err := runExplain(context.Background(), q, "SELECT 1", false)
	var parseErr *PlanParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected PlanParseError for multi-column result, got %v", err)
	}
}

func TestRunExplain_QueryErrorPassedThrough(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{err: errors.New("connection reset")}

	_, err := runExplain(context.Background(), q, "SELECT 1", false)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
}

func TestIndexSpecs(t *testing.T) {
	t.Parallel()
	specs := indexSpecs([]HypotheticalIndex{
		{Table: "users", Columns: []string{"email"}},
		{Table: "orders", Columns: []string{"user_id", "created_at"}},
	})
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[0].Table != "users" || specs[0].Columns[0] != "email" {
		t.Fatalf("unexpected first spec: %+v", specs[0])
	}
	if specs[1].Table != "orders" || len(specs[1].Columns) != 2 {
		t.Fatalf("unexpected second spec: %+v", specs[1])
	}
}
