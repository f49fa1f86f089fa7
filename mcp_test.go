package pgplan

import (
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestParseHypotheticalIndexes_Valid(t *testing.T) {
	t.Parallel()
	raw := []any{
		map[string]any{"table": "users", "columns": []any{"email"}},
		map[string]any{"table": "orders", "columns": []any{"user_id", "created_at"}},
	}
	indexes, err := parseHypotheticalIndexes(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(indexes) != 2 {
		t.Fatalf("expected 2 indexes, got %d", len(indexes))
	}
	if indexes[0].Table != "users" || indexes[0].Columns[0] != "email" {
		t.Fatalf("unexpected first index: %+v", indexes[0])
	}
	if indexes[1].Table != "orders" || len(indexes[1].Columns) != 2 {
		t.Fatalf("unexpected second index: %+v", indexes[1])
	}
}

func TestParseHypotheticalIndexes_NilYieldsNil(t *testing.T) {
	t.Parallel()
	indexes, err := parseHypotheticalIndexes(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if indexes != nil {
		t.Fatalf("expected nil for absent argument, got %v", indexes)
	}
}

func TestParseHypotheticalIndexes_Malformed(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		raw     any
		errPart string
	}{
		{"not an array", "users(email)", "must be an array"},
		{"entry not an object", []any{"users"}, "hypothetical_indexes[0] must be an object"},
		{"missing table", []any{map[string]any{"columns": []any{"email"}}}, "hypothetical_indexes[0] is missing a table name"},
		{"missing columns", []any{map[string]any{"table": "users"}}, "hypothetical_indexes[0] is missing columns"},
		{"empty columns", []any{map[string]any{"table": "users", "columns": []any{}}}, "hypothetical_indexes[0] is missing columns"},
		{"non-string column", []any{map[string]any{"table": "users", "columns": []any{42}}}, "hypothetical_indexes[0].columns[0]"},
		{
			"second entry bad",
			[]any{
				map[string]any{"table": "users", "columns": []any{"email"}},
				map[string]any{"table": "", "columns": []any{"id"}},
			},
			"hypothetical_indexes[1] is missing a table name",
		},
	}
	for _, tc := range cases {
		_, err := parseHypotheticalIndexes(tc.raw)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.errPart) {
			t.Fatalf("%s: expected error containing %q, got %q", tc.name, tc.errPart, err.Error())
		}
	}
}

func TestParseParams_Valid(t *testing.T) {
	t.Parallel()
	params, err := parseParams([]any{"alice", float64(2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params) != 2 || params[0] != "alice" {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestParseParams_NilYieldsNil(t *testing.T) {
	t.Parallel()
	params, err := parseParams(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params != nil {
		t.Fatalf("expected nil for absent argument, got %v", params)
	}
}

func TestParseParams_Malformed(t *testing.T) {
	t.Parallel()
	for _, raw := range []any{
		"alice",
		map[string]any{"1": "alice"},
		float64(42),
	} {
		_, err := parseParams(raw)
		if err == nil {
			t.Fatalf("%v: expected error", raw)
		}
		if !strings.Contains(err.Error(), "params must be an array") {
			t.Fatalf("%v: expected params error, got %q", raw, err.Error())
		}
	}
}

func TestRequestLength_WithArguments(t *testing.T) {
	t.Parallel()
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "query",
			Arguments: map[string]any{"sql": "SELECT 1"},
		},
	}
	length := requestLength(req)
	// {"sql":"SELECT 1"} = 18 bytes
	if length != 18 {
		t.Fatalf("expected request length 18, got %d", length)
	}
}

func TestRequestLength_NoArguments(t *testing.T) {
	t.Parallel()
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: "list_objects",
		},
	}
	if length := requestLength(req); length != 0 {
		t.Fatalf("expected request length 0 for no arguments, got %d", length)
	}
}

func TestResultLength_TextResult(t *testing.T) {
	t.Parallel()
	result := mcp.NewToolResultText(`{"columns":["id"],"rows":[]}`)
	if length := resultLength(result); length != 28 {
		t.Fatalf("expected result length 28, got %d", length)
	}
}

func TestResultLength_ErrorResult(t *testing.T) {
	t.Parallel()
	result := mcp.NewToolResultError("something failed")
	if length := resultLength(result); length != 16 {
		t.Fatalf("expected result length 16, got %d", length)
	}
}

func TestResultLength_NilResult(t *testing.T) {
	t.Parallel()
	if length := resultLength(nil); length != 0 {
		t.Fatalf("expected result length 0 for nil, got %d", length)
	}
}
