package pgplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers query, explain_query, list_objects, and
// describe_object as MCP tools on the given MCP server.
func RegisterMCPTools(mcpServer *server.MCPServer, engine *PostgresPlan) {
	// Query tool
	queryTool := mcp.NewTool("query",
		mcp.WithDescription("Execute a read-only SQL query against the PostgreSQL database. "+
			"Only SELECT, VALUES, TABLE, SHOW, and EXPLAIN statements are allowed; "+
			"everything runs inside a transaction that is always rolled back. "+
			"Use $1, $2, ... placeholders with the params array for values. Returns results as JSON."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL query to execute"),
		),
		mcp.WithArray("params",
			mcp.Description("Positional parameter values bound to $1, $2, ... placeholders"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(queryTool, engine.loggedToolHandler("query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("sql")
		if err != nil {
			return mcp.NewToolResultError("sql parameter is required"), nil
		}
		params, err := parseParams(req.GetArguments()["params"])
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		output := engine.Query(ctx, QueryInput{SQL: sql, Params: params})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		jsonBytes, err := json.Marshal(output)
		if err != nil {
			return mcp.NewToolResultError("failed to marshal query result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))

	// ExplainQuery tool
	explainTool := mcp.NewTool("explain_query",
		mcp.WithDescription("Show the PostgreSQL execution plan for a read-only SQL query. "+
			"Set analyze=true to actually run the statement (inside a rolled-back transaction) "+
			"and get real row counts and timings. Pass hypothetical_indexes to see how the plan "+
			"would change if those indexes existed; requires the hypopg extension."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL query to plan"),
		),
		mcp.WithBoolean("analyze",
			mcp.Description("Execute the statement and report actual timings (default false)"),
		),
		mcp.WithArray("hypothetical_indexes",
			mcp.Description(`Indexes for the planner to consider, e.g. [{"table": "users", "columns": ["email"]}]`),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"table":   map[string]any{"type": "string"},
					"columns": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"table", "columns"},
			}),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(explainTool, engine.loggedToolHandler("explain_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("sql")
		if err != nil {
			return mcp.NewToolResultError("sql parameter is required"), nil
		}
		analyze := req.GetBool("analyze", false)

		indexes, err := parseHypotheticalIndexes(req.GetArguments()["hypothetical_indexes"])
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if analyze && len(indexes) > 0 {
			return mcp.NewToolResultError("analyze cannot be combined with hypothetical_indexes: a hypothetical index cannot be read from, only costed"), nil
		}

		var artifact *ExplainArtifact
		switch {
		case len(indexes) > 0:
			artifact, err = engine.ExplainWithHypotheticalIndexes(ctx, sql, indexes)
		case analyze:
			artifact, err = engine.ExplainAnalyze(ctx, sql)
		default:
			artifact, err = engine.Explain(ctx, sql)
		}
		if err != nil {
			// Missing hypopg is reported as data, not a protocol error:
			// the agent should read the guidance and relay it.
			var missing *MissingExtensionError
			if errors.As(err, &missing) {
				return mcp.NewToolResultText(missing.Detail), nil
			}
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(artifact.Text()), nil
	}))

	// ListObjects tool
	listObjectsTool := mcp.NewTool("list_objects",
		mcp.WithDescription("List all tables, views, materialized views, foreign tables, and partitioned tables in the database that are accessible to the current user."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(listObjectsTool, engine.loggedToolHandler("list_objects", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := engine.ListObjects(ctx, ListObjectsInput{})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		jsonBytes, err := json.Marshal(output)
		if err != nil {
			return mcp.NewToolResultError("failed to marshal list objects result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))

	// DescribeObject tool
	describeObjectTool := mcp.NewTool("describe_object",
		mcp.WithDescription("Describe the schema of a table, view, or materialized view including columns, types, indexes, constraints, foreign keys, and partition layout."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("The object name to describe"),
		),
		mcp.WithString("schema",
			mcp.Description("The schema name (defaults to 'public')"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(describeObjectTool, engine.loggedToolHandler("describe_object", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError("name parameter is required"), nil
		}
		schema := req.GetString("schema", "")

		output, err := engine.DescribeObject(ctx, DescribeObjectInput{Name: name, Schema: schema})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		jsonBytes, err := json.Marshal(output)
		if err != nil {
			return mcp.NewToolResultError("failed to marshal describe object result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))
}

// parseParams decodes the params argument. A nil argument yields nil; a
// non-array argument is rejected rather than silently dropped.
func parseParams(raw any) ([]any, error) {
	if raw == nil {
		return nil, nil
	}
	params, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("params must be an array of parameter values")
	}
	return params, nil
}

// parseHypotheticalIndexes decodes the hypothetical_indexes argument.
// A nil argument yields nil; malformed entries are reported by position.
func parseHypotheticalIndexes(raw any) ([]HypotheticalIndex, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("hypothetical_indexes must be an array of {table, columns} objects")
	}

	indexes := make([]HypotheticalIndex, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("hypothetical_indexes[%d] must be an object with table and columns", i)
		}
		table, _ := obj["table"].(string)
		if table == "" {
			return nil, fmt.Errorf("hypothetical_indexes[%d] is missing a table name", i)
		}
		rawCols, ok := obj["columns"].([]any)
		if !ok || len(rawCols) == 0 {
			return nil, fmt.Errorf("hypothetical_indexes[%d] is missing columns", i)
		}
		columns := make([]string, len(rawCols))
		for j, c := range rawCols {
			col, ok := c.(string)
			if !ok || col == "" {
				return nil, fmt.Errorf("hypothetical_indexes[%d].columns[%d] must be a non-empty string", i, j)
			}
			columns[j] = col
		}
		indexes = append(indexes, HypotheticalIndex{Table: table, Columns: columns})
	}
	return indexes, nil
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (p *PostgresPlan) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		p.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
