package pgplan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlanParseError reports an EXPLAIN output shape the parser did not
// expect.
type PlanParseError struct {
	Reason string
}

func (e *PlanParseError) Error() string {
	return "failed to parse query plan: " + e.Reason
}

// PlanNode is one node of a query execution plan tree, extracted from
// PostgreSQL's EXPLAIN (FORMAT JSON) output. Estimate fields are always
// present; Actual* fields are populated only when the plan came from
// EXPLAIN ANALYZE (HasActual reports which). Keys the parser does not
// recognize are preserved in Extra so future node kinds lose nothing.
type PlanNode struct {
	NodeType     string  `json:"node_type"`
	RelationName string  `json:"relation_name,omitempty"`
	Alias        string  `json:"alias,omitempty"`
	IndexName    string  `json:"index_name,omitempty"`
	JoinType     string  `json:"join_type,omitempty"`
	StartupCost  float64 `json:"startup_cost"`
	TotalCost    float64 `json:"total_cost"`
	PlanRows     int64   `json:"plan_rows"`
	PlanWidth    int     `json:"plan_width"`

	Filter    string `json:"filter,omitempty"`
	IndexCond string `json:"index_cond,omitempty"`
	HashCond  string `json:"hash_cond,omitempty"`

	HasActual         bool    `json:"-"`
	ActualStartupTime float64 `json:"actual_startup_time,omitempty"`
	ActualTotalTime   float64 `json:"actual_total_time,omitempty"`
	ActualRows        int64   `json:"actual_rows,omitempty"`
	ActualLoops       int64   `json:"actual_loops,omitempty"`

	Children []*PlanNode    `json:"children,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// ExplainArtifact owns one plan tree plus the metadata of the request
// that produced it. Immutable once constructed.
type ExplainArtifact struct {
	Plan                *PlanNode           `json:"plan"`
	Analyze             bool                `json:"analyze,omitempty"`
	HypotheticalIndexes []HypotheticalIndex `json:"hypothetical_indexes,omitempty"`
	PlanningTime        float64             `json:"planning_time,omitempty"`
	ExecutionTime       float64             `json:"execution_time,omitempty"`
}

// parseExplainOutput turns the raw EXPLAIN (FORMAT JSON) value — a
// one-element array wrapping {"Plan": ...} — into an artifact. raw may
// be the already-decoded value pgx produces for a json column, or raw
// JSON bytes.
func parseExplainOutput(raw any) (*ExplainArtifact, error) {
	if s, ok := raw.(string); ok {
		raw = []byte(s)
	}
	if b, ok := raw.([]byte); ok {
		var decoded any
		if err := json.Unmarshal(b, &decoded); err != nil {
			return nil, &PlanParseError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
		}
		raw = decoded
	}

	arr, ok := raw.([]any)
	if !ok || len(arr) == 0 {
		return nil, &PlanParseError{Reason: fmt.Sprintf("expected a non-empty JSON array, got %T", raw)}
	}
	top, ok := arr[0].(map[string]any)
	if !ok {
		return nil, &PlanParseError{Reason: fmt.Sprintf("expected a JSON object at the top level, got %T", arr[0])}
	}
	planRaw, ok := top["Plan"].(map[string]any)
	if !ok {
		return nil, &PlanParseError{Reason: "missing \"Plan\" key"}
	}

	root, err := parsePlanNode(planRaw)
	if err != nil {
		return nil, err
	}

	artifact := &ExplainArtifact{Plan: root}
	if v, ok := top["Planning Time"].(float64); ok {
		artifact.PlanningTime = v
	}
	if v, ok := top["Execution Time"].(float64); ok {
		artifact.ExecutionTime = v
	}
	return artifact, nil
}

// parsePlanNode walks one node of the plan tree recursively.
func parsePlanNode(m map[string]any) (*PlanNode, error) {
	node := &PlanNode{Extra: map[string]any{}}

	for key, val := range m {
		switch key {
		case "Node Type":
			node.NodeType, _ = val.(string)
		case "Relation Name":
			node.RelationName, _ = val.(string)
		case "Alias":
			node.Alias, _ = val.(string)
		case "Index Name":
			node.IndexName, _ = val.(string)
		case "Join Type":
			node.JoinType, _ = val.(string)
		case "Startup Cost":
			node.StartupCost = asFloat(val)
		case "Total Cost":
			node.TotalCost = asFloat(val)
		case "Plan Rows":
			node.PlanRows = int64(asFloat(val))
		case "Plan Width":
			node.PlanWidth = int(asFloat(val))
		case "Filter":
			node.Filter, _ = val.(string)
		case "Index Cond":
			node.IndexCond, _ = val.(string)
		case "Hash Cond":
			node.HashCond, _ = val.(string)
		case "Actual Startup Time":
			node.ActualStartupTime = asFloat(val)
			node.HasActual = true
		case "Actual Total Time":
			node.ActualTotalTime = asFloat(val)
			node.HasActual = true
		case "Actual Rows":
			node.ActualRows = int64(asFloat(val))
			node.HasActual = true
		case "Actual Loops":
			node.ActualLoops = int64(asFloat(val))
			node.HasActual = true
		case "Plans":
			children, ok := val.([]any)
			if !ok {
				return nil, &PlanParseError{Reason: fmt.Sprintf("\"Plans\" is %T, expected array", val)}
			}
			for _, childRaw := range children {
				childMap, ok := childRaw.(map[string]any)
				if !ok {
					return nil, &PlanParseError{Reason: fmt.Sprintf("child plan is %T, expected object", childRaw)}
				}
				child, err := parsePlanNode(childMap)
				if err != nil {
					return nil, err
				}
				node.Children = append(node.Children, child)
			}
		default:
			// Forward compatibility: unknown plan keys are preserved,
			// never dropped.
			node.Extra[key] = val
		}
	}

	if node.NodeType == "" {
		return nil, &PlanParseError{Reason: "plan node has no \"Node Type\""}
	}
	if len(node.Extra) == 0 {
		node.Extra = nil
	}
	return node, nil
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

// Text renders the plan as an indented, human-scannable tree in
// PostgreSQL's text EXPLAIN layout: one line per node, children marked
// with "->" and indented under their parents. Deterministic for a given
// tree.
func (a *ExplainArtifact) Text() string {
	var sb strings.Builder
	renderPlanNode(&sb, a.Plan, 0)
	if a.PlanningTime > 0 {
		fmt.Fprintf(&sb, "Planning Time: %.3f ms\n", a.PlanningTime)
	}
	if a.ExecutionTime > 0 {
		fmt.Fprintf(&sb, "Execution Time: %.3f ms\n", a.ExecutionTime)
	}
	return sb.String()
}

func renderPlanNode(sb *strings.Builder, node *PlanNode, depth int) {
	indent := strings.Repeat("  ", depth)
	if depth == 0 {
		sb.WriteString(indent)
	} else {
		sb.WriteString(indent + "->  ")
	}

	sb.WriteString(nodeLabel(node))
	fmt.Fprintf(sb, "  (cost=%.2f..%.2f rows=%d width=%d)", node.StartupCost, node.TotalCost, node.PlanRows, node.PlanWidth)
	if node.HasActual {
		fmt.Fprintf(sb, " (actual time=%.3f..%.3f rows=%d loops=%d)",
			node.ActualStartupTime, node.ActualTotalTime, node.ActualRows, node.ActualLoops)
	}
	sb.WriteByte('\n')

	detailIndent := indent + "      "
	if depth == 0 {
		detailIndent = indent + "  "
	}
	if node.IndexCond != "" {
		fmt.Fprintf(sb, "%sIndex Cond: %s\n", detailIndent, node.IndexCond)
	}
	if node.HashCond != "" {
		fmt.Fprintf(sb, "%sHash Cond: %s\n", detailIndent, node.HashCond)
	}
	if node.Filter != "" {
		fmt.Fprintf(sb, "%sFilter: %s\n", detailIndent, node.Filter)
	}

	for _, child := range node.Children {
		renderPlanNode(sb, child, depth+1)
	}
}

// nodeLabel builds the first-line label the way PostgreSQL's text
// EXPLAIN does: "Seq Scan on users", "Index Scan using idx on users",
// "Hash Join".
func nodeLabel(node *PlanNode) string {
	label := node.NodeType
	if node.JoinType != "" && node.JoinType != "Inner" {
		label += " " + node.JoinType
	}
	if node.IndexName != "" {
		label += " using " + node.IndexName
	}
	if node.RelationName != "" {
		label += " on " + node.RelationName
		if node.Alias != "" && node.Alias != node.RelationName {
			label += " " + node.Alias
		}
	}
	return label
}
