// Package safety classifies SQL statements as read-only or not, using
// PostgreSQL's actual C parser via pg_query. The policy is fixed: a
// statement is allowed only if it is a single statement whose every
// top-level clause is read-only. There are no configuration switches and
// no caching — every call parses the text fresh.
package safety

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Check classifies a SQL statement. Returns nil if the statement is a
// single read-only statement (SELECT, VALUES, TABLE, SHOW, EXPLAIN, or
// WITH ... SELECT whose CTEs are all read-only). Returns a descriptive
// error naming the offending construct otherwise.
func Check(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return fmt.Errorf("empty statement")
	}

	result, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("SQL parse error: %w", err)
	}

	if len(result.Stmts) == 0 {
		return fmt.Errorf("empty statement")
	}
	if len(result.Stmts) > 1 {
		return fmt.Errorf("multi-statement queries are not allowed: found %d statements", len(result.Stmts))
	}

	return checkNode(result.Stmts[0].Stmt)
}

// checkNode checks a single top-level AST node. SELECT, VALUES, TABLE,
// and WITH ... SELECT all parse as SelectStmt; SHOW parses as
// VariableShowStmt. EXPLAIN inherits the verdict of its inner statement,
// since EXPLAIN ANALYZE executes that statement for real.
func checkNode(node *pg_query.Node) error {
	if node == nil {
		return fmt.Errorf("empty statement")
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return checkCTEs(n.SelectStmt.WithClause)

	case *pg_query.Node_VariableShowStmt:
		return nil

	case *pg_query.Node_ExplainStmt:
		return checkNode(n.ExplainStmt.Query)

	case *pg_query.Node_InsertStmt:
		return fmt.Errorf("INSERT statements are not allowed: only read-only statements can be executed")
	case *pg_query.Node_UpdateStmt:
		return fmt.Errorf("UPDATE statements are not allowed: only read-only statements can be executed")
	case *pg_query.Node_DeleteStmt:
		return fmt.Errorf("DELETE statements are not allowed: only read-only statements can be executed")
	case *pg_query.Node_MergeStmt:
		return fmt.Errorf("MERGE statements are not allowed: MERGE can insert, update, and delete rows")
	case *pg_query.Node_CopyStmt:
		if n.CopyStmt.IsFrom {
			return fmt.Errorf("COPY FROM is not allowed: it writes into tables")
		}
		return fmt.Errorf("COPY TO is not allowed: only read-only statements can be executed")
	case *pg_query.Node_TruncateStmt:
		return fmt.Errorf("TRUNCATE statements are not allowed")
	case *pg_query.Node_DropStmt, *pg_query.Node_DropdbStmt, *pg_query.Node_DropRoleStmt:
		return fmt.Errorf("DROP statements are not allowed")
	case *pg_query.Node_CreateStmt, *pg_query.Node_CreateTableAsStmt,
		*pg_query.Node_IndexStmt, *pg_query.Node_ViewStmt,
		*pg_query.Node_CreateSeqStmt, *pg_query.Node_CreateSchemaStmt,
		*pg_query.Node_CreateFunctionStmt, *pg_query.Node_CreateTrigStmt,
		*pg_query.Node_CreateExtensionStmt, *pg_query.Node_CreateRoleStmt,
		*pg_query.Node_RuleStmt:
		return fmt.Errorf("CREATE statements are not allowed: DDL is blocked")
	case *pg_query.Node_AlterTableStmt, *pg_query.Node_AlterSeqStmt,
		*pg_query.Node_AlterRoleStmt, *pg_query.Node_AlterRoleSetStmt,
		*pg_query.Node_AlterExtensionStmt, *pg_query.Node_AlterSystemStmt,
		*pg_query.Node_RenameStmt:
		return fmt.Errorf("ALTER statements are not allowed: DDL is blocked")
	case *pg_query.Node_GrantStmt:
		if n.GrantStmt.IsGrant {
			return fmt.Errorf("GRANT statements are not allowed: they modify database permissions")
		}
		return fmt.Errorf("REVOKE statements are not allowed: they modify database permissions")
	case *pg_query.Node_GrantRoleStmt:
		return fmt.Errorf("GRANT/REVOKE ROLE is not allowed: it modifies role memberships")
	case *pg_query.Node_VariableSetStmt:
		return fmt.Errorf("SET statements are not allowed: session state must not change between calls")
	case *pg_query.Node_TransactionStmt:
		return fmt.Errorf("transaction control statements are not allowed: each statement runs in a managed transaction")
	case *pg_query.Node_DoStmt:
		return fmt.Errorf("DO blocks are not allowed: they can execute arbitrary SQL")
	case *pg_query.Node_CallStmt:
		return fmt.Errorf("CALL statements are not allowed: procedures can execute arbitrary SQL")
	case *pg_query.Node_LockStmt:
		return fmt.Errorf("LOCK TABLE is not allowed")
	case *pg_query.Node_VacuumStmt:
		return fmt.Errorf("VACUUM/ANALYZE is not allowed: maintenance commands are blocked")
	case *pg_query.Node_RefreshMatViewStmt:
		return fmt.Errorf("REFRESH MATERIALIZED VIEW is not allowed: it rewrites stored data")
	case *pg_query.Node_PrepareStmt, *pg_query.Node_ExecuteStmt, *pg_query.Node_DeallocateStmt:
		return fmt.Errorf("PREPARE/EXECUTE statements are not allowed")

	default:
		return fmt.Errorf("statement type %s is not allowed: only read-only statements can be executed", nodeName(node))
	}
}

// checkCTEs walks every CTE in a WITH clause; a common-table-expression
// wrapping a mutating statement rejects the whole statement even though
// the outer statement is a SELECT.
func checkCTEs(withClause *pg_query.WithClause) error {
	if withClause == nil {
		return nil
	}
	for _, cte := range withClause.Ctes {
		cteNode, ok := cte.Node.(*pg_query.Node_CommonTableExpr)
		if !ok {
			continue
		}
		if err := checkNode(cteNode.CommonTableExpr.Ctequery); err != nil {
			return fmt.Errorf("CTE %q: %w", cteNode.CommonTableExpr.Ctename, err)
		}
	}
	return nil
}

// nodeName produces a readable name for AST node types the switch does
// not enumerate, e.g. "ClusterStmt".
func nodeName(node *pg_query.Node) string {
	name := fmt.Sprintf("%T", node.Node)
	if i := strings.LastIndex(name, "_"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
