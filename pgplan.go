package pgplan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rickchristie/pgplan-mcp/internal/errprompt"
	"github.com/rickchristie/pgplan-mcp/internal/hypo"
	"github.com/rickchristie/pgplan-mcp/internal/sanitize"
	"github.com/rickchristie/pgplan-mcp/internal/timeout"
)

// PostgresPlan is the core engine that provides the Query, Explain,
// ListObjects, and DescribeObject tools. All exported methods are safe
// for concurrent use from multiple goroutines.
type PostgresPlan struct {
	config     Config
	pool       *pgxpool.Pool
	semaphore  chan struct{}
	sanitizer  *sanitize.Sanitizer
	errPrompts *errprompt.Matcher
	timeoutMgr *timeout.Manager
	logger     zerolog.Logger
}

// New creates a new PostgresPlan instance.
// connString is the PostgreSQL connection string (must include credentials).
// In library mode, connString is required — Config.Connection fields are ignored
// (the CLI is responsible for building connString from Config.Connection + prompted credentials).
// Panics on invalid config. Returns error only for runtime failures (e.g., pool creation).
func New(ctx context.Context, connString string, config Config, logger zerolog.Logger) (*PostgresPlan, error) {
	// --- Config validation (panics on invalid config) ---

	if connString == "" {
		panic("pgplan: connString must be non-empty")
	}
	if config.Pool.MaxConns <= 0 {
		panic("pgplan: pool.max_conns must be > 0")
	}
	if config.Query.DefaultTimeoutSeconds <= 0 {
		panic("pgplan: query.default_timeout_seconds must be > 0")
	}
	if config.Query.ExplainTimeoutSeconds <= 0 {
		panic("pgplan: query.explain_timeout_seconds must be > 0")
	}
	if config.Query.ListObjectsTimeoutSeconds <= 0 {
		panic("pgplan: query.list_objects_timeout_seconds must be > 0")
	}
	if config.Query.DescribeObjectTimeoutSeconds <= 0 {
		panic("pgplan: query.describe_object_timeout_seconds must be > 0")
	}

	// Apply defaults for zero values
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = 100000
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = 100000
	}
	if config.Query.MaxSQLLength < 0 {
		panic("pgplan: query.max_sql_length must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("pgplan: query.max_result_length must be > 0")
	}

	// Validate timeout rules
	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("pgplan: timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern))
		}
	}

	// --- Configure pgxpool ---

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(config.Pool.MaxConns)
	poolConfig.MinConns = int32(config.Pool.MinConns)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	// Parse pool duration strings
	if config.Pool.MaxConnLifetime != "" {
		d, err := time.ParseDuration(config.Pool.MaxConnLifetime)
		if err != nil {
			panic(fmt.Sprintf("pgplan: invalid pool.max_conn_lifetime %q: %v", config.Pool.MaxConnLifetime, err))
		}
		poolConfig.MaxConnLifetime = d
	}
	if config.Pool.MaxConnIdleTime != "" {
		d, err := time.ParseDuration(config.Pool.MaxConnIdleTime)
		if err != nil {
			panic(fmt.Sprintf("pgplan: invalid pool.max_conn_idle_time %q: %v", config.Pool.MaxConnIdleTime, err))
		}
		poolConfig.MaxConnIdleTime = d
	}
	if config.Pool.HealthCheckPeriod != "" {
		d, err := time.ParseDuration(config.Pool.HealthCheckPeriod)
		if err != nil {
			panic(fmt.Sprintf("pgplan: invalid pool.health_check_period %q: %v", config.Pool.HealthCheckPeriod, err))
		}
		poolConfig.HealthCheckPeriod = d
	}

	// Set AfterConnect hook for session-level settings
	if config.ReadOnly || config.Timezone != "" {
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if config.ReadOnly {
				if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
					return fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
				}
			}
			if config.Timezone != "" {
				escaped := strings.ReplaceAll(config.Timezone, "'", "''")
				if _, err := conn.Exec(ctx, fmt.Sprintf("SET timezone = '%s'", escaped)); err != nil {
					return fmt.Errorf("failed to SET timezone: %w", err)
				}
			}
			return nil
		}
	}

	// --- Create pool ---

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// --- Initialize internal components ---

	san, err := sanitize.NewSanitizer(mapSanitizationRules(config.Sanitization))
	if err != nil {
		pool.Close()
		return nil, err
	}
	matcher, err := errprompt.NewMatcher(mapErrorPromptRules(config.ErrorPrompts))
	if err != nil {
		pool.Close()
		return nil, err
	}
	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr, err := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresPlan{
		config:     config,
		pool:       pool,
		semaphore:  make(chan struct{}, config.Pool.MaxConns),
		sanitizer:  san,
		errPrompts: matcher,
		timeoutMgr: tmgr,
		logger:     logger,
	}, nil
}

// Close closes the connection pool. Accepts context for API forward-compatibility,
// but does not currently use it — pgxpool.Pool.Close() does not support context-based shutdown.
func (p *PostgresPlan) Close(ctx context.Context) {
	p.pool.Close()
}

// Ping verifies the database is reachable.
func (p *PostgresPlan) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// HypopgStatus reports whether the hypopg extension is installed in the
// connected database. When it is not, message carries guidance on how to
// make hypothetical-index analysis available.
func (p *PostgresPlan) HypopgStatus(ctx context.Context) (bool, string, error) {
	return hypo.CheckInstalled(ctx, p.pool)
}

// mapSanitizationRules converts pgplan SanitizationRules to internal sanitize.Rules.
func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
		}
	}
	return result
}

// mapErrorPromptRules converts pgplan ErrorPromptRules to internal errprompt.Rules.
func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}
