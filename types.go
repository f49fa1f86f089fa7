package pgplan

// QueryInput is the input for the Query tool. Params are bound
// positionally ($1, $2, ...) over the extended query protocol; they are
// never interpolated into the SQL text.
type QueryInput struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params,omitempty"`
}

// QueryOutput is the output of the Query tool. All errors (classifier
// rejections, Postgres errors, codec errors, Go errors) are placed in
// Error; matching error_prompts messages are appended to it. Row values
// are already normalized to JSON-safe kinds.
type QueryOutput struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Error   string           `json:"error,omitempty"`
}

// HypotheticalIndex describes one virtual index for the planner to
// consider during Explain. Table and Columns must be non-empty; whether
// they actually exist is the database's problem — it reports failure if
// they do not.
type HypotheticalIndex struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
}

// ListObjectsInput is the input for the ListObjects tool.
type ListObjectsInput struct{}

// ObjectEntry represents a single relation in the ListObjects output.
type ObjectEntry struct {
	Schema              string `json:"schema"`
	Name                string `json:"name"`
	Type                string `json:"type"` // "table", "view", "materialized_view", "foreign_table", "partitioned_table"
	Owner               string `json:"owner"`
	SchemaAccessLimited bool   `json:"schema_access_limited,omitempty"`
}

// ListObjectsOutput is the output of the ListObjects tool.
type ListObjectsOutput struct {
	Objects []ObjectEntry `json:"objects"`
	Error   string        `json:"error,omitempty"`
}

// DescribeObjectInput is the input for the DescribeObject tool.
type DescribeObjectInput struct {
	Name   string `json:"name"`
	Schema string `json:"schema"`
}

// ColumnDetail describes a single column. Optional fields are omitted
// from JSON when absent — consumers detect optional data by key
// presence, never by null-checking.
type ColumnDetail struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Nullable     bool   `json:"nullable"`
	Default      string `json:"column_default,omitempty"`
	IsPrimaryKey bool   `json:"is_primary_key,omitempty"`
}

// IndexDetail describes a single index.
type IndexDetail struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	IsUnique   bool   `json:"is_unique,omitempty"`
	IsPrimary  bool   `json:"is_primary,omitempty"`
}

// ConstraintDetail describes a single constraint.
type ConstraintDetail struct {
	Name       string `json:"name"`
	Type       string `json:"type"` // PRIMARY KEY, FOREIGN KEY, UNIQUE, CHECK, EXCLUSION
	Definition string `json:"definition"`
}

// ForeignKeyDetail describes a single foreign key.
type ForeignKeyDetail struct {
	Name              string `json:"name"`
	Columns           string `json:"columns"`
	ReferencedTable   string `json:"referenced_table"`
	ReferencedColumns string `json:"referenced_columns"`
	OnUpdate          string `json:"on_update"`
	OnDelete          string `json:"on_delete"`
}

// PartitionDetail describes partition metadata.
type PartitionDetail struct {
	Strategy     string   `json:"strategy,omitempty"`      // "range", "list", "hash"
	PartitionKey string   `json:"partition_key,omitempty"` // e.g. "created_at", "region"
	Partitions   []string `json:"partitions,omitempty"`    // child partition table names
	ParentTable  string   `json:"parent_table,omitempty"`  // set if this is a child partition
}

// DescribeObjectOutput is the output of the DescribeObject tool.
type DescribeObjectOutput struct {
	Schema      string             `json:"schema"`
	Name        string             `json:"name"`
	Type        string             `json:"type"`
	Definition  string             `json:"definition,omitempty"` // view/matview SQL definition
	Columns     []ColumnDetail     `json:"columns"`
	Indexes     []IndexDetail      `json:"indexes,omitempty"`
	Constraints []ConstraintDetail `json:"constraints,omitempty"`
	ForeignKeys []ForeignKeyDetail `json:"foreign_keys,omitempty"`
	Partition   *PartitionDetail   `json:"partition,omitempty"`
	Error       string             `json:"error,omitempty"`
}
