package models

// ToolResult is the uniform envelope every capability returns.
// Exactly one of Data and Error is meaningful, selected by Success.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolSuccess wraps data in a successful envelope.
func ToolSuccess(data any) ToolResult {
	return ToolResult{Success: true, Data: data}
}

// ToolFailure wraps a human-readable reason in a failed envelope.
// An empty reason is replaced so failures always carry text.
func ToolFailure(reason string) ToolResult {
	if reason == "" {
		reason = "unknown error"
	}
	return ToolResult{Success: false, Error: reason}
}

// RepositoryFile is one blob in a repository tree.
type RepositoryFile struct {
	Path string `json:"path"`
	Size int    `json:"size"`
	SHA  string `json:"sha,omitempty"`
}

// RepositoryFileList is the data of list_repository_files.
type RepositoryFileList struct {
	Repository string           `json:"repository"`
	Branch     string           `json:"branch"`
	Files      []RepositoryFile `json:"files"`
	TotalFiles int              `json:"total_files"`
	Truncated  bool             `json:"truncated"`
}

// RepositoryFileContent is a file read at a specific version.
type RepositoryFileContent struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

// SchemaColumn describes one column of a target database table.
type SchemaColumn struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
}

// SchemaTable describes one table of a target database.
type SchemaTable struct {
	Schema  string         `json:"schema,omitempty"`
	Name    string         `json:"name"`
	Columns []SchemaColumn `json:"columns"`
}

// DatabaseSchema is the data of get_database_schema.
type DatabaseSchema struct {
	DatabaseType string        `json:"database_type"`
	Tables       []SchemaTable `json:"tables"`
	TotalTables  int           `json:"total_tables"`
	Truncated    bool          `json:"truncated"`
}

// WebSearchResult is the data of web_search.
type WebSearchResult struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Sources []string `json:"sources,omitempty"`
}

// StatementResult is the outcome of executing a confirmed statement.
type StatementResult struct {
	RowsAffected int64            `json:"rows_affected"`
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
}

// FileEditResult is the outcome of a confirmed file edit.
type FileEditResult struct {
	Path      string `json:"path"`
	Branch    string `json:"branch"`
	CommitSHA string `json:"commit_sha"`
	BlobSHA   string `json:"blob_sha,omitempty"`
}
