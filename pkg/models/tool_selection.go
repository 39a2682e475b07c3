package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-agent/pkg/jsonutil"
)

// ToolName identifies one capability the orchestrator can invoke.
type ToolName string

const (
	ToolNone                      ToolName = "none"
	ToolListRepositoryFiles       ToolName = "list_repository_files"
	ToolGetDatabaseSchema         ToolName = "get_database_schema"
	ToolWebSearch                 ToolName = "web_search"
	ToolAddMemory                 ToolName = "add_memory"
	ToolProposeStatementExecution ToolName = "propose_statement_execution"
	ToolProposeFileEdit           ToolName = "propose_file_edit"
)

// RoutableTools lists every tool the router may select, in prompt order.
var RoutableTools = []ToolName{
	ToolNone,
	ToolListRepositoryFiles,
	ToolGetDatabaseSchema,
	ToolWebSearch,
	ToolAddMemory,
	ToolProposeStatementExecution,
	ToolProposeFileEdit,
}

// IsMutating reports whether the tool produces a side effect that needs confirmation.
func (t ToolName) IsMutating() bool {
	return t == ToolProposeStatementExecution || t == ToolProposeFileEdit
}

// ErrUnknownTool is returned when a selection names a tool outside RoutableTools.
var ErrUnknownTool = errors.New("unknown tool")

// ToolParams is the sealed set of per-tool parameter shapes.
type ToolParams interface {
	Tool() ToolName
	Validate() error
}

// NoParams is the parameter shape for ToolNone.
type NoParams struct{}

func (NoParams) Tool() ToolName  { return ToolNone }
func (NoParams) Validate() error { return nil }

// ListRepositoryFilesParams optionally narrows the listing to a path prefix.
type ListRepositoryFilesParams struct {
	PathPrefix string `json:"path_prefix,omitempty"`
}

func (ListRepositoryFilesParams) Tool() ToolName  { return ToolListRepositoryFiles }
func (ListRepositoryFilesParams) Validate() error { return nil }

// GetDatabaseSchemaParams optionally narrows the schema to tables containing a substring.
type GetDatabaseSchemaParams struct {
	TableFilter string `json:"table_filter,omitempty"`
}

func (GetDatabaseSchemaParams) Tool() ToolName  { return ToolGetDatabaseSchema }
func (GetDatabaseSchemaParams) Validate() error { return nil }

// WebSearchParams carries a single search query.
type WebSearchParams struct {
	Query string `json:"query"`
}

func (WebSearchParams) Tool() ToolName { return ToolWebSearch }
func (p WebSearchParams) Validate() error {
	if strings.TrimSpace(p.Query) == "" {
		return fmt.Errorf("query is required")
	}
	return nil
}

// AddMemoryParams carries a fact the user asked to remember.
type AddMemoryParams struct {
	Content string `json:"content"`
}

func (AddMemoryParams) Tool() ToolName { return ToolAddMemory }
func (p AddMemoryParams) Validate() error {
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("content is required")
	}
	return nil
}

// ProposeStatementParams describes a requested database mutation.
// Statement is optional; when empty the proposal builder drafts one from Request.
type ProposeStatementParams struct {
	Request   string `json:"request"`
	Statement string `json:"statement,omitempty"`
}

func (ProposeStatementParams) Tool() ToolName { return ToolProposeStatementExecution }
func (p ProposeStatementParams) Validate() error {
	if strings.TrimSpace(p.Request) == "" && strings.TrimSpace(p.Statement) == "" {
		return fmt.Errorf("request or statement is required")
	}
	return nil
}

// ProposeFileEditParams describes a requested repository file change.
type ProposeFileEditParams struct {
	Path        string `json:"path"`
	Description string `json:"description"`
}

func (ProposeFileEditParams) Tool() ToolName { return ToolProposeFileEdit }
func (p ProposeFileEditParams) Validate() error {
	if strings.TrimSpace(p.Path) == "" {
		return fmt.Errorf("path is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("description is required")
	}
	return nil
}

// ToolSelection is the router's validated output: exactly one tool and its typed parameters.
type ToolSelection struct {
	Tool      ToolName   `json:"tool"`
	Params    ToolParams `json:"parameters"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// NoTool returns the conversational fallback selection.
func NoTool() ToolSelection {
	return ToolSelection{Tool: ToolNone, Params: NoParams{}}
}

// IsNone reports whether no capability is needed.
func (s ToolSelection) IsNone() bool {
	return s.Tool == ToolNone
}

// DecodeToolSelection converts a raw tool name and parameter object into a typed selection.
// Unknown tools, malformed parameters and failed validation all return an error;
// callers decide how to degrade.
func DecodeToolSelection(tool string, rawParams json.RawMessage) (ToolSelection, error) {
	name := ToolName(strings.TrimSpace(strings.ToLower(tool)))
	if name == "" {
		name = ToolNone
	}

	var params ToolParams
	switch name {
	case ToolNone:
		return NoTool(), nil
	case ToolListRepositoryFiles:
		params = decodeInto[ListRepositoryFilesParams](rawParams)
	case ToolGetDatabaseSchema:
		params = decodeInto[GetDatabaseSchemaParams](rawParams)
	case ToolWebSearch:
		params = decodeInto[WebSearchParams](rawParams)
	case ToolAddMemory:
		params = decodeInto[AddMemoryParams](rawParams)
	case ToolProposeStatementExecution:
		params = decodeInto[ProposeStatementParams](rawParams)
	case ToolProposeFileEdit:
		params = decodeInto[ProposeFileEditParams](rawParams)
	default:
		return ToolSelection{}, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}

	if params == nil {
		return ToolSelection{}, fmt.Errorf("invalid parameters for %s", name)
	}
	if err := params.Validate(); err != nil {
		return ToolSelection{}, fmt.Errorf("invalid parameters for %s: %w", name, err)
	}

	return ToolSelection{Tool: name, Params: params}, nil
}

// decodeInto unmarshals raw into T. Empty input yields the zero value; malformed input yields nil.
// Scalar values are coerced to strings since every parameter field is a string.
func decodeInto[T ToolParams](raw json.RawMessage) ToolParams {
	var v T
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return v
	}
	normalized, err := jsonutil.StringifyScalars(raw)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(normalized, &v); err != nil {
		return nil
	}
	return v
}
