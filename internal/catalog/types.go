// Package catalog provides the agent and tool catalog for the supervisor.
//
// Agents are declared in a YAML catalog file together with their tool
// specs; tool handlers are registered in code and bound by name at load
// time. The registry is thread-safe and supports hot reload so an
// operator can add or retire tools without a restart.
//
// Architecture:
//
//	Intent → Retriever → AllowedAgents[] → Registry.ToolsFor() → Tool.Execute()
package catalog

import (
	"context"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required" yaml:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties" yaml:"properties"`
}

// ExecuteFunc is the signature for tool execution.
// Returns the result string and any error.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is one callable capability owned by an agent.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does. Used for retrieval
	// ranking and LLM tool calling.
	Description string

	// Agent is the owning agent's name.
	Agent string

	// Source names the upstream data source, which keys the result
	// cache TTL table (weather, statistics, parliament, ...).
	Source string

	// Meta marks discovery/search tools (list endpoints, KPI search)
	// that produce no user-facing data on their own.
	Meta bool

	// Category groups the agent's tools for domain fan-out. Tools in
	// different categories of one agent can run as one concurrent
	// batch. Empty means the tool never participates in fan-out.
	Category string

	// Triggers are lowercase keywords that activate the tool's
	// category when they occur in the normalized query.
	Triggers []string

	// Baseline marks a category that runs in every fan-out batch,
	// trigger hit or not.
	Baseline bool

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema

	// Priority is used when multiple tools match. Higher priority
	// tools are preferred (default 50).
	Priority int
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Agent == "" {
		return ErrToolAgentEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Agent is one domain specialist the supervisor can route work to.
type Agent struct {
	// Name is the unique identifier for the agent.
	Name string `yaml:"name"`

	// Description is the retrieval text: what the agent covers and
	// the kinds of questions it answers.
	Description string `yaml:"description"`

	// Capabilities are short keyword phrases that sharpen lexical
	// matching beyond the description prose.
	Capabilities []string `yaml:"capabilities"`

	// Sensitive marks agents whose actions need human approval
	// before execution.
	Sensitive bool `yaml:"sensitive"`

	// Pinned keeps the agent's full tool namespace visible to
	// shortlisting even when keyword matching finds nothing strong.
	Pinned bool `yaml:"pinned"`
}

// RetrievalText returns the text an embedding or keyword ranker should
// index for this agent.
func (a *Agent) RetrievalText() string {
	text := a.Name + ": " + a.Description
	for _, c := range a.Capabilities {
		text += " " + c
	}
	return text
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Result is the string output from the tool.
	Result string

	// Error is set if the tool failed.
	Error error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *ToolResult) IsSuccess() bool {
	return r.Error == nil
}
