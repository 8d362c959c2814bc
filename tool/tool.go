// Package tool implements the function / tool calling subsystem that lets step
// agents invoke structured capabilities (remote APIs, computations,
// side-effects) with schema validated arguments, consistent error handling and
// rich metadata for LLM guidance.
//
// Tools arrive in named toolsets resolved from a Provider. Two remote provider
// implementations live in the subpackages toolbox (synchronous HTTP catalog)
// and mcp (streaming MCP servers); in-process Go functions are wrapped with
// FunctionTool.
package tool

import (
	"context"
	"fmt"

	"github.com/agentpipe/agentpipe/internal/util"
)

// Tool defines the interface for extending step agents with external functions.
//
// Tools can be attached to steps to enable function calling, allowing agents
// to perform actions beyond text generation such as API calls, calculations,
// database queries, or any other programmatic operations.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// This schema is used for parameter validation and LLM function calling.
	Parameters() map[string]any

	// Call executes the tool with structured arguments. Arguments are parsed
	// from JSON and validated against the tool's schema before invocation.
	// The context carries cancellation and deadlines for remote tools.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
