package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"github.com/agentpipe/agentpipe/core"
)

// sessionTool exposes a single MCP server tool through the tool.Tool
// interface. Calls are routed over the shared session.
type sessionTool struct {
	mcpTool    mcp.Tool
	parameters map[string]any
	session    *sessionManager
}

func newSessionTool(mcpToolData mcp.Tool, session *sessionManager) *sessionTool {
	return &sessionTool{
		mcpTool:    mcpToolData,
		parameters: schemaToMap(mcpToolData.InputSchema),
		session:    session,
	}
}

func (t *sessionTool) Name() string               { return t.mcpTool.Name }
func (t *sessionTool) Description() string        { return t.mcpTool.Description }
func (t *sessionTool) Parameters() map[string]any { return t.parameters }

// Call sends a CallTool request over the open session and awaits the
// correlated response. Transport loss is handled by the session manager's
// reconnect path; any remaining failure, including a server-side isError
// result, surfaces as *core.ToolInvocationError.
func (t *sessionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	result, err := t.session.callTool(ctx, t.mcpTool.Name, args)
	if err != nil {
		return nil, &core.ToolInvocationError{Tool: t.mcpTool.Name, Cause: err}
	}

	text := flattenContent(result.Content)
	if result.IsError {
		msg := text
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, &core.ToolInvocationError{Tool: t.mcpTool.Name, Cause: fmt.Errorf("%s", msg)}
	}

	return text, nil
}

// flattenContent joins the text content blocks of a result. Non-text blocks
// are ignored; MCP tools used here return textual payloads.
func flattenContent(contents []mcp.Content) string {
	var texts []string
	for _, c := range contents {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// schemaToMap normalizes the server-provided input schema into the plain map
// shape used for function declarations.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	return m
}
