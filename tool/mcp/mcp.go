// Package mcp implements a tool.Provider backed by an MCP (Model Context
// Protocol) server. Unlike the stateless toolbox provider, an MCP provider
// owns a long-lived session: Resolve performs the initialize handshake and
// tool discovery over it, and every invocation is a correlated
// request/response exchange on the same connection.
//
// The session is shared across concurrent pipeline runs. A mutex-guarded
// session manager serializes lifecycle transitions and a singleflight group
// collapses concurrent reconnection attempts after a dropped session.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"github.com/agentpipe/agentpipe/core"
	"github.com/agentpipe/agentpipe/logging"
	"github.com/agentpipe/agentpipe/tool"
)

var defaultClientInfo = mcp.Implementation{
	Name:    "agentpipe",
	Version: "1.0.0",
}

// ConnectionConfig defines how to reach an MCP server.
type ConnectionConfig struct {
	// Transport selects the wire transport: "sse", "streamable" or "stdio".
	Transport string `json:"transport"`

	// Streamable / SSE configuration.
	ServerURL string            `json:"server_url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`

	// Stdio configuration.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// Timeout bounds each individual operation (initialize, list, call)
	// when the caller's context carries no deadline of its own.
	Timeout time.Duration `json:"timeout,omitempty"`

	// ClientInfo identifies this client during the handshake.
	ClientInfo mcp.Implementation `json:"client_info,omitempty"`
}

// Options configure the MCP provider.
type Options struct {
	// Logger receives session and invocation telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
	// ClientOptions are passed through to the underlying MCP client.
	ClientOptions []mcp.ClientOption
	// ReconnectAttempts bounds per-operation session reconnection retries.
	ReconnectAttempts int
}

// Provider resolves toolsets from an MCP server.
type Provider struct {
	session *sessionManager
	logger  logging.Logger
}

// NewProvider creates a provider for the server described by config. No
// connection is made until the first Resolve.
func NewProvider(config ConnectionConfig, optFns ...func(o *Options)) *Provider {
	opts := Options{
		Logger:            logging.NoOpLogger{},
		ReconnectAttempts: 2,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if config.ClientInfo.Name == "" {
		config.ClientInfo = defaultClientInfo
	}
	return &Provider{
		session: newSessionManager(config, opts.ClientOptions, opts.ReconnectAttempts, opts.Logger),
		logger:  opts.Logger,
	}
}

// Resolve connects to the server (initialize handshake) if needed, lists its
// tools and returns them grouped under the requested name. MCP servers expose
// a single flat tool list, so the name is a local label rather than a
// server-side selector.
func (p *Provider) Resolve(ctx context.Context, name string) (*tool.Toolset, error) {
	if err := p.session.connect(ctx); err != nil {
		return nil, classifyConnectError(p.session.endpoint(), err)
	}

	mcpTools, err := p.session.listTools(ctx)
	if err != nil {
		return nil, classifyConnectError(p.session.endpoint(), err)
	}

	tools := make([]tool.Tool, 0, len(mcpTools))
	for _, mt := range mcpTools {
		tools = append(tools, newSessionTool(mt, p.session))
	}

	p.logger.Debug("mcp.resolve", "toolset", name, "tools", len(tools))

	return tool.NewToolset(name, tools...)
}

// Close releases the session. Safe to call repeatedly; a closed session is
// never invoked again.
func (p *Provider) Close() error {
	return p.session.close()
}

// classifyConnectError maps session failures onto the structured error
// taxonomy: credential rejections become AuthError, everything else
// ConnectionError.
func classifyConnectError(endpoint string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") {
		return &core.AuthError{Endpoint: endpoint, Cause: err}
	}
	return &core.ConnectionError{Endpoint: endpoint, Cause: err}
}

func validateTransport(t string) error {
	switch t {
	case "sse", "streamable", "streamable_http", "stdio":
		return nil
	default:
		return fmt.Errorf("unsupported transport: %s, supported: sse, streamable, stdio", t)
	}
}
