// Package toolbox implements a tool.Provider backed by a Toolbox catalog
// service. The service exposes named toolsets over plain HTTP: a manifest
// endpoint describing each tool's parameters, and per-tool invoke endpoints
// accepting JSON arguments.
//
// The provider is stateless between calls: every Resolve and every tool
// invocation is an independent request/response exchange, so the provider is
// safe for concurrent use and Close has nothing to release.
package toolbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentpipe/agentpipe/core"
	"github.com/agentpipe/agentpipe/logging"
	"github.com/agentpipe/agentpipe/tool"
)

// Options configure the toolbox provider.
type Options struct {
	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
	// AuthToken, when set, is sent as a bearer token on every request.
	AuthToken string
	// Logger receives resolve / invoke telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Provider resolves toolsets from a Toolbox catalog service.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
	logger     logging.Logger
}

// NewProvider creates a provider for the catalog service at baseURL.
func NewProvider(baseURL string, optFns ...func(o *Options)) *Provider {
	opts := Options{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: opts.HTTPClient,
		authToken:  opts.AuthToken,
		logger:     opts.Logger,
	}
}

// manifest is the wire shape of the toolset endpoint.
type manifest struct {
	ServerVersion string                  `json:"serverVersion"`
	Tools         map[string]toolManifest `json:"tools"`
}

type toolManifest struct {
	Description string          `json:"description"`
	Parameters  []paramManifest `json:"parameters"`
}

type paramManifest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Resolve fetches the manifest for the named toolset and materializes its
// tools. A 404 reports ToolsetNotFoundError, 401/403 AuthError, and transport
// failures ConnectionError.
func (p *Provider) Resolve(ctx context.Context, name string) (*tool.Toolset, error) {
	endpoint := fmt.Sprintf("%s/api/toolset/%s", p.baseURL, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build toolset request: %w", err)
	}
	p.setHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &core.ConnectionError{Endpoint: endpoint, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &core.ToolsetNotFoundError{Toolset: name}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &core.AuthError{Endpoint: endpoint, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &core.ConnectionError{Endpoint: endpoint, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var m manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, &core.ConnectionError{Endpoint: endpoint, Cause: fmt.Errorf("decode manifest: %w", err)}
	}

	tools := make([]tool.Tool, 0, len(m.Tools))
	for toolName, tm := range m.Tools {
		tools = append(tools, &remoteTool{
			name:        toolName,
			description: tm.Description,
			parameters:  schemaFromParams(tm.Parameters),
			invokeURL:   fmt.Sprintf("%s/api/tool/%s/invoke", p.baseURL, url.PathEscape(toolName)),
			provider:    p,
		})
	}

	p.logger.Debug("toolbox.resolve", "toolset", name, "tools", len(tools))

	return tool.NewToolset(name, tools...)
}

// Close implements tool.Provider. The provider holds no persistent
// connections, so there is nothing to release.
func (p *Provider) Close() error { return nil }

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}
}

// schemaFromParams converts the manifest's flat parameter list into the JSON
// schema shape used for function declarations.
func schemaFromParams(params []paramManifest) map[string]any {
	properties := map[string]any{}
	var required []string
	for _, p := range params {
		properties[p.Name] = map[string]any{
			"type":        jsonSchemaType(p.Type),
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonSchemaType(t string) string {
	switch t {
	case "integer", "float", "number":
		return "number"
	case "boolean":
		return "boolean"
	case "array":
		return "array"
	case "object", "map":
		return "object"
	default:
		return "string"
	}
}

// remoteTool invokes a single catalog tool over HTTP.
type remoteTool struct {
	name        string
	description string
	parameters  map[string]any
	invokeURL   string
	provider    *Provider
}

// invokeResult is the wire shape of the invoke endpoint.
type invokeResult struct {
	Result any    `json:"result"`
	Error  string `json:"error"`
}

func (t *remoteTool) Name() string               { return t.name }
func (t *remoteTool) Description() string        { return t.description }
func (t *remoteTool) Parameters() map[string]any { return t.parameters }

// Call POSTs the arguments to the tool's invoke endpoint. Any failure —
// transport, non-2xx status, malformed body, server-reported error — is
// reported as *core.ToolInvocationError so the agent layer can absorb it into
// the conversation rather than aborting the step.
func (t *remoteTool) Call(ctx context.Context, args map[string]any) (any, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, &core.ToolInvocationError{Tool: t.name, Cause: fmt.Errorf("encode arguments: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.invokeURL, bytes.NewReader(body))
	if err != nil {
		return nil, &core.ToolInvocationError{Tool: t.name, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	t.provider.setHeaders(req)

	start := time.Now()
	resp, err := t.provider.httpClient.Do(req)
	if err != nil {
		return nil, &core.ToolInvocationError{Tool: t.name, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &core.ToolInvocationError{
			Tool:  t.name,
			Cause: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	var result invokeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &core.ToolInvocationError{Tool: t.name, Cause: fmt.Errorf("decode result: %w", err)}
	}
	if result.Error != "" {
		return nil, &core.ToolInvocationError{Tool: t.name, Cause: fmt.Errorf("%s", result.Error)}
	}

	t.provider.logger.Debug("toolbox.invoke", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result.Result, nil
}
