package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"github.com/agentpipe/agentpipe/logging"
)

// reconnectErrorPatterns lists error fragments that indicate a dropped or
// expired session worth reconnecting. Conservative on purpose: configuration
// errors and slow calls are excluded.
var reconnectErrorPatterns = []string{
	"session_expired:",
	"transport is closed",
	"client not initialized",
	"not initialized",
	"connection refused",
	"connection reset",
	"EOF",
	"broken pipe",
	"session not found",
}

// errSessionClosed reports use after close. Deliberately matches none of the
// reconnect patterns so a released session is never silently reopened.
var errSessionClosed = errors.New("mcp session closed")

// sessionManager owns the MCP client connection. All lifecycle transitions
// happen under the mutex; operations take the read lock so concurrent calls
// share the session safely.
type sessionManager struct {
	config            ConnectionConfig
	clientOptions     []mcp.ClientOption
	reconnectAttempts int
	logger            logging.Logger

	mu             sync.RWMutex
	client         mcp.Connector
	connected      bool
	initialized    bool
	closed         bool
	reconnectGroup singleflight.Group
}

func newSessionManager(config ConnectionConfig, clientOptions []mcp.ClientOption, reconnectAttempts int, logger logging.Logger) *sessionManager {
	return &sessionManager{
		config:            config,
		clientOptions:     clientOptions,
		reconnectAttempts: reconnectAttempts,
		logger:            logger,
	}
}

func (m *sessionManager) endpoint() string {
	if m.config.ServerURL != "" {
		return m.config.ServerURL
	}
	return m.config.Command
}

// connect establishes and initializes the session. Idempotent: an already
// connected session returns immediately.
func (m *sessionManager) connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errSessionClosed
	}
	if m.connected && m.initialized {
		return nil
	}

	client, err := m.createClient()
	if err != nil {
		return fmt.Errorf("create MCP client: %w", err)
	}
	m.client = client
	m.connected = true

	if err := m.initializeLocked(ctx); err != nil {
		m.connected = false
		m.client = nil
		if closeErr := client.Close(); closeErr != nil {
			m.logger.Warn("mcp.session.close_after_init_failure", "error", closeErr)
		}
		return fmt.Errorf("initialize MCP session: %w", err)
	}

	return nil
}

// createClient builds the transport-specific client.
func (m *sessionManager) createClient() (mcp.Connector, error) {
	if err := validateTransport(m.config.Transport); err != nil {
		return nil, err
	}

	switch m.config.Transport {
	case "stdio":
		config := mcp.StdioTransportConfig{
			ServerParams: mcp.StdioServerParameters{
				Command: m.config.Command,
				Args:    m.config.Args,
			},
			Timeout: m.config.Timeout,
		}
		return mcp.NewStdioClient(config, m.config.ClientInfo)

	case "sse":
		return mcp.NewSSEClient(m.config.ServerURL, m.config.ClientInfo, m.httpOptions()...)

	default: // streamable
		return mcp.NewClient(m.config.ServerURL, m.config.ClientInfo, m.httpOptions()...)
	}
}

func (m *sessionManager) httpOptions() []mcp.ClientOption {
	var options []mcp.ClientOption
	if len(m.config.Headers) > 0 {
		headers := http.Header{}
		for k, v := range m.config.Headers {
			headers.Set(k, v)
		}
		options = append(options, mcp.WithHTTPHeaders(headers))
	}
	return append(options, m.clientOptions...)
}

// opContext applies the configured timeout when the caller brought no deadline.
func (m *sessionManager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.Timeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			return context.WithTimeout(ctx, m.config.Timeout)
		}
	}
	return ctx, func() {}
}

func (m *sessionManager) initializeLocked(ctx context.Context) error {
	if m.initialized {
		return nil
	}

	initCtx, cancel := m.opContext(ctx)
	defer cancel()

	initResp, err := m.client.Initialize(initCtx, &mcp.InitializeRequest{})
	if err != nil {
		return err
	}

	m.logger.Debug("mcp.session.initialized",
		"server_name", initResp.ServerInfo.Name,
		"server_version", initResp.ServerInfo.Version,
		"protocol_version", initResp.ProtocolVersion)

	m.initialized = true
	return nil
}

// listTools retrieves the server's tool list.
func (m *sessionManager) listTools(ctx context.Context) ([]mcp.Tool, error) {
	var result []mcp.Tool

	err := m.withReconnect(ctx, func() error {
		m.mu.RLock()
		defer m.mu.RUnlock()

		if m.client == nil {
			return fmt.Errorf("transport is closed")
		}

		listCtx, cancel := m.opContext(ctx)
		defer cancel()

		listResp, err := m.client.ListTools(listCtx, &mcp.ListToolsRequest{})
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}
		result = listResp.Tools
		return nil
	})

	return result, err
}

// callTool executes a tool call over the session and awaits the correlated
// response.
func (m *sessionManager) callTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	var result *mcp.CallToolResult

	err := m.withReconnect(ctx, func() error {
		m.mu.RLock()
		defer m.mu.RUnlock()

		if m.client == nil {
			return fmt.Errorf("transport is closed")
		}

		callCtx, cancel := m.opContext(ctx)
		defer cancel()

		callReq := &mcp.CallToolRequest{}
		callReq.Params.Name = name
		callReq.Params.Arguments = arguments

		callResp, err := m.client.CallTool(callCtx, callReq)
		if err != nil {
			return fmt.Errorf("call tool %s: %w", name, err)
		}
		result = callResp
		return nil
	})

	return result, err
}

// close shuts the session down for good. Idempotent; subsequent operations
// fail with errSessionClosed and never reconnect.
func (m *sessionManager) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	if !m.connected || m.client == nil {
		return nil
	}

	err := m.client.Close()
	m.connected = false
	m.initialized = false
	m.client = nil

	if err != nil {
		return fmt.Errorf("close MCP client: %w", err)
	}
	return nil
}

// withReconnect runs op, and on a session-loss error recreates the session
// and retries up to the configured attempt bound. Concurrent losers of the
// same dropped session share a single reconnection via singleflight.
func (m *sessionManager) withReconnect(ctx context.Context, op func() error) error {
	if m.isClosed() {
		return errSessionClosed
	}

	err := op()
	if err == nil {
		return nil
	}
	if !isReconnectable(err) {
		return err
	}

	for attempt := 1; attempt <= m.reconnectAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("reconnection aborted: %w", ctx.Err())
		}

		m.logger.Debug("mcp.session.reconnect", "attempt", attempt, "max", m.reconnectAttempts)

		if _, reconnectErr, _ := m.reconnectGroup.Do("reconnect", func() (any, error) {
			return nil, m.recreateSession(ctx)
		}); reconnectErr != nil {
			if attempt >= m.reconnectAttempts {
				return err
			}
			continue
		}

		if retryErr := op(); retryErr == nil {
			return nil
		} else if !isReconnectable(retryErr) {
			return retryErr
		} else {
			err = retryErr
		}
	}
	return err
}

func (m *sessionManager) recreateSession(ctx context.Context) error {
	m.mu.Lock()
	if m.client != nil {
		if closeErr := m.client.Close(); closeErr != nil {
			m.logger.Warn("mcp.session.close_before_reconnect", "error", closeErr)
		}
	}
	m.client = nil
	m.connected = false
	m.initialized = false
	m.mu.Unlock()

	return m.connect(ctx)
}

func (m *sessionManager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func isReconnectable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range reconnectErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
