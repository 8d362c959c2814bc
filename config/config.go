// Package config loads the runtime's external configuration from the
// environment. Only the process boundary reads environment variables; every
// component below it receives explicit values.
package config

import (
	"os"
	"time"

	"github.com/agentpipe/agentpipe/core"
)

// Environment variable names.
const (
	EnvDBToolsURL         = "DB_TOOLS_URL"
	EnvFunctionToolsURL   = "FUNCTION_TOOLS_URL"
	EnvPublicURL          = "PUBLIC_URL"
	EnvDBToolsAuthToken   = "DB_TOOLS_AUTH_TOKEN"
	EnvFunctionToolsToken = "FUNCTION_TOOLS_AUTH_TOKEN"
	EnvListenAddr         = "LISTEN_ADDR"
	EnvModelName          = "MODEL_NAME"
	EnvToolTimeout        = "TOOL_TIMEOUT"
)

// Defaults.
const (
	DefaultListenAddr  = ":8080"
	DefaultToolTimeout = 30 * time.Second
)

// Config is the resolved runtime configuration.
type Config struct {
	// DBToolsURL is the base URL of the Toolbox catalog service.
	DBToolsURL string
	// FunctionToolsURL is the URL of the MCP function-tools server.
	FunctionToolsURL string
	// PublicURL is the externally reachable URL advertised on the agent card.
	PublicURL string

	// DBToolsAuthToken, when set, is sent as a bearer token to the catalog service.
	DBToolsAuthToken string
	// FunctionToolsAuthToken, when set, is sent as a bearer token to the MCP server.
	FunctionToolsAuthToken string

	// ListenAddr is the local bind address for serving. Defaults to ":8080".
	ListenAddr string
	// ModelName overrides the default model id.
	ModelName string
	// ToolTimeout bounds individual remote tool operations. Defaults to 30s.
	ToolTimeout time.Duration
}

// FromEnv reads the configuration from the environment. The three connection
// URLs are required; a missing one is reported as
// *core.MissingConfigurationError naming the variable.
func FromEnv() (Config, error) {
	cfg := Config{
		DBToolsURL:             os.Getenv(EnvDBToolsURL),
		FunctionToolsURL:       os.Getenv(EnvFunctionToolsURL),
		PublicURL:              os.Getenv(EnvPublicURL),
		DBToolsAuthToken:       os.Getenv(EnvDBToolsAuthToken),
		FunctionToolsAuthToken: os.Getenv(EnvFunctionToolsToken),
		ListenAddr:             os.Getenv(EnvListenAddr),
		ModelName:              os.Getenv(EnvModelName),
		ToolTimeout:            DefaultToolTimeout,
	}

	for _, required := range []struct {
		name  string
		value string
	}{
		{EnvDBToolsURL, cfg.DBToolsURL},
		{EnvFunctionToolsURL, cfg.FunctionToolsURL},
		{EnvPublicURL, cfg.PublicURL},
	} {
		if required.value == "" {
			return Config{}, &core.MissingConfigurationError{Name: required.name}
		}
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	if raw := os.Getenv(EnvToolTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, &core.MissingConfigurationError{Name: EnvToolTimeout}
		}
		cfg.ToolTimeout = d
	}

	return cfg, nil
}
