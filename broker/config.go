package broker

import (
	"fmt"
	"time"
)

// Transport names for ProviderConfig.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// ProviderConfig describes how to reach a tool provider.
type ProviderConfig struct {
	// Name is the provider's registered name, used in fully qualified tool
	// names.
	Name string `json:"name"`
	// Transport selects stdio or http.
	Transport string `json:"transport"`

	// Command, Args, Env, and WorkDir apply to stdio providers.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	WorkDir string            `json:"workDir,omitempty"`

	// URL and Headers apply to http providers.
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Timeout bounds individual protocol calls.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// connection builds the transport for this config. This is the only place the
// transport branch exists; everything downstream works with Connection.
func (c ProviderConfig) connection() (Connection, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	switch c.Transport {
	case TransportStdio:
		return newStdioConnection(c), nil
	case TransportHTTP:
		return newHTTPConnection(c), nil
	default:
		return nil, fmt.Errorf("provider %q has unknown transport %q", c.Name, c.Transport)
	}
}
