package broker

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
)

// Connection is an established session with a tool provider. Implementations
// cover stdio subprocesses, remote HTTP endpoints, and in-process providers.
type Connection interface {
	// Connect establishes the session, including the protocol handshake.
	Connect(ctx context.Context) error
	// Close tears the session down. Safe to call on a closed connection.
	Close() error
	// Connected reports whether the session is currently usable.
	Connected() bool
	// ListTools returns the provider's tools.
	ListTools(ctx context.Context) ([]ToolInfo, error)
	// CallTool invokes a tool by its bare name with raw JSON arguments.
	CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error)
}

// caller is the transport seam shared by the wire-protocol connections.
type caller interface {
	call(ctx context.Context, method string, params any) (json.RawMessage, error)
	notify(ctx context.Context, method string, params any) error
}

// handshake runs the initialize exchange and returns the server identity.
func handshake(ctx context.Context, c caller) (serverInfo, error) {
	result, err := c.call(ctx, methodInitialize, initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: clientInfo{
			Name:    "herald",
			Version: "1.0.0",
		},
	})
	if err != nil {
		return serverInfo{}, fmt.Errorf("initialize: %w", err)
	}

	var initResult initializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		return serverInfo{}, fmt.Errorf("parse initialize result: %w", err)
	}

	if err := c.notify(ctx, methodInitialized, nil); err != nil {
		return serverInfo{}, fmt.Errorf("initialized notification: %w", err)
	}
	return initResult.ServerInfo, nil
}

// listTools fetches tools over the wire protocol.
func listTools(ctx context.Context, c caller) ([]ToolInfo, error) {
	result, err := c.call(ctx, methodListTools, nil)
	if err != nil {
		return nil, err
	}
	var resp listToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	return resp.Tools, nil
}

// callTool invokes a tool over the wire protocol.
func callTool(ctx context.Context, c caller, name string, args json.RawMessage) (*CallResult, error) {
	result, err := c.call(ctx, methodCallTool, callToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	var callResult CallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &callResult, nil
}
