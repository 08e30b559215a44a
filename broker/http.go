package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// httpConnection talks to a remote provider by POSTing JSON-RPC bodies to a
// single endpoint.
type httpConnection struct {
	config    ProviderConfig
	client    *http.Client
	nextID    atomic.Int64
	connected atomic.Bool
}

func newHTTPConnection(config ProviderConfig) *httpConnection {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &httpConnection{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

func (t *httpConnection) Connect(ctx context.Context) error {
	if t.connected.Load() {
		return nil
	}
	if t.config.URL == "" {
		return fmt.Errorf("url is required for http provider %q", t.config.Name)
	}
	t.connected.Store(true)

	if _, err := handshake(ctx, t); err != nil {
		t.connected.Store(false)
		return err
	}
	return nil
}

func (t *httpConnection) Close() error {
	t.connected.Store(false)
	return nil
}

func (t *httpConnection) Connected() bool {
	return t.connected.Load()
}

func (t *httpConnection) ListTools(ctx context.Context) ([]ToolInfo, error) {
	return listTools(ctx, t)
}

func (t *httpConnection) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	return callTool(ctx, t, name, args)
}

func (t *httpConnection) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	req := rpcRequest{
		JSONRPC: jsonrpcVersion,
		ID:      t.nextID.Add(1),
		Method:  method,
	}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	body, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (t *httpConnection) notify(ctx context.Context, method string, params any) error {
	notif := rpcNotification{
		JSONRPC: jsonrpcVersion,
		Method:  method,
	}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}
	_, err := t.post(ctx, notif)
	return err
}

func (t *httpConnection) post(ctx context.Context, msg any) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}
	return io.ReadAll(resp.Body)
}
