package broker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/casualjim/herald/pkg/slogx"
)

const scannerBuffer = 1024 * 1024

// stdioConnection talks to a provider subprocess over line-delimited JSON-RPC
// on stdin/stdout. Stderr is drained into the log.
type stdioConnection struct {
	config ProviderConfig

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	stop    chan struct{}
	wg      sync.WaitGroup

	pending   map[int64]chan *rpcResponse
	pendingMu sync.Mutex
	nextID    atomic.Int64
	connected atomic.Bool
}

func newStdioConnection(config ProviderConfig) *stdioConnection {
	return &stdioConnection{
		config:  config,
		pending: make(map[int64]chan *rpcResponse),
	}
}

func (t *stdioConnection) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected.Load() {
		return nil
	}
	if t.config.Command == "" {
		return fmt.Errorf("command is required for stdio provider %q", t.config.Name)
	}

	process := exec.Command(t.config.Command, t.config.Args...)
	process.Env = os.Environ()
	for k, v := range t.config.Env {
		process.Env = append(process.Env, k+"="+v)
	}
	if t.config.WorkDir != "" {
		process.Dir = t.config.WorkDir
	}

	stdin, err := process.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, _ := process.StderrPipe()

	if err := process.Start(); err != nil {
		return fmt.Errorf("start provider %q: %w", t.config.Name, err)
	}

	t.process = process
	t.stdin = stdin
	t.stop = make(chan struct{})
	t.connected.Store(true)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, scannerBuffer), scannerBuffer)
	t.wg.Add(1)
	go t.readLoop(scanner)

	if stderr != nil {
		t.wg.Add(1)
		go t.drainStderr(stderr)
	}

	slog.Info("started tool provider process",
		slogx.Provider(t.config.Name),
		slog.String("command", t.config.Command),
		slog.Int("pid", process.Process.Pid),
	)

	if _, err := handshake(ctx, t); err != nil {
		t.closeLocked()
		return err
	}
	return nil
}

func (t *stdioConnection) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *stdioConnection) closeLocked() {
	if !t.connected.Load() {
		return
	}
	t.connected.Store(false)
	close(t.stop)

	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		t.process.Process.Kill()
		t.process.Wait()
	}
	t.wg.Wait()
}

func (t *stdioConnection) Connected() bool {
	return t.connected.Load()
}

func (t *stdioConnection) ListTools(ctx context.Context) ([]ToolInfo, error) {
	return listTools(ctx, t)
}

func (t *stdioConnection) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	return callTool(ctx, t, name, args)
}

func (t *stdioConnection) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	id := t.nextID.Add(1)
	req := rpcRequest{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
	}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	respChan := make(chan *rpcResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.write(req); err != nil {
		return nil, err
	}

	timeout := t.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("request timeout after %v", timeout)
	case <-t.stop:
		return nil, fmt.Errorf("connection closed")
	}
}

func (t *stdioConnection) notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}
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
	return t.write(notif)
}

func (t *stdioConnection) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to provider: %w", err)
	}
	return nil
}

func (t *stdioConnection) readLoop(scanner *bufio.Scanner) {
	defer t.wg.Done()
	defer t.connected.Store(false)

	for scanner.Scan() {
		select {
		case <-t.stop:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil || resp.ID == nil {
			// Notifications and unparseable lines are dropped.
			continue
		}

		t.pendingMu.Lock()
		ch, ok := t.pending[*resp.ID]
		t.pendingMu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Error("provider stdout scanner failed", slogx.Provider(t.config.Name), slogx.Error(err))
	}
}

func (t *stdioConnection) drainStderr(stderr io.ReadCloser) {
	defer t.wg.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		slog.Debug("provider stderr", slogx.Provider(t.config.Name), slog.String("line", scanner.Text()))
	}
}
