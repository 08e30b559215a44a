package broker

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnection struct {
	tools     []ToolInfo
	connected atomic.Bool
	connects  atomic.Int32
	lastCall  struct {
		name string
		args string
	}
	result  *CallResult
	callErr error
}

func (f *fakeConnection) Connect(_ context.Context) error {
	f.connects.Add(1)
	f.connected.Store(true)
	return nil
}

func (f *fakeConnection) Close() error {
	f.connected.Store(false)
	return nil
}

func (f *fakeConnection) Connected() bool { return f.connected.Load() }

func (f *fakeConnection) ListTools(_ context.Context) ([]ToolInfo, error) {
	return f.tools, nil
}

func (f *fakeConnection) CallTool(_ context.Context, name string, args json.RawMessage) (*CallResult, error) {
	f.lastCall.name = name
	f.lastCall.args = string(args)
	if f.callErr != nil {
		return nil, f.callErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return TextResult("ok", false), nil
}

func newTestBroker(t *testing.T, conn Connection) *Broker {
	t.Helper()
	b, err := New(WithProvider("demo", conn))
	require.NoError(t, err)
	require.NoError(t, b.Discover(context.Background()))
	return b
}

func TestDiscoverRegistersTools(t *testing.T) {
	conn := &fakeConnection{tools: []ToolInfo{
		{Name: "echo", Description: "Echoes input"},
		{Name: "read.file", Description: "Reads a file"},
	}}
	b := newTestBroker(t, conn)

	descs := b.ListAllowed(nil)
	require.Len(t, descs, 2)
	assert.Equal(t, "tool__demo__echo", descs[0].FQName)
	assert.Equal(t, "tool__demo__read_file", descs[1].FQName)
	assert.Equal(t, "read.file", descs[1].Name)
}

func TestListAllowedFilters(t *testing.T) {
	conn := &fakeConnection{tools: []ToolInfo{
		{Name: "echo"},
		{Name: "delete_everything"},
	}}
	b := newTestBroker(t, conn)

	descs := b.ListAllowed([]string{"tool__demo__echo"})
	require.Len(t, descs, 1)
	assert.Equal(t, "tool__demo__echo", descs[0].FQName)
}

func TestRegisterTruncationCollision(t *testing.T) {
	long := strings.Repeat("x", 80)
	conn := &fakeConnection{tools: []ToolInfo{
		{Name: long + "a"},
		{Name: long + "b"},
	}}
	b := newTestBroker(t, conn)

	// Both names truncate to the same 64 characters; the first registration
	// wins.
	assert.Len(t, b.ListAllowed(nil), 1)
}

func TestInvoke(t *testing.T) {
	t.Run("routes to the bare tool name", func(t *testing.T) {
		conn := &fakeConnection{tools: []ToolInfo{{Name: "read.file"}}}
		b := newTestBroker(t, conn)

		res, err := b.Invoke(context.Background(), "tool__demo__read_file", `{"path":"/tmp/x"}`)
		require.NoError(t, err)
		assert.Equal(t, "ok", res.Content)
		assert.False(t, res.IsError)
		assert.Equal(t, "read.file", conn.lastCall.name)
		assert.Equal(t, `{"path":"/tmp/x"}`, conn.lastCall.args)
	})

	t.Run("unknown tool is a routing error", func(t *testing.T) {
		b := newTestBroker(t, &fakeConnection{})

		_, err := b.Invoke(context.Background(), "tool__demo__missing", `{}`)
		var rerr *RoutingError
		require.ErrorAs(t, err, &rerr)
	})

	t.Run("malformed name is a routing error", func(t *testing.T) {
		b := newTestBroker(t, &fakeConnection{})

		_, err := b.Invoke(context.Background(), "not_a_tool_name", `{}`)
		var rerr *RoutingError
		require.ErrorAs(t, err, &rerr)
	})

	t.Run("invalid json arguments", func(t *testing.T) {
		conn := &fakeConnection{tools: []ToolInfo{{Name: "echo"}}}
		b := newTestBroker(t, conn)

		_, err := b.Invoke(context.Background(), "tool__demo__echo", `{"oops`)
		var aerr *InvalidArgumentsError
		require.ErrorAs(t, err, &aerr)
	})

	t.Run("schema violation", func(t *testing.T) {
		conn := &fakeConnection{tools: []ToolInfo{{
			Name:        "echo",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"],"additionalProperties":false}`),
		}}}
		b := newTestBroker(t, conn)

		_, err := b.Invoke(context.Background(), "tool__demo__echo", `{"wrong":"field"}`)
		var aerr *InvalidArgumentsError
		require.ErrorAs(t, err, &aerr)

		_, err = b.Invoke(context.Background(), "tool__demo__echo", `{"text":"hi"}`)
		require.NoError(t, err)
	})

	t.Run("empty arguments become an empty object", func(t *testing.T) {
		conn := &fakeConnection{tools: []ToolInfo{{Name: "echo"}}}
		b := newTestBroker(t, conn)

		_, err := b.Invoke(context.Background(), "tool__demo__echo", "")
		require.NoError(t, err)
		assert.Equal(t, "{}", conn.lastCall.args)
	})

	t.Run("tool level errors flow back as content", func(t *testing.T) {
		conn := &fakeConnection{
			tools:  []ToolInfo{{Name: "echo"}},
			result: TextResult("disk on fire", true),
		}
		b := newTestBroker(t, conn)

		res, err := b.Invoke(context.Background(), "tool__demo__echo", `{}`)
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, "disk on fire", res.Content)
	})

	t.Run("redials a dropped connection", func(t *testing.T) {
		conn := &fakeConnection{tools: []ToolInfo{{Name: "echo"}}}
		b := newTestBroker(t, conn)
		require.NoError(t, conn.Close())

		_, err := b.Invoke(context.Background(), "tool__demo__echo", `{}`)
		require.NoError(t, err)
		assert.Equal(t, int32(2), conn.connects.Load())
	})
}

func TestProviders(t *testing.T) {
	conn := &fakeConnection{}
	b := newTestBroker(t, conn)

	status := b.Providers()
	assert.True(t, status["demo"])

	require.NoError(t, b.Close())
	status = b.Providers()
	assert.False(t, status["demo"])
}

func TestLocalProvider(t *testing.T) {
	type echoArgs struct {
		Text string `json:"text"`
	}

	p := NewLocalProvider("demo", LocalTool{
		Name:        "echo",
		Description: "Echoes input",
		Schema:      SchemaFor[echoArgs](),
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			var a echoArgs
			if err := json.Unmarshal(args, &a); err != nil {
				return "", err
			}
			return a.Text, nil
		},
	})

	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))
	assert.True(t, p.Connected())

	tools, err := p.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.NotEmpty(t, tools[0].InputSchema)

	res, err := p.CallTool(ctx, "echo", json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text())
	assert.False(t, res.IsError)

	_, err = p.CallTool(ctx, "missing", nil)
	require.Error(t, err)
}

func TestObjectSchema(t *testing.T) {
	schema := ObjectSchema(
		Prop{Name: "path", Type: "string", Description: "File to read", Required: true},
		Prop{Name: "limit", Type: "integer"},
	)

	compiled, err := compileSchema(schema)
	require.NoError(t, err)

	var doc any
	require.NoError(t, json.Unmarshal([]byte(`{"limit":3}`), &doc))
	assert.Error(t, compiled.Validate(doc))

	require.NoError(t, json.Unmarshal([]byte(`{"path":"/tmp/x","limit":3}`), &doc))
	assert.NoError(t, compiled.Validate(doc))
}

func TestCallResultText(t *testing.T) {
	res := &CallResult{Content: []ContentBlock{
		{Type: "text", Text: "one"},
		{Type: "image", Data: "deadbeef"},
		{Type: "text", Text: "two"},
	}}
	assert.Equal(t, "one\ntwo", res.Text())
}

func TestProviderConfigConnection(t *testing.T) {
	_, err := ProviderConfig{Name: "x", Transport: "carrier-pigeon"}.connection()
	require.Error(t, err)

	conn, err := ProviderConfig{Name: "x", Transport: TransportStdio, Command: "server"}.connection()
	require.NoError(t, err)
	assert.IsType(t, &stdioConnection{}, conn)

	conn, err = ProviderConfig{Name: "x", Transport: TransportHTTP, URL: "http://localhost:9000"}.connection()
	require.NoError(t, err)
	assert.IsType(t, &httpConnection{}, conn)
}
