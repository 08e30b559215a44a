// Package broker connects tool providers to runs. It discovers the tools each
// provider offers, presents them to the model under fully qualified names, and
// routes tool calls back to the owning provider.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"

	"github.com/casualjim/herald/pkg/slogx"
	"github.com/casualjim/herald/tool"
)

const defaultCallTimeout = 30 * time.Second

// WithCallTimeout bounds a single tool invocation.
var WithCallTimeout = opts.ForName[Broker, time.Duration]("callTimeout")

// WithProvider registers a connection under a provider name.
func WithProvider(name string, conn Connection) opts.Option[Broker] {
	return opts.Type[Broker](func(b *Broker) error {
		if _, loaded := b.conns.GetOrSet(name, conn); loaded {
			return fmt.Errorf("provider %q registered twice", name)
		}
		b.reconnect.Set(name, &sync.Mutex{})
		return nil
	})
}

// WithProviderConfig registers a provider from its transport configuration.
func WithProviderConfig(config ProviderConfig) opts.Option[Broker] {
	return opts.Type[Broker](func(b *Broker) error {
		conn, err := config.connection()
		if err != nil {
			return err
		}
		if _, loaded := b.conns.GetOrSet(config.Name, conn); loaded {
			return fmt.Errorf("provider %q registered twice", config.Name)
		}
		b.reconnect.Set(config.Name, &sync.Mutex{})
		return nil
	})
}

type registration struct {
	descriptor tool.Descriptor
	schema     *jsonschema.Schema
}

// Broker owns the provider connections and the tool registry. Safe for
// concurrent use once Discover has run.
type Broker struct {
	conns       *haxmap.Map[string, Connection]
	reconnect   *haxmap.Map[string, *sync.Mutex]
	registry    *haxmap.Map[string, registration]
	callTimeout time.Duration
}

// New builds a broker. Call Discover before handing it to runs.
func New(options ...opts.Option[Broker]) (*Broker, error) {
	b := &Broker{
		conns:       haxmap.New[string, Connection](),
		reconnect:   haxmap.New[string, *sync.Mutex](),
		registry:    haxmap.New[string, registration](),
		callTimeout: defaultCallTimeout,
	}
	if err := opts.Apply(b, options); err != nil {
		return nil, err
	}
	return b, nil
}

// Discover connects every provider and registers its tools. A provider that
// fails to connect or list is logged and skipped; the rest keep working.
func (b *Broker) Discover(ctx context.Context) error {
	b.conns.ForEach(func(name string, conn Connection) bool {
		if err := conn.Connect(ctx); err != nil {
			slog.Warn("tool provider failed to connect", slogx.Provider(name), slogx.Error(err))
			return true
		}
		infos, err := conn.ListTools(ctx)
		if err != nil {
			slog.Warn("tool provider failed to list tools", slogx.Provider(name), slogx.Error(err))
			return true
		}
		for _, info := range infos {
			b.register(name, info)
		}
		slog.Info("registered tool provider", slogx.Provider(name), slog.Int("tools", len(infos)))
		return true
	})
	return nil
}

func (b *Broker) register(provider string, info ToolInfo) {
	fq := tool.Encode(provider, info.Name)
	desc := tool.Descriptor{
		Provider:    provider,
		Name:        info.Name,
		FQName:      fq,
		Description: info.Description,
		InputSchema: info.InputSchema,
	}

	if existing, ok := b.registry.Get(fq); ok {
		slog.Warn("tool name collision, keeping first registration",
			slogx.Tool(fq),
			slogx.Provider(existing.descriptor.Provider),
			slog.String("shadowed_provider", provider),
		)
		return
	}

	schema, err := compileSchema(info.InputSchema)
	if err != nil {
		slog.Warn("tool schema does not compile, skipping argument validation",
			slogx.Tool(fq), slogx.Error(err))
	}

	b.registry.Set(fq, registration{descriptor: desc, schema: schema})
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// ListAllowed returns the descriptors whose fully qualified names match the
// allow-list, sorted by name. An empty allow-list matches everything.
func (b *Broker) ListAllowed(patterns []string) []tool.Descriptor {
	var result []tool.Descriptor
	b.registry.ForEach(func(fq string, reg registration) bool {
		if tool.MatchAny(patterns, fq) {
			result = append(result, reg.descriptor)
		}
		return true
	})
	sort.Slice(result, func(i, j int) bool { return result[i].FQName < result[j].FQName })
	return result
}

// Providers reports each registered provider and whether its connection is
// currently up.
func (b *Broker) Providers() map[string]bool {
	status := make(map[string]bool)
	b.conns.ForEach(func(name string, conn Connection) bool {
		status[name] = conn.Connected()
		return true
	})
	return status
}

// Result is the outcome of a tool invocation. IsError marks a tool-level
// failure; the content still goes back to the model.
type Result struct {
	Content string
	IsError bool
}

// Invoke routes a fully qualified tool call to its provider. A dropped
// connection is redialed once before the call; only that provider's calls pay
// the reconnect cost.
func (b *Broker) Invoke(ctx context.Context, fqName string, args string) (Result, error) {
	if _, _, err := tool.Decode(fqName); err != nil {
		return Result{}, &RoutingError{FQName: fqName, Reason: err.Error()}
	}

	reg, ok := b.registry.Get(fqName)
	if !ok {
		return Result{}, &RoutingError{FQName: fqName, Reason: "no such tool registered"}
	}
	provider := reg.descriptor.Provider

	conn, ok := b.conns.Get(provider)
	if !ok {
		return Result{}, &RoutingError{FQName: fqName, Reason: fmt.Sprintf("provider %q not registered", provider)}
	}

	if !conn.Connected() {
		if err := b.redial(ctx, provider, conn); err != nil {
			return Result{}, &ProviderUnavailableError{Provider: provider, Err: err}
		}
	}

	if args == "" {
		args = "{}"
	}
	if !gjson.Valid(args) {
		return Result{}, &InvalidArgumentsError{FQName: fqName, Reason: "arguments are not valid JSON"}
	}
	if reg.schema != nil {
		var decoded any
		if err := json.Unmarshal([]byte(args), &decoded); err != nil {
			return Result{}, &InvalidArgumentsError{FQName: fqName, Reason: err.Error()}
		}
		if err := reg.schema.Validate(decoded); err != nil {
			return Result{}, &InvalidArgumentsError{FQName: fqName, Reason: err.Error()}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	res, err := conn.CallTool(callCtx, reg.descriptor.Name, json.RawMessage(args))
	if err != nil {
		return Result{}, &ProviderUnavailableError{Provider: provider, Err: err}
	}
	return Result{Content: res.Text(), IsError: res.IsError}, nil
}

func (b *Broker) redial(ctx context.Context, provider string, conn Connection) error {
	mu, _ := b.reconnect.GetOrSet(provider, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()

	if conn.Connected() {
		return nil
	}
	slog.Info("redialing tool provider", slogx.Provider(provider))
	return conn.Connect(ctx)
}

// Close shuts down every provider connection.
func (b *Broker) Close() error {
	b.conns.ForEach(func(name string, conn Connection) bool {
		if err := conn.Close(); err != nil {
			slog.Warn("failed to close provider", slogx.Provider(name), slogx.Error(err))
		}
		return true
	})
	return nil
}
