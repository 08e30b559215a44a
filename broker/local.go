package broker

import (
	"context"
	"fmt"
	"sync/atomic"

	json "github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Function calling uses a subset of JSON schema
// These flags are necessary to comply with the subset
var reflector = jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
}

// SchemaFor reflects a JSON schema for a tool's argument struct.
func SchemaFor[T any]() json.RawMessage {
	var v T
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	return data
}

// Prop describes one argument for ObjectSchema.
type Prop struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ObjectSchema builds an input schema by hand, for tools whose arguments do
// not map onto a Go struct. Property order is preserved.
func ObjectSchema(props ...Prop) json.RawMessage {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](),
	}
	var required []string
	for _, p := range props {
		schema.Properties.Set(p.Name, &jsonschema.Schema{
			Type:        p.Type,
			Description: p.Description,
		})
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema.Required = required
	data, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	return data
}

// LocalTool is a tool served from inside the process.
type LocalTool struct {
	Name        string
	Description string
	// Schema describes the arguments. Use SchemaFor to derive it from a
	// struct.
	Schema json.RawMessage
	// Handler runs the tool. Returned errors become tool-level errors the
	// model sees as content.
	Handler func(ctx context.Context, args json.RawMessage) (string, error)
}

// LocalProvider serves tools without a subprocess or network hop. It speaks
// the same Connection interface as the wire transports.
type LocalProvider struct {
	name      string
	tools     map[string]LocalTool
	connected atomic.Bool
}

// NewLocalProvider builds an in-process provider with the given tools.
func NewLocalProvider(name string, tools ...LocalTool) *LocalProvider {
	byName := make(map[string]LocalTool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	return &LocalProvider{
		name:  name,
		tools: byName,
	}
}

func (p *LocalProvider) Connect(_ context.Context) error {
	p.connected.Store(true)
	return nil
}

func (p *LocalProvider) Close() error {
	p.connected.Store(false)
	return nil
}

func (p *LocalProvider) Connected() bool {
	return p.connected.Load()
}

func (p *LocalProvider) ListTools(_ context.Context) ([]ToolInfo, error) {
	infos := make([]ToolInfo, 0, len(p.tools))
	for _, t := range p.tools {
		infos = append(infos, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema,
		})
	}
	return infos, nil
}

func (p *LocalProvider) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	t, ok := p.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q not found", name)
	}

	content, err := t.Handler(ctx, args)
	if err != nil {
		return TextResult(err.Error(), true), nil
	}
	return TextResult(content, false), nil
}
