package herald

import (
	"time"

	"github.com/fogfish/opts"

	"github.com/casualjim/herald/audit"
	"github.com/casualjim/herald/bus"
	"github.com/casualjim/herald/provider"
)

// Option configures an Engine.
type Option = opts.Option[Engine]

var (
	// WithGateway sets the model gateway runs talk to. Required.
	WithGateway = opts.ForName[Engine, provider.Provider]("gateway")
	// WithBus replaces the default in-process event bus.
	WithBus = opts.ForName[Engine, bus.Bus]("bus")
	// WithAuditStore replaces the default in-memory audit trail.
	WithAuditStore = opts.ForName[Engine, audit.Store]("auditStore")
	// WithInstructions sets the system instructions for every run.
	WithInstructions = opts.ForName[Engine, string]("instructions")
	// WithMaxRounds bounds the model and tool loop per run.
	WithMaxRounds = opts.ForName[Engine, int]("maxRounds")
	// WithTemperature sets the sampling temperature passed to the gateway.
	WithTemperature = opts.ForName[Engine, float64]("temperature")
	// WithGatewayTimeout bounds a single model call.
	WithGatewayTimeout = opts.ForName[Engine, time.Duration]("gatewayTimeout")
	// WithDedupWindow sets how long identical submissions are suppressed.
	WithDedupWindow = opts.ForName[Engine, time.Duration]("dedupWindow")
)

// WithToolBroker wires the tool broker runs route tool calls through.
func WithToolBroker(b ToolBroker) Option {
	return opts.Type[Engine](func(e *Engine) error {
		e.broker = b
		return nil
	})
}

// WithAllowedTools restricts the tools presented to the model. Patterns
// follow the allow-list syntax: exact names, "prefix*", "*suffix", or "*".
func WithAllowedTools(patterns ...string) Option {
	return opts.Type[Engine](func(e *Engine) error {
		e.allowPatterns = patterns
		return nil
	})
}
