// Package tool describes callable tools and the fully qualified naming scheme
// used to route calls back to the provider that owns them.
package tool

import json "github.com/goccy/go-json"

// Descriptor is the model-facing view of a single tool.
type Descriptor struct {
	// Provider is the registered name of the provider that owns the tool.
	Provider string `json:"provider"`
	// Name is the tool's bare name as the provider reported it.
	Name string `json:"name"`
	// FQName is the fully qualified name presented to the model.
	FQName string `json:"fq_name"`
	// Description tells the model what the tool does.
	Description string `json:"description,omitempty"`
	// InputSchema is the JSON schema for the tool's arguments.
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}
