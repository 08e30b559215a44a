package broker

import "fmt"

// RoutingError means a fully qualified tool name could not be resolved to a
// registered provider and tool. The run keeps going; the model receives the
// error as the tool result.
type RoutingError struct {
	FQName string
	Reason string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("cannot route tool call %q: %s", e.FQName, e.Reason)
}

// InvalidArgumentsError means the model produced arguments that are not valid
// JSON or do not satisfy the tool's input schema.
type InvalidArgumentsError struct {
	FQName string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %q: %s", e.FQName, e.Reason)
}

// ProviderUnavailableError means the provider connection is down and could not
// be re-established for this call.
type ProviderUnavailableError struct {
	Provider string
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %q unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Err
}
