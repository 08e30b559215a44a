package herald

import (
	"errors"
	"fmt"

	"github.com/casualjim/herald/api"
)

// Request is a submission from a chat surface.
type Request struct {
	// Prompt is the user's message.
	Prompt string `json:"prompt"`
	// Requester identifies who asked and on which surface.
	Requester api.Requester `json:"requester"`
	// Context locates where the reply should land.
	Context api.RunContext `json:"context,omitempty"`
}

// ValidationError reports everything wrong with a request at once.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %v", e.Issues)
}

// Validate checks the request before any run state is created.
func (r Request) Validate() error {
	var issues []string
	if r.Prompt == "" {
		issues = append(issues, "prompt is required")
	}
	if r.Requester.Provider == "" {
		issues = append(issues, "requester provider is required")
	}
	if r.Requester.ID == "" {
		issues = append(issues, "requester id is required")
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// Receipt acknowledges a submission. It comes back before the first model
// call happens.
type Receipt struct {
	// RunID identifies the accepted run. For a duplicate submission it is
	// the ID of the run already in flight.
	RunID string `json:"run_id"`
	// Duplicate is true when the submission was suppressed by the dedup
	// window.
	Duplicate bool `json:"duplicate,omitempty"`
}

// ErrEngineClosed is returned by Submit after Shutdown.
var ErrEngineClosed = errors.New("engine is shut down")
