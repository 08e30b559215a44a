// Package audit persists a per-run accounting trail. Each run touches the
// store exactly twice: once when it starts and once when it reaches a
// terminal state.
package audit

import (
	"context"
	"time"

	"github.com/casualjim/herald/api"
)

// Record is written when a run starts.
type Record struct {
	RunID             string
	RequesterProvider string
	RequesterID       string
	ReplyTarget       string
	Prompt            string
	StartedAt         time.Time
}

// Update is written when a run finishes.
type Update struct {
	Status       api.RunStatus
	FinalMessage string
	Error        string
	ToolsUsed    []string
	Latency      time.Duration
}

// Store is the audit trail. Failures are logged by callers and never stop a
// run.
type Store interface {
	// CreateRun records the start of a run and returns the record's storage
	// identifier.
	CreateRun(ctx context.Context, record Record) (string, error)
	// UpdateRun records the outcome against a record identifier returned by
	// CreateRun.
	UpdateRun(ctx context.Context, recordID string, update Update) error
}
