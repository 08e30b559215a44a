package api

import "time"

// RunStatus tracks a run through its lifecycle. Transitions are one-way:
// Created -> Running -> {Ok, Error}. Blocked is reserved for policy
// rejections and is never re-entered once a terminal status is reached.
type RunStatus string

const (
	StatusCreated RunStatus = "created"
	StatusRunning RunStatus = "running"
	StatusOk      RunStatus = "ok"
	StatusError   RunStatus = "error"
	StatusBlocked RunStatus = "blocked"
)

// Terminal reports whether no further status transitions are allowed.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusOk, StatusError, StatusBlocked:
		return true
	}
	return false
}

// Requester identifies the originator of a request on whichever upstream
// platform it came from.
type Requester struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
}

// RunContext carries optional addressing for the conversation the request
// belongs to. All fields may be empty.
type RunContext struct {
	ChannelID        string `json:"channel_id,omitempty"`
	ThreadID         string `json:"thread_id,omitempty"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty"`
}

// ReplyTarget returns the most specific reply address available, used as a
// component of the dedup fingerprint.
func (c RunContext) ReplyTarget() string {
	if c.ReplyToMessageID != "" {
		return c.ReplyToMessageID
	}
	if c.ThreadID != "" {
		return c.ThreadID
	}
	return c.ChannelID
}

// Run is one end-to-end processing of a single request through the
// completion loop. A run is owned exclusively by the engine goroutine
// processing it until it reaches a terminal status.
type Run struct {
	ID           string     `json:"id"`
	Status       RunStatus  `json:"status"`
	Prompt       string     `json:"prompt"`
	Requester    Requester  `json:"requester"`
	Context      RunContext `json:"context"`
	StartedAt    time.Time  `json:"started_at"`
	ToolsUsed    []string   `json:"tools_used,omitempty"`
	FinalMessage string     `json:"final_message,omitempty"`
	Error        string     `json:"error,omitempty"`
}
