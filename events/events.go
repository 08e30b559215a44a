package events

import (
	"time"

	"github.com/go-openapi/strfmt"
)

// Kind names an event type on the wire. The values are part of the public
// streaming contract and double as SSE event names.
type Kind string

const (
	KindPlan     Kind = "plan"
	KindToolCall Kind = "tool_call"
	KindToken    Kind = "token"
	KindMessage  Kind = "message"
	KindDone     Kind = "done"
	KindError    Kind = "error"
	KindPing     Kind = "ping"
)

// Event is the closed set of things a run can publish. Sequence numbers are
// assigned by the bus at publish time, not by producers; an event that has
// not been published yet carries Seq 0.
type Event interface {
	event()
	EventKind() Kind
}

// Terminal reports whether k closes a run's event stream.
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindError
}

// Plan is published at the start of a tool round and lists the calls the
// model asked for in that round.
type Plan struct {
	RunID     string          `json:"run_id"`
	Seq       uint64          `json:"seq"`
	Round     int             `json:"round"`
	Tools     []string        `json:"tools"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

func (Plan) event()          {}
func (Plan) EventKind() Kind { return KindPlan }

// ToolCall is published once per requested invocation, before the call is
// dispatched to its provider.
type ToolCall struct {
	RunID     string          `json:"run_id"`
	Seq       uint64          `json:"seq"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

func (ToolCall) event()          {}
func (ToolCall) EventKind() Kind { return KindToolCall }

// Token is a streaming fragment of assistant output. The single-shot
// completion loop does not emit tokens; the kind exists for streaming
// gateways and is delivered like any other event.
type Token struct {
	RunID     string          `json:"run_id"`
	Seq       uint64          `json:"seq"`
	Text      string          `json:"text"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

func (Token) event()          {}
func (Token) EventKind() Kind { return KindToken }

// Message is the final assistant answer for a run.
type Message struct {
	RunID     string          `json:"run_id"`
	Seq       uint64          `json:"seq"`
	Content   string          `json:"content"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

func (Message) event()          {}
func (Message) EventKind() Kind { return KindMessage }

// Done closes a successful run.
type Done struct {
	RunID        string          `json:"run_id"`
	Seq          uint64          `json:"seq"`
	FinalMessage string          `json:"final_message,omitempty"`
	ToolsUsed    []string        `json:"tools_used,omitempty"`
	Timestamp    strfmt.DateTime `json:"timestamp"`
}

func (Done) event()          {}
func (Done) EventKind() Kind { return KindDone }

// Error closes a failed run. Code distinguishes runaway loops
// ("step_budget_exceeded") from gateway failures ("model_gateway_error").
type Error struct {
	RunID     string          `json:"run_id"`
	Seq       uint64          `json:"seq"`
	Err       error           `json:"error"`
	Code      string          `json:"code,omitempty"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

func (Error) event()          {}
func (Error) EventKind() Kind { return KindError }

func (e Error) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Err.Error()
}

// Ping is a subscriber-local heartbeat. Pings never consume run sequence
// numbers and are never buffered for replay.
type Ping struct {
	RunID     string          `json:"run_id"`
	Seq       uint64          `json:"seq"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

func (Ping) event()          {}
func (Ping) EventKind() Kind { return KindPing }

// NewPing returns a heartbeat for the given run stamped with the current time.
func NewPing(runID string) Ping {
	return Ping{RunID: runID, Timestamp: strfmt.DateTime(time.Now())}
}

// SequenceOf returns the sequence number stamped on e, or 0 when e has not
// been through a publish yet.
func SequenceOf(e Event) uint64 {
	switch ev := e.(type) {
	case Plan:
		return ev.Seq
	case ToolCall:
		return ev.Seq
	case Token:
		return ev.Seq
	case Message:
		return ev.Seq
	case Done:
		return ev.Seq
	case Error:
		return ev.Seq
	case Ping:
		return ev.Seq
	default:
		return 0
	}
}

// RunIDOf returns the run an event belongs to.
func RunIDOf(e Event) string {
	switch ev := e.(type) {
	case Plan:
		return ev.RunID
	case ToolCall:
		return ev.RunID
	case Token:
		return ev.RunID
	case Message:
		return ev.RunID
	case Done:
		return ev.RunID
	case Error:
		return ev.RunID
	case Ping:
		return ev.RunID
	default:
		return ""
	}
}

// WithSequence returns a copy of e stamped with seq. Only the bus should
// call this; producers hand over unstamped events.
func WithSequence(e Event, seq uint64) Event {
	switch ev := e.(type) {
	case Plan:
		ev.Seq = seq
		return ev
	case ToolCall:
		ev.Seq = seq
		return ev
	case Token:
		ev.Seq = seq
		return ev
	case Message:
		ev.Seq = seq
		return ev
	case Done:
		ev.Seq = seq
		return ev
	case Error:
		ev.Seq = seq
		return ev
	case Ping:
		ev.Seq = seq
		return ev
	default:
		return e
	}
}
