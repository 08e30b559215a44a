package events

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// The wire format carries a "type" discriminator alongside the run header so
// streams can be demultiplexed without knowing the payload shape up front.

func marshalHeader(kind Kind, runID string, seq uint64, ts fmt.Stringer) ([]byte, error) {
	result, err := sjson.SetBytes([]byte(`{}`), "type", string(kind))
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "run_id", runID)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "seq", seq)
	if err != nil {
		return nil, err
	}
	if ts.String() != "0001-01-01T00:00:00.000Z" {
		result, err = sjson.SetBytes(result, "timestamp", ts.String())
	}
	return result, err
}

type header struct {
	runID string
	seq   uint64
	ts    string
}

func unmarshalHeader(data []byte, kind Kind) (header, error) {
	if !gjson.ValidBytes(data) {
		return header{}, fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != string(kind) {
		return header{}, fmt.Errorf("missing or invalid type, expected %q", kind)
	}

	runID := gjson.GetBytes(data, "run_id")
	if !runID.Exists() {
		return header{}, errors.New("missing required field 'run_id'")
	}

	return header{
		runID: runID.String(),
		seq:   gjson.GetBytes(data, "seq").Uint(),
		ts:    gjson.GetBytes(data, "timestamp").String(),
	}, nil
}

func (h header) fill(runID *string, seq *uint64, ts interface{ UnmarshalText([]byte) error }) error {
	*runID = h.runID
	*seq = h.seq
	if h.ts != "" {
		if err := ts.UnmarshalText([]byte(h.ts)); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
	}
	return nil
}

// MarshalJSON implements custom JSON marshaling for Plan.
func (p Plan) MarshalJSON() ([]byte, error) {
	result, err := marshalHeader(KindPlan, p.RunID, p.Seq, p.Timestamp)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "round", p.Round)
	if err != nil {
		return nil, err
	}
	tools, err := json.Marshal(p.Tools)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(result, "tools", tools)
}

// UnmarshalJSON implements custom JSON unmarshaling for Plan.
func (p *Plan) UnmarshalJSON(data []byte) error {
	h, err := unmarshalHeader(data, KindPlan)
	if err != nil {
		return err
	}
	if err := h.fill(&p.RunID, &p.Seq, &p.Timestamp); err != nil {
		return err
	}
	p.Round = int(gjson.GetBytes(data, "round").Int())
	if tools := gjson.GetBytes(data, "tools"); tools.Exists() {
		if err := json.Unmarshal([]byte(tools.Raw), &p.Tools); err != nil {
			return fmt.Errorf("invalid tools: %w", err)
		}
	}
	return nil
}

// MarshalJSON implements custom JSON marshaling for ToolCall.
func (t ToolCall) MarshalJSON() ([]byte, error) {
	result, err := marshalHeader(KindToolCall, t.RunID, t.Seq, t.Timestamp)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "id", t.ID)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "name", t.Name)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "arguments", t.Arguments)
}

// UnmarshalJSON implements custom JSON unmarshaling for ToolCall.
func (t *ToolCall) UnmarshalJSON(data []byte) error {
	h, err := unmarshalHeader(data, KindToolCall)
	if err != nil {
		return err
	}
	if err := h.fill(&t.RunID, &t.Seq, &t.Timestamp); err != nil {
		return err
	}
	name := gjson.GetBytes(data, "name")
	if !name.Exists() {
		return errors.New("missing required field 'name'")
	}
	t.ID = gjson.GetBytes(data, "id").String()
	t.Name = name.String()
	t.Arguments = gjson.GetBytes(data, "arguments").String()
	return nil
}

// MarshalJSON implements custom JSON marshaling for Token.
func (t Token) MarshalJSON() ([]byte, error) {
	result, err := marshalHeader(KindToken, t.RunID, t.Seq, t.Timestamp)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "text", t.Text)
}

// UnmarshalJSON implements custom JSON unmarshaling for Token.
func (t *Token) UnmarshalJSON(data []byte) error {
	h, err := unmarshalHeader(data, KindToken)
	if err != nil {
		return err
	}
	if err := h.fill(&t.RunID, &t.Seq, &t.Timestamp); err != nil {
		return err
	}
	t.Text = gjson.GetBytes(data, "text").String()
	return nil
}

// MarshalJSON implements custom JSON marshaling for Message.
func (m Message) MarshalJSON() ([]byte, error) {
	result, err := marshalHeader(KindMessage, m.RunID, m.Seq, m.Timestamp)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "content", m.Content)
}

// UnmarshalJSON implements custom JSON unmarshaling for Message.
func (m *Message) UnmarshalJSON(data []byte) error {
	h, err := unmarshalHeader(data, KindMessage)
	if err != nil {
		return err
	}
	if err := h.fill(&m.RunID, &m.Seq, &m.Timestamp); err != nil {
		return err
	}
	content := gjson.GetBytes(data, "content")
	if !content.Exists() {
		return errors.New("missing required field 'content'")
	}
	m.Content = content.String()
	return nil
}

// MarshalJSON implements custom JSON marshaling for Done.
func (d Done) MarshalJSON() ([]byte, error) {
	result, err := marshalHeader(KindDone, d.RunID, d.Seq, d.Timestamp)
	if err != nil {
		return nil, err
	}
	if d.FinalMessage != "" {
		result, err = sjson.SetBytes(result, "final_message", d.FinalMessage)
		if err != nil {
			return nil, err
		}
	}
	if len(d.ToolsUsed) > 0 {
		tools, merr := json.Marshal(d.ToolsUsed)
		if merr != nil {
			return nil, merr
		}
		result, err = sjson.SetRawBytes(result, "tools_used", tools)
	}
	return result, err
}

// UnmarshalJSON implements custom JSON unmarshaling for Done.
func (d *Done) UnmarshalJSON(data []byte) error {
	h, err := unmarshalHeader(data, KindDone)
	if err != nil {
		return err
	}
	if err := h.fill(&d.RunID, &d.Seq, &d.Timestamp); err != nil {
		return err
	}
	d.FinalMessage = gjson.GetBytes(data, "final_message").String()
	if tools := gjson.GetBytes(data, "tools_used"); tools.Exists() {
		if err := json.Unmarshal([]byte(tools.Raw), &d.ToolsUsed); err != nil {
			return fmt.Errorf("invalid tools_used: %w", err)
		}
	}
	return nil
}

// MarshalJSON implements custom JSON marshaling for Error.
func (e Error) MarshalJSON() ([]byte, error) {
	result, err := marshalHeader(KindError, e.RunID, e.Seq, e.Timestamp)
	if err != nil {
		return nil, err
	}
	if e.Err != nil {
		result, err = sjson.SetBytes(result, "error", e.Err.Error())
		if err != nil {
			return nil, err
		}
	}
	if e.Code != "" {
		result, err = sjson.SetBytes(result, "code", e.Code)
	}
	return result, err
}

// UnmarshalJSON implements custom JSON unmarshaling for Error.
func (e *Error) UnmarshalJSON(data []byte) error {
	h, err := unmarshalHeader(data, KindError)
	if err != nil {
		return err
	}
	if err := h.fill(&e.RunID, &e.Seq, &e.Timestamp); err != nil {
		return err
	}
	errMsg := gjson.GetBytes(data, "error")
	if !errMsg.Exists() {
		return errors.New("missing required field 'error'")
	}
	e.Err = errors.New(errMsg.String())
	e.Code = gjson.GetBytes(data, "code").String()
	return nil
}

// MarshalJSON implements custom JSON marshaling for Ping.
func (p Ping) MarshalJSON() ([]byte, error) {
	return marshalHeader(KindPing, p.RunID, p.Seq, p.Timestamp)
}

// UnmarshalJSON implements custom JSON unmarshaling for Ping.
func (p *Ping) UnmarshalJSON(data []byte) error {
	h, err := unmarshalHeader(data, KindPing)
	if err != nil {
		return err
	}
	return h.fill(&p.RunID, &p.Seq, &p.Timestamp)
}

// ToJSON encodes any event for transport.
func ToJSON(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON decodes an event by its "type" discriminator.
func FromJSON(data []byte) (Event, error) {
	kind := gjson.GetBytes(data, "type").String()
	switch Kind(kind) {
	case KindPlan:
		var p Plan
		if err := p.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return p, nil
	case KindToolCall:
		var t ToolCall
		if err := t.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return t, nil
	case KindToken:
		var t Token
		if err := t.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return t, nil
	case KindMessage:
		var m Message
		if err := m.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return m, nil
	case KindDone:
		var d Done
		if err := d.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return d, nil
	case KindError:
		var e Error
		if err := e.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return e, nil
	case KindPing:
		var p Ping
		if err := p.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event type: %q", kind)
	}
}
