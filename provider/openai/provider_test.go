package openai

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casualjim/herald/messages"
	"github.com/casualjim/herald/provider"
	"github.com/casualjim/herald/tool"
)

func TestNew(t *testing.T) {
	p := New("gpt-4o-mini")
	assert.NotNil(t, p)
	assert.NotNil(t, p.client)
	assert.Equal(t, "gpt-4o-mini", p.model)
}

func TestProvider_buildRequest(t *testing.T) {
	p := New("gpt-4o-mini")

	params := &provider.CompletionParams{
		RunID:        "run_1",
		Instructions: "You are helpful",
		Temperature:  0.2,
		Messages: []messages.Message{
			messages.UserPrompt{Content: "Hello", Sender: "alice"},
		},
		Tools: []tool.Descriptor{
			{
				Provider:    "demo",
				Name:        "echo",
				FQName:      "tool__demo__echo",
				Description: "Echoes its input",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
			},
		},
	}

	chatParams, err := p.buildRequest(params)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", chatParams.Model.Value)
	assert.Equal(t, 0.2, chatParams.Temperature.Value)
	assert.Equal(t, "alice", chatParams.User.Value)

	msgs := chatParams.Messages.Value
	require.Len(t, msgs, 2)

	tools := chatParams.Tools.Value
	require.Len(t, tools, 1)
	assert.Equal(t, "tool__demo__echo", tools[0].Function.Value.Name.Value)
	assert.Equal(t, "Echoes its input", tools[0].Function.Value.Description.Value)
	assert.True(t, chatParams.ParallelToolCalls.Value)

	schema := map[string]any(tools[0].Function.Value.Parameters.Value)
	assert.Equal(t, "object", schema["type"])
}

func TestProvider_buildRequest_NoTools(t *testing.T) {
	p := New("gpt-4o-mini")

	params := &provider.CompletionParams{
		RunID:        "run_1",
		Instructions: "You are helpful",
		Messages: []messages.Message{
			messages.UserPrompt{Content: "Hello"},
		},
	}

	chatParams, err := p.buildRequest(params)
	require.NoError(t, err)
	assert.False(t, chatParams.Tools.Present)
	assert.False(t, chatParams.ParallelToolCalls.Present)
}

func TestMessagesToOpenAI(t *testing.T) {
	history := []messages.Message{
		messages.UserPrompt{Content: "What time is it?", Sender: "bob"},
		messages.ToolCallMessage{ToolCalls: []messages.ToolCallData{
			{ID: "call_1", Name: "tool__demo__clock", Arguments: `{}`},
		}},
		messages.ToolResponse{ToolCallID: "call_1", ToolName: "tool__demo__clock", Content: "12:00"},
		messages.AssistantMessage{Content: "It is noon."},
	}

	result, user := messagesToOpenAI("Be brief", history)
	assert.Equal(t, "bob", user)
	// System message plus the four history entries.
	require.Len(t, result, 5)
}
