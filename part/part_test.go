package part

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextValue(t *testing.T) {
	t.Parallel()

	m := ChatMessage{Role: RoleModel, Parts: []Part{Text("hello"), Text("world")}}
	assert.Equal(t, "hello\nworld", m.TextValue())

	single := ChatMessage{Role: RoleModel, Parts: []Part{Text("solo")}}
	assert.Equal(t, "solo", single.TextValue())

	assert.Empty(t, ChatMessage{}.TextValue())
}

func TestToolCallsAndResults(t *testing.T) {
	t.Parallel()

	m := ChatMessage{
		Role: RoleModel,
		Parts: []Part{
			Text("checking weather"),
			ToolCall("call_1", "weather", map[string]any{"city": "Paris"}),
			ToolCall("call_2", "weather", map[string]any{"city": "Tokyo"}),
		},
	}
	calls := m.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_1", calls[0].ToolID)
	assert.Equal(t, "call_2", calls[1].ToolID)
	assert.True(t, m.HasToolCalls())

	results := ChatMessage{
		Role: RoleUser,
		Parts: []Part{
			ToolResult("call_1", "weather", map[string]any{"temp_c": 21}, false),
		},
	}
	assert.Len(t, results.ToolResults(), 1)
	assert.True(t, results.HasToolResultParts())
}

func TestPartValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Text("ok").Validate())
	assert.NoError(t, Data([]byte("x"), "image/png", "a.png").Validate())

	assert.Error(t, Data(nil, "image/png", "").Validate())
	assert.Error(t, Data([]byte("x"), "", "").Validate())
	assert.Error(t, ToolCall("", "weather", nil).Validate())
	assert.Error(t, ToolCall("id", "", nil).Validate())
}

func TestChatMessageValidateRejectsMixedToolResultMessage(t *testing.T) {
	t.Parallel()

	m := ChatMessage{
		Role: RoleUser,
		Parts: []Part{
			ToolResult("call_1", "weather", "21C", false),
			Text("oh and also"),
		},
	}
	assert.Error(t, m.Validate())

	pure := ChatMessage{
		Role:  RoleUser,
		Parts: []Part{ToolResult("call_1", "weather", "21C", false)},
	}
	assert.NoError(t, pure.Validate())
}

func TestResultJSON(t *testing.T) {
	t.Parallel()

	strPart := ToolResult("id", "t", "already a string", false)
	s, err := strPart.ResultJSON()
	require.NoError(t, err)
	assert.Equal(t, "already a string", s)

	structPart := ToolResult("id", "t", map[string]any{"a": 1}, false)
	s, err = structPart.ResultJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, s)

	_, err = Text("x").ResultJSON()
	assert.Error(t, err)
}
