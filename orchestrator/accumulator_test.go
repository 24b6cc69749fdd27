package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kschuler/agentrt/part"
)

func TestAccumulatorCoalescesText(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Accumulate(part.ChatMessage{Role: part.RoleModel, Parts: []part.Part{part.Text("Hello, ")}})
	a.Accumulate(part.ChatMessage{Parts: []part.Part{part.Text("world!")}})

	msg := a.Consolidate()
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, "Hello, world!", msg.Parts[0].Text)
}

func TestAccumulatorBuffersToolCallArguments(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Accumulate(part.ChatMessage{Role: part.RoleModel, Parts: []part.Part{
		part.ToolCallDelta("call-1", "get_weather", `{"city":`),
	}})
	a.Accumulate(part.ChatMessage{Parts: []part.Part{
		part.ToolCallDelta("call-1", "", `"Seattle"}`),
	}})

	msg := a.Consolidate()
	calls := msg.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call-1", calls[0].ToolID)
	assert.Equal(t, "get_weather", calls[0].ToolName)
	assert.Equal(t, "Seattle", calls[0].ToolArguments["city"])
}

func TestAccumulatorMalformedArgumentsYieldEmptyObject(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Accumulate(part.ChatMessage{Role: part.RoleModel, Parts: []part.Part{
		part.ToolCallDelta("call-1", "get_weather", `{"city": not valid json`),
	}})

	msg := a.Consolidate()
	calls := msg.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{}, calls[0].ToolArguments)
}

func TestAccumulatorKeepsMultipleConcurrentToolCallsSeparate(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Accumulate(part.ChatMessage{Role: part.RoleModel, Parts: []part.Part{
		part.ToolCallDelta("call-1", "tool_a", `{"x":1}`),
		part.ToolCallDelta("call-2", "tool_b", `{"y":2}`),
	}})

	msg := a.Consolidate()
	calls := msg.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "call-1", calls[0].ToolID)
	assert.Equal(t, "call-2", calls[1].ToolID)
}

func TestAccumulatorMergesMetadataScalarOverwriteListConcat(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Accumulate(part.ChatMessage{
		Metadata: map[string]any{"model": "v1", "citations": []any{"a"}},
	})
	a.Accumulate(part.ChatMessage{
		Metadata: map[string]any{"model": "v2", "citations": []any{"b"}},
	})

	msg := a.Consolidate()
	assert.Equal(t, "v2", msg.Metadata["model"])
	assert.Equal(t, []any{"a", "b"}, msg.Metadata["citations"])
}

func TestAccumulatorAccumulatesThinkingAcrossTurn(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Accumulate(part.ChatMessage{Metadata: map[string]any{"thinking": "step one. "}})
	a.Accumulate(part.ChatMessage{Metadata: map[string]any{"thinking": "step two."}})

	msg := a.Consolidate()
	assert.Equal(t, "step one. step two.", msg.Metadata["thinking"])
}
