package mockbackend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kschuler/agentrt/backend"
	"github.com/kschuler/agentrt/part"
)

func drainText(t *testing.T, s backend.Stream) (string, backend.ChatResult) {
	t.Helper()
	var text string
	var last backend.ChatResult
	for s.Next(context.Background()) {
		c := s.Current()
		text += c.Output.TextValue()
		last = c
	}
	require.NoError(t, s.Err())
	return text, last
}

func TestDefaultEchoesLastUserMessage(t *testing.T) {
	b := New("mock-echo")
	history := []part.ChatMessage{part.NewText(part.RoleUser, "hello there")}

	s, err := b.SendStream(context.Background(), history, nil, nil)
	require.NoError(t, err)

	text, last := drainText(t, s)
	assert.Contains(t, text, "hello there")
	assert.Equal(t, backend.FinishStop, last.FinishReason)
	require.NotNil(t, last.Usage)
}

func TestResponderOverridesToolCall(t *testing.T) {
	b := New("mock-echo")
	b.Responder = func(history []part.ChatMessage, tools []part.ToolDef) part.ChatMessage {
		return part.ChatMessage{Role: part.RoleModel, Parts: []part.Part{
			part.ToolCall("call-1", "ping", map[string]any{}),
		}}
	}

	s, err := b.SendStream(context.Background(), nil, nil, nil)
	require.NoError(t, err)

	var sawToolCall bool
	var last backend.ChatResult
	for s.Next(context.Background()) {
		c := s.Current()
		if len(c.Output.ToolCalls()) > 0 {
			sawToolCall = true
		}
		last = c
	}
	require.NoError(t, s.Err())
	assert.True(t, sawToolCall)
	assert.Equal(t, backend.FinishToolCalls, last.FinishReason)
}
