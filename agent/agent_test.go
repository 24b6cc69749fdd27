package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kschuler/agentrt/backend"
	"github.com/kschuler/agentrt/backend/mockbackend"
	"github.com/kschuler/agentrt/part"
	"github.com/kschuler/agentrt/persistence"
)

func TestAgentSendEchoesPrompt(t *testing.T) {
	be := mockbackend.New("mock-echo")
	a, err := NewWithBackend(be, nil, backend.Settings{})
	require.NoError(t, err)

	result, err := a.Send(context.Background(), "hello there", nil)
	require.NoError(t, err)
	assert.Contains(t, result.Output, "hello there")
}

func TestAgentPersistsHistoryAcrossTurns(t *testing.T) {
	be := mockbackend.New("mock-echo")
	store := persistence.NewMemoryStore()
	a, err := NewWithBackend(be, nil, backend.Settings{}, WithStore(store), WithSystemPrompt("be terse"))
	require.NoError(t, err)

	_, err = a.Send(context.Background(), "first", nil)
	require.NoError(t, err)
	_, err = a.Send(context.Background(), "second", nil)
	require.NoError(t, err)

	records, err := store.GetAllRecords()
	require.NoError(t, err)

	var userTurns int
	for _, r := range records {
		if r.Message.Role == part.RoleUser {
			userTurns++
		}
	}
	assert.Equal(t, 2, userTurns)
}

func TestAgentRegisterToolIsVisibleToBackend(t *testing.T) {
	be := mockbackend.New("mock-echo")
	var sawTools []part.ToolDef
	be.Responder = func(history []part.ChatMessage, tools []part.ToolDef) part.ChatMessage {
		sawTools = tools
		return part.NewText(part.RoleModel, "ok")
	}

	a, err := NewWithBackend(be, nil, backend.Settings{})
	require.NoError(t, err)

	a.RegisterTool(part.Tool{
		ToolDef: part.ToolDef{Name: "ping", Description: "replies pong"},
		OnCall: func(ctx context.Context, arguments map[string]any) (any, error) {
			return "pong", nil
		},
	})

	_, err = a.Send(context.Background(), "use the tool", nil)
	require.NoError(t, err)

	require.Len(t, sawTools, 1)
	assert.Equal(t, "ping", sawTools[0].Name)
}

func TestNewUnknownProviderErrors(t *testing.T) {
	_, err := New("nonexistent-provider:model", backend.Settings{})
	assert.Error(t, err)
}

func TestSendWithHistoryOverridesPersistedHistory(t *testing.T) {
	be := mockbackend.New("mock-echo")
	var sawHistory []part.ChatMessage
	be.Responder = func(history []part.ChatMessage, tools []part.ToolDef) part.ChatMessage {
		sawHistory = history
		return part.NewText(part.RoleModel, "ok")
	}

	a, err := NewWithBackend(be, nil, backend.Settings{})
	require.NoError(t, err)

	seeded := []part.ChatMessage{part.NewText(part.RoleUser, "seeded turn one")}
	_, err = a.Send(context.Background(), "the real prompt", nil, WithHistory(seeded))
	require.NoError(t, err)

	require.Len(t, sawHistory, 2)
	assert.Equal(t, "seeded turn one", sawHistory[0].TextValue())
	assert.Equal(t, "the real prompt", sawHistory[1].TextValue())
}

func TestSendWithAttachmentsAddsPartsToUserMessage(t *testing.T) {
	be := mockbackend.New("mock-echo")
	var sawHistory []part.ChatMessage
	be.Responder = func(history []part.ChatMessage, tools []part.ToolDef) part.ChatMessage {
		sawHistory = history
		return part.NewText(part.RoleModel, "ok")
	}

	a, err := NewWithBackend(be, nil, backend.Settings{})
	require.NoError(t, err)

	image := part.Data([]byte("fake-bytes"), "image/png", "screenshot.png")
	_, err = a.Send(context.Background(), "describe this", nil, WithAttachments(image))
	require.NoError(t, err)

	require.NotEmpty(t, sawHistory)
	last := sawHistory[len(sawHistory)-1]
	require.Len(t, last.Parts, 2)
	assert.Equal(t, part.KindData, last.Parts[1].Kind)
}
