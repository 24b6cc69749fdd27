package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kschuler/agentrt/part"
)

func stubTool(name, description string) part.Tool {
	return part.Tool{
		ToolDef: part.ToolDef{
			Name:        name,
			Description: description,
			InputSchema: map[string]any{"type": "object"},
		},
		OnCall: func(ctx context.Context, arguments map[string]any) (any, error) {
			return "ok", nil
		},
	}
}

func TestRegistryRegisterList(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(stubTool("create_model", "create model")))

	definitions := registry.Definitions()
	require.Len(t, definitions, 1)
	assert.Equal(t, "create_model", definitions[0].Name)
	assert.NotEmpty(t, definitions[0].InputSchema)
}

func TestRegistryRegisterMissingName(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(stubTool("", "no name"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing tool name")
}

func TestRegistryRegisterMissingOnCall(t *testing.T) {
	registry := NewRegistry()
	tool := part.Tool{ToolDef: part.ToolDef{Name: "no_handler"}}
	err := registry.Register(tool)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing OnCall handler")
}

func TestRegistryReregisterReplacesWithoutDuplicating(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(stubTool("tool", "first version")))
	require.NoError(t, registry.Register(stubTool("tool", "second version")))

	definitions := registry.Definitions()
	require.Len(t, definitions, 1, "re-registering should not create duplicates")
	assert.Equal(t, "second version", definitions[0].Description)
}

func TestRegistryDefinitionsPreserveRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(stubTool("b", "")))
	require.NoError(t, registry.Register(stubTool("a", "")))

	definitions := registry.Definitions()
	require.Len(t, definitions, 2)
	assert.Equal(t, "b", definitions[0].Name)
	assert.Equal(t, "a", definitions[1].Name)
}

func TestRegistryGetMissing(t *testing.T) {
	registry := NewRegistry()
	_, ok := registry.Get("nonexistent")
	assert.False(t, ok)
}

func TestRegistryDefaultsMissingInputSchema(t *testing.T) {
	registry := NewRegistry()
	tool := part.Tool{
		ToolDef: part.ToolDef{Name: "no_schema"},
		OnCall: func(ctx context.Context, arguments map[string]any) (any, error) {
			return nil, nil
		},
	}
	require.NoError(t, registry.Register(tool))

	defs := registry.Definitions()
	require.Len(t, defs, 1)
	assert.JSONEq(t, `{"type":"object"}`, string(defs[0].InputSchema))
}
