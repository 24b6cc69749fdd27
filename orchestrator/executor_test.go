package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kschuler/agentrt/part"
)

func echoTool(name string) part.Tool {
	return part.Tool{
		ToolDef: part.ToolDef{Name: name},
		OnCall: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"echo": args}, nil
		},
	}
}

func failingTool(name string) part.Tool {
	return part.Tool{
		ToolDef: part.ToolDef{Name: name},
		OnCall: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("boom")
		},
	}
}

// registeredCoordinator returns a coordinator with each call pre-registered,
// so Resolve's tolerant matching resolves every id directly as the happy path.
func registeredCoordinator(calls []part.Part) *ToolIDCoordinator {
	c := NewToolIDCoordinator()
	for _, call := range calls {
		c.RegisterToolCall(call.ToolID, call.ToolName, call.ToolArguments)
	}
	return c
}

func TestExecuteBatchUnknownToolYieldsErrorResult(t *testing.T) {
	t.Parallel()

	tools := NewToolSet()
	calls := []part.Part{part.ToolCall("call-1", "missing_tool", nil)}

	results, err := ExecuteBatch(context.Background(), tools, registeredCoordinator(calls), calls)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].ToolIsError)
	assert.Equal(t, "call-1", results[0].ToolID)
}

func TestExecuteBatchFailingToolYieldsErrorResult(t *testing.T) {
	t.Parallel()

	tools := NewToolSet()
	tools.Register(failingTool("flaky"))
	calls := []part.Part{part.ToolCall("call-1", "flaky", nil)}

	results, err := ExecuteBatch(context.Background(), tools, registeredCoordinator(calls), calls)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].ToolIsError)
}

func TestExecuteBatchPreservesCallOrder(t *testing.T) {
	t.Parallel()

	tools := NewToolSet()
	tools.Register(echoTool("a"))
	tools.Register(echoTool("b"))
	tools.Register(echoTool("c"))

	calls := []part.Part{
		part.ToolCall("1", "a", map[string]any{"n": 1}),
		part.ToolCall("2", "b", map[string]any{"n": 2}),
		part.ToolCall("3", "c", map[string]any{"n": 3}),
	}

	results, err := ExecuteBatch(context.Background(), tools, registeredCoordinator(calls), calls)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "1", results[0].ToolID)
	assert.Equal(t, "2", results[1].ToolID)
	assert.Equal(t, "3", results[2].ToolID)
	assert.False(t, results[0].ToolIsError)
	assert.False(t, results[1].ToolIsError)
	assert.False(t, results[2].ToolIsError)
}

func TestExecuteBatchHardMismatchReturnsError(t *testing.T) {
	t.Parallel()

	tools := NewToolSet()
	tools.Register(echoTool("a"))
	calls := []part.Part{part.ToolCall("never-registered", "a", nil)}

	results, err := ExecuteBatch(context.Background(), tools, NewToolIDCoordinator(), calls)
	require.Error(t, err)
	assert.Nil(t, results)
}

func TestToolSetDefsPreservesRegistrationOrder(t *testing.T) {
	t.Parallel()

	tools := NewToolSet()
	tools.Register(echoTool("z"))
	tools.Register(echoTool("a"))

	defs := tools.Defs()
	require.Len(t, defs, 2)
	assert.Equal(t, "z", defs[0].Name)
	assert.Equal(t, "a", defs[1].Name)
}
