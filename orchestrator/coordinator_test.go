package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateToolCallIDDeterministic(t *testing.T) {
	t.Parallel()

	args := map[string]any{"b": 2, "a": 1}
	args2 := map[string]any{"a": 1, "b": 2}

	id1 := GenerateToolCallID("get_weather", "claude", args)
	id2 := GenerateToolCallID("get_weather", "claude", args2)
	assert.Equal(t, id1, id2, "map key order must not affect the derived id")

	id3 := GenerateToolCallID("get_weather", "openai", args)
	assert.NotEqual(t, id1, id3, "different provider hint must change the id")
}

func TestRegisterAndValidateToolResultID(t *testing.T) {
	t.Parallel()

	c := NewToolIDCoordinator()
	c.RegisterToolCall("call-1", "get_weather", map[string]any{"city": "Seattle"})

	assert.True(t, c.ValidateToolResultID("call-1"))
	assert.False(t, c.ValidateToolResultID("call-unknown"))
}

func TestResolveExactMatch(t *testing.T) {
	t.Parallel()

	c := NewToolIDCoordinator()
	c.RegisterToolCall("call-1", "get_weather", nil)

	id, hardMismatch := c.Resolve("call-1", "get_weather")
	assert.False(t, hardMismatch)
	assert.Equal(t, "call-1", id)
}

func TestResolveMatchesByNameWhenIDUnknown(t *testing.T) {
	t.Parallel()

	c := NewToolIDCoordinator()
	c.RegisterToolCall("call-1", "get_weather", nil)

	// Provider sent a result with a different id than it announced for the
	// call; tolerant matching should still resolve it to call-1.
	id, hardMismatch := c.Resolve("unexpected-id", "get_weather")
	assert.False(t, hardMismatch)
	assert.Equal(t, "call-1", id)
}

func TestResolveHardMismatchWhenNameNeverSeen(t *testing.T) {
	t.Parallel()

	c := NewToolIDCoordinator()
	c.RegisterToolCall("call-1", "get_weather", nil)

	_, hardMismatch := c.Resolve("whatever", "totally_unknown_tool")
	assert.True(t, hardMismatch)
}

func TestResolveSynthesizesPlaceholderWhenNameExhausted(t *testing.T) {
	t.Parallel()

	c := NewToolIDCoordinator()
	c.RegisterToolCall("call-1", "get_weather", nil)

	// First resolve consumes the only registered call.
	_, hardMismatch := c.Resolve("call-1", "get_weather")
	assert.False(t, hardMismatch)

	// A second, unexpected result for the same tool name should synthesize
	// a placeholder rather than fail the turn.
	id, hardMismatch := c.Resolve("call-2", "get_weather")
	assert.False(t, hardMismatch)
	assert.NotEmpty(t, id)
	assert.NotEqual(t, "call-1", id)
}

func TestClearResetsState(t *testing.T) {
	t.Parallel()

	c := NewToolIDCoordinator()
	c.RegisterToolCall("call-1", "get_weather", nil)
	c.Clear()

	assert.False(t, c.ValidateToolResultID("call-1"))
	_, hardMismatch := c.Resolve("call-1", "get_weather")
	assert.True(t, hardMismatch)
}
