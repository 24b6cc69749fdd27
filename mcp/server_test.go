package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kschuler/agentrt/part"
)

func TestNewServerNilRegistry(t *testing.T) {
	_, err := NewServer(nil, Implementation{Name: "test", Version: "1.0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry is required")
}

func TestNewServerEmptyName(t *testing.T) {
	_, err := NewServer(NewRegistry(), Implementation{Name: "", Version: "1.0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server name is required")
}

func TestNewServerEmptyVersion(t *testing.T) {
	_, err := NewServer(NewRegistry(), Implementation{Name: "test", Version: ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server version is required")
}

func TestNewServerWithInstructions(t *testing.T) {
	server, err := NewServer(
		NewRegistry(),
		Implementation{Name: "test", Version: "1.0"},
		WithInstructions("Use this server to do things"),
	)
	require.NoError(t, err)

	req := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"client","version":"1.0"},"capabilities":{}}}`)
	resp, err := server.handleRaw(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(InitializeResult)
	require.True(t, ok)
	assert.Equal(t, "Use this server to do things", result.Instructions)
}

func TestNewServerWithEmptyProtocolVersion(t *testing.T) {
	_, err := NewServer(
		NewRegistry(),
		Implementation{Name: "test", Version: "1.0"},
		WithProtocolVersion(""),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protocol version is required")
}

func TestServeNilServer(t *testing.T) {
	var server *Server
	err := server.Serve(context.Background(), strings.NewReader(""), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server is nil")
}

func TestServeNilReader(t *testing.T) {
	server, err := NewServer(NewRegistry(), Implementation{Name: "test", Version: "1.0"})
	require.NoError(t, err)

	err = server.Serve(context.Background(), nil, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input reader is nil")
}

func TestServerInvalidJSONRPCVersion(t *testing.T) {
	server, err := NewServer(NewRegistry(), Implementation{Name: "test", Version: "1.0"})
	require.NoError(t, err)

	req := json.RawMessage(`{"jsonrpc":"1.0","id":42,"method":"ping"}`)
	resp, err := server.handleRaw(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errInvalidRequest, resp.Error.Code)
	assert.Equal(t, json.RawMessage("42"), resp.ID)
}

func TestServerMethodNotFound(t *testing.T) {
	server, err := NewServer(NewRegistry(), Implementation{Name: "test", Version: "1.0"})
	require.NoError(t, err)

	req := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"nonexistent"}`)
	resp, err := server.handleRaw(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errMethodNotFound, resp.Error.Code)
}

func TestServerPing(t *testing.T) {
	server, err := NewServer(NewRegistry(), Implementation{Name: "test", Version: "1.0"})
	require.NoError(t, err)

	req := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	resp, err := server.handleRaw(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, resp.Error)
}

func TestServerNotificationGetsNoResponse(t *testing.T) {
	server, err := NewServer(NewRegistry(), Implementation{Name: "test", Version: "1.0"})
	require.NoError(t, err)

	req := json.RawMessage(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	resp, err := server.handleRaw(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestServerListTools(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(stubTool("echo", "echoes input")))

	server, err := NewServer(registry, Implementation{Name: "test", Version: "1.0"})
	require.NoError(t, err)

	req := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	resp, err := server.handleRaw(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(ListToolsResult)
	require.True(t, ok)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
}

func TestServerCallToolSuccess(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(part.Tool{
		ToolDef: part.ToolDef{Name: "add", InputSchema: map[string]any{"type": "object"}},
		OnCall: func(ctx context.Context, arguments map[string]any) (any, error) {
			a, _ := arguments["a"].(float64)
			b, _ := arguments["b"].(float64)
			return map[string]any{"sum": a + b}, nil
		},
	}))

	server, err := NewServer(registry, Implementation{Name: "test", Version: "1.0"})
	require.NoError(t, err)

	req := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"add","arguments":{"a":2,"b":3}}}`)
	resp, err := server.handleRaw(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(CallToolResult)
	require.True(t, ok)
	require.False(t, result.IsError)
	assert.Equal(t, float64(5), result.StructuredContent["sum"])
}

func TestServerCallToolError(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(part.Tool{
		ToolDef: part.ToolDef{Name: "fail", InputSchema: map[string]any{"type": "object"}},
		OnCall: func(ctx context.Context, arguments map[string]any) (any, error) {
			return nil, errors.New("boom")
		},
	}))

	server, err := NewServer(registry, Implementation{Name: "test", Version: "1.0"})
	require.NoError(t, err)

	req := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"fail","arguments":{}}}`)
	resp, err := server.handleRaw(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(CallToolResult)
	require.True(t, ok)
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "boom", result.Content[0].Text)
}

func TestServerCallToolUnknownName(t *testing.T) {
	server, err := NewServer(NewRegistry(), Implementation{Name: "test", Version: "1.0"})
	require.NoError(t, err)

	req := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nonexistent","arguments":{}}}`)
	resp, err := server.handleRaw(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errMethodNotFound, resp.Error.Code)
}

func TestServerCallToolPanicRecovered(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(part.Tool{
		ToolDef: part.ToolDef{Name: "panics", InputSchema: map[string]any{"type": "object"}},
		OnCall: func(ctx context.Context, arguments map[string]any) (any, error) {
			panic("unexpected")
		},
	}))

	server, err := NewServer(registry, Implementation{Name: "test", Version: "1.0"})
	require.NoError(t, err)

	req := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"panics","arguments":{}}}`)
	resp, err := server.handleRaw(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errInternal, resp.Error.Code)
}
