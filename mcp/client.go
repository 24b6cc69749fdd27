package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kschuler/agentrt/internal/logging"
	"github.com/kschuler/agentrt/part"
)

// Client is the tool-collector side of the bridge: it connects to an
// external MCP server, completes the initialize handshake, and exposes the
// server's tools as part.Tool values whose OnCall performs a "tools/call"
// JSON-RPC round-trip. The teacher has no equivalent of this direction; it
// is new per the MCP tool bridge's client side.
type Client struct {
	info Implementation

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader

	mu     sync.Mutex // guards writes to stdin and the request/response cycle
	nextID int64
	closed bool
}

// NewStdioClient launches command (with args) as a subprocess and speaks MCP
// over its stdin/stdout. info identifies this process during the initialize
// handshake. The caller must call Disconnect when done.
func NewStdioClient(ctx context.Context, info Implementation, command string, args ...string) (*Client, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp client: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp client: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp client: start %q: %w", command, err)
	}

	c := &Client{
		info:   info,
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReader(stdout),
	}

	if err := c.initialize(ctx); err != nil {
		_ = c.Disconnect()
		return nil, err
	}

	return c, nil
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo":      c.info,
		"capabilities":    map[string]any{},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("mcp client: initialize: %w", err)
	}
	return c.notify("notifications/initialized", nil)
}

// GetTools lists the remote server's tools and wraps each as a part.Tool
// whose OnCall performs a "tools/call" round-trip against this connection.
func (c *Client) GetTools(ctx context.Context) ([]part.Tool, error) {
	raw, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("mcp client: tools/list: %w", err)
	}

	var result ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcp client: parse tools/list result: %w", err)
	}

	tools := make([]part.Tool, 0, len(result.Tools))
	for _, def := range result.Tools {
		tools = append(tools, c.remoteTool(def))
	}
	return tools, nil
}

func (c *Client) remoteTool(def ToolDefinition) part.Tool {
	var schema map[string]any
	if len(def.InputSchema) > 0 {
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			logging.Logger().Warn("mcp client: tool has unparseable input schema", "tool", def.Name, "err", err)
		}
	}

	return part.Tool{
		ToolDef: part.ToolDef{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		},
		OnCall: func(ctx context.Context, arguments map[string]any) (any, error) {
			return c.callTool(ctx, def.Name, arguments)
		},
	}
}

func (c *Client) callTool(ctx context.Context, name string, arguments map[string]any) (any, error) {
	params := map[string]any{
		"name":      name,
		"arguments": arguments,
	}
	raw, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("mcp client: tools/call %q: %w", name, err)
	}

	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcp client: parse tools/call result: %w", err)
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp client: tool %q returned an error: %s", name, textOf(result))
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	return textOf(result), nil
}

func textOf(result CallToolResult) string {
	var text string
	for _, block := range result.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text
}

// call sends a JSON-RPC request and blocks for its matching response. The
// connection is used strictly request-at-a-time: c.mu serializes the whole
// write-then-read cycle since stdio give no way to demultiplex concurrent
// in-flight requests by ID without a background reader goroutine, which this
// simple subprocess transport does not need.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("mcp client: connection closed")
	}

	id := atomic.AddInt64(&c.nextID, 1)
	idJSON, err := json.Marshal(fmt.Sprintf("%s-%d", uuid.NewString(), id))
	if err != nil {
		return nil, err
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	req := Request{JSONRPC: "2.0", ID: idJSON, Method: method, Params: paramsJSON}
	if err := c.write(req); err != nil {
		return nil, err
	}

	resp, err := c.readResponse()
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("re-marshal result: %w", err)
	}
	return raw, nil
}

// notify sends a JSON-RPC notification (no ID, no response expected).
func (c *Client) notify(method string, params any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("mcp client: connection closed")
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	return c.write(Request{JSONRPC: "2.0", Method: method, Params: paramsJSON})
}

func (c *Client) write(req Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	raw = append(raw, '\n')
	if _, err := c.stdin.Write(raw); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

func (c *Client) readResponse() (*Response, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) == 0 {
			return nil, fmt.Errorf("mcp client: server closed the connection")
		}
		if err != io.EOF {
			return nil, fmt.Errorf("read response: %w", err)
		}
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &resp, nil
}

// Disconnect closes the connection to the server and waits for the
// subprocess to exit. It is safe to call more than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	closeErr := c.stdin.Close()
	waitErr := c.cmd.Wait()
	if closeErr != nil {
		return fmt.Errorf("mcp client: close stdin: %w", closeErr)
	}
	if waitErr != nil {
		logging.Logger().Debug("mcp client: subprocess exited", "err", waitErr)
	}
	return nil
}
