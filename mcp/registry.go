package mcp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kschuler/agentrt/part"
)

// Registry holds the tools a Server exposes to MCP clients. It is safe for
// concurrent use; Register is typically called once per tool at startup,
// while Get/Definitions are called per inbound request.
type Registry struct {
	mu          sync.Mutex
	tools       map[string]part.Tool
	definitions map[string]ToolDefinition
	order       []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:       make(map[string]part.Tool),
		definitions: make(map[string]ToolDefinition),
	}
}

// Register adds or replaces a tool. It fails if the tool's input schema
// cannot be marshaled to JSON.
func (r *Registry) Register(tool part.Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("register tool: missing tool name")
	}
	if tool.OnCall == nil {
		return fmt.Errorf("register tool %q: missing OnCall handler", tool.Name)
	}

	def, err := toolDefinition(tool)
	if err != nil {
		return fmt.Errorf("register tool %q: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
	r.definitions[tool.Name] = def
	return nil
}

// Get retrieves a registered tool by name.
func (r *Registry) Get(name string) (part.Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns every registered tool's wire definition, in
// registration order.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.definitions[name])
	}
	return defs
}

func toolDefinition(tool part.Tool) (ToolDefinition, error) {
	schema := tool.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return ToolDefinition{}, fmt.Errorf("marshal input schema: %w", err)
	}
	return ToolDefinition{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: raw,
	}, nil
}
