// Package claude adapts Anthropic's Messages API to the backend.ChatBackend
// contract, grounded on the teacher's llm/claude/claude.go and client.go: the
// same anthropic-sdk-go client construction and the same event-by-event
// streaming loop (content_block_start/delta/stop, message_delta,
// message_stop), now emitting backend.ChatResult chunks instead of invoking
// a callback.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kschuler/agentrt/backend"
	"github.com/kschuler/agentrt/internal/logging"
	"github.com/kschuler/agentrt/part"
)

const providerName = "claude"

const defaultURL = "https://api.anthropic.com/v1"

func init() {
	backend.Register(factory{})
}

type factory struct{}

func (factory) Name() string { return providerName }

func (factory) CreateChatModel(model string, settings backend.Settings) (backend.ChatBackend, error) {
	m := strings.TrimSpace(model)
	if m == "" {
		m = settings.DefaultModel
	}
	if m == "" {
		return nil, fmt.Errorf("claude: no model specified")
	}

	opts := []option.RequestOption{option.WithAPIKey(settings.APIKey)}
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = defaultURL
	}
	opts = append(opts, option.WithBaseURL(baseURL))
	for k, v := range settings.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	return &chatBackend{
		client:      anthropic.NewClient(opts...),
		modelName:   m,
		settings:    settings,
		tokenLimits: tokenLimitsForModel(m),
	}, nil
}

func (factory) ListModels(ctx context.Context, settings backend.Settings) ([]backend.ModelInfo, error) {
	models := make([]backend.ModelInfo, 0, len(knownModels))
	for _, m := range knownModels {
		models = append(models, backend.ModelInfo{
			Name:        m.name,
			Kinds:       []backend.ModelKind{backend.ModelKindChat},
			TokenLimits: m.limits,
		})
	}
	return models, nil
}

// Embedder returns nil: Claude exposes no embeddings endpoint (spec §1).
func (factory) Embedder(settings backend.Settings) (backend.Embedder, error) { return nil, nil }

type modelLimit struct {
	name   string
	limits backend.TokenLimits
}

// knownModels mirrors the teacher's modelLimits table in llm/claude/claude.go.
var knownModels = []modelLimit{
	{"claude-opus-4", backend.TokenLimits{Context: 200000, Output: 32000}},
	{"claude-sonnet-4", backend.TokenLimits{Context: 200000, Output: 64000}},
	{"claude-3-7-sonnet", backend.TokenLimits{Context: 200000, Output: 64000}},
	{"claude-3-5-haiku", backend.TokenLimits{Context: 200000, Output: 8192}},
	{"claude-3-haiku", backend.TokenLimits{Context: 200000, Output: 4096}},
}

func tokenLimitsForModel(model string) backend.TokenLimits {
	lower := strings.ToLower(model)
	for _, m := range knownModels {
		if strings.HasPrefix(lower, m.name) {
			return m.limits
		}
	}
	return backend.TokenLimits{Context: 200000, Output: 8192}
}

type chatBackend struct {
	client      anthropic.Client
	modelName   string
	settings    backend.Settings
	tokenLimits backend.TokenLimits
}

func (b *chatBackend) ModelName() string                 { return b.modelName }
func (b *chatBackend) TokenLimits() backend.TokenLimits   { return b.tokenLimits }
func (b *chatBackend) SupportsNativeSchema() bool         { return false }

func (b *chatBackend) SendStream(ctx context.Context, history []part.ChatMessage, tools []part.ToolDef, outputSchema map[string]any) (backend.Stream, error) {
	params, err := b.buildParams(history, tools, outputSchema)
	if err != nil {
		return nil, err
	}

	native := b.client.Messages.NewStreaming(ctx, params)
	return &claudeStream{native: native}, nil
}

func (b *chatBackend) buildParams(history []part.ChatMessage, tools []part.ToolDef, outputSchema map[string]any) (anthropic.MessageNewParams, error) {
	var systemPrompt strings.Builder
	var msgs []anthropic.MessageParam

	for _, m := range history {
		if m.Role == part.RoleSystem {
			systemPrompt.WriteString(m.TextValue())
			continue
		}
		p, err := messageParam(m)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("claude: converting history message: %w", err)
		}
		msgs = append(msgs, p)
	}

	maxTokens := b.settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.tokenLimits.Output
	}

	params := anthropic.MessageNewParams{
		Messages:  msgs,
		Model:     anthropic.Model(b.modelName),
		MaxTokens: int64(maxTokens),
	}

	if systemPrompt.Len() > 0 {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt.String(), Type: "text"}}
	}
	if b.settings.Temperature != nil {
		params.Temperature = anthropic.Float(*b.settings.Temperature)
	}

	if len(tools) > 0 {
		toolParams := make([]anthropic.ToolUnionParam, 0, len(tools))
		for _, t := range tools {
			tp, err := toolParam(t)
			if err != nil {
				return anthropic.MessageNewParams{}, fmt.Errorf("claude: converting tool %q: %w", t.Name, err)
			}
			toolParams = append(toolParams, tp)
		}
		params.Tools = toolParams
	}

	return params, nil
}

// toolParam converts a part.ToolDef to an anthropic.ToolUnionParam,
// adapted from the teacher's mcpToClaudeTool.
func toolParam(def part.ToolDef) (anthropic.ToolUnionParam, error) {
	schemaJSON, err := json.Marshal(def.InputSchema)
	if err != nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("marshal input schema: %w", err)
	}

	var inputSchema anthropic.ToolInputSchemaParam
	if len(def.InputSchema) > 0 {
		if err := json.Unmarshal(schemaJSON, &inputSchema); err != nil {
			return anthropic.ToolUnionParam{}, fmt.Errorf("unmarshal input schema: %w", err)
		}
	}

	tp := anthropic.ToolParam{
		Name:        def.Name,
		InputSchema: inputSchema,
		Type:        anthropic.ToolTypeCustom,
	}
	if def.Description != "" {
		tp.Description = anthropic.String(def.Description)
	}

	return anthropic.ToolUnionParam{OfTool: &tp}, nil
}

// messageParam converts a part.ChatMessage to an anthropic.MessageParam,
// adapted from the teacher's messageParam: tool results must never be
// stored in assistant messages, and Claude has no distinct tool role so
// Tool.result parts travel in a user-role message (the orchestrator already
// assembles them that way, per spec §4.3 step 8).
func messageParam(m part.ChatMessage) (anthropic.MessageParam, error) {
	var blocks []anthropic.ContentBlockParamUnion

	for _, p := range m.Parts {
		switch p.Kind {
		case part.KindText:
			if p.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(p.Text))
			}
		case part.KindToolCall:
			argsJSON, err := json.Marshal(p.ToolArguments)
			if err != nil {
				return anthropic.MessageParam{}, fmt.Errorf("marshal tool call arguments: %w", err)
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(p.ToolID, json.RawMessage(argsJSON), p.ToolName))
		case part.KindToolResult:
			resultJSON, err := p.ResultJSON()
			if err != nil {
				return anthropic.MessageParam{}, err
			}
			blocks = append(blocks, anthropic.NewToolResultBlock(p.ToolID, resultJSON, p.ToolIsError))
		}
	}

	if len(blocks) == 0 {
		return anthropic.MessageParam{}, fmt.Errorf("message has no convertible content")
	}

	if m.Role == part.RoleModel {
		return anthropic.NewAssistantMessage(blocks...), nil
	}
	return anthropic.NewUserMessage(blocks...), nil
}

// claudeStream adapts anthropic-sdk-go's native streaming iterator to
// backend.Stream, folding the teacher's event-switch logic into one chunk
// per meaningful event rather than invoking a callback.
type claudeStream struct {
	native  *anthropic.Stream[anthropic.MessageStreamEventUnion]
	current backend.ChatResult

	currentToolID   string
	currentToolName string
}

func (s *claudeStream) Next(ctx context.Context) bool {
	for s.native.Next() {
		event := s.native.Current()
		if result, ok := s.translate(event); ok {
			s.current = result
			return true
		}
	}
	return false
}

func (s *claudeStream) translate(event anthropic.MessageStreamEventUnion) (backend.ChatResult, bool) {
	switch event.Type {
	case "content_block_start":
		if event.ContentBlock.Type == "tool_use" {
			s.currentToolID = event.ContentBlock.ID
			s.currentToolName = event.ContentBlock.Name
			return backend.ChatResult{
				Output: part.ChatMessage{Role: part.RoleModel, Parts: []part.Part{
					part.ToolCallDelta(s.currentToolID, s.currentToolName, ""),
				}},
			}, true
		}
	case "content_block_delta":
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text == "" {
				return backend.ChatResult{}, false
			}
			return backend.ChatResult{
				Output: part.ChatMessage{Role: part.RoleModel, Parts: []part.Part{part.Text(event.Delta.Text)}},
			}, true
		case "thinking_delta":
			if event.Delta.Thinking == "" {
				return backend.ChatResult{}, false
			}
			return backend.ChatResult{
				Thinking: event.Delta.Thinking,
				Output:   part.ChatMessage{Role: part.RoleModel, Metadata: map[string]any{"thinking": event.Delta.Thinking}},
			}, true
		case "input_json_delta":
			if event.Delta.PartialJSON == "" {
				return backend.ChatResult{}, false
			}
			return backend.ChatResult{
				Output: part.ChatMessage{Role: part.RoleModel, Parts: []part.Part{
					part.ToolCallDelta(s.currentToolID, "", event.Delta.PartialJSON),
				}},
			}, true
		}
	case "message_delta":
		reason := mapStopReason(string(event.Delta.StopReason))
		var usage *backend.Usage
		if event.Usage.OutputTokens > 0 || event.Usage.InputTokens > 0 {
			usage = &backend.Usage{
				InputTokens:  int(event.Usage.InputTokens),
				OutputTokens: int(event.Usage.OutputTokens),
				TotalTokens:  int(event.Usage.InputTokens + event.Usage.OutputTokens),
			}
		}
		if reason == backend.FinishUnspecified && usage == nil {
			return backend.ChatResult{}, false
		}
		return backend.ChatResult{FinishReason: reason, Usage: usage}, true
	default:
		logging.Logger().Debug("claude: unhandled stream event", "type", event.Type)
	}
	return backend.ChatResult{}, false
}

func mapStopReason(reason string) backend.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence", "pause_turn":
		return backend.FinishStop
	case "max_tokens":
		return backend.FinishLength
	case "tool_use":
		return backend.FinishToolCalls
	case "refusal":
		return backend.FinishContentFilter
	default:
		return backend.FinishUnspecified
	}
}

func (s *claudeStream) Current() backend.ChatResult { return s.current }

func (s *claudeStream) Err() error { return s.native.Err() }

func (s *claudeStream) Close() error { return s.native.Close() }
