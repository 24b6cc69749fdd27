// Package openai adapts the OpenAI Chat Completions API to the
// backend.ChatBackend contract, grounded on the teacher's llm/openai/openai.go:
// the same client construction, the same per-index tool-call argument
// buffering during streaming, and the same model/temperature tables.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/kschuler/agentrt/backend"
	"github.com/kschuler/agentrt/part"
)

const providerName = "openai"

const defaultURL = "https://api.openai.com/v1"

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
		return nil, fmt.Errorf("openai: no model specified")
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
		client:      openai.NewClient(opts...),
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

func (factory) Embedder(settings backend.Settings) (backend.Embedder, error) {
	opts := []option.RequestOption{option.WithAPIKey(settings.APIKey)}
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = defaultURL
	}
	opts = append(opts, option.WithBaseURL(baseURL))
	return &embedder{client: openai.NewClient(opts...), model: settings.DefaultModel}, nil
}

type modelLimit struct {
	name   string
	limits backend.TokenLimits
}

// knownModels mirrors the teacher's modelLimits table in llm/openai/openai.go.
var knownModels = []modelLimit{
	{"gpt-5-mini", backend.TokenLimits{Context: 400000, Output: 128000}},
	{"gpt-5-nano", backend.TokenLimits{Context: 400000, Output: 128000}},
	{"gpt-5", backend.TokenLimits{Context: 400000, Output: 128000}},
	{"gpt-4.5-preview", backend.TokenLimits{Context: 128000, Output: 16384}},
	{"gpt-4.1-mini", backend.TokenLimits{Context: 1000000, Output: 32768}},
	{"gpt-4.1", backend.TokenLimits{Context: 1000000, Output: 32768}},
	{"gpt-4o-mini", backend.TokenLimits{Context: 128000, Output: 16384}},
	{"gpt-4o", backend.TokenLimits{Context: 128000, Output: 16384}},
	{"gpt-4-turbo", backend.TokenLimits{Context: 128000, Output: 4096}},
	{"gpt-4", backend.TokenLimits{Context: 8192, Output: 8192}},
	{"o4-mini", backend.TokenLimits{Context: 200000, Output: 100000}},
	{"o3-mini", backend.TokenLimits{Context: 200000, Output: 100000}},
	{"o3", backend.TokenLimits{Context: 200000, Output: 100000}},
	{"gpt-3.5-turbo", backend.TokenLimits{Context: 16385, Output: 4096}},
}

func tokenLimitsForModel(model string) backend.TokenLimits {
	lower := strings.ToLower(model)
	for _, m := range knownModels {
		if strings.HasPrefix(lower, m.name) {
			return m.limits
		}
	}
	return backend.TokenLimits{Context: 128000, Output: 4096}
}

// isNoTemperatureModel mirrors the teacher's check: gpt-5 and the o-series
// reasoning models reject a custom temperature.
func isNoTemperatureModel(model string) bool {
	lower := strings.ToLower(model)
	return strings.HasPrefix(lower, "gpt-5") || strings.HasPrefix(lower, "o1-") || strings.HasPrefix(lower, "o3") || strings.HasPrefix(lower, "o4")
}

type embedder struct {
	client openai.Client
	model  string
}

func (e *embedder) EmbedQuery(ctx context.Context, text string) ([]float64, backend.Usage, error) {
	vecs, usage, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		return nil, usage, err
	}
	return vecs[0], usage, nil
}

func (e *embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, backend.Usage, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: e.model,
	})
	if err != nil {
		return nil, backend.Usage{}, err
	}
	out := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	usage := backend.Usage{
		InputTokens: int(resp.Usage.PromptTokens),
		TotalTokens: int(resp.Usage.TotalTokens),
	}
	return out, usage, nil
}

type chatBackend struct {
	client      openai.Client
	modelName   string
	settings    backend.Settings
	tokenLimits backend.TokenLimits
}

func (b *chatBackend) ModelName() string               { return b.modelName }
func (b *chatBackend) TokenLimits() backend.TokenLimits { return b.tokenLimits }

// SupportsNativeSchema reports true: the Chat Completions API supports
// strict JSON-schema response formatting via response_format, so typed
// output goes through that path rather than the synthesized return_result
// tool.
func (b *chatBackend) SupportsNativeSchema() bool { return true }

func (b *chatBackend) SendStream(ctx context.Context, history []part.ChatMessage, tools []part.ToolDef, outputSchema map[string]any) (backend.Stream, error) {
	params, err := b.buildParams(history, tools, outputSchema)
	if err != nil {
		return nil, err
	}

	native := b.client.Chat.Completions.NewStreaming(ctx, params)
	return &openaiStream{native: native, toolCallArgs: make(map[int64]*strings.Builder)}, nil
}

func (b *chatBackend) buildParams(history []part.ChatMessage, tools []part.ToolDef, outputSchema map[string]any) (openai.ChatCompletionNewParams, error) {
	var messages []openai.ChatCompletionMessageParamUnion

	for _, m := range history {
		msgs, err := messageParams(m)
		if err != nil {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("openai: converting history message: %w", err)
		}
		messages = append(messages, msgs...)
	}

	maxTokens := b.settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.tokenLimits.Output
	}

	params := openai.ChatCompletionNewParams{
		Messages:      messages,
		Model:         b.modelName,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{IncludeUsage: param.NewOpt(true)},
	}
	params.MaxCompletionTokens = param.NewOpt(int64(maxTokens))

	if b.settings.Temperature != nil && !isNoTemperatureModel(b.modelName) {
		params.Temperature = param.NewOpt(*b.settings.Temperature)
	}

	if len(tools) > 0 {
		toolParams := make([]openai.ChatCompletionToolParam, len(tools))
		for i, t := range tools {
			toolParams[i] = toolParam(t)
		}
		params.Tools = toolParams
	}

	if len(outputSchema) > 0 {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "return_result",
					Schema: outputSchema,
					Strict: param.NewOpt(true),
				},
			},
		}
	}

	return params, nil
}

// messageParams converts one part.ChatMessage into one or more OpenAI
// message params, grounded on the teacher's role switch and its
// openai.ToolMessage construction for Tool.result parts; a message can carry
// both an assistant turn with tool calls and, separately, tool results, so a
// single ChatMessage may expand to several params.
func messageParams(m part.ChatMessage) ([]openai.ChatCompletionMessageParamUnion, error) {
	if m.HasToolResultParts() {
		var out []openai.ChatCompletionMessageParamUnion
		for _, p := range m.ToolResults() {
			resultJSON, err := p.ResultJSON()
			if err != nil {
				return nil, err
			}
			out = append(out, openai.ToolMessage(resultJSON, p.ToolID))
		}
		return out, nil
	}

	if m.HasToolCalls() {
		calls := m.ToolCalls()
		params := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
		for i, c := range calls {
			argsJSON, err := json.Marshal(c.ToolArguments)
			if err != nil {
				return nil, fmt.Errorf("marshal tool call arguments: %w", err)
			}
			params[i] = openai.ChatCompletionMessageToolCallParam{
				ID: c.ToolID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      c.ToolName,
					Arguments: string(argsJSON),
				},
			}
		}
		assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: params}
		return []openai.ChatCompletionMessageParamUnion{{OfAssistant: &assistant}}, nil
	}

	text := m.TextValue()
	switch m.Role {
	case part.RoleUser:
		return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(text)}, nil
	case part.RoleModel:
		return []openai.ChatCompletionMessageParamUnion{openai.AssistantMessage(text)}, nil
	default:
		return []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(text)}, nil
	}
}

func toolParam(def part.ToolDef) openai.ChatCompletionToolParam {
	var parameters shared.FunctionParameters = def.InputSchema
	return openai.ChatCompletionToolParam{
		Function: shared.FunctionDefinitionParam{
			Name:        def.Name,
			Description: param.NewOpt(def.Description),
			Parameters:  parameters,
		},
	}
}

// openaiStream adapts openai-go's native streaming iterator to
// backend.Stream. Tool call argument fragments arrive indexed by slot, not
// by id (the id only appears on the first delta for that slot), matching
// the teacher's toolCallArgs map keyed by index.
type openaiStream struct {
	native  *ssestream.Stream[openai.ChatCompletionChunk]
	current backend.ChatResult

	toolIDs      map[int64]string
	toolNames    map[int64]string
	toolCallArgs map[int64]*strings.Builder
}

func (s *openaiStream) Next(ctx context.Context) bool {
	if s.toolIDs == nil {
		s.toolIDs = make(map[int64]string)
	}
	if s.toolNames == nil {
		s.toolNames = make(map[int64]string)
	}
	for s.native.Next() {
		chunk := s.native.Current()
		if result, ok := s.translate(chunk); ok {
			s.current = result
			return true
		}
	}
	return false
}

func (s *openaiStream) translate(chunk openai.ChatCompletionChunk) (backend.ChatResult, bool) {
	var result backend.ChatResult
	var parts []part.Part
	var hasContent bool

	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]

		for _, tc := range choice.Delta.ToolCalls {
			idx := tc.Index
			if tc.ID != "" {
				s.toolIDs[idx] = tc.ID
				s.toolCallArgs[idx] = &strings.Builder{}
			}
			if tc.Function.Name != "" {
				s.toolNames[idx] = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				b, ok := s.toolCallArgs[idx]
				if !ok {
					b = &strings.Builder{}
					s.toolCallArgs[idx] = b
				}
				b.WriteString(tc.Function.Arguments)
			}
			parts = append(parts, part.ToolCallDelta(s.toolIDs[idx], s.toolNames[idx], tc.Function.Arguments))
			hasContent = true
		}

		if choice.Delta.Content != "" {
			parts = append(parts, part.Text(choice.Delta.Content))
			hasContent = true
		}

		if choice.FinishReason != "" {
			result.FinishReason = mapFinishReason(choice.FinishReason)
			hasContent = true
		}
	}

	if chunk.Usage.TotalTokens > 0 {
		result.Usage = &backend.Usage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:  int(chunk.Usage.TotalTokens),
		}
		hasContent = true
	}

	if len(parts) > 0 {
		result.Output = part.ChatMessage{Role: part.RoleModel, Parts: parts}
	}

	return result, hasContent
}

func mapFinishReason(reason string) backend.FinishReason {
	switch reason {
	case "stop":
		return backend.FinishStop
	case "length":
		return backend.FinishLength
	case "tool_calls":
		return backend.FinishToolCalls
	case "content_filter":
		return backend.FinishContentFilter
	default:
		return backend.FinishUnspecified
	}
}

func (s *openaiStream) Current() backend.ChatResult { return s.current }

func (s *openaiStream) Err() error { return s.native.Err() }

func (s *openaiStream) Close() error { return s.native.Close() }
