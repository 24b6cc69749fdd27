// Package gemini adapts Google's Gemini API to the backend.ChatBackend
// contract, grounded on the teacher's llm/gemini/gemini.go and converter.go:
// the same genai.Client construction, role mapping (model/user/function),
// FunctionCall/FunctionResponse part shapes, and JSON-Schema-to-genai.Schema
// conversion.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/kschuler/agentrt/backend"
	"github.com/kschuler/agentrt/orchestrator"
	"github.com/kschuler/agentrt/part"
)

const providerName = "gemini"

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
		return nil, fmt.Errorf("gemini: no model specified")
	}
	if settings.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}

	config := &genai.ClientConfig{APIKey: settings.APIKey}
	if len(settings.Headers) > 0 {
		h := make(http.Header)
		for k, v := range settings.Headers {
			h.Set(k, v)
		}
		config.HTTPOptions.Headers = h
	}
	if settings.BaseURL != "" {
		config.HTTPOptions.BaseURL = settings.BaseURL
	}

	client, err := genai.NewClient(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}

	return &chatBackend{
		client:      client,
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

// Embedder returns nil: the spec does not exercise Gemini's embeddings
// endpoint and the teacher's gemini package never wires one up either.
func (factory) Embedder(settings backend.Settings) (backend.Embedder, error) { return nil, nil }

type modelLimit struct {
	name   string
	limits backend.TokenLimits
}

// knownModels mirrors the teacher's modelLimits table in llm/gemini/gemini.go.
var knownModels = []modelLimit{
	{"gemini-2.5-pro", backend.TokenLimits{Context: 1048576, Output: 65536}},
	{"gemini-2.5-flash-lite", backend.TokenLimits{Context: 1048576, Output: 65536}},
	{"gemini-2.5-flash", backend.TokenLimits{Context: 1048576, Output: 65536}},
	{"gemini-2.0-flash-lite", backend.TokenLimits{Context: 1048576, Output: 8192}},
	{"gemini-2.0-flash", backend.TokenLimits{Context: 1048576, Output: 8192}},
	{"gemini-1.5-pro", backend.TokenLimits{Context: 2097152, Output: 8192}},
	{"gemini-1.5-flash-8b", backend.TokenLimits{Context: 1048576, Output: 8192}},
	{"gemini-1.5-flash", backend.TokenLimits{Context: 1048576, Output: 8192}},
}

func tokenLimitsForModel(model string) backend.TokenLimits {
	lower := strings.ToLower(model)
	for _, m := range knownModels {
		if strings.HasPrefix(lower, m.name) {
			return m.limits
		}
	}
	return backend.TokenLimits{Context: 1048576, Output: 8192}
}

type chatBackend struct {
	client      *genai.Client
	modelName   string
	settings    backend.Settings
	tokenLimits backend.TokenLimits
}

func (b *chatBackend) ModelName() string               { return b.modelName }
func (b *chatBackend) TokenLimits() backend.TokenLimits { return b.tokenLimits }

// SupportsNativeSchema reports false: the teacher never wires up genai's
// native ResponseSchema/ResponseMIMEType fields, instead falling back to
// appending formatting instructions to the system prompt, so typed output
// goes through the synthesized return_result tool instead.
func (b *chatBackend) SupportsNativeSchema() bool { return false }

func (b *chatBackend) SendStream(ctx context.Context, history []part.ChatMessage, tools []part.ToolDef, outputSchema map[string]any) (backend.Stream, error) {
	contents, err := b.buildContents(history)
	if err != nil {
		return nil, err
	}

	config, err := b.buildConfig(tools)
	if err != nil {
		return nil, err
	}

	native := b.client.Models.GenerateContentStream(ctx, b.modelName, contents, config)

	streamCtx, cancel := context.WithCancel(ctx)
	s := &geminiStream{ch: make(chan chunkOrErr), cancel: cancel}
	go s.pump(streamCtx, native)
	return s, nil
}

func (b *chatBackend) buildContents(history []part.ChatMessage) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, m := range history {
		converted, err := messageToGemini(m)
		if err != nil {
			return nil, fmt.Errorf("gemini: converting history message: %w", err)
		}
		contents = append(contents, converted...)
	}
	return contents, nil
}

func (b *chatBackend) buildConfig(tools []part.ToolDef) (*genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}

	if b.settings.Temperature != nil {
		temp := float32(*b.settings.Temperature)
		config.Temperature = &temp
	}

	maxTokens := b.settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.tokenLimits.Output
	}
	config.MaxOutputTokens = int32(maxTokens)

	if len(tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decl, err := functionDeclaration(t)
			if err != nil {
				return nil, fmt.Errorf("gemini: converting tool %q: %w", t.Name, err)
			}
			declarations = append(declarations, decl)
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	return config, nil
}

// messageToGemini converts one part.ChatMessage into Gemini Content,
// adapted from the teacher's converter.go: user/system messages map to the
// "user" role, model messages with tool calls map to "model" with
// FunctionCall parts, and tool-result messages map to the "function" role
// with FunctionResponse parts.
func messageToGemini(m part.ChatMessage) ([]*genai.Content, error) {
	if len(m.Parts) == 0 {
		return nil, nil
	}

	if m.HasToolResultParts() {
		var parts []*genai.Part
		for _, tr := range m.ToolResults() {
			response := map[string]any{}
			if tr.ToolIsError {
				response["error"] = fmt.Sprint(tr.ToolResult)
			} else if s, ok := tr.ToolResult.(string); ok && s != "" {
				if err := json.Unmarshal([]byte(s), &response); err != nil {
					response["result"] = s
				}
			} else if tr.ToolResult != nil {
				response["result"] = tr.ToolResult
			} else {
				response["result"] = "success"
			}
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{ID: tr.ToolID, Name: tr.ToolName, Response: response},
			})
		}
		return []*genai.Content{{Role: "function", Parts: parts}}, nil
	}

	if m.HasToolCalls() {
		var parts []*genai.Part
		if text := m.TextValue(); text != "" {
			parts = append(parts, &genai.Part{Text: text})
		}
		for _, tc := range m.ToolCalls() {
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: tc.ToolID, Name: tc.ToolName, Args: tc.ToolArguments},
			})
		}
		if len(parts) == 0 {
			return nil, nil
		}
		return []*genai.Content{{Role: "model", Parts: parts}}, nil
	}

	text := m.TextValue()
	if text == "" {
		return nil, fmt.Errorf("message has no text content")
	}
	role := "user"
	if m.Role == part.RoleModel {
		role = "model"
	}
	return []*genai.Content{{Role: role, Parts: []*genai.Part{{Text: text}}}}, nil
}

// functionDeclaration converts a part.ToolDef to a genai.FunctionDeclaration,
// adapted from the teacher's mcpToGeminiFunctionDeclaration and
// jsonSchemaToGeminiSchema.
func functionDeclaration(def part.ToolDef) (*genai.FunctionDeclaration, error) {
	var parameters *genai.Schema
	if len(def.InputSchema) > 0 {
		s, err := jsonSchemaToGeminiSchema(def.InputSchema)
		if err != nil {
			return nil, err
		}
		parameters = s
	}
	return &genai.FunctionDeclaration{Name: def.Name, Description: def.Description, Parameters: parameters}, nil
}

func jsonSchemaToGeminiSchema(schemaMap map[string]any) (*genai.Schema, error) {
	schema := &genai.Schema{}

	if typeStr, ok := schemaMap["type"].(string); ok {
		switch typeStr {
		case "string":
			schema.Type = genai.TypeString
		case "integer":
			schema.Type = genai.TypeInteger
		case "number":
			schema.Type = genai.TypeNumber
		case "boolean":
			schema.Type = genai.TypeBoolean
		case "array":
			schema.Type = genai.TypeArray
			if items, ok := schemaMap["items"].(map[string]any); ok {
				itemSchema, err := jsonSchemaToGeminiSchema(items)
				if err != nil {
					return nil, fmt.Errorf("converting array items schema: %w", err)
				}
				schema.Items = itemSchema
			}
		case "object":
			schema.Type = genai.TypeObject
			if props, ok := schemaMap["properties"].(map[string]any); ok {
				schema.Properties = make(map[string]*genai.Schema)
				for name, value := range props {
					if propMap, ok := value.(map[string]any); ok {
						propSchema, err := jsonSchemaToGeminiSchema(propMap)
						if err != nil {
							return nil, fmt.Errorf("converting property %q: %w", name, err)
						}
						schema.Properties[name] = propSchema
					}
				}
			}
			if required, ok := schemaMap["required"].([]any); ok {
				fields := make([]string, 0, len(required))
				for _, f := range required {
					if name, ok := f.(string); ok {
						fields = append(fields, name)
					}
				}
				schema.Required = fields
			}
		}
	}

	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}

	return schema, nil
}

type chunkOrErr struct {
	result backend.ChatResult
	err    error
}

// geminiStream adapts genai's range-over-func streaming iterator
// (for chunk, err := range stream) to the pull-based backend.Stream
// interface by running the iteration in a goroutine and funneling results
// over a channel, the same generator shape used by orchestrator.ResultStream.
type geminiStream struct {
	ch      chan chunkOrErr
	cancel  context.CancelFunc
	current backend.ChatResult
	err     error
}

func (s *geminiStream) pump(ctx context.Context, native iter.Seq2[*genai.GenerateContentResponse, error]) {
	defer close(s.ch)
	for chunk, err := range native {
		if err != nil {
			select {
			case s.ch <- chunkOrErr{err: err}:
			case <-ctx.Done():
			}
			return
		}
		if chunk == nil {
			continue
		}
		result := translateChunk(chunk)
		select {
		case s.ch <- chunkOrErr{result: result}:
		case <-ctx.Done():
			return
		}
	}
}

func translateChunk(chunk *genai.GenerateContentResponse) backend.ChatResult {
	var result backend.ChatResult
	var parts []part.Part

	for _, candidate := range chunk.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, p := range candidate.Content.Parts {
			if p.Text != "" {
				parts = append(parts, part.Text(p.Text))
			}
			if p.FunctionCall != nil {
				id := p.FunctionCall.ID
				if id == "" {
					// Gemini frequently omits an ID on function calls. Unlike
					// the teacher's rand-seeded generateFunctionCallID, this
					// derives the id deterministically from the call itself
					// so retried/duplicated calls within a conversation
					// resolve to the same id instead of a fresh random one.
					id = orchestrator.GenerateToolCallID(p.FunctionCall.Name, providerName, p.FunctionCall.Args)
				}
				parts = append(parts, part.ToolCall(id, p.FunctionCall.Name, p.FunctionCall.Args))
			}
		}
		if candidate.FinishReason != "" {
			result.FinishReason = mapFinishReason(string(candidate.FinishReason))
		}
	}

	if chunk.UsageMetadata != nil {
		result.Usage = &backend.Usage{
			InputTokens:  int(chunk.UsageMetadata.PromptTokenCount),
			OutputTokens: int(chunk.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(chunk.UsageMetadata.TotalTokenCount),
			CachedTokens: int(chunk.UsageMetadata.CachedContentTokenCount),
		}
	}

	if len(parts) > 0 {
		result.Output = part.ChatMessage{Role: part.RoleModel, Parts: parts}
	}

	return result
}

func mapFinishReason(reason string) backend.FinishReason {
	switch reason {
	case "STOP":
		return backend.FinishStop
	case "MAX_TOKENS":
		return backend.FinishLength
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII":
		return backend.FinishContentFilter
	case "RECITATION":
		return backend.FinishRecitation
	default:
		return backend.FinishUnspecified
	}
}

func (s *geminiStream) Next(ctx context.Context) bool {
	select {
	case v, ok := <-s.ch:
		if !ok {
			return false
		}
		if v.err != nil {
			s.err = v.err
			return false
		}
		s.current = v.result
		return true
	case <-ctx.Done():
		s.err = ctx.Err()
		return false
	}
}

func (s *geminiStream) Current() backend.ChatResult { return s.current }

func (s *geminiStream) Err() error { return s.err }

func (s *geminiStream) Close() error {
	s.cancel()
	return nil
}
