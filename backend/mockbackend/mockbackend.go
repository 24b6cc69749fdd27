// Package mockbackend is a deterministic backend.ChatBackend with no network
// dependency, grounded on the teacher's mockChat test double in
// session_test.go: a scripted request/response pair, streamed word-by-word,
// usable both in tests and as a runnable example backend for cmd/agent-cli.
package mockbackend

import (
	"context"
	"fmt"
	"strings"

	"github.com/kschuler/agentrt/backend"
	"github.com/kschuler/agentrt/part"
)

const providerName = "mock"

func init() {
	backend.Register(factory{})
}

type factory struct{}

func (factory) Name() string { return providerName }

func (factory) CreateChatModel(model string, settings backend.Settings) (backend.ChatBackend, error) {
	m := model
	if m == "" {
		m = settings.DefaultModel
	}
	if m == "" {
		m = "mock-echo"
	}
	return New(m), nil
}

func (factory) ListModels(ctx context.Context, settings backend.Settings) ([]backend.ModelInfo, error) {
	return []backend.ModelInfo{{
		Name:        "mock-echo",
		Kinds:       []backend.ModelKind{backend.ModelKindChat},
		TokenLimits: backend.TokenLimits{Context: 8192, Output: 2048},
	}}, nil
}

func (factory) Embedder(settings backend.Settings) (backend.Embedder, error) { return nil, nil }

// Backend echoes back the text of the last user message, streamed one word
// at a time, with a fixed token-usage estimate. It never calls a tool on its
// own; callers drive tool-call scenarios with Responder instead.
type Backend struct {
	modelName string
	tokenUsed int

	// Responder, when set, overrides the default echo behavior: given the
	// request history it returns the ChatMessage the model "said" this
	// turn. Used by examples and tests that need scripted tool calls.
	Responder func(history []part.ChatMessage, tools []part.ToolDef) part.ChatMessage
}

// New returns a Backend bound to modelName.
func New(modelName string) *Backend {
	return &Backend{modelName: modelName}
}

func (b *Backend) ModelName() string { return b.modelName }

func (b *Backend) TokenLimits() backend.TokenLimits {
	return backend.TokenLimits{Context: 8192, Output: 2048}
}

func (b *Backend) SupportsNativeSchema() bool { return false }

func (b *Backend) SendStream(ctx context.Context, history []part.ChatMessage, tools []part.ToolDef, outputSchema map[string]any) (backend.Stream, error) {
	var response part.ChatMessage
	if b.Responder != nil {
		response = b.Responder(history, tools)
	} else {
		response = defaultEcho(history)
	}

	words := strings.Fields(response.TextValue())
	chunks := make([]backend.ChatResult, 0, len(words)+1)
	for i, w := range words {
		text := w
		if i < len(words)-1 {
			text += " "
		}
		chunks = append(chunks, backend.ChatResult{
			Output: part.ChatMessage{Role: part.RoleModel, Parts: []part.Part{part.Text(text)}},
		})
	}

	finish := backend.FinishStop
	if response.HasToolCalls() {
		finish = backend.FinishToolCalls
		for _, c := range response.ToolCalls() {
			chunks = append(chunks, backend.ChatResult{
				Output: part.ChatMessage{Role: part.RoleModel, Parts: []part.Part{c}},
			})
		}
	}

	inputTokens := estimateTokens(lastUserText(history))
	outputTokens := estimateTokens(response.TextValue())
	b.tokenUsed += inputTokens + outputTokens

	chunks = append(chunks, backend.ChatResult{
		FinishReason: finish,
		Usage: &backend.Usage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		},
	})

	return &stream{chunks: chunks}, nil
}

func defaultEcho(history []part.ChatMessage) part.ChatMessage {
	return part.NewText(part.RoleModel, fmt.Sprintf("Response to: %s", lastUserText(history)))
}

func lastUserText(history []part.ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == part.RoleUser {
			return history[i].TextValue()
		}
	}
	return ""
}

// estimateTokens mirrors the teacher's testing estimate: roughly four
// characters per token.
func estimateTokens(text string) int {
	return len(text) / 4
}

type stream struct {
	chunks  []backend.ChatResult
	idx     int
	current backend.ChatResult
}

func (s *stream) Next(ctx context.Context) bool {
	if s.idx >= len(s.chunks) {
		return false
	}
	s.current = s.chunks[s.idx]
	s.idx++
	return true
}

func (s *stream) Current() backend.ChatResult { return s.current }
func (s *stream) Err() error                  { return nil }
func (s *stream) Close() error                { return nil }
