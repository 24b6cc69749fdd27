package orchestrator

import (
	"context"

	"github.com/kschuler/agentrt/backend"
	"github.com/kschuler/agentrt/part"
)

// scriptedChunk is one ChatResult a mockBackend will yield for a given turn.
type scriptedChunk struct {
	output       part.ChatMessage
	finishReason backend.FinishReason
	usage        *backend.Usage
}

// mockBackend is a deterministic backend.ChatBackend driven entirely by a
// pre-scripted sequence of turns, in the spirit of the teacher's mockChat:
// no network, no randomness, one fixed response per call.
type mockBackend struct {
	turns   [][]scriptedChunk
	callIdx int
}

func (m *mockBackend) SendStream(ctx context.Context, history []part.ChatMessage, tools []part.ToolDef, outputSchema map[string]any) (backend.Stream, error) {
	if m.callIdx >= len(m.turns) {
		return &mockStream{chunks: nil}, nil
	}
	chunks := m.turns[m.callIdx]
	m.callIdx++
	return &mockStream{chunks: chunks}, nil
}

func (m *mockBackend) SupportsNativeSchema() bool      { return false }
func (m *mockBackend) ModelName() string               { return "mock-model" }
func (m *mockBackend) TokenLimits() backend.TokenLimits { return backend.TokenLimits{Context: 1000, Output: 1000} }

type mockStream struct {
	chunks  []scriptedChunk
	idx     int
	current backend.ChatResult
}

func (s *mockStream) Next(ctx context.Context) bool {
	if s.idx >= len(s.chunks) {
		return false
	}
	c := s.chunks[s.idx]
	s.current = backend.ChatResult{
		Output:       c.output,
		FinishReason: c.finishReason,
		Usage:        c.usage,
	}
	s.idx++
	return true
}

func (s *mockStream) Current() backend.ChatResult { return s.current }
func (s *mockStream) Err() error                  { return nil }
func (s *mockStream) Close() error                { return nil }

// drain pulls every IterationResult from a ResultStream until Next returns
// false, for assertions in tests.
func drain(rs ResultStream) ([]IterationResult, error) {
	var out []IterationResult
	for rs.Next(context.Background()) {
		out = append(out, rs.Current())
	}
	return out, rs.Err()
}
