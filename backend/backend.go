// Package backend defines the ChatBackend adapter contract (spec §4.1): the
// minimal interface a provider-specific adapter (Claude, OpenAI, Gemini, ...)
// must satisfy so the orchestrator stays backend-unaware. It also defines the
// process-wide provider registry (§6.2) and the streaming chunk type
// (ChatResult, §3.3).
package backend

import (
	"context"

	"github.com/kschuler/agentrt/part"
)

// FinishReason explains why a backend stopped streaming a turn.
type FinishReason string

const (
	FinishUnspecified   FinishReason = "unspecified"
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishRecitation    FinishReason = "recitation"
)

// Usage carries token accounting, populated only on the final chunk of a turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CachedTokens int
}

// ChatResult is one streamed chunk from a backend (spec §3.3). Output.Parts
// is the delta to append for this chunk; Messages, when non-empty, carries
// fully-formed turn boundaries for adapters that deliver content out of band
// instead of incrementally.
type ChatResult struct {
	ID       string
	Output   part.ChatMessage
	Messages []part.ChatMessage

	// Thinking carries provider "reasoning" text surfaced for this chunk, if any.
	Thinking string

	FinishReason FinishReason
	Metadata     map[string]any

	// Usage is non-nil only on the final chunk of a turn.
	Usage *Usage
}

// Stream is the finite sequence of ChatResult chunks an adapter produces for
// one sendStream call. Next returns false after the final chunk, or after
// an error, which Err then reports.
type Stream interface {
	// Next advances to the next chunk, returning false when the stream is
	// exhausted (either cleanly or due to an error — check Err()).
	Next(ctx context.Context) bool
	// Current returns the chunk most recently made available by Next.
	Current() ChatResult
	// Err returns the terminal error, if any, after Next returns false.
	Err() error
	// Close releases any resources held by the stream. Idempotent.
	Close() error
}

// ChatBackend is the minimal interface a provider adapter must satisfy
// (spec §4.1). One ChatBackend instance is bound to one model.
type ChatBackend interface {
	// SendStream opens a streaming turn over the given immutable history
	// snapshot, with tools describing the caller's currently registered
	// tool set (converted to whatever wire format the provider expects). If
	// outputSchema is non-nil, the caller wants the final turn's text to be
	// a JSON document conforming to it. An adapter whose SupportsNativeSchema
	// reports true honors it natively; the others ignore outputSchema and
	// return no error for it.
	SendStream(ctx context.Context, history []part.ChatMessage, tools []part.ToolDef, outputSchema map[string]any) (Stream, error)

	// SupportsNativeSchema reports whether this backend can constrain its
	// response to outputSchema itself (native JSON-schema response mode).
	// When false, the typed-output orchestrator (spec §4.7) must be used
	// instead via the synthesized return_result tool.
	SupportsNativeSchema() bool

	// ModelName returns the model identifier this backend is bound to.
	ModelName() string

	// TokenLimits returns the context/output token limits for the bound model.
	TokenLimits() TokenLimits
}

// TokenLimits describes the token budget for a model.
type TokenLimits struct {
	Context int
	Output  int
}

// ModelKind enumerates the capabilities a listed model supports.
type ModelKind string

const (
	ModelKindChat       ModelKind = "chat"
	ModelKindEmbeddings ModelKind = "embeddings"
	ModelKindMedia      ModelKind = "media"
)

// ModelInfo describes one model a provider exposes (spec §6.1 listModels).
type ModelInfo struct {
	Name        string
	Kinds       []ModelKind
	TokenLimits TokenLimits
}

// Settings are the construction parameters for a provider's chat backend
// (spec §6.2): API key, base URL, custom headers, default model, default options.
type Settings struct {
	APIKey       string
	BaseURL      string
	Headers      map[string]string
	DefaultModel string
	Temperature  *float64
	MaxTokens    int
}

// Embedder is implemented by providers that support text embeddings. It is
// not part of the orchestrator core; callers that need embeddings obtain an
// Embedder directly from a Factory (spec §6.1, §1: "out of scope ... hosts
// no embedding").
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, Usage, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, Usage, error)
}

// Factory constructs a ChatBackend bound to one model, plus optionally a
// ModelInfo lister and an Embedder, for one named provider (spec §6.2).
type Factory interface {
	// Name is the provider's registry name (case-insensitive), e.g. "claude".
	Name() string
	// CreateChatModel returns a ChatBackend bound to settings.DefaultModel (or
	// model, if non-empty, overriding it).
	CreateChatModel(model string, settings Settings) (ChatBackend, error)
	// ListModels returns the provider's available models.
	ListModels(ctx context.Context, settings Settings) ([]ModelInfo, error)
	// Embedder optionally returns an embeddings backend; nil if unsupported.
	Embedder(settings Settings) (Embedder, error)
}

type debugDirKey struct{}

// WithDebugDir attaches a directory to ctx within which an adapter may dump
// raw request/response bodies for troubleshooting (spec §9, teacher's
// chat.WithDebugDir). The orchestrator itself never reads this.
func WithDebugDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, debugDirKey{}, dir)
}

// DebugDir returns the directory set by WithDebugDir, or "" if none.
func DebugDir(ctx context.Context) string {
	dir, _ := ctx.Value(debugDirKey{}).(string)
	return dir
}
