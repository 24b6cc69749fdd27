package orchestrator

import (
	"context"

	"github.com/kschuler/agentrt/backend"
	"github.com/kschuler/agentrt/part"
	"github.com/kschuler/agentrt/schema"
)

// streamingState is the per-invocation mutable record of spec §4.2. Exactly
// one is created per call to Run/RunTyped and never shared across
// invocations or goroutines outside the loop that owns it.
type streamingState struct {
	conversationHistory []part.ChatMessage
	tools               *ToolSet
	accumulatedMessage  *Accumulator
	lastResult          backend.ChatResult
	toolIDCoordinator   *ToolIDCoordinator

	// outputSchema is the compiled form of the typed-output schema, used to
	// validate the return_result payload before it is emitted as the turn's
	// final Output. Nil when the default (non-typed) orchestrator is running.
	outputSchema *schema.Compiled

	// suppressedTextParts and suppressedMetadata buffer streamed content
	// while the typed-output orchestrator is hiding it from the consumer
	// (spec §4.7); unused by the default orchestrator.
	suppressedTextParts []string
	suppressedMetadata  map[string]any

	// emptyAfterToolsContinuations gates the provider empty-message quirk;
	// it lives on this per-invocation state, not as a package constant, so
	// concurrent conversations never interfere with one another (§9).
	emptyAfterToolsContinuations int

	shouldPrefixNextMessage bool
	isFirstChunkOfMessage   bool

	done bool
}

func newStreamingState(initialHistory []part.ChatMessage, tools *ToolSet) *streamingState {
	history := make([]part.ChatMessage, len(initialHistory))
	copy(history, initialHistory)

	return &streamingState{
		conversationHistory: history,
		tools:               tools,
		toolIDCoordinator:   NewToolIDCoordinator(),
		suppressedMetadata:  make(map[string]any),
	}
}

// IterationResult is one value yielded to the consumer of a ResultStream
// (spec §4.3 public operation).
type IterationResult struct {
	Output         string
	Messages       []part.ChatMessage
	ShouldContinue bool
	FinishReason   backend.FinishReason
	Metadata       map[string]any
	Usage          *backend.Usage

	// Thinking surfaces provider "reasoning" text for this chunk directly,
	// in addition to it being folded into the consolidated message's
	// metadata under "thinking" (spec §4.4), so callers can render a
	// thinking indicator without inspecting metadata.
	Thinking string
}

// ResultStream is the pull-based sequence of IterationResult values an
// orchestrator run produces, mirroring backend.Stream's shape so a consumer
// that already knows how to drain one backend stream needs no new mental
// model to drain the orchestrator's (spec §5: producer/consumer with
// backpressure on both sides of a shared cancellation context).
type ResultStream interface {
	Next(ctx context.Context) bool
	Current() IterationResult
	Err() error
	Close() error
}
