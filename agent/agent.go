// Package agent is the public entry point (spec §6.1): it wires one
// backend.ChatBackend to the orchestrator's turn loop, adds tool
// registration, optional persistence, and optional compaction, the way the
// teacher's session.go wraps chat.Chat with context-window management.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kschuler/agentrt/backend"
	"github.com/kschuler/agentrt/internal/logging"
	"github.com/kschuler/agentrt/orchestrator"
	"github.com/kschuler/agentrt/part"
	"github.com/kschuler/agentrt/persistence"
)

// Result is the convenience return value of Send: the fully drained output
// of one turn loop invocation.
type Result struct {
	Output   string
	Messages []part.ChatMessage
	Usage    *backend.Usage
	Thinking string
}

// Option configures an Agent at construction.
type Option func(*Agent)

// WithStore attaches a persistence.Store; each consolidated turn is appended
// to it as Send/SendStream drains. If not set, history is kept only in
// memory for the lifetime of the Agent.
func WithStore(store persistence.Store) Option {
	return func(a *Agent) { a.store = store }
}

// WithSummarizer installs a compaction hook that runs between turns once the
// session's cumulative token usage approaches the bound model's context
// limit (spec's supplemented session/compaction layer, grounded on the
// teacher's summarizer.go). threshold is the cumulative/context token ratio
// (0 disables automatic compaction); 0.8 matches the teacher's default.
func WithSummarizer(summarizer Summarizer, threshold float64) Option {
	return func(a *Agent) {
		a.summarizer = summarizer
		a.compactionThreshold = threshold
	}
}

// WithSystemPrompt seeds the conversation with a system message.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// sendOpts holds the optional per-call parameters of Send/SendStream (spec
// §6.1: "send(prompt, history?, attachments?, outputSchema?)"), gathered the
// way the teacher's chat.Option configures a requestOpts for one Message
// call rather than widening the method's positional signature.
type sendOpts struct {
	history     []part.ChatMessage
	attachments []part.Part
}

// SendOption configures one Send/SendStream call.
type SendOption func(*sendOpts)

// WithHistory seeds or overrides the conversation history used for this
// call, in place of the Agent's own persisted live history. The supplied
// messages are used as-is; the prompt (and any attachments) are appended on
// top and persisted normally.
func WithHistory(history []part.ChatMessage) SendOption {
	return func(o *sendOpts) { o.history = history }
}

// WithAttachments adds Data/Link parts (images, files) alongside the text
// prompt in the constructed user message.
func WithAttachments(attachments ...part.Part) SendOption {
	return func(o *sendOpts) { o.attachments = attachments }
}

// New resolves modelString (spec §6.1: "provider", "provider:model", or
// "provider/model") through the process-wide backend registry and returns an
// Agent bound to the resulting backend.ChatBackend.
func New(modelString string, settings backend.Settings, opts ...Option) (*Agent, error) {
	providerName, model := backend.ParseModelString(modelString)
	factory, ok := backend.Lookup(providerName)
	if !ok {
		return nil, fmt.Errorf("agent: no backend registered for provider %q", providerName)
	}

	be, err := factory.CreateChatModel(model, settings)
	if err != nil {
		return nil, fmt.Errorf("agent: create %q backend: %w", providerName, err)
	}

	return NewWithBackend(be, factory, settings, opts...)
}

// NewWithBackend wraps an already-constructed backend.ChatBackend, for
// callers that built one directly (tests, the mockbackend example) rather
// than through the registry. factory/settings may be zero-valued; they are
// only used by ListModels/EmbedQuery/EmbedDocuments.
func NewWithBackend(be backend.ChatBackend, factory backend.Factory, settings backend.Settings, opts ...Option) (*Agent, error) {
	a := &Agent{
		backend:  be,
		factory:  factory,
		settings: settings,
		tools:    orchestrator.NewToolSet(),
		store:    persistence.NewMemoryStore(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.systemPrompt != "" {
		if _, err := a.appendRecord(part.NewText(part.RoleSystem, a.systemPrompt), true); err != nil {
			return nil, fmt.Errorf("agent: persist system prompt: %w", err)
		}
	}

	return a, nil
}

// Agent wraps one backend.ChatBackend with the orchestrator turn loop, tool
// registration, optional persistence, and optional compaction.
type Agent struct {
	backend  backend.ChatBackend
	factory  backend.Factory
	settings backend.Settings

	tools        *orchestrator.ToolSet
	systemPrompt string

	store               persistence.Store
	summarizer          Summarizer
	compactionThreshold float64

	mu               sync.Mutex
	cumulativeTokens int
	compactionCount  int
	lastCompaction   time.Time
}

// RegisterTool adds a callable tool, available to the model on every
// subsequent Send/SendStream call (spec §6.3: name must be unique per agent).
func (a *Agent) RegisterTool(tool part.Tool) {
	a.tools.Register(tool)
}

// ModelName returns the bound backend's model identifier.
func (a *Agent) ModelName() string { return a.backend.ModelName() }

// ListModels delegates to the provider factory this Agent was built from.
func (a *Agent) ListModels(ctx context.Context) ([]backend.ModelInfo, error) {
	if a.factory == nil {
		return nil, fmt.Errorf("agent: no provider factory bound, cannot list models")
	}
	return a.factory.ListModels(ctx, a.settings)
}

// EmbedQuery delegates to the provider's Embedder, if any.
func (a *Agent) EmbedQuery(ctx context.Context, text string) ([]float64, backend.Usage, error) {
	embedder, err := a.embedder()
	if err != nil {
		return nil, backend.Usage{}, err
	}
	return embedder.EmbedQuery(ctx, text)
}

// EmbedDocuments delegates to the provider's Embedder, if any.
func (a *Agent) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, backend.Usage, error) {
	embedder, err := a.embedder()
	if err != nil {
		return nil, backend.Usage{}, err
	}
	return embedder.EmbedDocuments(ctx, texts)
}

func (a *Agent) embedder() (backend.Embedder, error) {
	if a.factory == nil {
		return nil, fmt.Errorf("agent: no provider factory bound, cannot embed")
	}
	embedder, err := a.factory.Embedder(a.settings)
	if err != nil {
		return nil, fmt.Errorf("agent: embedder: %w", err)
	}
	if embedder == nil {
		return nil, fmt.Errorf("agent: provider %q has no embeddings support", a.backend.ModelName())
	}
	return embedder, nil
}

// Send is the convenience wrapper (spec §6.1) that fully drains SendStream
// and folds every chunk into one Result.
func (a *Agent) Send(ctx context.Context, prompt string, outputSchema map[string]any, opts ...SendOption) (Result, error) {
	stream, err := a.SendStream(ctx, prompt, outputSchema, opts...)
	if err != nil {
		return Result{}, err
	}
	defer stream.Close()

	var result Result
	for stream.Next(ctx) {
		chunk := stream.Current()
		result.Output += chunk.Output
		result.Thinking += chunk.Thinking
		if len(chunk.Messages) > 0 {
			result.Messages = append(result.Messages, chunk.Messages...)
		}
		if chunk.Usage != nil {
			result.Usage = chunk.Usage
		}
	}
	if err := stream.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// SendStream appends prompt as a user turn and drives the turn loop,
// choosing the default or typed-output orchestrator based on whether the
// bound backend natively supports outputSchema (spec §9's dispatch
// resolution: "the adapter is responsible for choosing").
//
// opts may supply WithHistory to seed/override the history this call is run
// against (in place of the Agent's own persisted live history) and
// WithAttachments to carry Data/Link parts (images, files) alongside prompt
// in the constructed user message (spec §6.1).
func (a *Agent) SendStream(ctx context.Context, prompt string, outputSchema map[string]any, opts ...SendOption) (orchestrator.ResultStream, error) {
	var so sendOpts
	for _, opt := range opts {
		if opt != nil {
			opt(&so)
		}
	}

	a.mu.Lock()
	if err := a.maybeCompactLocked(ctx); err != nil {
		a.mu.Unlock()
		return nil, fmt.Errorf("agent: auto-compaction: %w", err)
	}

	userMsg := part.NewText(part.RoleUser, prompt)
	if len(so.attachments) > 0 {
		userMsg.Parts = append(userMsg.Parts, so.attachments...)
	}
	if _, err := a.appendRecord(userMsg, true); err != nil {
		a.mu.Unlock()
		return nil, fmt.Errorf("agent: persist user message: %w", err)
	}

	var history []part.ChatMessage
	if so.history != nil {
		history = make([]part.ChatMessage, len(so.history), len(so.history)+1)
		copy(history, so.history)
		history = append(history, userMsg)
	} else {
		liveHistory, err := a.liveHistoryLocked()
		if err != nil {
			a.mu.Unlock()
			return nil, err
		}
		history = liveHistory
	}
	a.mu.Unlock()

	var stream orchestrator.ResultStream
	if len(outputSchema) > 0 && !a.backend.SupportsNativeSchema() {
		stream = orchestrator.RunTyped(ctx, a.backend, history, a.tools, outputSchema)
	} else {
		stream = orchestrator.Run(ctx, a.backend, history, a.tools, outputSchema)
	}

	return &persistingStream{agent: a, inner: stream}, nil
}

// persistingStream wraps an orchestrator.ResultStream, appending each
// consolidated message it yields to the Agent's store as the caller drains
// it, mirroring the teacher's session.trackResponse bookkeeping.
type persistingStream struct {
	agent *Agent
	inner orchestrator.ResultStream
}

func (s *persistingStream) Next(ctx context.Context) bool {
	ok := s.inner.Next(ctx)
	if ok {
		s.persistChunk(s.inner.Current())
	}
	return ok
}

func (s *persistingStream) persistChunk(chunk orchestrator.IterationResult) {
	s.agent.mu.Lock()
	defer s.agent.mu.Unlock()

	for _, msg := range chunk.Messages {
		if _, err := s.agent.appendRecord(msg, true); err != nil {
			logging.Logger().Warn("agent: failed to persist message", "err", err)
		}
	}
	if chunk.Usage != nil {
		s.agent.cumulativeTokens += chunk.Usage.TotalTokens
	}
}

func (s *persistingStream) Current() orchestrator.IterationResult { return s.inner.Current() }
func (s *persistingStream) Err() error                            { return s.inner.Err() }
func (s *persistingStream) Close() error                          { return s.inner.Close() }

// appendRecord persists msg as a record whose liveness is live. Callers must
// hold a.mu.
func (a *Agent) appendRecord(msg part.ChatMessage, live bool) (int64, error) {
	return a.store.AddRecord(persistence.Record{
		Message:   msg,
		Live:      live,
		Timestamp: time.Now(),
	})
}

// liveHistoryLocked returns every live record's message, in chronological
// order. Callers must hold a.mu.
func (a *Agent) liveHistoryLocked() ([]part.ChatMessage, error) {
	records, err := a.store.GetLiveRecords()
	if err != nil {
		return nil, fmt.Errorf("agent: load live history: %w", err)
	}
	history := make([]part.ChatMessage, 0, len(records))
	for _, r := range records {
		history = append(history, r.Message)
	}
	return history, nil
}

// maybeCompactLocked summarizes older live records into one assistant
// message when the session's cumulative token usage crosses
// compactionThreshold of the bound model's context limit. Callers must hold
// a.mu.
func (a *Agent) maybeCompactLocked(ctx context.Context) error {
	if a.summarizer == nil || a.compactionThreshold <= 0 {
		return nil
	}

	limits := a.backend.TokenLimits()
	if limits.Context <= 0 {
		return nil
	}
	if float64(a.cumulativeTokens)/float64(limits.Context) < a.compactionThreshold {
		return nil
	}

	live, err := a.store.GetLiveRecords()
	if err != nil {
		return err
	}
	if len(live) < 3 {
		return nil
	}

	keepLast := 2
	toSummarize := live[:len(live)-keepLast]

	summary, err := a.summarizer.Summarize(ctx, toSummarize)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	for _, r := range toSummarize {
		if err := a.store.MarkRecordDead(r.ID); err != nil {
			logging.Logger().Warn("agent: failed to mark record dead during compaction", "id", r.ID, "err", err)
		}
	}

	summaryMsg := part.NewText(part.RoleModel, fmt.Sprintf("[Previous conversation summary]\n%s", summary))
	if _, err := a.appendRecord(summaryMsg, true); err != nil {
		return fmt.Errorf("persist summary: %w", err)
	}

	a.compactionCount++
	a.lastCompaction = time.Now()
	return a.store.SaveMetrics(persistence.SessionMetrics{
		CompactionCount:     a.compactionCount,
		LastCompaction:      a.lastCompaction,
		CumulativeTokens:    a.cumulativeTokens,
		CompactionThreshold: a.compactionThreshold,
	})
}
