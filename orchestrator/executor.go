package orchestrator

import (
	"context"
	"sync"

	"github.com/kschuler/agentrt/part"
)

// ToolSet is a thread-safe name -> part.Tool registry, the same shape as the
// teacher's common.Tools: a map plus a registration-order slice so callers
// can enumerate tools deterministically while looking one up by name stays
// O(1).
type ToolSet struct {
	mu    sync.RWMutex
	tools map[string]part.Tool
	order []string
}

// NewToolSet returns an empty ToolSet.
func NewToolSet() *ToolSet {
	return &ToolSet{tools: make(map[string]part.Tool)}
}

// Register adds or replaces a tool by name.
func (s *ToolSet) Register(t part.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[t.Name]; !exists {
		s.order = append(s.order, t.Name)
	}
	s.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (s *ToolSet) Get(name string) (part.Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

// Defs returns every registered tool's definition in registration order, for
// handing to a ChatBackend alongside the outgoing history.
func (s *ToolSet) Defs() []part.ToolDef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]part.ToolDef, 0, len(s.order))
	for _, name := range s.order {
		defs = append(defs, s.tools[name].ToolDef)
	}
	return defs
}

// executeOne invokes a single tool call and returns its result part. Unknown
// tool names and OnCall failures are both captured as error Tool.result
// parts rather than returned as a Go error: the turn loop never aborts on a
// tool failure (spec §4.6).
//
// The call's id is first run through coordinator.Resolve so that a Tool.result
// id that a provider mangled or omitted is reconciled against the matching
// Tool.call before the result part is built. A hard mismatch (a name the
// coordinator never registered at all) is fatal and reported as an error
// rather than folded into the result part.
func executeOne(ctx context.Context, tools *ToolSet, coordinator *ToolIDCoordinator, call part.Part) (part.Part, error) {
	resolvedID, hardMismatch := coordinator.Resolve(call.ToolID, call.ToolName)
	if hardMismatch {
		return part.Part{}, newErrorf(KindToolIDMismatch,
			"tool result id %q for %q matches no registered call", call.ToolID, call.ToolName)
	}

	tool, ok := tools.Get(call.ToolName)
	if !ok {
		return part.ToolResult(resolvedID, call.ToolName,
			map[string]any{"error": "unknown_tool", "name": call.ToolName}, true), nil
	}

	result, err := tool.OnCall(ctx, call.ToolArguments)
	if err != nil {
		return part.ToolResult(resolvedID, call.ToolName,
			map[string]any{"error": err.Error(), "kind": string(KindToolFailure)}, true), nil
	}
	return part.ToolResult(resolvedID, call.ToolName, result, false), nil
}

// ExecuteBatch runs every tool call in calls concurrently, honoring ctx for
// cancellation/timeout, and returns one Tool.result part per call. The
// result slice preserves the original call order regardless of completion
// order, matching spec §4.6's determinism requirement for the resulting
// user message: "concurrent execution within a batch, reassembled in
// original call order."
//
// coordinator reconciles each call's id before the result part is built
// (spec §4.5); a hard id mismatch aborts the batch and is returned as an
// error rather than silently folded into a result part.
func ExecuteBatch(ctx context.Context, tools *ToolSet, coordinator *ToolIDCoordinator, calls []part.Part) ([]part.Part, error) {
	results := make([]part.Part, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i, call := range calls {
		go func(i int, call part.Part) {
			defer wg.Done()
			results[i], errs[i] = executeOne(ctx, tools, coordinator, call)
		}(i, call)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
