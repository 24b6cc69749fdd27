// Package orchestrator implements the provider-agnostic turn loop: it drives
// a backend.ChatBackend through zero or more tool-calling rounds until the
// model produces a final answer, folding streamed deltas into consolidated
// history via the accumulator and coordinator in this package.
package orchestrator

import (
	"context"

	"github.com/kschuler/agentrt/backend"
	"github.com/kschuler/agentrt/internal/logging"
	"github.com/kschuler/agentrt/part"
	"github.com/kschuler/agentrt/schema"
)

// chunkOrErr is the single value type pushed over the internal channel that
// backs a ResultStream; exactly one of result/err is meaningful per send.
type chunkOrErr struct {
	result IterationResult
	err    error
}

type orchestratorStream struct {
	ch      chan chunkOrErr
	cancel  context.CancelFunc
	current IterationResult
	err     error
	closed  bool
}

func (s *orchestratorStream) Next(ctx context.Context) bool {
	select {
	case item, ok := <-s.ch:
		if !ok {
			return false
		}
		if item.err != nil {
			s.err = item.err
			return false
		}
		s.current = item.result
		return true
	case <-ctx.Done():
		s.err = ctx.Err()
		return false
	}
}

func (s *orchestratorStream) Current() IterationResult { return s.current }
func (s *orchestratorStream) Err() error                { return s.err }

func (s *orchestratorStream) Close() error {
	if !s.closed {
		s.cancel()
		s.closed = true
	}
	return nil
}

// Run drives the default orchestrator (spec §4.3) against be, starting from
// initialHistory, with tools available for the model to call. outputSchema
// is forwarded to the backend as-is; callers whose backend cannot honor a
// schema natively should use RunTyped instead.
func Run(ctx context.Context, be backend.ChatBackend, initialHistory []part.ChatMessage, tools *ToolSet, outputSchema map[string]any) ResultStream {
	return runLoop(ctx, be, initialHistory, tools, outputSchema, typedOutputConfig{})
}

// typedOutputConfig configures the §4.7 typed-output pathway. Zero value
// disables it, making runLoop behave as the plain default orchestrator.
type typedOutputConfig struct {
	enabled bool
	// compiledSchema validates the return_result payload before it is
	// emitted as the turn's final Output. May be nil if outputSchema failed
	// to compile, in which case validation is skipped (RunTyped logs the
	// compile failure as a warning and returns no error for it).
	compiledSchema *schema.Compiled
}

// RunTyped drives the typed-output orchestrator (spec §4.7): it synthesizes
// a return_result tool whose input schema is outputSchema, suppresses
// streamed text/metadata while the model may still call it, and terminates
// the turn with a single synthetic message carrying the JSON payload once
// return_result is invoked successfully. Use this only when the bound
// backend reports !SupportsNativeSchema().
//
// outputSchema is compiled once up front via the schema package so every
// return_result payload can be validated against it before being accepted
// as the turn's typed output (spec §4.7, §8).
func RunTyped(ctx context.Context, be backend.ChatBackend, initialHistory []part.ChatMessage, tools *ToolSet, outputSchema map[string]any) ResultStream {
	merged := NewToolSet()
	for _, def := range tools.Defs() {
		t, _ := tools.Get(def.Name)
		merged.Register(t)
	}
	merged.Register(returnResultTool(outputSchema))

	compiled, err := schema.Compile(outputSchema)
	if err != nil {
		logging.Logger().Warn("typed-output schema failed to compile; return_result payloads will not be validated", "err", err)
		compiled = nil
	}

	return runLoop(ctx, be, initialHistory, merged, outputSchema, typedOutputConfig{enabled: true, compiledSchema: compiled})
}

const returnResultToolName = "return_result"

// returnResultTool synthesizes the pass-through tool described in spec §4.7:
// calling it simply echoes its arguments back as the final JSON payload.
func returnResultTool(outputSchema map[string]any) part.Tool {
	return part.Tool{
		ToolDef: part.ToolDef{
			Name:        returnResultToolName,
			Description: "Return the final structured result matching the requested schema.",
			InputSchema: outputSchema,
		},
		OnCall: func(ctx context.Context, arguments map[string]any) (any, error) {
			return arguments, nil
		},
	}
}

func runLoop(ctx context.Context, be backend.ChatBackend, initialHistory []part.ChatMessage, tools *ToolSet, outputSchema map[string]any, typed typedOutputConfig) ResultStream {
	runCtx, cancel := context.WithCancel(ctx)
	s := &orchestratorStream{
		ch:     make(chan chunkOrErr),
		cancel: cancel,
	}

	st := newStreamingState(initialHistory, tools)
	st.outputSchema = typed.compiledSchema

	go func() {
		defer close(s.ch)
		runTurns(runCtx, be, st, outputSchema, typed, s.ch)
	}()

	return s
}

// send delivers v on ch, honoring ctx cancellation so the goroutine never
// blocks forever against a consumer that has stopped pulling.
func send(ctx context.Context, ch chan<- chunkOrErr, v chunkOrErr) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// runTurns is the state machine of spec §4.3, looping iterations until a
// terminal yield or an unrecoverable error.
func runTurns(ctx context.Context, be backend.ChatBackend, st *streamingState, outputSchema map[string]any, typed typedOutputConfig, ch chan<- chunkOrErr) {
	for {
		shouldContinue, stop := runOneIteration(ctx, be, st, outputSchema, typed, ch)
		if stop {
			return
		}
		if !shouldContinue {
			return
		}
	}
}

// runOneIteration runs steps 1-8 of spec §4.3 once. It returns
// shouldContinue (whether the loop should run another iteration) and stop
// (whether the goroutine should exit immediately, e.g. on error or
// cancellation).
func runOneIteration(ctx context.Context, be backend.ChatBackend, st *streamingState, outputSchema map[string]any, typed typedOutputConfig, ch chan<- chunkOrErr) (shouldContinue, stop bool) {
	// Step 1: reset per-message state.
	st.accumulatedMessage = NewAccumulator()
	st.isFirstChunkOfMessage = true

	// Step 2: open the backend stream on an immutable snapshot of history.
	historySnapshot := make([]part.ChatMessage, len(st.conversationHistory))
	copy(historySnapshot, st.conversationHistory)

	stream, err := be.SendStream(ctx, historySnapshot, st.tools.Defs(), outputSchema)
	if err != nil {
		send(ctx, ch, chunkOrErr{err: newError(KindAdapterTransport, err)})
		return false, true
	}
	defer stream.Close()

	// Step 3: fold each chunk.
	for stream.Next(ctx) {
		chunk := stream.Current()
		st.lastResult = chunk

		suppressText := typed.enabled

		text := chunk.Output.TextValue()
		if text != "" {
			if suppressText {
				st.suppressedTextParts = append(st.suppressedTextParts, text)
			} else {
				prefixed := text
				if st.shouldPrefixNextMessage && st.isFirstChunkOfMessage {
					prefixed = "\n" + prefixed
				}
				if !send(ctx, ch, chunkOrErr{result: IterationResult{
					Output:         prefixed,
					ShouldContinue: true,
					Metadata:       chunk.Metadata,
					FinishReason:   chunk.FinishReason,
					Thinking:       chunk.Thinking,
				}}) {
					return false, true
				}
			}
			st.isFirstChunkOfMessage = false
		} else if len(chunk.Metadata) > 0 || chunk.Thinking != "" {
			if suppressText {
				mergeMetadataInto(st.suppressedMetadata, chunk.Metadata)
			} else {
				if !send(ctx, ch, chunkOrErr{result: IterationResult{
					ShouldContinue: true,
					Metadata:       chunk.Metadata,
					FinishReason:   chunk.FinishReason,
					Thinking:       chunk.Thinking,
				}}) {
					return false, true
				}
			}
		}

		foldTarget := chunk.Output
		if len(foldTarget.Parts) == 0 && len(chunk.Messages) > 0 {
			foldTarget = chunk.Messages[0]
		}
		st.accumulatedMessage.Accumulate(foldTarget)
	}
	if err := stream.Err(); err != nil {
		send(ctx, ch, chunkOrErr{err: newError(KindAdapterTransport, err)})
		return false, true
	}

	// Step 4: consolidate.
	consolidated := st.accumulatedMessage.Consolidate()

	// Step 5: empty-message policy.
	if consolidated.IsEmpty() {
		if historyTailHasToolResult(st.conversationHistory) && st.emptyAfterToolsContinuations < 1 {
			st.emptyAfterToolsContinuations++
			return send(ctx, ch, chunkOrErr{result: IterationResult{ShouldContinue: true}}), false
		}
		// Either a legitimate stop/length completion, or the defensive
		// fallback: in both cases treat as terminal rather than loop
		// forever, since the empty-after-tools counter above is the only
		// bounded retry window (spec §4.3, §9).
		st.conversationHistory = append(st.conversationHistory, consolidated)
		send(ctx, ch, chunkOrErr{result: IterationResult{
			Messages:       []part.ChatMessage{consolidated},
			ShouldContinue: false,
			FinishReason:   st.lastResult.FinishReason,
			Usage:          st.lastResult.Usage,
		}})
		return false, true
	}

	// Typed-output consolidation branch (spec §4.7).
	if typed.enabled {
		if done, terminate := handleTypedConsolidation(ctx, st, consolidated, ch); done {
			return !terminate, terminate
		}
		// No return_result call present: fall back to default behavior below.
	}

	// Step 6: append and yield the consolidated message.
	st.conversationHistory = append(st.conversationHistory, consolidated)
	if !send(ctx, ch, chunkOrErr{result: IterationResult{
		Messages:       []part.ChatMessage{consolidated},
		ShouldContinue: true,
	}}) {
		return false, true
	}

	// Step 7: extract pending tool calls.
	calls := consolidated.ToolCalls()
	if len(calls) == 0 {
		send(ctx, ch, chunkOrErr{result: IterationResult{
			ShouldContinue: false,
			FinishReason:   st.lastResult.FinishReason,
			Usage:          st.lastResult.Usage,
		}})
		return false, true
	}

	// Step 8: execute the batch and assemble the tool-result message.
	for _, call := range calls {
		st.toolIDCoordinator.RegisterToolCall(call.ToolID, call.ToolName, call.ToolArguments)
	}
	st.shouldPrefixNextMessage = true

	results, err := ExecuteBatch(ctx, st.tools, st.toolIDCoordinator, calls)
	if err != nil {
		send(ctx, ch, chunkOrErr{err: err})
		return false, true
	}
	resultMsg := part.ChatMessage{Role: part.RoleUser, Parts: results}
	st.conversationHistory = append(st.conversationHistory, resultMsg)
	st.emptyAfterToolsContinuations = 0

	if !send(ctx, ch, chunkOrErr{result: IterationResult{
		Messages:       []part.ChatMessage{resultMsg},
		ShouldContinue: true,
	}}) {
		return false, true
	}
	if !send(ctx, ch, chunkOrErr{result: IterationResult{ShouldContinue: true}}) {
		return false, true
	}

	return true, false
}

// handleTypedConsolidation implements the §4.7 branch taken when the
// typed-output orchestrator finds a consolidated message with tool calls.
// done reports whether this branch handled the consolidated message (a
// return_result call was present), so the caller skips the default steps
// 6-8; terminate reports whether the turn loop should stop (a terminal chunk
// or an error was sent) rather than run another iteration so the model can
// retry return_result.
func handleTypedConsolidation(ctx context.Context, st *streamingState, consolidated part.ChatMessage, ch chan<- chunkOrErr) (done, terminate bool) {
	calls := consolidated.ToolCalls()

	var returnCall *part.Part
	var otherCalls []part.Part
	for i := range calls {
		if calls[i].ToolName == returnResultToolName {
			returnCall = &calls[i]
		} else {
			otherCalls = append(otherCalls, calls[i])
		}
	}

	if returnCall == nil {
		// No return_result call in this turn: not our branch, let the
		// caller fall through to default handling.
		return false, false
	}

	st.conversationHistory = append(st.conversationHistory, consolidated)

	for _, call := range calls {
		st.toolIDCoordinator.RegisterToolCall(call.ToolID, call.ToolName, call.ToolArguments)
	}

	allResults, err := ExecuteBatch(ctx, st.tools, st.toolIDCoordinator, calls)
	if err != nil {
		send(ctx, ch, chunkOrErr{err: err})
		return true, true
	}

	var returnResultPart *part.Part
	var otherResults []part.Part
	for i := range allResults {
		if allResults[i].ToolName == returnResultToolName {
			returnResultPart = &allResults[i]
		} else {
			otherResults = append(otherResults, allResults[i])
		}
	}

	if len(otherCalls) > 0 {
		// Non-terminal concurrent tool calls: their results are appended
		// whatever return_result's own outcome; whether the loop continues
		// depends on return_result alone.
		st.conversationHistory = append(st.conversationHistory, part.ChatMessage{
			Role:  part.RoleUser,
			Parts: otherResults,
		})
	}

	if returnResultPart != nil && !returnResultPart.ToolIsError {
		payload, err := returnResultPart.ResultJSON()
		if err != nil {
			logging.Logger().Warn("return_result payload failed to serialize", "err", err)
		} else if valErr := st.outputSchema.ValidateJSON(payload); valErr != nil {
			logging.Logger().Warn("return_result payload failed schema validation; asking the model to retry", "err", valErr)
			*returnResultPart = part.ToolResult(returnResultPart.ToolID, returnResultPart.ToolName,
				map[string]any{"error": valErr.Error(), "kind": string(KindSchemaUnsupported)}, true)
		} else {
			metadata := make(map[string]any, len(st.suppressedMetadata)+2)
			for k, v := range st.suppressedMetadata {
				metadata[k] = v
			}
			metadata["return_result_call_id"] = returnCall.ToolID
			metadata["return_result_name"] = returnCall.ToolName
			if len(st.suppressedTextParts) > 0 {
				metadata["suppressed_text"] = st.suppressedTextParts
			}

			syntheticMsg := part.ChatMessage{
				Role:     part.RoleModel,
				Parts:    []part.Part{part.Text(payload)},
				Metadata: metadata,
			}
			st.conversationHistory = append(st.conversationHistory, syntheticMsg)

			send(ctx, ch, chunkOrErr{result: IterationResult{
				Output:         payload,
				Messages:       []part.ChatMessage{syntheticMsg},
				ShouldContinue: false,
				FinishReason:   st.lastResult.FinishReason,
				Usage:          st.lastResult.Usage,
			}})
			return true, true
		}
	}

	// return_result failed validation or execution: loop continues so the
	// model can try again, appending the result (with its error payload) as
	// a tool-result message if it was not already folded into otherResults.
	if returnResultPart != nil {
		st.conversationHistory = append(st.conversationHistory, part.ChatMessage{
			Role:  part.RoleUser,
			Parts: []part.Part{*returnResultPart},
		})
	}
	send(ctx, ch, chunkOrErr{result: IterationResult{ShouldContinue: true}})
	return true, false
}

func historyTailHasToolResult(history []part.ChatMessage) bool {
	n := len(history)
	start := n - 2
	if start < 0 {
		start = 0
	}
	for _, m := range history[start:n] {
		if m.HasToolResultParts() {
			return true
		}
	}
	return false
}

func mergeMetadataInto(dst, src map[string]any) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		if existingList, ok := existing.([]any); ok {
			if newList, ok := v.([]any); ok {
				dst[k] = append(existingList, newList...)
				continue
			}
		}
		dst[k] = v
	}
}
