package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/kschuler/agentrt/part"
)

// callBuffer accumulates one tool call's arguments as they stream in as
// partial JSON fragments (spec §4.4), the same way the teacher's Claude and
// OpenAI adapters buffer ToolUseBlock.Input / function-call-argument deltas
// into a strings.Builder keyed by block index before parsing at the end.
type callBuffer struct {
	id       string
	name     string
	argsJSON strings.Builder
}

// Accumulator folds streamed ChatResult.Output deltas into one consolidated
// part.ChatMessage per turn. One Accumulator is used per model turn and
// discarded once Consolidate has been called.
type Accumulator struct {
	role part.Role

	textParts    []string
	dataParts    []part.Part
	linkParts    []part.Part
	thinkingText strings.Builder

	// callOrder preserves first-seen order for deterministic consolidation.
	callOrder []string
	calls     map[string]*callBuffer

	metadata map[string]any
}

// NewAccumulator returns an empty accumulator for a model turn.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		role:     part.RoleModel,
		calls:    make(map[string]*callBuffer),
		metadata: make(map[string]any),
	}
}

// Accumulate folds one delta message into the running state. Text parts are
// concatenated in arrival order; Data/Link parts are appended verbatim;
// Tool-call parts have their Arguments field treated as a partial-JSON
// fragment and appended to the buffer keyed by the part's ID (or, if the ID
// is empty because the provider does not assign one until the call closes,
// the most recently opened unresolved buffer); metadata is merged with
// scalar-overwrite/list-concatenate semantics; a "thinking" metadata string
// is accumulated separately across the whole turn, per spec §4.4.
func (a *Accumulator) Accumulate(delta part.ChatMessage) {
	if delta.Role != "" {
		a.role = delta.Role
	}

	for _, p := range delta.Parts {
		switch p.Kind {
		case part.KindText:
			a.textParts = append(a.textParts, p.Text)
		case part.KindData:
			a.dataParts = append(a.dataParts, p)
		case part.KindLink:
			a.linkParts = append(a.linkParts, p)
		case part.KindToolCall:
			a.accumulateToolCall(p)
		case part.KindToolResult:
			// Tool results never appear in model-turn deltas; ignore
			// defensively rather than panic on a malformed adapter.
		}
	}

	if thinking, ok := delta.Metadata["thinking"].(string); ok && thinking != "" {
		a.thinkingText.WriteString(thinking)
	}

	a.mergeMetadata(delta.Metadata)
}

func (a *Accumulator) accumulateToolCall(p part.Part) {
	id := p.ToolID
	if id == "" {
		// No id yet on this fragment: attach to the most recently opened
		// buffer, if there is any, matching the teacher's single
		// currentToolCall-pointer pattern (one call open at a time per
		// content block).
		if len(a.callOrder) > 0 {
			id = a.callOrder[len(a.callOrder)-1]
		}
	}

	buf, ok := a.calls[id]
	if !ok {
		buf = &callBuffer{id: id, name: p.ToolName}
		a.calls[id] = buf
		a.callOrder = append(a.callOrder, id)
	}
	if p.ToolName != "" {
		buf.name = p.ToolName
	}
	buf.argsJSON.WriteString(p.ArgumentsJSON)
}

func (a *Accumulator) mergeMetadata(delta map[string]any) {
	for k, v := range delta {
		if k == "thinking" {
			continue
		}
		existing, ok := a.metadata[k]
		if !ok {
			a.metadata[k] = v
			continue
		}
		if existingList, ok := existing.([]any); ok {
			if newList, ok := v.([]any); ok {
				a.metadata[k] = append(existingList, newList...)
				continue
			}
		}
		// Scalar overwrite.
		a.metadata[k] = v
	}
}

// Consolidate folds all accumulated state into a single part.ChatMessage.
// Text parts coalesce into one KindText part; tool-call argument buffers are
// parsed as JSON, falling back to an empty object on malformed JSON (spec
// §4.4 edge case) rather than dropping the call or failing the turn.
func (a *Accumulator) Consolidate() part.ChatMessage {
	msg := part.ChatMessage{Role: a.role}

	if text := strings.Join(a.textParts, ""); text != "" {
		msg.Parts = append(msg.Parts, part.Text(text))
	}

	msg.Parts = append(msg.Parts, a.dataParts...)
	msg.Parts = append(msg.Parts, a.linkParts...)

	for _, id := range a.callOrder {
		buf := a.calls[id]
		raw := buf.argsJSON.String()
		args := map[string]any{}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				// Malformed JSON at consolidation yields {} rather than
				// dropping the call or aborting the turn (spec §4.4).
				args = map[string]any{}
			}
		}
		msg.Parts = append(msg.Parts, part.ToolCall(buf.id, buf.name, args))
	}

	if thinking := a.thinkingText.String(); thinking != "" {
		if a.metadata == nil {
			a.metadata = make(map[string]any)
		}
		a.metadata["thinking"] = thinking
	}
	if len(a.metadata) > 0 {
		msg.Metadata = a.metadata
	}

	return msg
}
