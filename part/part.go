// Package part defines the tagged-variant message content model shared by
// every backend adapter and by the orchestrator: Part, ChatMessage, and the
// tool definitions a caller registers with an agent.
package part

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind discriminates the variant held by a Part.
type Kind string

const (
	// KindText is a plain text fragment.
	KindText Kind = "text"
	// KindData is inline binary content (image, generated file, audio).
	KindData Kind = "data"
	// KindLink is an external reference (URL).
	KindLink Kind = "link"
	// KindToolCall is a request from the model to invoke a tool.
	KindToolCall Kind = "tool_call"
	// KindToolResult is the result of a tool invocation.
	KindToolResult Kind = "tool_result"
)

// Part is one element of a ChatMessage's content. Exactly one of the
// kind-specific fields is populated, selected by Kind. A Part is immutable
// once emitted by the accumulator or appended to history.
type Part struct {
	Kind Kind `json:"kind"`

	// Text holds the payload for KindText.
	Text string `json:"text,omitempty"`

	// Data holds the payload for KindData.
	Bytes    []byte `json:"bytes,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Name     string `json:"name,omitempty"`

	// Link holds the payload for KindLink. MimeType is optional here too.
	URL string `json:"url,omitempty"`

	// Tool holds the payload for KindToolCall / KindToolResult.
	ToolID        string         `json:"tool_id,omitempty"`
	ToolName      string         `json:"tool_name,omitempty"`
	ToolArguments map[string]any `json:"tool_arguments,omitempty"`
	ToolResult    any            `json:"tool_result,omitempty"`
	ToolIsError   bool           `json:"tool_is_error,omitempty"`

	// ArgumentsJSON carries a raw, possibly partial, JSON fragment of a tool
	// call's arguments as it streams in. Only ever set on a delta Part
	// (backend.ChatResult.Output) produced mid-call by an adapter; the
	// orchestrator's accumulator buffers these fragments and parses the
	// joined text into ToolArguments once the call closes. Never set on a
	// consolidated Part.
	ArgumentsJSON string `json:"-"`
}

// Text builds a KindText part.
func Text(s string) Part { return Part{Kind: KindText, Text: s} }

// Data builds a KindData part. Callers must supply non-empty bytes and a
// non-empty MIME type; see the Validate invariant.
func Data(bytes []byte, mimeType, name string) Part {
	return Part{Kind: KindData, Bytes: bytes, MimeType: mimeType, Name: name}
}

// Link builds a KindLink part.
func Link(url, mimeType string) Part {
	return Part{Kind: KindLink, URL: url, MimeType: mimeType}
}

// ToolCall builds a finalized KindToolCall part with parsed arguments.
func ToolCall(id, name string, args map[string]any) Part {
	return Part{Kind: KindToolCall, ToolID: id, ToolName: name, ToolArguments: args}
}

// ToolCallDelta builds a streaming KindToolCall fragment carrying a raw,
// possibly partial, JSON chunk of the call's arguments. id may be empty if
// the backend has not yet assigned one; name may be empty on fragments after
// the first. See Part.ArgumentsJSON.
func ToolCallDelta(id, name, partialArgsJSON string) Part {
	return Part{Kind: KindToolCall, ToolID: id, ToolName: name, ArgumentsJSON: partialArgsJSON}
}

// ToolResult builds a KindToolResult part.
func ToolResult(id, name string, result any, isError bool) Part {
	return Part{Kind: KindToolResult, ToolID: id, ToolName: name, ToolResult: result, ToolIsError: isError}
}

// Validate checks the per-kind invariants from spec §3.1.
func (p Part) Validate() error {
	switch p.Kind {
	case KindData:
		if len(p.Bytes) == 0 {
			return fmt.Errorf("part: data part has empty bytes")
		}
		if p.MimeType == "" {
			return fmt.Errorf("part: data part has empty mimeType")
		}
	case KindToolCall, KindToolResult:
		if p.ToolID == "" {
			return fmt.Errorf("part: tool part has empty id")
		}
		if p.ToolName == "" {
			return fmt.Errorf("part: tool part has empty name")
		}
	}
	return nil
}

// ResultJSON canonically encodes ToolResult as JSON text, per §3.1: "result is
// any structured value or string; it is serialized as canonical JSON when
// sent back to the backend."
func (p Part) ResultJSON() (string, error) {
	if p.Kind != KindToolResult {
		return "", fmt.Errorf("part: ResultJSON called on non-result part (kind=%s)", p.Kind)
	}
	if s, ok := p.ToolResult.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(p.ToolResult)
	if err != nil {
		return "", fmt.Errorf("part: marshal tool result: %w", err)
	}
	return string(b), nil
}

// Role identifies who contributed a ChatMessage.
type Role string

const (
	// RoleSystem conveys instructions; at most one per conversation, at the head of history.
	RoleSystem Role = "system"
	// RoleUser carries human input and tool-result batches.
	RoleUser Role = "user"
	// RoleModel carries assistant output.
	RoleModel Role = "model"
)

// ChatMessage is one turn's content: a role, an ordered sequence of parts,
// and free-form metadata.
type ChatMessage struct {
	Role     Role           `json:"role"`
	Parts    []Part         `json:"parts,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewText is a convenience constructor for a single-part text message.
func NewText(role Role, text string) ChatMessage {
	return ChatMessage{Role: role, Parts: []Part{Text(text)}}
}

// TextValue concatenates all KindText parts with newlines, mirroring the
// teacher's Message.GetText helper.
func (m ChatMessage) TextValue() string {
	var texts []string
	for _, p := range m.Parts {
		if p.Kind == KindText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	switch len(texts) {
	case 0:
		return ""
	case 1:
		return texts[0]
	default:
		out := texts[0]
		for _, t := range texts[1:] {
			out += "\n" + t
		}
		return out
	}
}

// ToolCalls returns every KindToolCall part in the message, in order.
func (m ChatMessage) ToolCalls() []Part {
	var out []Part
	for _, p := range m.Parts {
		if p.Kind == KindToolCall {
			out = append(out, p)
		}
	}
	return out
}

// ToolResults returns every KindToolResult part in the message, in order.
func (m ChatMessage) ToolResults() []Part {
	var out []Part
	for _, p := range m.Parts {
		if p.Kind == KindToolResult {
			out = append(out, p)
		}
	}
	return out
}

// IsEmpty reports whether the message carries no parts at all.
func (m ChatMessage) IsEmpty() bool { return len(m.Parts) == 0 }

// HasToolCalls reports whether the message contains at least one tool call part.
func (m ChatMessage) HasToolCalls() bool {
	for _, p := range m.Parts {
		if p.Kind == KindToolCall {
			return true
		}
	}
	return false
}

// Validate checks the §3.2 role invariants that span the whole message (not
// just a single part): a user message carrying tool results may not also
// carry text or data parts.
func (m ChatMessage) Validate() error {
	for _, p := range m.Parts {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	if m.Role == RoleUser && m.HasToolResultParts() {
		for _, p := range m.Parts {
			if p.Kind == KindText || p.Kind == KindData {
				return fmt.Errorf("part: user message mixes tool results with text/data parts")
			}
		}
	}
	return nil
}

// HasToolResultParts reports whether the message contains at least one tool result part.
func (m ChatMessage) HasToolResultParts() bool {
	for _, p := range m.Parts {
		if p.Kind == KindToolResult {
			return true
		}
	}
	return false
}

// ToolDef is the schema half of a registrable tool (§3.4, §6.3).
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// OnCallFunc executes a tool invocation. It may be asynchronous from the
// caller's perspective simply by taking time; the executor passes the
// caller's ctx through, so the caller's deadline and cancellation reach the
// tool, and adds no timeout of its own.
type OnCallFunc func(ctx context.Context, arguments map[string]any) (any, error)

// Tool is a ToolDef plus its callback, as registered with an agent (§3.4).
type Tool struct {
	ToolDef
	OnCall OnCallFunc
}
