package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/kschuler/agentrt/backend"
	"github.com/kschuler/agentrt/part"
	"github.com/kschuler/agentrt/persistence"
)

// Summarizer condenses a run of older records into one replacement message
// during compaction (grounded on the teacher's Summarizer interface).
type Summarizer interface {
	Summarize(ctx context.Context, records []persistence.Record) (string, error)
}

// SimpleSummarizer is an extractive summarizer with no model dependency: it
// keeps the first keepFirst and last keepLast records verbatim and collapses
// everything between them into an ellipsis marker.
type SimpleSummarizer struct {
	KeepFirst int
	KeepLast  int
}

// NewSimpleSummarizer returns a SimpleSummarizer with the teacher's default
// keep-first-2/keep-last-3 window.
func NewSimpleSummarizer() *SimpleSummarizer {
	return &SimpleSummarizer{KeepFirst: 2, KeepLast: 3}
}

func (s *SimpleSummarizer) Summarize(_ context.Context, records []persistence.Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	keepFirst, keepLast := s.KeepFirst, s.KeepLast
	if keepFirst+keepLast >= len(records) {
		keepFirst, keepLast = len(records), 0
	}

	var b strings.Builder
	for _, r := range records[:keepFirst] {
		writeRecordLine(&b, r)
	}
	if omitted := len(records) - keepFirst - keepLast; omitted > 0 {
		fmt.Fprintf(&b, "... (%d messages omitted) ...\n", omitted)
	}
	for _, r := range records[len(records)-keepLast:] {
		writeRecordLine(&b, r)
	}
	return strings.TrimSpace(b.String()), nil
}

func writeRecordLine(b *strings.Builder, r persistence.Record) {
	text := r.Message.TextValue()
	if text == "" {
		if r.Message.HasToolCalls() {
			text = "[tool call]"
		} else if r.Message.HasToolResultParts() {
			text = "[tool result]"
		} else {
			return
		}
	}
	fmt.Fprintf(b, "%s: %s\n", r.Message.Role, text)
}

// defaultSummarizationPrompt instructs an LLMSummarizer's backend call to
// produce a terse, information-preserving digest rather than prose.
const defaultSummarizationPrompt = `Summarize the conversation below into a short digest that preserves
facts, decisions, and open threads a continuing conversation would need.
Do not add commentary or restate the instructions. Write plain prose, no
headers.`

// LLMSummarizer delegates summarization to a backend.ChatBackend, grounded
// on the teacher's LLMSummarizer (a single non-streaming round-trip against
// a transcript built from the records to summarize).
type LLMSummarizer struct {
	backend backend.ChatBackend
	prompt  string
}

// NewLLMSummarizer returns an LLMSummarizer that sends its digest requests
// through be.
func NewLLMSummarizer(be backend.ChatBackend) *LLMSummarizer {
	return &LLMSummarizer{backend: be, prompt: defaultSummarizationPrompt}
}

// SetPrompt overrides the instruction prepended to the transcript.
func (s *LLMSummarizer) SetPrompt(prompt string) { s.prompt = prompt }

func (s *LLMSummarizer) Summarize(ctx context.Context, records []persistence.Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	var transcript strings.Builder
	for _, r := range records {
		text := r.Message.TextValue()
		if text == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n\n", r.Message.Role, text)
	}

	history := []part.ChatMessage{
		part.NewText(part.RoleSystem, s.prompt),
		part.NewText(part.RoleUser, transcript.String()),
	}

	stream, err := s.backend.SendStream(ctx, history, nil, nil)
	if err != nil {
		return "", fmt.Errorf("summarizer: %w", err)
	}
	defer stream.Close()

	var out strings.Builder
	for stream.Next(ctx) {
		out.WriteString(stream.Current().Output.TextValue())
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("summarizer: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}
