package taskcore

import (
	"context"
	"strings"
)

// StructuredRequest is a request for a JSON document conforming to Schema.
type StructuredRequest struct {
	SystemPrompt string
	Messages     []Message
	Schema       *Schema
}

// Instruction returns the system prompt followed by the output format directive. Adapters for providers
// without native schema enforcement send this as their system instruction.
func (x *StructuredRequest) Instruction() string {
	var b strings.Builder
	b.WriteString(x.SystemPrompt)
	if x.Schema != nil {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Respond with a single JSON object and nothing else. It must conform to this JSON Schema:\n")
		b.WriteString(x.Schema.String())
	}
	return b.String()
}

// TextGenerator produces free-form text. It is used to summarize conversation history.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Oracle is the external reasoning backend. It produces plans, thoughts and replan strategies as
// structured JSON, and summaries as text. Network-level retries are the implementation's concern.
type Oracle interface {
	TextGenerator
	GenerateStructured(ctx context.Context, req *StructuredRequest) ([]byte, error)
}
