// Package llm defines the adapter contract planner/validator calls drive:
// chat(request) -> stream of chunks, where the adapter owns first-token and
// stall timeouts. Concrete providers (Anthropic, OpenAI, ...) implement
// Adapter; the runtime never talks to a provider SDK directly.
package llm

import (
	"context"

	"github.com/aegis-run/aegis/internal/budget"
)

// Role is a chat message's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn in the conversation sent to the model.
type ChatMessage struct {
	Role    Role
	Content string
}

// ToolSpec describes a callable tool the model may invoke, when the caller
// opts into tool use by setting Request.Tools (neither the planner nor the
// validator sets it).
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// Request carries everything an Adapter needs to drive one model call.
type Request struct {
	Model         string
	Messages      []ChatMessage
	Temperature   float32
	MaxTokens     int
	StopSequences []string
	Tools         []ToolSpec
}

// ToolCall is a model-requested invocation of one of the Request's Tools.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Usage reports token accounting, present only on the final chunk.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
}

// Chunk is one piece of a streamed response. Done marks the final chunk,
// which alone carries Usage.
type Chunk struct {
	Content   string
	ToolCalls []ToolCall
	Done      bool
	Usage     *Usage
}

// Adapter is the LLM provider contract. Chat streams chunks to onChunk as
// they arrive and returns once the stream ends or signal fires. The
// adapter is responsible for enforcing its own first-token and stall
// timeouts (default 30s each) so a wedged connection doesn't outlive the
// caller's budget silently.
type Adapter interface {
	Chat(ctx context.Context, req Request, signal budget.Signal, onChunk func(Chunk) error) error
}

// Collect drains an Adapter.Chat call into a single concatenated string and
// its final Usage, for callers (validator) that don't need incremental
// chunks.
func Collect(ctx context.Context, a Adapter, req Request, signal budget.Signal) (string, *Usage, error) {
	var out []byte
	var usage *Usage
	err := a.Chat(ctx, req, signal, func(c Chunk) error {
		out = append(out, c.Content...)
		if c.Done && c.Usage != nil {
			usage = c.Usage
		}
		return nil
	})
	return string(out), usage, err
}
