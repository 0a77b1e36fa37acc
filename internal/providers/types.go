// Package providers contains the LLM client abstraction and the Anthropic
// wire implementation used by the agent loop.
package providers

import (
	"context"

	"github.com/decahq/deca/internal/sessions"
)

// Client is the interface the agent loop drives. Implementations speak the
// Anthropic messages wire shape: system blocks with optional cache hints,
// tool schemas, and content-block messages.
type Client interface {
	// Stream sends a request and streams text deltas via onDelta.
	// It returns the final accumulated response after the stream ends.
	Stream(ctx context.Context, req Request, onDelta func(text string)) (*Response, error)

	// Complete sends a non-streaming request. Used for summarization calls.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Model returns the default model identifier.
	Model() string

	// ContextWindow returns the model's context window in tokens.
	ContextWindow() int
}

// CacheControl marks a system block as cacheable by the provider.
type CacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

// SystemBlock is one element of the structured system prompt.
type SystemBlock struct {
	Type         string        `json:"type"` // "text"
	Text         string        `json:"text"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// EphemeralSystemBlock builds a system text block with an ephemeral cache hint.
func EphemeralSystemBlock(text string) SystemBlock {
	return SystemBlock{Type: "text", Text: text, CacheControl: &CacheControl{Type: "ephemeral"}}
}

// ToolDef describes a tool made available to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request is the input for a Stream/Complete call.
type Request struct {
	Model       string
	System      []SystemBlock
	Tools       []ToolDef
	Messages    []sessions.Message
	MaxTokens   int
	Temperature float64
}

// Stop reasons, normalized.
const (
	StopEnd       = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Usage tracks token consumption for one call.
type Usage struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	CacheCreation int `json:"cache_creation"`
	CacheRead     int `json:"cache_read"`
}

// Add accumulates another call's usage into u.
func (u *Usage) Add(other Usage) {
	u.Input += other.Input
	u.Output += other.Output
	u.CacheCreation += other.CacheCreation
	u.CacheRead += other.CacheRead
}

// Response is the final result of an LLM call.
type Response struct {
	Content    []sessions.ContentBlock
	StopReason string
	Usage      Usage
}

// Text concatenates the response's text blocks.
func (r *Response) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type == sessions.BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the response's tool_use blocks.
func (r *Response) ToolUses() []sessions.ContentBlock {
	var out []sessions.ContentBlock
	for _, b := range r.Content {
		if b.Type == sessions.BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}
