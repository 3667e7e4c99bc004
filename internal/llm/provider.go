// Package llm talks to the generative reasoning backends. Every backend implements Provider;
// decorators add logging, retries and a circuit breaker with a request quota.
package llm

import (
	"context"
	"encoding/json"
)

// Provider sends one prompt and returns the model output.
type Provider interface {
	// Generate runs a request. When req.Schema is set the returned Content is JSON that has
	// been validated against it.
	Generate(ctx context.Context, req Request) (*Response, error)
	ModelID() string
}

// Request is a single generation call.
type Request struct {
	System   string
	Messages []Message
	// Schema asks the backend for structured output. Nil means free text.
	Schema      *Schema
	MaxTokens   int
	Temperature float64
}

// Message is one conversation turn.
type Message struct {
	Role    Role
	Content string
}

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UserMessage is shorthand for a single user turn.
func UserMessage(content string) []Message {
	return []Message{{Role: RoleUser, Content: content}}
}

// Schema is a JSON Schema for structured output. Name must be unique per definition; it keys
// the compiled-schema cache and names the schema for backends that require one.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// Response is the backend output.
type Response struct {
	Content json.RawMessage
	Usage   Usage
	Model   string
	// StopReason is normalized to "end" or "max_tokens".
	StopReason string
}

// Usage counts tokens for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
