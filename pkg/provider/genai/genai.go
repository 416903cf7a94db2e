// Package genai defines the text-generation abstraction behind the context
// manager's AI operations (answering questions, generating insights,
// suggesting questions).
//
// The surface is deliberately prompt-in/text-out: no streaming, no tool
// calling. Each operation builds a complete prompt from the session state
// and consumes the whole completion.
package genai

import "context"

// Request is a single generation call.
type Request struct {
	// System is an optional system prompt prepended to the conversation.
	System string

	// Prompt is the user-role content.
	Prompt string

	// Temperature, when non-zero, overrides the provider default.
	Temperature float64

	// MaxTokens, when positive, caps the completion length.
	MaxTokens int
}

// Usage reports token accounting when the provider supplies it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the provider's completion.
type Response struct {
	Text  string
	Usage Usage
}

// Generator produces one completion per call.
//
// Generate blocks until the provider responds, the context is cancelled, or
// the deadline passes. The context manager performs no retries of its own: a
// failed call surfaces as a skipped tick or an apologetic answer, so
// implementations should not hide sustained failures behind internal retry
// loops. Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)

	// Model returns the model identifier used for logging and stats.
	Model() string
}
