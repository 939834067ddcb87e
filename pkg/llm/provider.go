package llm

import "context"

// Provider defines the interface for the reasoning engine.
// Implementations handle protocol-specific details such as request
// formatting, authentication, and response parsing. A response carries
// either a final textual answer or a batch of requested tool calls.
type Provider interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error)
}

// Vision describes a provider capable of answering a question about a
// single image addressed by URL.
type Vision interface {
	DescribeImage(ctx context.Context, model, imageURL, prompt string) (string, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}
