// internal/context/engine.go
package context

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/sachiniyer/meal-finder/internal/types"
	"github.com/sachiniyer/meal-finder/pkg/llm"
)

// Engine assembles the prompt for a reasoning call while keeping the
// total token count inside the model's context window. When the
// conversation history is too large, the oldest turns are dropped first;
// the system prompt and the newest user message are always kept.
type Engine struct {
	encoder          *tiktoken.Tiktoken
	maxContextTokens int
	outputReserve    int
	logger           *slog.Logger
}

// NewEngine creates a context engine budgeted for the given window size.
// outputReserve tokens are held back for the model's reply. If the
// encoding cannot be loaded the engine falls back to a byte estimate
// rather than refusing to start.
func NewEngine(encoding string, maxContextTokens, outputReserve int, logger *slog.Logger) (*Engine, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	log := logger.With("component", "context")
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		log.Warn("token encoding unavailable, using byte estimate", "encoding", encoding, "error", err)
		enc = nil
	}
	return &Engine{
		encoder:          enc,
		maxContextTokens: maxContextTokens,
		outputReserve:    outputReserve,
		logger:           log,
	}, nil
}

// CountTokens returns the token count of the given text.
func (e *Engine) CountTokens(text string) int {
	if e.encoder == nil {
		return len(text)/4 + 1
	}
	return len(e.encoder.Encode(text, nil, nil))
}

// BuildPrompt converts a conversation into the message list for a
// reasoning call. History is included newest-first until the budget is
// exhausted, then re-ordered oldest-first for the wire.
func (e *Engine) BuildPrompt(conv *types.Conversation) []llm.Message {
	system := SystemPrompt(conv.Location)
	budget := e.maxContextTokens - e.outputReserve - e.CountTokens(system)

	// Walk history backwards so the newest turns survive truncation.
	var kept []llm.Message
	dropped := 0
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := conv.Messages[i]
		cost := e.CountTokens(msg.Content) + perMessageOverhead
		if budget-cost < 0 && len(kept) > 0 {
			dropped = i + 1
			break
		}
		budget -= cost
		kept = append(kept, llm.Message{Role: string(msg.Role), Content: msg.Content})
	}

	if dropped > 0 {
		e.logger.Debug("truncated conversation history",
			"conversation_id", conv.ConversationID,
			"dropped", dropped,
			"kept", len(kept))
	}

	messages := make([]llm.Message, 0, len(kept)+1)
	messages = append(messages, llm.Message{Role: "system", Content: system})
	for i := len(kept) - 1; i >= 0; i-- {
		messages = append(messages, kept[i])
	}
	return messages
}

// perMessageOverhead approximates the per-message framing tokens the
// chat format adds on top of the content itself.
const perMessageOverhead = 4
